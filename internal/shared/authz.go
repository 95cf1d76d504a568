package shared

import "context"

// Billing permissions.
const (
	PermQuotationsCreate  = "quotations.create"
	PermQuotationsEdit    = "quotations.edit"
	PermQuotationsApprove = "quotations.approve"
	PermQuotationsDelete  = "quotations.delete"
	PermQuotationsViewAll = "quotations.view_all"

	PermInvoicesManage = "invoices.manage"

	PermSettingsManage = "settings.manage"
)

// BillingScopes lists all permissions the billing service checks.
func BillingScopes() []string {
	return []string{
		PermQuotationsCreate,
		PermQuotationsEdit,
		PermQuotationsApprove,
		PermQuotationsDelete,
		PermQuotationsViewAll,
		PermInvoicesManage,
		PermSettingsManage,
	}
}

// PermissionChecker answers whether a user holds a capability.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID int64, perm string) bool
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func(ctx context.Context, userID int64, perm string) bool

// HasPermission implements PermissionChecker.
func (f PermissionFunc) HasPermission(ctx context.Context, userID int64, perm string) bool {
	return f(ctx, userID, perm)
}
