// Package clients reads the customer records quotations are issued to.
package clients

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
)

// Client is a billable customer.
type Client struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	Address     string `json:"address,omitempty"`
	OwnerID     int64  `json:"ownerId"`
}

// HasEmail reports whether the client can receive notifications.
func (c Client) HasEmail() bool {
	return strings.TrimSpace(c.Email) != ""
}

// DisplayName prefers the contact name over the company.
func (c Client) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.CompanyName
}

// Directory looks up clients.
type Directory interface {
	GetClient(ctx context.Context, id int64) (Client, error)
}

// Repository is the Postgres Directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a client repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetClient fetches a client by id.
func (r *Repository) GetClient(ctx context.Context, id int64) (Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `SELECT id, name, COALESCE(email, ''), COALESCE(company_name, ''), COALESCE(address, ''), COALESCE(user_id, 0)
FROM clients WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.Email, &c.CompanyName, &c.Address, &c.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, httpx.NotFoundf("client %d not found", id)
	}
	return c, err
}
