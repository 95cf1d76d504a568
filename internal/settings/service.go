package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Service resolves settings through the cache and degrades to defaults
// when neither the cache nor the store can answer.
type Service struct {
	store         Store
	cache         *Cache
	logger        *slog.Logger
	validate      *validator.Validate
	audit         shared.AuditRecorder
	emailDefaults EmailSettings
	group         singleflight.Group
}

// Option customises the service.
type Option func(*Service)

// WithAudit records every settings update.
func WithAudit(rec shared.AuditRecorder) Option {
	return func(s *Service) { s.audit = rec }
}

// WithEmailDefaults seeds EmailSettings from process configuration.
func WithEmailDefaults(def EmailSettings) Option {
	return func(s *Service) { s.emailDefaults = def }
}

// NewService wires the settings service.
func NewService(store Store, cache *Cache, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		cache:    cache,
		logger:   logger,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LookupTax returns stored tax settings merged over defaults.
func (s *Service) LookupTax(ctx context.Context) (TaxSettings, error) {
	return lookup(ctx, s, keyTax, DefaultTax())
}

// LookupInvoice returns stored invoice settings merged over defaults.
func (s *Service) LookupInvoice(ctx context.Context) (InvoiceSettings, error) {
	return lookup(ctx, s, keyInvoice, DefaultInvoice())
}

// LookupEmail returns stored email settings merged over the configured defaults.
func (s *Service) LookupEmail(ctx context.Context) (EmailSettings, error) {
	return lookup(ctx, s, keyEmail, s.emailDefaults)
}

// TaxSettings never fails; lookup errors yield defaults.
func (s *Service) TaxSettings(ctx context.Context) TaxSettings {
	v, err := s.LookupTax(ctx)
	if err != nil {
		s.degraded(keyTax, err)
		return DefaultTax()
	}
	return v
}

// InvoiceSettings never fails; lookup errors yield defaults.
func (s *Service) InvoiceSettings(ctx context.Context) InvoiceSettings {
	v, err := s.LookupInvoice(ctx)
	if err != nil {
		s.degraded(keyInvoice, err)
		return DefaultInvoice()
	}
	return v
}

// EmailSettings never fails; lookup errors yield the configured defaults.
func (s *Service) EmailSettings(ctx context.Context) EmailSettings {
	v, err := s.LookupEmail(ctx)
	if err != nil {
		s.degraded(keyEmail, err)
		return s.emailDefaults
	}
	return v
}

// UpdateTax validates and persists tax settings.
func (s *Service) UpdateTax(ctx context.Context, actorID int64, in TaxSettings) (TaxSettings, error) {
	if err := s.check(in); err != nil {
		return TaxSettings{}, err
	}
	if err := s.save(ctx, actorID, keyTax, in); err != nil {
		return TaxSettings{}, err
	}
	return in, nil
}

// UpdateInvoice validates and persists invoice settings.
func (s *Service) UpdateInvoice(ctx context.Context, actorID int64, in InvoiceSettings) (InvoiceSettings, error) {
	in.SequencePrefix = strings.TrimSpace(in.SequencePrefix)
	if err := s.check(in); err != nil {
		return InvoiceSettings{}, err
	}
	if err := s.save(ctx, actorID, keyInvoice, in); err != nil {
		return InvoiceSettings{}, err
	}
	return in, nil
}

// UpdateEmail validates and persists email settings. An empty password keeps
// the stored one.
func (s *Service) UpdateEmail(ctx context.Context, actorID int64, in EmailSettings) (EmailSettings, error) {
	if err := s.check(in); err != nil {
		return EmailSettings{}, err
	}
	if in.SMTPPassword == "" {
		current, err := s.LookupEmail(ctx)
		if err != nil {
			return EmailSettings{}, err
		}
		in.SMTPPassword = current.SMTPPassword
	}
	if err := s.save(ctx, actorID, keyEmail, in); err != nil {
		return EmailSettings{}, err
	}
	return in, nil
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return httpx.Validationf("field %s failed on %s", verrs[0].Field(), verrs[0].Tag())
		}
		return httpx.Validationf("%v", err)
	}
	return nil
}

func (s *Service) save(ctx context.Context, actorID int64, key string, value any) error {
	if err := s.store.Save(ctx, key, value, actorID); err != nil {
		return fmt.Errorf("save %s settings: %w", key, err)
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("settings cache bump failed", slog.String("key", key), slog.Any("error", err))
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "settings.update",
		Entity:   shared.EntitySettings,
		EntityID: key,
	})
	return nil
}

func (s *Service) degraded(key string, err error) {
	s.logger.Warn("settings unavailable, using defaults", slog.String("key", key), slog.Any("error", err))
}

func lookup[T any](ctx context.Context, s *Service, key string, def T) (T, error) {
	cache := s.cache
	cacheKey, err := cache.BuildKey(ctx, key)
	if err != nil {
		s.logger.Warn("settings cache unavailable, reading store", slog.String("key", key), slog.Any("error", err))
		cache = nil
		cacheKey = "settings:" + key
	}
	v, err, _ := s.group.Do(cacheKey, func() (any, error) {
		out := def
		loader := func(ctx context.Context) (any, error) {
			merged := def
			raw, err := s.store.Load(ctx, key)
			if err != nil {
				return nil, err
			}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &merged); err != nil {
					return nil, fmt.Errorf("decode %s settings: %w", key, err)
				}
			}
			return merged, nil
		}
		if err := cache.FetchJSON(ctx, cacheKey, &out, loader); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return def, err
	}
	return v.(T), nil
}
