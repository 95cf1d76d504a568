package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-billing/internal/audit"
	"github.com/odyssey-erp/odyssey-billing/internal/clients"
	"github.com/odyssey-erp/odyssey-billing/internal/invoices"
	"github.com/odyssey-erp/odyssey-billing/internal/notify"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	"github.com/odyssey-erp/odyssey-billing/internal/observability"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-billing/internal/quotations"
	"github.com/odyssey-erp/odyssey-billing/internal/rbac"
	"github.com/odyssey-erp/odyssey-billing/internal/settings"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/jobs"
	"github.com/odyssey-erp/odyssey-billing/report"
)

// Services holds the wired billing components shared by the binaries.
type Services struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	Audit       *shared.AuditLogger
	Approvals   *shared.ApprovalRecorder
	Idempotency *shared.IdempotencyStore
	RBAC        *rbac.Service
	Settings    *settings.Service
	Templates   *notify.Repository
	Transport   *notify.SMTPTransport
	Notifier    *notify.Notifier
	Jobs        *jobs.Client
	PDF         *report.Client

	InvoiceNumbers   *numbering.InvoiceGenerator
	QuotationNumbers *numbering.QuotationGenerator
	InvoiceRepo      *invoices.PGRepository
	Generator        *invoices.Generator
	Invoices         *invoices.Service
	Quotations       *quotations.Service
}

// Build connects to Postgres and Redis and wires every service. Redis is
// optional: without it settings are read straight from Postgres.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = NewLogger(cfg)
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions()...)
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, settings cache disabled", slog.Any("error", err))
		redisClient = nil
	}

	s := &Services{Config: cfg, Logger: logger, Pool: pool, Redis: redisClient, Metrics: observability.NewMetrics()}
	s.Audit = shared.NewAuditLogger(pool)
	s.Approvals = shared.NewApprovalRecorder(pool, logger)
	s.Idempotency = shared.NewIdempotencyStore(pool)
	s.RBAC = rbac.NewService(pool, logger)

	s.Settings = settings.NewService(
		settings.NewRepository(pool),
		settings.NewCache(redisClient, cfg.SettingsCacheTTL),
		logger,
		settings.WithAudit(s.Audit),
		settings.WithEmailDefaults(cfg.EmailDefaults()),
	)

	s.Templates = notify.NewRepository(pool)
	s.Transport = notify.NewSMTPTransport(s.Settings, logger)
	s.Jobs = jobs.NewClient(cfg.AsynqRedis())
	s.Notifier = notify.NewNotifier(
		notify.NewResolver(s.Templates, logger),
		s.Transport,
		logger,
		notify.WithOutbox(s.Jobs),
		notify.WithObserver(s.Metrics),
	)
	s.PDF = report.NewClient(cfg.GotenbergURL)

	directory := clients.NewRepository(pool)
	s.InvoiceRepo = invoices.NewRepository(pool)
	s.InvoiceNumbers = numbering.NewInvoiceGenerator(s.InvoiceRepo, s.Settings, logger)
	s.Generator = invoices.NewGenerator(invoices.GeneratorDeps{
		Repo:     s.InvoiceRepo,
		Numbers:  s.InvoiceNumbers,
		Settings: s.Settings,
		Mailer:   s.Notifier,
		Clients:  directory,
		Observer: s.Metrics,
		Logger:   logger,
	})
	s.Invoices = invoices.NewService(invoices.ServiceDeps{
		Repo:      s.InvoiceRepo,
		Generator: s.Generator,
		Settings:  s.Settings,
		Mailer:    s.Notifier,
		Clients:   directory,
		Audit:     s.Audit,
		PDF:       s.PDF,
		Logger:    logger,
	})

	quotationRepo := quotations.NewRepository(pool)
	s.QuotationNumbers = numbering.NewQuotationGenerator(quotationRepo)
	s.Quotations = quotations.NewService(quotations.ServiceDeps{
		Repo:        quotationRepo,
		Numbers:     s.QuotationNumbers,
		Clients:     directory,
		Settings:    s.Settings,
		Invoices:    s.Generator,
		PaidChecker: s.InvoiceRepo,
		Mailer:      s.Notifier,
		Permissions: s.RBAC,
		Approvals:   s.Approvals,
		Idempotency: s.Idempotency,
		Audit:       s.Audit,
		Observer:    s.Metrics,
		Logger:      logger,
	})
	return s, nil
}

// Close releases connections.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Jobs != nil {
		if err := s.Jobs.Close(); err != nil {
			s.Logger.Warn("jobs client close", slog.Any("error", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// RouterParams builds the HTTP handlers for the API server.
func (s *Services) RouterParams(inspector jobs.QueueInspector) RouterParams {
	mw := rbac.Middleware{Service: s.RBAC, Logger: s.Logger}
	params := RouterParams{
		Logger:             s.Logger,
		Config:             s.Config,
		Metrics:            s.Metrics,
		QuotationHandler:   quotations.NewHandler(s.Logger, s.Quotations, mw),
		InvoiceHandler:     invoices.NewHandler(s.Logger, s.Invoices, mw),
		SettingsHandler:    settings.NewHandler(s.Logger, s.Settings, mw),
		TemplateHandler:    notify.NewHandler(s.Logger, s.Templates, s.Audit, mw),
		PermissionsHandler: rbac.NewPermissionsHandler(s.Logger, s.RBAC),
		RolesHandler:       rbac.NewRolesHandler(s.Logger, s.RBAC, s.Audit, mw),
		JobHandler:         jobs.NewHandler(inspector, s.Logger),
		AuditHandler:       audit.NewHandler(s.Logger, audit.NewService(audit.NewRepository(s.Pool)), mw),
		Checks: map[string]HealthCheck{
			"postgres": s.Pool.Ping,
		},
	}
	if s.Redis != nil {
		params.Checks["redis"] = func(ctx context.Context) error { return s.Redis.Ping(ctx).Err() }
	}
	return params
}
