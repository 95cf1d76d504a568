// Package cli implements billingctl, the operator CLI for the billing service.
package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/internal/app"
)

// Env resolves the collaborators commands need. Commands that only compute
// locally never call it.
type Env struct {
	Services func(ctx context.Context) (*app.Services, error)
	Jobs     func() (*JobsCLI, error)
}

// DefaultEnv loads configuration from the environment on first use.
func DefaultEnv() Env {
	return Env{
		Services: func(ctx context.Context) (*app.Services, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, err
			}
			cfg.LogFormat = "json"
			cfg.LogLevel = "warn"
			return app.Build(ctx, cfg, app.NewLogger(cfg))
		},
		Jobs: func() (*JobsCLI, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, err
			}
			return NewJobsCLI(cfg.AsynqRedis()), nil
		},
	}
}

// NewRootCommand assembles the command tree.
func NewRootCommand(env Env) *cobra.Command {
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the Odyssey billing service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newCalcTaxCommand(),
		newNextNumberCommand(env),
		newJobsCommand(env),
		newRBACCommand(env),
		newMigrateCommand(env),
	)
	return root
}

func closeServices(s *app.Services) {
	if s == nil {
		return
	}
	s.Close()
}

func logger(cmd *cobra.Command) *slog.Logger {
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
}
