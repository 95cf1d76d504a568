package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/odyssey-billing/cmd/billingctl/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cli.NewRootCommand(cli.DefaultEnv()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
