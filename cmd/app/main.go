package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"po-ledger/internal/adapters/cli"
	"po-ledger/internal/app"
	"po-ledger/internal/config"
	"po-ledger/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, cli.Usage())
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	// stdout carries command output only.
	log := logging.New(cfg.LogLevel, "text")
	log.SetOutput(os.Stderr)

	ctx := context.Background()
	rt, err := app.Bootstrap(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)
		return 1
	}
	defer rt.Close(ctx)

	if err := cli.Run(ctx, rt.Service, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, cli.Usage())
			return 2
		}
		return 1
	}
	return 0
}
