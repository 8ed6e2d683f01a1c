package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"po-ledger/internal/app"
	"po-ledger/internal/config"
	"po-ledger/internal/logging"
)

func main() {
	refresh := flag.Bool("refresh", false, "rewrite cached PO totals that drifted from their receptions")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	rt, err := app.Bootstrap(ctx, cfg, log)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	rep, err := rt.Service.Verify(ctx, *refresh)
	rt.Close(ctx)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}

	fmt.Printf("[CHECK] %d purchase order(s), %d reception(s), %d journal event(s)\n", rep.PurchaseOrders, rep.Receptions, rep.Events)
	if *refresh {
		fmt.Printf("[REFRESH] %d PO cache(s) rewritten\n", rep.Refreshed)
	}
	for _, v := range rep.Violations {
		fmt.Printf("[FAIL] %s\n", v)
	}
	if !rep.OK() {
		os.Exit(1)
	}
	fmt.Println("[DONE] ledger is consistent")
}
