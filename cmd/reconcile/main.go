package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tourlink/booking-backend/internal/app"
	"github.com/tourlink/booking-backend/internal/config"
	"github.com/tourlink/booking-backend/internal/services"
)

// One-shot run of the reconciliation jobs, for operators and external schedulers.
//
// Usage:
//
//	go run ./cmd/reconcile -job=all
//	go run ./cmd/reconcile -job=payment-poll -timeout=5m
func main() {
	job := flag.String("job", "all", "job to run: payment-poll, supplier-retry or all")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := app.NewLogger(cfg.Server.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialise services: %v", err)
	}
	defer components.Close()

	reports := map[string]services.ReconcileReport{}
	failed := false

	run := func(name string, fn func(context.Context) (services.ReconcileReport, error)) {
		report, err := fn(ctx)
		reports[name] = report
		if err != nil {
			failed = true
			logger.WithError(err).WithField("job", name).Error("Job failed")
		}
	}

	switch *job {
	case "payment-poll":
		run("payment_poll", components.Orchestrator.ReconcileOpenPayments)
	case "supplier-retry":
		run("supplier_retry", components.Orchestrator.RetryPendingSupplierSubmissions)
	case "all":
		run("payment_poll", components.Orchestrator.ReconcileOpenPayments)
		run("supplier_retry", components.Orchestrator.RetryPendingSupplierSubmissions)
	default:
		fmt.Fprintf(os.Stderr, "unknown job %q\n", *job)
		os.Exit(2)
	}

	out, _ := json.MarshalIndent(reports, "", "  ")
	fmt.Println(string(out))

	if failed {
		components.Close()
		os.Exit(1)
	}
}
