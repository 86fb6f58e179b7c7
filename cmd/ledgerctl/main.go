package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  migrate             apply the ledger schema
  reconcile           check ledger invariants in-process (exit 10 on discrepancies)
  onhand              print the on-hand aggregate of a scope
  enqueue-reconcile   queue a reconciliation run on the worker
  queue               print default queue statistics
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return migrate(ctx, cfg, stderr)
	case "reconcile":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(stderr)
		tenant := fs.String("tenant", "", "tenant id; empty checks every tenant")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		return withLedger(ctx, cfg, stderr, func(c *cli.LedgerCLI) int {
			return c.ReconcileCommand(ctx, cli.ReconcileOptions{TenantID: *tenant, JSONOutput: *asJSON, Stdout: stdout, Stderr: stderr})
		})
	case "onhand":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(stderr)
		var scope inventory.Scope
		fs.StringVar(&scope.TenantID, "tenant", "", "tenant id (required)")
		fs.StringVar(&scope.WarehouseID, "warehouse", "", "warehouse id")
		fs.StringVar(&scope.ProductID, "product", "", "product id")
		fs.StringVar(&scope.VariantID, "variant", "", "variant id")
		fs.StringVar(&scope.LocationID, "location", "", "location id")
		fs.StringVar(&scope.LotID, "lot", "", "lot id")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		return withLedger(ctx, cfg, stderr, func(c *cli.LedgerCLI) int {
			return c.OnHandCommand(ctx, cli.OnHandOptions{Scope: scope, JSONOutput: *asJSON, Stdout: stdout, Stderr: stderr})
		})
	case "enqueue-reconcile":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(stderr)
		tenant := fs.String("tenant", "", "tenant id; empty checks every tenant")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		return withJobs(cfg, stderr, func(c *cli.JobsCLI) int {
			info, err := c.TriggerReconcile(ctx, *tenant)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "enqueue-reconcile: %v\n", err)
				return 1
			}
			_, _ = fmt.Fprintf(stdout, "enqueued %s on %s\n", info.ID, info.Queue)
			return 0
		})
	case "queue":
		return withJobs(cfg, stderr, func(c *cli.JobsCLI) int {
			stats, err := c.InspectQueue(ctx)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "queue: %v\n", err)
				return 1
			}
			_ = json.NewEncoder(stdout).Encode(stats)
			return 0
		})
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func migrate(ctx context.Context, cfg *app.Config, stderr io.Writer) int {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{LockTimeout: cfg.LedgerLockTimeout})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	return 0
}

func withLedger(ctx context.Context, cfg *app.Config, stderr io.Writer, fn func(*cli.LedgerCLI) int) int {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{LockTimeout: cfg.LedgerLockTimeout})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "connect database: %v\n", err)
		return 1
	}
	defer pool.Close()

	service := inventory.NewService(inventory.NewRepository(pool), nil, cfg.ServiceConfig(), nil)
	service.SetLogger(app.NewLogger(cfg))
	ledger, err := cli.NewLedgerCLI(service)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	return fn(ledger)
}

func withJobs(cfg *app.Config, stderr io.Writer, fn func(*cli.JobsCLI) int) int {
	c, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer c.Close()
	return fn(c)
}
