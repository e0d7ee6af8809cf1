// reconcile is the operator tool for drift scans, repairs, ledger replay and
// the one-off migration of products to size/color lines.
//
//	reconcile scan [-repair]
//	reconcile repair <product-id>
//	reconcile replay <product-id>
//	reconcile migrate -sizes S,M,L -colors Red,Blue <product-id>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-variant-inventory/internal/app"
	"github.com/ariefcatur/go-variant-inventory/internal/config"
	"github.com/ariefcatur/go-variant-inventory/internal/logging"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: reconcile scan [-repair] | repair <id> | replay <id> | migrate -sizes a,b -colors x,y <id>")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cfg := config.Load()
	log := logging.New(cfg.Environment).With(zap.String("service", cfg.ServiceName+"-reconcile"))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init", zap.Error(err))
	}
	a.StartProducers(ctx)

	code := 0
	if err := run(ctx, a, os.Args[1], os.Args[2:]); err != nil {
		log.Error(os.Args[1]+" failed", zap.Error(err))
		code = 1
	}
	a.Close()
	_ = log.Sync()
	os.Exit(code)
}

func run(ctx context.Context, a *app.Application, cmd string, args []string) error {
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	switch cmd {
	case "scan":
		fs := flag.NewFlagSet("scan", flag.ExitOnError)
		repair := fs.Bool("repair", false, "repair every drifted product")
		_ = fs.Parse(args)
		n := 0
		for rep, err := range a.Reconciler.Scan(ctx) {
			if err != nil {
				return err
			}
			n++
			for _, al := range a.Alerts {
				al.Drift(ctx, rep)
			}
			if err := out.Encode(rep); err != nil {
				return err
			}
			if *repair {
				if _, err := a.Reconciler.Repair(ctx, rep.ProductID); err != nil {
					return fmt.Errorf("repair %s: %w", rep.ProductID, err)
				}
			}
		}
		a.Log.Info("scan done", zap.Int("drifted", n), zap.Bool("repaired", *repair))
		return nil

	case "repair", "replay":
		if len(args) != 1 {
			usage()
		}
		if cmd == "repair" {
			before, err := a.Reconciler.Repair(ctx, args[0])
			if err != nil {
				return err
			}
			return out.Encode(map[string]any{"before": before, "repaired": before.Drifted()})
		}
		rep, err := a.Reconciler.Replay(ctx, args[0])
		if err != nil {
			return err
		}
		if err := out.Encode(rep); err != nil {
			return err
		}
		if !rep.Consistent() {
			return fmt.Errorf("product %s: %d lines disagree with the ledger", args[0], len(rep.Mismatches))
		}
		return nil

	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		sizes := fs.String("sizes", "", "comma separated sizes")
		colors := fs.String("colors", "", "comma separated colors")
		_ = fs.Parse(args)
		if fs.NArg() != 1 {
			usage()
		}
		id := fs.Arg(0)
		migrated, err := a.Reconciler.MigrateToVariants(ctx, id, list(*sizes), list(*colors))
		if err != nil {
			return err
		}
		return out.Encode(map[string]any{"product_id": id, "migrated": migrated})
	}
	usage()
	return nil
}

func list(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
