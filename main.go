// Command nbcommit runs a non-blocking three-phase commit: a hub that
// carries group messages, remote coordinators and participants, a
// single-binary cluster, a contention load test, and a stable log reader.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mattn/go-colorable"

	"nbcommit/commit"
	"nbcommit/config"
)

func main() {
	cfg := config.Default()
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(run(cfg, flag.Args()))
}

func run(cfg config.Config, args []string) int {
	logger := cfg.NewLogger(os.Stderr)
	m, _, err := config.SetupMetrics()
	if err != nil {
		logger.Error("metrics setup failed", "error", err)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := colorable.NewColorableStdout()

	if cfg.Mode == config.ModeHub {
		if err := runHub(cfg, logger); err != nil {
			logger.Error("hub stopped", "error", err)
			return 1
		}

	} else if cfg.Mode == config.ModeCoordinator || cfg.Mode == config.ModeParticipant {
		role, _ := commit.ParseRole(cfg.Mode)
		r, err := runRemote(ctx, cfg, role, logger, m)
		if err != nil {
			logger.Error("run failed", "error", err)
			return 1
		}
		outcomeColor(r.Outcome).Fprintln(out, r.String())

	} else if cfg.Mode == config.ModeCluster {
		txn := cfg.Txn
		if txn == "" {
			txn = uuid.NewString()
		}
		logger.Info("starting cluster", "participants", cfg.Participants, "txn", txn)
		tables := newTables(cfg.Participants, logger)
		contend(tables, cfg.KeyList(), cfg.Contend)
		reports, err := newCluster(cfg, txn, tables, logger, m).run(ctx)
		printReports(out, txn, reports)
		if err != nil {
			logger.Error("cluster run failed", "error", err)
			return 1
		}
		if _, ok := agreement(reports); !ok {
			return 1
		}

	} else if cfg.Mode == config.ModeLoadtest {
		logger.Info("starting load test", "type", cfg.LoadType, "txns", cfg.Txns, "participants", cfg.Participants)
		res := loadtest(ctx, cfg, logger, m)
		printLoad(out, res)
		if res.Failed > 0 {
			return 1
		}

	} else if cfg.Mode == config.ModeInspect {
		paths := args
		if len(paths) == 0 && cfg.LogDir != "" {
			paths = []string{cfg.LogDir}
		}
		if err := inspect(out, paths); err != nil {
			logger.Error("inspect failed", "error", err)
			return 1
		}
	}
	return 0
}
