package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"nbcommit/commit"
	"nbcommit/config"
	"nbcommit/group"
	"nbcommit/locks"
	"nbcommit/stablelog"
)

const membershipPoll = 100 * time.Millisecond

// waitForMembers blocks until one coordinator and n participants have
// joined, so that every process initializes with the same membership.
func waitForMembers(ctx context.Context, ch group.Channel, n int, logger hclog.Logger) error {
	tick := time.NewTicker(membershipPoll)
	defer tick.Stop()
	for {
		coords, err := ch.Subgroup(commit.RoleCoordinator.String())
		if err != nil {
			return err
		}
		parts, err := ch.Subgroup(commit.RoleParticipant.String())
		if err != nil {
			return err
		}
		if coords.Len() >= 1 && parts.Len() >= n {
			return nil
		}
		logger.Debug("waiting for members", "coordinators", coords.Len(), "participants", parts.Len(), "want", n)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// runRemote runs a single coordinator or participant against a hub
// started with -mode hub.
func runRemote(ctx context.Context, cfg config.Config, role commit.Role, logger hclog.Logger, m *metrics.Metrics) (commit.Report, error) {
	txn := cfg.Txn
	if txn == "" && role == commit.RoleCoordinator {
		txn = uuid.NewString()
	}

	var log commit.StableLog
	if cfg.LogDir != "" {
		d := stablelog.NewDir(cfg.LogDir, role.String(), logger)
		defer d.Close()
		log = d
	} else {
		l := stablelog.NewInmem(role.String(), logger)
		defer l.Close()
		log = l
	}

	opts := commit.Options{Txn: txn, Timing: cfg.Timing()}
	table := locks.NewTable(logger)
	if role == commit.RoleParticipant {
		opts.Work = lockWork(table, cfg.KeyList(), cfg.LockWait, newCoin(cfg.Seed, cfg.AbortRate))
	}

	ch := group.NewClient(cfg.HubAddr, logger)
	p, err := commit.NewProcess(commit.Env{
		Channel: ch,
		Log:     log,
		Logger:  logger,
		Metrics: m,
		Fault:   cfg.Fault(),
	}, role, opts)
	if err != nil {
		return commit.Report{}, err
	}
	defer func() {
		if err := ch.Leave(); err != nil {
			logger.Warn("leaving the hub", "error", err)
		}
	}()
	logger.Info("joined", "role", role, "id", p.ID(), "hub", cfg.HubAddr, "txn", txn)

	if err := waitForMembers(ctx, ch, cfg.Participants, logger); err != nil {
		return commit.Report{}, fmt.Errorf("waiting for members: %w", err)
	}
	if err := p.Init(); err != nil {
		return commit.Report{}, err
	}
	r, err := p.Run(ctx)
	settle(table, p.Txn(), r)
	return r, err
}

func runHub(cfg config.Config, logger hclog.Logger) error {
	logger.Info("starting hub", "addr", cfg.Addr)
	return group.NewServer(group.NewHub(logger), logger).ListenAndServe(cfg.Addr)
}
