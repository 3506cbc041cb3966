package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"nbcommit/commit"
	"nbcommit/config"
	"nbcommit/group"
	"nbcommit/locks"
	"nbcommit/stablelog"
)

// cluster runs one transaction in this binary: a coordinator plus one
// participant per lock table, all over a private in-memory hub.
type cluster struct {
	cfg     config.Config
	txn     string
	keys    []string
	tables  []*locks.Table
	coin    *coin
	logger  hclog.Logger
	metrics *metrics.Metrics
}

func newCluster(cfg config.Config, txn string, tables []*locks.Table, logger hclog.Logger, m *metrics.Metrics) *cluster {
	return &cluster{
		cfg:     cfg,
		txn:     txn,
		keys:    cfg.KeyList(),
		tables:  tables,
		coin:    newCoin(cfg.Seed, cfg.AbortRate),
		logger:  logger,
		metrics: m,
	}
}

// logFor returns the stable log of one role. With a log directory every
// transaction gets its own subdirectory.
func (c *cluster) logFor(role commit.Role) (commit.StableLog, func() error) {
	if c.cfg.LogDir == "" {
		l := stablelog.NewInmem(role.String(), c.logger)
		return l, l.Close
	}
	d := stablelog.NewDir(filepath.Join(c.cfg.LogDir, c.txn), role.String(), c.logger)
	return d, d.Close
}

func (c *cluster) env(log commit.StableLog) commit.Env {
	return commit.Env{Log: log, Logger: c.logger, Metrics: c.metrics, Fault: c.cfg.Fault()}
}

// run returns the coordinator's report followed by the participants' in
// table order.
func (c *cluster) run(ctx context.Context) ([]commit.Report, error) {
	hub := group.NewHub(c.logger)
	timing := c.cfg.Timing()

	coordLog, closeCoord := c.logFor(commit.RoleCoordinator)
	partLog, closeParts := c.logFor(commit.RoleParticipant)
	defer func() {
		if err := errors.Join(closeCoord(), closeParts()); err != nil {
			c.logger.Error("closing stable logs", "error", err)
		}
	}()

	env := c.env(coordLog)
	env.Channel = hub.Connect()
	coord, err := commit.NewProcess(env, commit.RoleCoordinator, commit.Options{Txn: c.txn, Timing: timing})
	if err != nil {
		return nil, err
	}
	procs := []*commit.Process{coord}
	for _, table := range c.tables {
		env := c.env(partLog)
		env.Channel = hub.Connect()
		p, err := commit.NewProcess(env, commit.RoleParticipant, commit.Options{
			Txn:    c.txn,
			Timing: timing,
			Work:   lockWork(table, c.keys, c.cfg.LockWait, c.coin),
		})
		if err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	for _, p := range procs {
		if err := p.Init(); err != nil {
			return nil, fmt.Errorf("init %s %v: %w", p.Role(), p.ID(), err)
		}
	}

	reports := make([]commit.Report, len(procs))
	errs := make([]error, len(procs))
	var wg sync.WaitGroup
	for i, p := range procs {
		wg.Add(1)
		go func(i int, p *commit.Process) {
			defer wg.Done()
			reports[i], errs[i] = p.Run(ctx)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%s %v: %w", p.Role(), p.ID(), errs[i])
			}
			if i > 0 {
				settle(c.tables[i-1], c.txn, reports[i])
			}
		}(i, p)
	}
	wg.Wait()
	return reports, errors.Join(errs...)
}

// contend makes the first n tables hold every key for another
// transaction, so those participants vote to abort.
func contend(tables []*locks.Table, keys []string, n int) {
	for _, t := range tables[:n] {
		t.TryLock("contender", keys)
	}
}

func newTables(n int, logger hclog.Logger) []*locks.Table {
	tables := make([]*locks.Table, n)
	for i := range tables {
		tables[i] = locks.NewTable(logger)
	}
	return tables
}
