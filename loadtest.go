package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"nbcommit/commit"
	"nbcommit/config"
)

// loadKeys picks the key transaction i locks. Mixed load is 80% private
// keys and 20% one shared hot key.
func loadKeys(loadType string, i, total int) string {
	switch loadType {
	case config.LoadLow:
		return fmt.Sprintf("user-%d", i)
	case config.LoadMixed:
		if i < total*4/5 {
			return fmt.Sprintf("user-%d", i)
		}
	}
	return "HOT_KEY"
}

// loadtest runs cfg.Txns transactions at once against the same
// participants, so transactions on a shared key contend for its lock.
func loadtest(ctx context.Context, cfg config.Config, logger hclog.Logger, m *metrics.Metrics) loadResult {
	tables := newTables(cfg.Participants, logger)
	res := loadResult{Type: cfg.LoadType}

	var mu sync.Mutex
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < cfg.Txns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txnCfg := cfg
			txnCfg.Keys = loadKeys(cfg.LoadType, i, cfg.Txns)
			txnCfg.Seed = cfg.Seed + int64(i)
			txn := fmt.Sprintf("txn-%d", i)

			reports, err := newCluster(txnCfg, txn, tables, logger.With("txn", txn), m).run(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("transaction failed", "txn", txn, "error", err)
				res.Failed++
				return
			}
			state, ok := agreement(reports)
			switch {
			case !ok:
				res.Failed++
			case state == commit.StateCommit:
				res.Committed++
			case state == commit.StateAbort:
				res.Aborted++
			default:
				res.Unresolved++
			}
		}(i)
	}
	wg.Wait()
	res.Duration = time.Since(start)
	return res
}
