// Package locks is the key lock table participants use as their local unit
// of work: a transaction either gets every key it names or none of them.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

const pollInterval = 50 * time.Millisecond

// Table maps locked keys to the transaction holding them.
type Table struct {
	mu     sync.Mutex
	owners map[string]string
	logger hclog.Logger
}

func NewTable(logger hclog.Logger) *Table {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Table{owners: make(map[string]string), logger: logger.Named("locks")}
}

// TryLock takes every key for txn, or none if any is held by another
// transaction. Keys txn already holds do not conflict.
func (t *Table) TryLock(txn string, keys []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, key := range keys {
		if owner, held := t.owners[key]; held && owner != txn {
			t.logger.Debug("conflict", "txn", txn, "key", key, "owner", owner)
			return false
		}
	}
	for _, key := range keys {
		t.owners[key] = txn
	}
	t.logger.Debug("locks acquired", "txn", txn, "keys", keys)
	return true
}

// Acquire retries TryLock until it succeeds, wait elapses or ctx is done.
func (t *Table) Acquire(ctx context.Context, txn string, keys []string, wait time.Duration) bool {
	if t.TryLock(txn, keys) {
		return true
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		case <-tick.C:
			if t.TryLock(txn, keys) {
				return true
			}
		}
	}
}

// Release frees every key held by txn.
func (t *Table) Release(txn string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, owner := range t.owners {
		if owner == txn {
			delete(t.owners, key)
		}
	}
}

// Owner reports which transaction holds key.
func (t *Table) Owner(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, ok := t.owners[key]
	return owner, ok
}
