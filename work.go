package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"nbcommit/commit"
	"nbcommit/locks"
)

// coin fails local work with a fixed probability. It is shared by every
// participant of a run.
type coin struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64
}

func newCoin(seed int64, rate float64) *coin {
	return &coin{rng: rand.New(rand.NewSource(seed)), rate: rate}
}

func (c *coin) fail() bool {
	if c == nil || c.rate <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64() < c.rate
}

// lockWork is a participant's local work: take every key in its lock
// table. Keys held by another transaction past wait mean LOCAL_ABORT.
func lockWork(table *locks.Table, keys []string, wait time.Duration, c *coin) commit.Work {
	return func(ctx context.Context, txn string) commit.LocalDecision {
		if c.fail() {
			return commit.LocalAbort
		}
		if !table.Acquire(ctx, txn, keys, wait) {
			return commit.LocalAbort
		}
		return commit.LocalSuccess
	}
}

// settle frees txn's keys once the participant knows the outcome. A
// crashed or unresolved participant keeps them, as a blocked database would.
func settle(table *locks.Table, txn string, r commit.Report) {
	switch r.Outcome {
	case commit.OutcomeCommitted, commit.OutcomeAborted:
		table.Release(txn)
	}
}
