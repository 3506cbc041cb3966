// Package stablelog is the durable, append-only record of every state a
// process enters. It is written ahead of acting on a state and read back
// only for forensics; nothing replays it.
package stablelog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"nbcommit/codec"
)

// openTimeout bounds how long Open waits for another process's file lock.
const openTimeout = time.Second

// Record is one logged state transition.
type Record struct {
	Index   uint64 `codec:"-"`
	Process uint64 `codec:"process"`
	Role    string `codec:"role"`
	State   string `codec:"state"`
	At      int64  `codec:"at"` // unix nanoseconds
}

func (r Record) Time() time.Time {
	return time.Unix(0, r.At)
}

// Log appends Records to a raft LogStore. Term carries the process id so
// a file can be attributed without decoding every entry.
type Log struct {
	mu     sync.Mutex
	store  raft.LogStore
	closer io.Closer
	role   string
	logger hclog.Logger
}

// FileName is the on-disk name of a process's log inside a log directory.
func FileName(role string, id uint64) string {
	return fmt.Sprintf("%s-%d.db", role, id)
}

// Open opens (creating if needed) the bolt-backed log of one process.
func Open(dir, role string, id uint64, logger hclog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	store, err := raftboltdb.New(raftboltdb.Options{
		Path:        filepath.Join(dir, FileName(role, id)),
		BoltOptions: &bolt.Options{Timeout: openTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("open stable log: %w", err)
	}
	return newLog(store, store, role, logger), nil
}

// OpenReadOnly opens an existing log file for inspection.
func OpenReadOnly(path string) (*Log, error) {
	store, err := raftboltdb.New(raftboltdb.Options{
		Path:        path,
		BoltOptions: &bolt.Options{Timeout: openTimeout, ReadOnly: true},
	})
	if err != nil {
		return nil, fmt.Errorf("open stable log %s: %w", path, err)
	}
	return newLog(store, store, "", nil), nil
}

// NewInmem returns a log that lives only as long as the process.
func NewInmem(role string, logger hclog.Logger) *Log {
	return newLog(raft.NewInmemStore(), nil, role, logger)
}

func newLog(store raft.LogStore, closer io.Closer, role string, logger hclog.Logger) *Log {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Log{store: store, closer: closer, role: role, logger: logger.Named("stablelog")}
}

// Append persists that process id entered state. The write is synced
// before Append returns.
func (l *Log) Append(id uint64, state string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, err := l.store.LastIndex()
	if err != nil {
		return err
	}
	now := time.Now()
	data, err := codec.Encode(&Record{Process: id, Role: l.role, State: state, At: now.UnixNano()})
	if err != nil {
		return err
	}
	entry := &raft.Log{
		Index:      last + 1,
		Term:       id,
		Type:       raft.LogCommand,
		Data:       data,
		AppendedAt: now,
	}
	if err := l.store.StoreLog(entry); err != nil {
		l.logger.Error("failed to append state", "process", id, "state", state, "error", err)
		return err
	}
	return nil
}

// ReadAll returns every record in append order.
func (l *Log) ReadAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	first, err := l.store.FirstIndex()
	if err != nil {
		return nil, err
	}
	last, err := l.store.LastIndex()
	if err != nil {
		return nil, err
	}
	if last == 0 {
		return nil, nil
	}

	records := make([]Record, 0, last-first+1)
	for i := first; i <= last; i++ {
		var entry raft.Log
		if err := l.store.GetLog(i, &entry); err != nil {
			if errors.Is(err, raft.ErrLogNotFound) {
				continue
			}
			return nil, err
		}
		var rec Record
		if err := codec.Decode(entry.Data, &rec); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", i, err)
		}
		rec.Index = entry.Index
		records = append(records, rec)
	}
	return records, nil
}

func (l *Log) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
