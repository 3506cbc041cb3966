package stablelog

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Dir hands out one file per process under a directory. Ids are assigned
// when a process joins its group, so files are opened on first Append.
type Dir struct {
	mu     sync.Mutex
	path   string
	role   string
	logs   map[uint64]*Log
	logger hclog.Logger
}

func NewDir(path, role string, logger hclog.Logger) *Dir {
	return &Dir{path: path, role: role, logs: make(map[uint64]*Log), logger: logger}
}

func (d *Dir) Append(id uint64, state string) error {
	l, err := d.open(id)
	if err != nil {
		return err
	}
	return l.Append(id, state)
}

func (d *Dir) open(id uint64) (*Log, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.logs[id]; ok {
		return l, nil
	}
	l, err := Open(d.path, d.role, id, d.logger)
	if err != nil {
		return nil, err
	}
	d.logs[id] = l
	return l, nil
}

func (d *Dir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for id, l := range d.logs {
		errs = append(errs, l.Close())
		delete(d.logs, id)
	}
	return errors.Join(errs...)
}

// Files lists the log files anywhere under path, sorted by name.
func Files(path string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(path, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !e.IsDir() && filepath.Ext(p) == ".db" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
