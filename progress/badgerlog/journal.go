package badgerlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"dtsynth/progress"

	"github.com/dgraph-io/badger/v4"
)

var _ progress.Sink = (*Journal)(nil)

// Journal durably stores the snapshots of one run under "progress/<run>/<seq>".
type Journal struct {
	db  *badger.DB
	run string

	mu  sync.Mutex
	seq uint64
}

// Open opens a journal in dir, or in memory when dir is empty.
func Open(dir, run string) (*Journal, error) {
	if run == "" {
		return nil, errors.New("run id is required")
	}
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	j := &Journal{db: db, run: run}
	existing, err := j.List(run)
	if err != nil {
		db.Close()
		return nil, err
	}
	j.seq = uint64(len(existing))
	return j, nil
}

func prefix(run string) []byte {
	return []byte(fmt.Sprintf("progress/%s/", run))
}

func (j *Journal) key(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", prefix(j.run), seq))
}

func (j *Journal) Emit(_ context.Context, snap progress.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	key := j.key(j.seq)
	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("write snapshot %d: %w", j.seq, err)
	}
	j.seq++
	return nil
}

// List returns the stored snapshots of a run in emission order.
func (j *Journal) List(run string) ([]progress.Snapshot, error) {
	var out []progress.Snapshot
	p := prefix(run)
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var snap progress.Snapshot
				if err := json.Unmarshal(val, &snap); err != nil {
					return err
				}
				out = append(out, snap)
				return nil
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list run %s: %w", run, err)
	}
	return out, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
