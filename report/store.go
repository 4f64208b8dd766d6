// Package report persists DriftReports to an append-only store. Each
// detection cycle appends exactly one record; records are never updated
// in place. The newest record is the CLI fallback when a run is not
// handed a report explicitly.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/veerhq/veer/types"
	"go.etcd.io/bbolt"
)

var (
	bucketReports = []byte("reports")

	// ErrNoReports means the store holds no records yet.
	ErrNoReports = errors.New("no drift reports recorded")
)

// Store is a bbolt-backed report log with an in-memory timestamp index.
type Store struct {
	mu    sync.RWMutex
	db    *bbolt.DB
	index *btree.BTreeG[string]
	dir   string
}

// Open creates or opens the report store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, "reports.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open report store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketReports)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{
		db:    db,
		index: btree.NewG[string](32, func(a, b string) bool { return a < b }),
		dir:   dir,
	}

	if err := store.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists one report. The report invariant is checked before
// anything touches disk.
func (s *Store) Append(report *types.DriftReport) (string, error) {
	if err := report.Validate(); err != nil {
		return "", fmt.Errorf("refusing to persist invalid report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := reportKey(report.Timestamp)
	value, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReports).Put([]byte(key), value)
	})
	if err != nil {
		return "", fmt.Errorf("failed to append report: %w", err)
	}

	s.index.ReplaceOrInsert(key)
	return key, nil
}

// Latest returns the most recent report.
func (s *Store) Latest() (*types.DriftReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var key string
	s.index.Descend(func(k string) bool {
		key = k
		return false
	})
	if key == "" {
		return nil, ErrNoReports
	}
	return s.get(key)
}

// Get returns the report stored under key.
func (s *Store) Get(key string) (*types.DriftReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(key)
}

// List returns up to limit reports, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]*types.DriftReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	s.index.Descend(func(k string) bool {
		keys = append(keys, k)
		return limit <= 0 || len(keys) < limit
	})

	reports := make([]*types.DriftReport, 0, len(keys))
	for _, key := range keys {
		report, err := s.get(key)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Len returns the number of stored reports.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

func (s *Store) get(key string) (*types.DriftReport, error) {
	var report types.DriftReport
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketReports).Get([]byte(key))
		if value == nil {
			return fmt.Errorf("report %s not found", key)
		}
		return json.Unmarshal(value, &report)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReports).ForEach(func(k, _ []byte) error {
			s.index.ReplaceOrInsert(string(k))
			return nil
		})
	})
}

// reportKey renders a lexicographically sortable timestamp key.
func reportKey(ts time.Time) string {
	return ts.UTC().Format("20060102T150405.000000000Z")
}
