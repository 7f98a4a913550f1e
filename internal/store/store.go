// Package store persists completed screening assessments in BadgerDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/holocare/screening-gateway/internal/fusion"
	"github.com/holocare/screening-gateway/internal/resilience"
)

// ErrNotFound is returned when no record exists for a session.
var ErrNotFound = errors.New("store: record not found")

const keyPrefix = "assessment:"

// Record is one persisted screening run: the final assessment plus the
// per-stage results it was fused from.
type Record struct {
	SessionID   string    `msgpack:"session_id"`
	Participant string    `msgpack:"participant,omitempty"`
	StartedAt   time.Time `msgpack:"started_at"`
	CompletedAt time.Time `msgpack:"completed_at"`

	Stage1 *fusion.Stage1Result `msgpack:"stage1,omitempty"`
	Stage2 *fusion.Stage2Result `msgpack:"stage2,omitempty"`
	Stage3 *fusion.Stage3Result `msgpack:"stage3,omitempty"`

	Assessment fusion.FinalAssessment `msgpack:"assessment"`
}

// Options configures the assessment store.
type Options struct {
	// Dir is the directory for data files. Required unless InMemory.
	Dir string

	// InMemory runs the store without disk persistence. Useful for
	// tests and ephemeral deployments.
	InMemory bool

	// Retry governs transient write failures. Nil uses defaults.
	Retry *resilience.RetryConfig

	// Logger receives storage engine errors. The zero value is a
	// usable no-op.
	Logger zerolog.Logger
}

// Store persists assessment records.
type Store struct {
	db    *badger.DB
	retry *resilience.RetryConfig
}

// Open opens or creates the store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{opts.Logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	retry := opts.Retry
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	return &Store{db: db, retry: retry}, nil
}

// Save writes rec under its session ID, retrying transient engine
// failures. A second save for the same session overwrites the first.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.SessionID == "" {
		return errors.New("store: record has no session id")
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}

	key := []byte(keyPrefix + rec.SessionID)
	return resilience.Retry(ctx, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, data)
		})
	}, s.retry, transient)
}

// Get returns the record for sessionID, or ErrNotFound.
func (s *Store) Get(_ context.Context, sessionID string) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get %s: %w", sessionID, err)
	}
	return rec, nil
}

// List returns every stored record, oldest completion first.
func (s *Store) List(_ context.Context) ([]Record, error) {
	prefix := []byte(keyPrefix)
	var all []Record
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			})
			if err != nil {
				continue // skip malformed entries
			}
			all = append(all, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CompletedAt.Before(all[j].CompletedAt)
	})
	return all, nil
}

// Recent returns up to n records, newest completion first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// HealthCheck reports whether the engine can serve requests.
func (s *Store) HealthCheck(_ context.Context) (bool, error) {
	if s.db.IsClosed() {
		return false, errors.New("store: closed")
	}
	return true, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// transient reports whether a write failure is worth retrying.
func transient(err error) bool {
	return errors.Is(err, badger.ErrConflict) || errors.Is(err, badger.ErrBlockedWrites)
}

// badgerLogger adapts zerolog to badger's logger interface, dropping
// badger's chatty info and debug output.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Error().Msgf("badger: "+f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warn().Msgf("badger: "+f, v...) }
func (l badgerLogger) Infof(string, ...interface{})        {}
func (l badgerLogger) Debugf(string, ...interface{})       {}
