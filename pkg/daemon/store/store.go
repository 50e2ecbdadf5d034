// Package store keeps the enforcement history in a Badger database.
//
// Records are keyed by time so iteration order is chronological. The last
// outcome per target is kept under its own key so transitions survive a
// daemon restart.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

// Key prefixes
const (
	prefixRecord = "h:" // h:<unix nanos><seq> -> Record
	prefixLast   = "s:" // s:<lower name> -> last outcome
	prefixMeta   = "m:"
)

// Record is one journal entry.
type Record = types.HistoryRecord

// Store is the history journal.
type Store struct {
	db  *badger.DB
	seq atomic.Uint64
}

// Open opens or creates a journal in dir and stamps its schema.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening history at %s: %w", dir, err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(t time.Time, seq uint64) []byte {
	key := make([]byte, len(prefixRecord)+16)
	copy(key, prefixRecord)
	binary.BigEndian.PutUint64(key[len(prefixRecord):], uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(key[len(prefixRecord)+8:], seq)
	return key
}

func lastKey(name string) []byte {
	return []byte(prefixLast + strings.ToLower(name))
}

// Append writes rec unconditionally.
func (s *Store) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := recordKey(rec.Time, s.seq.Add(1))
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(lastKey(rec.Name), []byte(rec.Outcome.String()))
	})
}

// LastOutcome returns the most recently journaled outcome for name.
func (s *Store) LastOutcome(name string) (types.Outcome, bool, error) {
	var (
		out   types.Outcome
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := types.ParseOutcome(string(val))
			if err != nil {
				return err
			}
			out, found = parsed, true
			return nil
		})
	})
	return out, found, err
}

// Observe journals a check when it is worth remembering: any correction or
// access failure, and any change of outcome for the target. It reports
// whether a record was written.
func (s *Store) Observe(ev types.StatusEvent, res types.CheckResult) (bool, error) {
	prev, seen, err := s.LastOutcome(res.Name)
	if err != nil {
		return false, err
	}

	notable := res.Outcome == types.Corrected || res.Outcome == types.Unreachable
	changed := !seen || prev != res.Outcome
	if !notable && !changed {
		return false, nil
	}

	rec := Record{
		Time:    ev.Time,
		Name:    res.Name,
		PID:     res.PID,
		Outcome: res.Outcome,
		Source:  ev.Source,
		Status:  res.Status,
		Report:  res.Report,
	}
	if seen {
		rec.Previous = prev.String()
	}
	if err := s.Append(rec); err != nil {
		return false, err
	}
	return true, nil
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (s *Store) Recent(limit int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key <= seek.
		seek := append([]byte(prefixRecord), 0xff)
		prefix := []byte(prefixRecord)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return nil
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// Prune deletes records older than before and returns how many went.
func (s *Store) Prune(before time.Time) (int, error) {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRecord)
		limit := recordKey(before, 0)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if string(key) >= string(limit) {
				break
			}
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Count returns the number of records.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRecord)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
