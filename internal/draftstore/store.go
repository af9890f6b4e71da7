// Package draftstore keeps the active workout draft on the device so it
// survives a process restart.
package draftstore

import (
	"errors"
	"fmt"
	"time"
)

const (
	keyDraft      = "draft"
	keyClockStart = "clock_start"
)

// ErrLocked is returned when another process holds the local state file.
var ErrLocked = errors.New("local state is locked by another process")

// KV is a small durable key/value backend.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Store persists the draft bytes and the session clock start.
type Store struct {
	kv KV
}

// New wraps a KV backend.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// Open opens the backend named by driver ("sqlite", "bolt" or "memory")
// inside dir.
func Open(driver, dir string) (*Store, error) {
	var (
		kv  KV
		err error
	)
	switch driver {
	case "", "sqlite":
		kv, err = OpenSQLite(dir)
	case "bolt":
		kv, err = OpenBolt(dir)
	case "memory":
		kv = NewMemKV()
	default:
		return nil, fmt.Errorf("unknown local driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return New(kv), nil
}

// SaveDraft replaces the persisted draft.
func (s *Store) SaveDraft(b []byte) error {
	if err := s.kv.Put(keyDraft, b); err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}
	return nil
}

// LoadDraft returns the persisted draft, if any.
func (s *Store) LoadDraft() ([]byte, bool, error) {
	b, ok, err := s.kv.Get(keyDraft)
	if err != nil {
		return nil, false, fmt.Errorf("loading draft: %w", err)
	}
	return b, ok, nil
}

// ClearDraft removes the persisted draft.
func (s *Store) ClearDraft() error {
	if err := s.kv.Delete(keyDraft); err != nil {
		return fmt.Errorf("clearing draft: %w", err)
	}
	return nil
}

// SaveClockStart persists the wall-clock start of the session timer.
func (s *Store) SaveClockStart(t time.Time) error {
	b, err := t.UTC().MarshalText()
	if err != nil {
		return fmt.Errorf("encoding clock start: %w", err)
	}
	if err := s.kv.Put(keyClockStart, b); err != nil {
		return fmt.Errorf("saving clock start: %w", err)
	}
	return nil
}

// LoadClockStart returns the persisted clock start, if any.
func (s *Store) LoadClockStart() (time.Time, bool, error) {
	b, ok, err := s.kv.Get(keyClockStart)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("loading clock start: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	var t time.Time
	if err := t.UnmarshalText(b); err != nil {
		return time.Time{}, false, fmt.Errorf("decoding clock start: %w", err)
	}
	return t, true, nil
}

// ClearClockStart removes the persisted clock start.
func (s *Store) ClearClockStart() error {
	if err := s.kv.Delete(keyClockStart); err != nil {
		return fmt.Errorf("clearing clock start: %w", err)
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.kv.Close()
}
