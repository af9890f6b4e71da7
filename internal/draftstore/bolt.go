package draftstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var stateBucket = []byte("state")

// BoltKV stores local state in a bbolt file at dir/liftoff.bolt.
type BoltKV struct {
	conn *bolt.DB
}

// OpenBolt opens the bolt file and creates its bucket. A second process
// holding the file makes this fail with ErrLocked after one second.
func OpenBolt(dir string) (*BoltKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	db, err := bolt.Open(filepath.Join(dir, "liftoff.bolt"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("opening bolt state: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state bucket: %w", err)
	}

	return &BoltKV{conn: db}, nil
}

func (b *BoltKV) Get(key string) ([]byte, bool, error) {
	var (
		out   []byte
		found bool
	)
	err := b.conn.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(stateBucket).Get([]byte(key))
		if v != nil {
			// v is only valid inside the transaction.
			out = append([]byte{}, v...)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

func (b *BoltKV) Put(key string, value []byte) error {
	return b.conn.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put([]byte(key), value)
	})
}

func (b *BoltKV) Delete(key string) error {
	return b.conn.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Delete([]byte(key))
	})
}

// Close closes the bolt file.
func (b *BoltKV) Close() error {
	return b.conn.Close()
}
