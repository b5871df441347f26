package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/codesearch/internal/apperr"
	"go.etcd.io/bbolt"
)

var bucketIndexed = []byte("indexed")

// BoltStore keeps one key per indexed file in a bbolt bucket.
type BoltStore struct {
	db   *bbolt.DB
	path string
}

// NewBoltStore opens or creates the bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperr.Store("create state directory", err)
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apperr.Store("open bolt state", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIndexed)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperr.Store("create bucket", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *BoltStore) Path() string { return s.path }

// Load returns every recorded path and fingerprint.
func (s *BoltStore) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIndexed)
		return b.ForEach(func(k, v []byte) error {
			snap[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Store("load bolt state", err)
	}
	return snap, nil
}

// Save recreates the bucket with the snapshot's entries in one transaction.
func (s *BoltStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketIndexed); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketIndexed)
		if err != nil {
			return err
		}
		for path, fp := range snap {
			if err := b.Put([]byte(path), []byte(fp)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Store("save bolt state", err)
	}
	return nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
