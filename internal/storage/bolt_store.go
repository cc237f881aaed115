package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	BucketRuns = "runs"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Store is a bbolt-backed run history.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save stores item under its ID and prunes the oldest runs beyond MaxItems.
func (s *Store) Save(item HistoryItem) error {
	if item.ID == "" {
		return errors.New("history item has no id")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		if err := b.Put([]byte(item.ID), data); err != nil {
			return err
		}
		return prune(b, MaxItems)
	})
}

func prune(b *bbolt.Bucket, keep int) error {
	items, err := decodeAll(b)
	if err != nil || len(items) <= keep {
		return err
	}
	for _, item := range items[keep:] {
		if err := b.Delete([]byte(item.ID)); err != nil {
			return err
		}
	}
	return nil
}

// decodeAll returns every item, newest first. Undecodable entries are skipped.
func decodeAll(b *bbolt.Bucket) ([]HistoryItem, error) {
	var items []HistoryItem
	err := b.ForEach(func(k, v []byte) error {
		var item HistoryItem
		if err := json.Unmarshal(v, &item); err == nil {
			items = append(items, item)
		}
		return nil
	})
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	return items, err
}

// List returns all stored runs, newest first.
func (s *Store) List() ([]HistoryItem, error) {
	var items []HistoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		items, err = decodeAll(tx.Bucket([]byte(BucketRuns)))
		return err
	})
	return items, err
}

func (s *Store) Get(id string) (*HistoryItem, error) {
	var item HistoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}
