package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/arkantrust/geocrud-api/models"
)

var (
	// recordsBucket maps big-endian ids to JSON encoded records.
	recordsBucket = []byte("records")
	// keysBucket maps encoded duplicate keys to big-endian ids. It is the
	// uniqueness constraint of the bolt engine.
	keysBucket = []byte("record_keys")
)

// BoltStore wraps a BoltDB database and exposes the Store operations.
//
// Every write runs in a single read-write transaction, and bolt allows only
// one of those at a time, so the key-index check and the insert that follows
// it cannot interleave with another writer.
type BoltStore struct {
	db *bolt.DB
}

// NewBolt opens (or creates) a BoltDB database at the given path and ensures
// the buckets exist.
func NewBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, keysBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping runs an empty read transaction.
func (s *BoltStore) Ping(_ context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

// List returns all records stored in the database.
func (s *BoltStore) List(ctx context.Context) ([]models.Record, error) {
	return s.Find(ctx, Filter{})
}

// Find scans the records bucket and keeps the records matching f.
func (s *BoltStore) Find(_ context.Context, f Filter) ([]models.Record, error) {
	var items []models.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r models.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if !f.Match(&r) {
				continue
			}
			items = append(items, r)
			if f.Limit > 0 && len(items) >= f.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Return an empty slice rather than nil so the JSON encoder emits [] instead
	// of null.
	if items == nil {
		items = []models.Record{}
	}
	return items, nil
}

// Get retrieves a single record by id.
// Returns ErrNotFound if the key does not exist.
func (s *BoltStore) Get(_ context.Context, id int64) (*models.Record, error) {
	var r models.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordsBucket).Get(itob(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &r)
	})
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// Insert persists a new record ONLY if no record holds the same duplicate key.
// The id comes from the bucket sequence.
func (s *BoltStore) Insert(_ context.Context, r *models.Record) (*models.Record, error) {
	var result models.Record

	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		keys := tx.Bucket(keysBucket)

		key := encodeKey(r.Key())
		if keys.Get(key) != nil {
			return ErrConflict
		}

		seq, err := records.NextSequence()
		if err != nil {
			return err
		}
		result = *r
		result.ID = int64(seq)

		data, err := json.Marshal(&result)
		if err != nil {
			return err
		}
		if err := records.Put(itob(result.ID), data); err != nil {
			return err
		}
		return keys.Put(key, itob(result.ID))
	})
	if err != nil {
		return nil, err
	}

	r.ID = result.ID
	return &result, nil
}

// Replace overwrites an existing record ONLY if the payload differs from the
// stored data. The identity in the payload is ignored; the record keeps id.
func (s *BoltStore) Replace(_ context.Context, id int64, incoming *models.Record) (*models.Record, bool, error) {
	var result models.Record
	written := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		keys := tx.Bucket(keysBucket)

		existingBytes := records.Get(itob(id))
		if existingBytes == nil {
			return ErrNotFound
		}

		var existing models.Record
		if err := json.Unmarshal(existingBytes, &existing); err != nil {
			return err
		}

		if existing.SameContent(incoming) {
			result = existing
			return nil
		}

		next := *incoming
		next.ID = id

		if !existing.Key().Equal(next.Key()) {
			newKey := encodeKey(next.Key())
			if owner := keys.Get(newKey); owner != nil && btoi(owner) != id {
				return ErrConflict
			}
			if err := keys.Delete(encodeKey(existing.Key())); err != nil {
				return err
			}
			if err := keys.Put(newKey, itob(id)); err != nil {
				return err
			}
		}

		data, err := json.Marshal(&next)
		if err != nil {
			return err
		}

		written = true
		result = next
		return records.Put(itob(id), data)
	})
	if err != nil {
		return nil, false, err
	}

	return &result, written, nil
}

// Delete removes a record and its key index entry.
// Returns ErrNotFound if the record does not exist.
func (s *BoltStore) Delete(_ context.Context, id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)

		v := records.Get(itob(id))
		if v == nil {
			return ErrNotFound
		}
		var existing models.Record
		if err := json.Unmarshal(v, &existing); err != nil {
			return err
		}

		if err := tx.Bucket(keysBucket).Delete(encodeKey(existing.Key())); err != nil {
			return err
		}
		return records.Delete(itob(id))
	})
}

// encodeKey builds the key index entry: the length-prefixed timestamp followed
// by both coordinates. Decimal.String drops trailing zeros, so numerically
// equal coordinates encode identically.
func encodeKey(k models.Key) []byte {
	b := make([]byte, 0, len(k.Timestamp)+40)
	b = binary.AppendUvarint(b, uint64(len(k.Timestamp)))
	b = append(b, k.Timestamp...)
	b = append(b, 0)
	b = append(b, k.Latitude.String()...)
	b = append(b, 0)
	b = append(b, k.Longitude.String()...)
	return b
}

func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
