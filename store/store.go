// Package store provides the persistence layer for geo records.
//
// Two engines implement Store: BoltStore, an embedded single-file database
// that needs no external process, and PostgresStore for shared deployments.
// Both enforce the duplicate-key invariant themselves: an Insert whose
// (timestamp, latitude, longitude) triple is already taken fails with
// ErrConflict, even when two callers race past the ingestion-time check.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/arkantrust/geocrud-api/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write would give two records the same
	// duplicate key.
	ErrConflict = errors.New("record with the same timestamp and coordinates already exists")
)

// Store is the storage collaborator consumed by the ingestion pipeline and
// the query service.
type Store interface {
	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id int64) (*models.Record, error)
	// List returns every record ordered by id.
	List(ctx context.Context) ([]models.Record, error)
	// Find returns the records matching f ordered by id.
	Find(ctx context.Context, f Filter) ([]models.Record, error)
	// Insert persists r, assigns its id and returns it. It fails with
	// ErrConflict when the duplicate key is taken.
	Insert(ctx context.Context, r *models.Record) (*models.Record, error)
	// Replace overwrites every field of the record with the given id.
	//
	// Returns (updated, true, nil) when a write occurred.
	// Returns (existing, false, nil) when the payload was identical.
	// Fails with ErrNotFound for an unknown id and ErrConflict when the new
	// key belongs to another record.
	Replace(ctx context.Context, id int64, r *models.Record) (*models.Record, bool, error)
	// Delete removes the record with the given id or returns ErrNotFound.
	Delete(ctx context.Context, id int64) error
	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error
	// Close releases the engine's resources.
	Close() error
}

// Filter selects records by any subset of their fields. Nil fields do not
// constrain the result. Coordinates compare by exact decimal equality.
type Filter struct {
	Colour    *string
	Timestamp *string
	Latitude  *decimal.Decimal
	Longitude *decimal.Decimal
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// KeyFilter returns a filter matching exactly the records that share k.
func KeyFilter(k models.Key) Filter {
	return Filter{
		Timestamp: &k.Timestamp,
		Latitude:  &k.Latitude,
		Longitude: &k.Longitude,
	}
}

// Match reports whether r satisfies every condition of f.
func (f Filter) Match(r *models.Record) bool {
	if f.Colour != nil && r.Colour != *f.Colour {
		return false
	}
	if f.Timestamp != nil && r.Timestamp != *f.Timestamp {
		return false
	}
	if f.Latitude != nil && !r.Latitude.Equal(*f.Latitude) {
		return false
	}
	if f.Longitude != nil && !r.Longitude.Equal(*f.Longitude) {
		return false
	}
	return true
}
