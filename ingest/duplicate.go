package ingest

import (
	"context"
	"fmt"

	"github.com/arkantrust/geocrud-api/models"
	"github.com/arkantrust/geocrud-api/store"
)

// Finder is the query side of the storage collaborator.
type Finder interface {
	Find(ctx context.Context, f store.Filter) ([]models.Record, error)
}

// DuplicateChecker looks for a persisted record with the same timestamp and
// exactly the same coordinates. It is a fast path only: the storage engine's
// uniqueness constraint remains the authoritative check.
type DuplicateChecker struct {
	finder Finder
}

// NewDuplicateChecker creates a checker that queries finder.
func NewDuplicateChecker(finder Finder) *DuplicateChecker {
	return &DuplicateChecker{finder: finder}
}

// Exists reports whether a record with r's duplicate key is stored.
func (c *DuplicateChecker) Exists(ctx context.Context, r *models.Record) (bool, error) {
	f := store.KeyFilter(r.Key())
	f.Limit = 1

	items, err := c.finder.Find(ctx, f)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return len(items) > 0, nil
}
