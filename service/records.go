package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/arkantrust/geocrud-api/colornorm"
	"github.com/arkantrust/geocrud-api/ingest"
	"github.com/arkantrust/geocrud-api/models"
	"github.com/arkantrust/geocrud-api/store"
)

// ErrNoChange is returned by Replace when the payload equals the stored
// record. No write happens.
var ErrNoChange = errors.New("no changes detected")

// ValidationError carries the field errors of a rejected payload.
type ValidationError struct {
	Fields []ingest.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Error())
	}
	return "invalid record: " + strings.Join(msgs, "; ")
}

// KeyQuery selects records by any subset of the duplicate key.
type KeyQuery struct {
	Timestamp *string
	Latitude  *decimal.Decimal
	Longitude *decimal.Decimal
}

// RecordService serves reads and non-ingest writes.
type RecordService struct {
	store  store.Store
	cache  *RecordCache
	logger *slog.Logger
}

// NewRecordService creates the service.
func NewRecordService(s store.Store, cache *RecordCache, logger *slog.Logger) *RecordService {
	return &RecordService{
		store:  s,
		cache:  cache,
		logger: logger.With(slog.String("component", "record_service")),
	}
}

// Get returns one record. The cache is consulted first.
func (s *RecordService) Get(ctx context.Context, id int64) (*models.Record, error) {
	if r, ok := s.cache.Get(id); ok {
		return r, nil
	}

	gen := s.cache.Generation()
	r, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}

	s.cache.Set(r, gen)
	return r, nil
}

// List returns every record.
func (s *RecordService) List(ctx context.Context) ([]models.Record, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return items, nil
}

// ColorPoints returns the (latitude, longitude, colour) projection of the
// records, restricted to one colour when colour is not empty. A filter that
// names a colour is normalized first, so "red" finds #FF0000; an
// unrecognized filter is compared verbatim and usually matches nothing.
func (s *RecordService) ColorPoints(ctx context.Context, colour string) ([]models.ColorPoint, error) {
	var f store.Filter
	if colour != "" {
		if res := colornorm.Resolve(colour); res.Resolved() {
			colour = res.Hex()
		}
		f.Colour = &colour
	}

	items, err := s.store.Find(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("find records by colour: %w", err)
	}

	points := make([]models.ColorPoint, 0, len(items))
	for _, r := range items {
		points = append(points, models.ColorPoint{Latitude: r.Latitude, Longitude: r.Longitude, Colour: r.Colour})
	}
	return points, nil
}

// IDs returns the identities of the records matching q.
func (s *RecordService) IDs(ctx context.Context, q KeyQuery) ([]models.RecordID, error) {
	items, err := s.store.Find(ctx, store.Filter{
		Timestamp: q.Timestamp,
		Latitude:  q.Latitude,
		Longitude: q.Longitude,
	})
	if err != nil {
		return nil, fmt.Errorf("find records by key: %w", err)
	}

	ids := make([]models.RecordID, 0, len(items))
	for _, r := range items {
		ids = append(ids, models.RecordID{ID: r.ID})
	}
	return ids, nil
}

// Replace overwrites every field of the record with the given id. The
// payload is validated and its colour normalized the same way ingestion does
// it. Returns ErrNoChange when nothing differs, store.ErrNotFound for an
// unknown id and store.ErrConflict when the new key belongs to another record.
func (s *RecordService) Replace(ctx context.Context, id int64, in ingest.Input) (*models.Record, error) {
	if errs := ingest.Validate(&in); len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}

	r := in.Record()
	r.ID = id
	r.Colour = colornorm.Normalize(r.Colour)

	updated, written, err := s.store.Replace(ctx, id, r)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("replace record %d: %w", id, err)
	}
	if !written {
		return updated, ErrNoChange
	}

	s.cache.Delete(id)
	s.logger.Info("record replaced", slog.Int64("id", id))
	return updated, nil
}

// Delete removes the record with the given id.
func (s *RecordService) Delete(ctx context.Context, id int64) error {
	err := s.store.Delete(ctx, id)
	// Invalidate after the write so no fill can observe the deleted row.
	s.cache.Delete(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete record %d: %w", id, err)
	}

	s.logger.Info("record deleted", slog.Int64("id", id))
	return nil
}
