package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkantrust/geocrud-api/models"
	"github.com/arkantrust/geocrud-api/store"
)

// --- Mock store ---

// mockStore injects failures into the pipeline's storage calls.
type mockStore struct {
	findFn   func(ctx context.Context, f store.Filter) ([]models.Record, error)
	insertFn func(ctx context.Context, r *models.Record) (*models.Record, error)

	findCalls   int
	insertCalls int
}

func (m *mockStore) Find(ctx context.Context, f store.Filter) ([]models.Record, error) {
	m.findCalls++
	if m.findFn != nil {
		return m.findFn(ctx, f)
	}
	return nil, nil
}

func (m *mockStore) Insert(ctx context.Context, r *models.Record) (*models.Record, error) {
	m.insertCalls++
	if m.insertFn != nil {
		return m.insertFn(ctx, r)
	}
	created := *r
	created.ID = int64(m.insertCalls)
	return &created, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newBoltPipeline(t *testing.T) (*Pipeline, *store.BoltStore) {
	t.Helper()
	s, err := store.NewBolt(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewPipeline(s, NewDuplicateChecker(s), testLogger()), s
}

func newMockPipeline(m *mockStore) *Pipeline {
	return NewPipeline(m, NewDuplicateChecker(m), testLogger())
}

func strPtr(s string) *string { return &s }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func input(ts, lat, lon, colour string) Input {
	return Input{Timestamp: strPtr(ts), Latitude: decPtr(lat), Longitude: decPtr(lon), Colour: strPtr(colour)}
}

// --- Single record ---

func TestIngestCreatesAndNormalizesColour(t *testing.T) {
	p, s := newBoltPipeline(t)
	ctx := context.Background()

	o := p.Ingest(ctx, input("2024-05-01T10:00:00Z", "51.5074", "-0.1278", "Red"))
	require.Equal(t, StatusCreated, o.Status)
	require.NotNil(t, o.Record)
	assert.NotZero(t, o.Record.ID)
	assert.Equal(t, "#FF0000", o.Record.Colour)

	stored, err := s.Get(ctx, o.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "#FF0000", stored.Colour)
}

func TestIngestUnknownColourFallsBack(t *testing.T) {
	p, _ := newBoltPipeline(t)

	o := p.Ingest(context.Background(), input("t", "1", "1", "sort-of-teal"))
	require.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, "#000000", o.Record.Colour)
}

func TestIngestSameKeyTwice(t *testing.T) {
	p, s := newBoltPipeline(t)
	ctx := context.Background()

	first := p.Ingest(ctx, input("t", "10.5", "20.25", "#00FF00"))
	require.Equal(t, StatusCreated, first.Status)

	second := p.Ingest(ctx, input("t", "10.50", "20.250", "blue"))
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Contains(t, second.Message, "already exists")
	assert.Nil(t, second.Record)

	items, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestIngestLeastSignificantDigitIsDistinct(t *testing.T) {
	p, _ := newBoltPipeline(t)
	ctx := context.Background()

	require.Equal(t, StatusCreated, p.Ingest(ctx, input("t", "10.123456", "20", "red")).Status)
	assert.Equal(t, StatusCreated, p.Ingest(ctx, input("t", "10.123457", "20", "red")).Status)
}

func TestIngestMissingTimestampNeverReachesStorage(t *testing.T) {
	m := &mockStore{}
	p := newMockPipeline(m)

	in := input("", "1", "1", "red")
	in.Timestamp = nil
	o := p.Ingest(context.Background(), in)

	assert.Equal(t, StatusInvalid, o.Status)
	require.Len(t, o.Errors, 1)
	assert.Equal(t, "timestamp", o.Errors[0].Field)
	assert.Zero(t, m.findCalls)
	assert.Zero(t, m.insertCalls)
}

func TestIngestConflictOnInsertIsDuplicate(t *testing.T) {
	// The fast-path check misses the record a concurrent call just wrote;
	// the store's uniqueness constraint catches it.
	m := &mockStore{
		insertFn: func(_ context.Context, _ *models.Record) (*models.Record, error) {
			return nil, store.ErrConflict
		},
	}
	p := newMockPipeline(m)

	o := p.Ingest(context.Background(), input("t", "1", "1", "red"))
	assert.Equal(t, StatusDuplicate, o.Status)
	assert.Equal(t, 1, m.insertCalls)
}

func TestIngestStorageFailures(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("duplicate check", func(t *testing.T) {
		m := &mockStore{
			findFn: func(context.Context, store.Filter) ([]models.Record, error) { return nil, boom },
		}
		o := newMockPipeline(m).Ingest(context.Background(), input("t", "1", "1", "red"))
		assert.Equal(t, StatusFailed, o.Status)
		assert.ErrorIs(t, o.Err, boom)
		assert.Zero(t, m.insertCalls)
	})

	t.Run("insert", func(t *testing.T) {
		m := &mockStore{
			insertFn: func(context.Context, *models.Record) (*models.Record, error) { return nil, boom },
		}
		o := newMockPipeline(m).Ingest(context.Background(), input("t", "1", "1", "red"))
		assert.Equal(t, StatusFailed, o.Status)
		assert.Contains(t, o.Message, "connection refused")
	})
}

func TestDuplicateCheckerQueriesExactKey(t *testing.T) {
	var got store.Filter
	m := &mockStore{
		findFn: func(_ context.Context, f store.Filter) ([]models.Record, error) {
			got = f
			return []models.Record{{ID: 3}}, nil
		},
	}

	r := &models.Record{Timestamp: "t", Latitude: decimal.RequireFromString("1.5"), Longitude: decimal.RequireFromString("2")}
	exists, err := NewDuplicateChecker(m).Exists(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NotNil(t, got.Timestamp)
	assert.Equal(t, "t", *got.Timestamp)
	assert.True(t, got.Latitude.Equal(r.Latitude))
	assert.True(t, got.Longitude.Equal(r.Longitude))
	assert.Nil(t, got.Colour)
	assert.Equal(t, 1, got.Limit)
}

// --- Batch ---

func TestIngestBatchMixedOutcomes(t *testing.T) {
	p, _ := newBoltPipeline(t)
	ctx := context.Background()

	require.Equal(t, StatusCreated, p.Ingest(ctx, input("existing", "1", "1", "red")).Status)

	invalid := input("", "2", "2", "red")
	invalid.Timestamp = nil

	summary := p.IngestBatch(ctx, []Input{
		input("existing", "1", "1", "green"),
		invalid,
		input("new", "3", "3", "#123456"),
	})

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.NotEmpty(t, summary.BatchID)

	require.Len(t, summary.Results, 3)
	assert.Equal(t, StatusDuplicate, summary.Results[0].Status)
	assert.Equal(t, StatusInvalid, summary.Results[1].Status)
	assert.Equal(t, "timestamp", summary.Results[1].Errors[0].Field)
	assert.Equal(t, StatusCreated, summary.Results[2].Status)
	assert.NotZero(t, summary.Results[2].ID)
	for i, res := range summary.Results {
		assert.Equal(t, i, res.Index)
	}
}

func TestIngestBatchDuplicateWithinBatch(t *testing.T) {
	p, _ := newBoltPipeline(t)

	summary := p.IngestBatch(context.Background(), []Input{
		input("t", "1", "1", "red"),
		input("t", "1", "1", "red"),
	})
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, StatusDuplicate, summary.Results[1].Status)
}

func TestIngestBatchContinuesAfterFailure(t *testing.T) {
	calls := 0
	m := &mockStore{
		insertFn: func(_ context.Context, r *models.Record) (*models.Record, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("disk full")
			}
			created := *r
			created.ID = int64(calls)
			return &created, nil
		},
	}
	p := newMockPipeline(m)

	summary := p.IngestBatch(context.Background(), []Input{
		input("a", "1", "1", "red"),
		input("b", "1", "1", "red"),
		input("c", "1", "1", "red"),
	})
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, StatusFailed, summary.Results[0].Status)
	assert.Equal(t, "disk full", summary.Results[0].Message)
	assert.Equal(t, 3, m.insertCalls)
}
