// Package ingest turns caller-supplied geo records into persisted ones.
//
// A record goes through four steps, always in this order:
//
//  1. Validate: required fields and coordinate ranges.
//  2. Normalize: the colour is coerced to #RRGGBB (never fails).
//  3. Duplicate check: a quick lookup of the (timestamp, latitude, longitude)
//     key.
//  4. Insert: the store assigns the id. A uniqueness violation here is still
//     reported as a duplicate; it means a concurrent call won the race.
//
// Every step's result is turned into an Outcome value; nothing escapes the
// pipeline as an error. Batches run the same steps element by element and
// never stop early.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arkantrust/geocrud-api/colornorm"
	"github.com/arkantrust/geocrud-api/models"
	"github.com/arkantrust/geocrud-api/store"
)

var (
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocrud_ingest_outcomes_total",
			Help: "Number of ingested records by outcome.",
		},
		[]string{"status"},
	)

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geocrud_ingest_batch_size",
		Help:    "Number of elements per batch ingestion.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	colourFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geocrud_ingest_colour_fallback_total",
		Help: "Number of records whose colour could not be resolved.",
	})
)

// Status tags the outcome of ingesting one record.
type Status string

const (
	StatusCreated   Status = "created"
	StatusDuplicate Status = "duplicate"
	StatusInvalid   Status = "invalid"
	StatusFailed    Status = "failed"
)

// Outcome is the result of ingesting one record.
type Outcome struct {
	Status Status
	// Record is set for StatusCreated.
	Record *models.Record
	// Message explains a duplicate or failed outcome.
	Message string
	// Errors lists the problems of an invalid input.
	Errors []FieldError
	// Err is the storage error behind a failed outcome.
	Err error
}

// ItemResult is the per-element part of a BatchSummary.
type ItemResult struct {
	Index   int          `json:"index"`
	Status  Status       `json:"status"`
	ID      int64        `json:"id,omitempty"`
	Message string       `json:"message,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// BatchSummary aggregates a batch ingestion. Succeeded counts only created
// records; everything else is Failed.
type BatchSummary struct {
	BatchID   string       `json:"batch_id"`
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []ItemResult `json:"results"`
}

// Inserter is the write side of the storage collaborator.
type Inserter interface {
	Insert(ctx context.Context, r *models.Record) (*models.Record, error)
}

// Pipeline ingests single records and batches.
type Pipeline struct {
	inserter Inserter
	checker  *DuplicateChecker
	logger   *slog.Logger
}

// NewPipeline creates a pipeline writing through inserter. checker is
// normally built on the same store.
func NewPipeline(inserter Inserter, checker *DuplicateChecker, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		inserter: inserter,
		checker:  checker,
		logger:   logger.With(slog.String("component", "ingest")),
	}
}

// Ingest validates, normalizes, deduplicates and persists one record.
func (p *Pipeline) Ingest(ctx context.Context, in Input) Outcome {
	o := p.ingest(ctx, &in)
	outcomesTotal.WithLabelValues(string(o.Status)).Inc()
	return o
}

func (p *Pipeline) ingest(ctx context.Context, in *Input) Outcome {
	if errs := Validate(in); len(errs) > 0 {
		p.logger.Warn("invalid record", slog.Any("errors", errs))
		return Outcome{Status: StatusInvalid, Errors: errs}
	}

	r := in.Record()
	resolved := colornorm.Resolve(r.Colour)
	if !resolved.Resolved() {
		colourFallbackTotal.Inc()
		p.logger.Warn("unrecognized colour, using fallback",
			slog.String("colour", r.Colour),
			slog.String("fallback", colornorm.Fallback),
		)
	}
	r.Colour = resolved.Hex()

	exists, err := p.checker.Exists(ctx, r)
	if err != nil {
		return p.failed(r, err)
	}
	if exists {
		return p.duplicate(r)
	}

	created, err := p.inserter.Insert(ctx, r)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return p.duplicate(r)
		}
		return p.failed(r, err)
	}

	p.logger.Debug("record created",
		slog.Int64("id", created.ID),
		slog.String("timestamp", created.Timestamp),
		slog.String("latitude", created.Latitude.String()),
		slog.String("longitude", created.Longitude.String()),
	)
	return Outcome{Status: StatusCreated, Record: created}
}

func (p *Pipeline) duplicate(r *models.Record) Outcome {
	msg := fmt.Sprintf("record already exists with timestamp %s and coordinates (%s, %s)",
		r.Timestamp, r.Latitude, r.Longitude)
	p.logger.Warn("duplicate record",
		slog.String("timestamp", r.Timestamp),
		slog.String("latitude", r.Latitude.String()),
		slog.String("longitude", r.Longitude.String()),
	)
	return Outcome{Status: StatusDuplicate, Message: msg}
}

func (p *Pipeline) failed(r *models.Record, err error) Outcome {
	p.logger.Error("failed to persist record",
		slog.String("timestamp", r.Timestamp),
		slog.String("error", err.Error()),
	)
	return Outcome{Status: StatusFailed, Message: err.Error(), Err: err}
}

// IngestBatch ingests inputs one after another in input order. A failing
// element never stops the elements after it.
func (p *Pipeline) IngestBatch(ctx context.Context, inputs []Input) BatchSummary {
	summary := BatchSummary{
		BatchID: uuid.NewString(),
		Total:   len(inputs),
		Results: make([]ItemResult, 0, len(inputs)),
	}
	batchSize.Observe(float64(len(inputs)))

	for i, in := range inputs {
		o := p.Ingest(ctx, in)

		res := ItemResult{Index: i, Status: o.Status, Message: o.Message, Errors: o.Errors}
		if o.Status == StatusCreated {
			summary.Succeeded++
			res.ID = o.Record.ID
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, res)
	}

	p.logger.Info("batch ingested",
		slog.String("batch_id", summary.BatchID),
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
	)
	return summary
}
