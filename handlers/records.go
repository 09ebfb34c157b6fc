// Package handlers provides the HTTP handlers of the geo record REST API.
//
// Routes under /api/geo:
//
//   - POST   /            – ingest one record (object body) or a batch (array body).
//   - GET    /            – all records.
//   - GET    /colour      – (latitude, longitude, colour) points, optionally one colour.
//   - GET    /id          – ids of the records matching timestamp/latitude/longitude.
//   - GET    /{id}        – one record.
//   - PUT    /{id}        – replace every field of a record.
//   - DELETE /{id}        – remove a record.
//
// Queries that find nothing answer 404 so clients can tell an empty result
// from a successful one without inspecting the body.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/arkantrust/geocrud-api/ingest"
	"github.com/arkantrust/geocrud-api/service"
	"github.com/arkantrust/geocrud-api/store"
)

// maxBodyBytes caps request bodies, batches included.
const maxBodyBytes = 16 << 20

const msgNoData = "no data found"

// Handler holds the dependencies for all record HTTP handlers.
type Handler struct {
	pipeline *ingest.Pipeline
	records  *service.RecordService
	logger   *slog.Logger
	maxBody  int64
}

// New creates a new Handler.
func New(pipeline *ingest.Pipeline, records *service.RecordService, logger *slog.Logger) *Handler {
	return &Handler{
		pipeline: pipeline,
		records:  records,
		logger:   logger.With(slog.String("component", "handlers")),
		maxBody:  maxBodyBytes,
	}
}

// Routes mounts the record routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/colour", h.listColour)
	r.Get("/id", h.listIDs)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.replace)
	r.Delete("/{id}", h.delete)
}

// create handles POST /api/geo.
//
// An object body is one record: 200 with the stored record, 409 when the
// timestamp and coordinates are taken, 400 when fields are missing or out of
// range, 500 when the store fails. An array body is a batch and always
// answers 200 with a summary, whatever happened to its elements.
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	payload, err := ingest.DecodePayload(body)
	if err != nil {
		validationError(w, err.Error())
		return
	}

	if payload.Batch {
		writeJSON(w, http.StatusOK, h.pipeline.IngestBatch(r.Context(), payload.Inputs))
		return
	}

	o := h.pipeline.Ingest(r.Context(), payload.Inputs[0])
	switch o.Status {
	case ingest.StatusCreated:
		writeJSON(w, http.StatusOK, o.Record)
	case ingest.StatusDuplicate:
		conflict(w, o.Message)
	case ingest.StatusInvalid:
		validationError(w, "invalid record", o.Errors...)
	default:
		internalError(w, "failed to store record")
	}
}

// list handles GET /api/geo.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.records.List(r.Context())
	if err != nil {
		h.fault(w, "failed to list records", err)
		return
	}
	if len(items) == 0 {
		notFound(w, msgNoData)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// listColour handles GET /api/geo/colour?colour=.
func (h *Handler) listColour(w http.ResponseWriter, r *http.Request) {
	points, err := h.records.ColorPoints(r.Context(), r.URL.Query().Get("colour"))
	if err != nil {
		h.fault(w, "failed to query records", err)
		return
	}
	if len(points) == 0 {
		notFound(w, msgNoData)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// listIDs handles GET /api/geo/id?timestamp=&latitude=&longitude=.
func (h *Handler) listIDs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	var q service.KeyQuery
	if params.Has("timestamp") {
		ts := params.Get("timestamp")
		q.Timestamp = &ts
	}
	for _, p := range []struct {
		name string
		dst  **decimal.Decimal
	}{
		{"latitude", &q.Latitude},
		{"longitude", &q.Longitude},
	} {
		if !params.Has(p.name) {
			continue
		}
		d, err := ingest.ParseCoordinate(params.Get(p.name))
		if err != nil {
			validationError(w, fmt.Sprintf("%s %s", p.name, err))
			return
		}
		*p.dst = &d
	}

	ids, err := h.records.IDs(r.Context(), q)
	if err != nil {
		h.fault(w, "failed to query records", err)
		return
	}
	if len(ids) == 0 {
		notFound(w, msgNoData)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// get handles GET /api/geo/{id}.
func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, err := h.records.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w, "record not found")
			return
		}
		h.fault(w, "failed to get record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// replace handles PUT /api/geo/{id}.
//
// The body carries every field of the record. Its "id" may be omitted; when
// present it must equal the path id. Answers 204 after a write, 400 when the
// payload is invalid or equals the stored record, 404 for an unknown id and
// 409 when the new timestamp and coordinates belong to another record.
func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var head struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		validationError(w, "invalid JSON body")
		return
	}
	if head.ID != nil && *head.ID != 0 && *head.ID != id {
		validationError(w, fmt.Sprintf("body id %d does not match path id %d", *head.ID, id))
		return
	}

	var in ingest.Input
	if err := json.Unmarshal(body, &in); err != nil {
		validationError(w, "invalid JSON body")
		return
	}

	_, err := h.records.Replace(r.Context(), id, in)
	var verr *service.ValidationError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.As(err, &verr):
		validationError(w, "invalid record", verr.Fields...)
	case errors.Is(err, service.ErrNoChange):
		WriteError(w, http.StatusBadRequest, CodeNoChange, service.ErrNoChange.Error())
	case errors.Is(err, store.ErrNotFound):
		notFound(w, "record not found")
	case errors.Is(err, store.ErrConflict):
		conflict(w, store.ErrConflict.Error())
	default:
		h.fault(w, "failed to replace record", err)
	}
}

// delete handles DELETE /api/geo/{id}.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.records.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w, "record not found")
			return
		}
		h.fault(w, "failed to delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readBody reads at most h.maxBody bytes. A larger body answers 413.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		validationError(w, "failed to read request body")
		return nil, false
	}
	return body, true
}

func (h *Handler) fault(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.String("error", err.Error()))
	internalError(w, message)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		validationError(w, "id must be a positive integer")
		return 0, false
	}
	return id, true
}
