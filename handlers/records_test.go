package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkantrust/geocrud-api/ingest"
	"github.com/arkantrust/geocrud-api/models"
	"github.com/arkantrust/geocrud-api/service"
	"github.com/arkantrust/geocrud-api/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/geo", h.Routes)
	return r
}

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	return newRouter(newTestHandler(t))
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	s, err := store.NewBolt(filepath.Join(t.TempDir(), "geo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := testLogger()
	pipeline := ingest.NewPipeline(s, ingest.NewDuplicateChecker(s), logger)
	records := service.NewRecordService(s, service.NewRecordCache(16, time.Minute), logger)
	return New(pipeline, records, logger)
}

func do(t *testing.T, api http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

const redRecord = `{"timestamp":"2024-05-01T10:00:00Z","latitude":4.6097,"longitude":-74.0817,"colour":"red"}`

func TestCreateSingle(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodPost, "/api/geo", redRecord)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got models.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "#FF0000", got.Colour)
	assert.Equal(t, "4.6097", got.Latitude.String())
	assert.Contains(t, rec.Body.String(), `"colour":"#FF0000"`)
}

func TestCreateDuplicate(t *testing.T) {
	api := newTestAPI(t)

	require.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/geo", redRecord).Code)

	rec := do(t, api, http.MethodPost, "/api/geo", redRecord)
	require.Equal(t, http.StatusConflict, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, CodeConflict, e.Code)
	assert.Contains(t, e.Message, "2024-05-01T10:00:00Z")
}

func TestCreateInvalid(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodPost, "/api/geo", `{"latitude":1,"longitude":2,"colour":"red"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, CodeValidationError, e.Code)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "timestamp", e.Fields[0].Field)

	// Nothing was stored.
	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodGet, "/api/geo", "").Code)
}

func TestCreateMalformedPayload(t *testing.T) {
	api := newTestAPI(t)

	for _, body := range []string{"", "42", `"x"`, `{"timestamp":`, "[]"} {
		rec := do(t, api, http.MethodPost, "/api/geo", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, CodeValidationError, decodeError(t, rec).Code, body)
	}
}

func TestCreateBatch(t *testing.T) {
	api := newTestAPI(t)

	body := `[
		{"timestamp":"t1","latitude":1,"longitude":1,"colour":"red"},
		{"timestamp":"t1","latitude":1,"longitude":1,"colour":"blue"},
		{"timestamp":"t2","latitude":2,"longitude":2,"colour":"#00ff00"}
	]`
	rec := do(t, api, http.MethodPost, "/api/geo", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary ingest.BatchSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.NotEmpty(t, summary.BatchID)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, ingest.StatusDuplicate, summary.Results[1].Status)
}

type failingInserter struct{}

func (failingInserter) Insert(context.Context, *models.Record) (*models.Record, error) {
	return nil, errors.New("disk full")
}

type emptyFinder struct{}

func (emptyFinder) Find(context.Context, store.Filter) ([]models.Record, error) {
	return nil, nil
}

func TestCreateStorageFailure(t *testing.T) {
	logger := testLogger()
	pipeline := ingest.NewPipeline(failingInserter{}, ingest.NewDuplicateChecker(emptyFinder{}), logger)
	api := newRouter(New(pipeline, nil, logger))

	rec := do(t, api, http.MethodPost, "/api/geo", redRecord)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, CodeInternalError, e.Code)
	assert.NotContains(t, e.Message, "disk full")
}

func TestListAndGet(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/api/geo", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no data found", decodeError(t, rec).Message)

	require.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/geo", redRecord).Code)

	rec = do(t, api, http.MethodGet, "/api/geo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []models.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 1)

	rec = do(t, api, http.MethodGet, "/api/geo/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodGet, "/api/geo/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, api, http.MethodGet, "/api/geo/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, api, http.MethodGet, "/api/geo/0", "").Code)
}

func TestListColour(t *testing.T) {
	api := newTestAPI(t)
	body := `[
		{"timestamp":"t1","latitude":1,"longitude":1,"colour":"red"},
		{"timestamp":"t2","latitude":2,"longitude":2,"colour":"blue"}
	]`
	require.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/geo", body).Code)

	rec := do(t, api, http.MethodGet, "/api/geo/colour", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var points []models.ColorPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	assert.Len(t, points, 2)

	rec = do(t, api, http.MethodGet, "/api/geo/colour?colour=%23ff0000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.Equal(t, "#FF0000", points[0].Colour)
	assert.NotContains(t, rec.Body.String(), "timestamp")

	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodGet, "/api/geo/colour?colour=green", "").Code)
}

func TestListIDs(t *testing.T) {
	api := newTestAPI(t)
	body := `[
		{"timestamp":"t1","latitude":1.5,"longitude":1,"colour":"red"},
		{"timestamp":"t1","latitude":2,"longitude":2,"colour":"blue"}
	]`
	require.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/geo", body).Code)

	rec := do(t, api, http.MethodGet, "/api/geo/id?timestamp=t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1},{"id":2}]`, rec.Body.String())

	rec = do(t, api, http.MethodGet, "/api/geo/id?timestamp=t1&latitude=1.50&longitude=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1}]`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodGet, "/api/geo/id?timestamp=t9", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, api, http.MethodGet, "/api/geo/id?latitude=north", "").Code)

	for _, q := range []string{"latitude=1e100000000", "longitude=1e-100000000"} {
		rec = do(t, api, http.MethodGet, "/api/geo/id?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Contains(t, decodeError(t, rec).Message, "must be a decimal number", q)
	}
}

func TestReplace(t *testing.T) {
	api := newTestAPI(t)
	body := `[
		{"timestamp":"t1","latitude":1,"longitude":1,"colour":"red"},
		{"timestamp":"t2","latitude":2,"longitude":2,"colour":"blue"}
	]`
	require.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/geo", body).Code)

	rec := do(t, api, http.MethodPut, "/api/geo/1", `{"id":1,"timestamp":"t1","latitude":1,"longitude":1,"colour":"lime"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, api, http.MethodGet, "/api/geo/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"colour":"#00FF00"`)

	// Identical payload, id omitted.
	rec = do(t, api, http.MethodPut, "/api/geo/1", `{"timestamp":"t1","latitude":1,"longitude":1,"colour":"#00FF00"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, CodeNoChange, e.Code)
	assert.Equal(t, "no changes detected", e.Message)
}

func TestReplaceErrors(t *testing.T) {
	api := newTestAPI(t)
	body := `[
		{"timestamp":"t1","latitude":1,"longitude":1,"colour":"red"},
		{"timestamp":"t2","latitude":2,"longitude":2,"colour":"blue"}
	]`
	require.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/geo", body).Code)

	tests := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{"id mismatch", "/api/geo/1", `{"id":2,"timestamp":"t1","latitude":1,"longitude":1,"colour":"red"}`, http.StatusBadRequest, CodeValidationError},
		{"invalid", "/api/geo/1", `{"timestamp":"t1","latitude":91,"longitude":1,"colour":"red"}`, http.StatusBadRequest, CodeValidationError},
		{"not an object", "/api/geo/1", `[1]`, http.StatusBadRequest, CodeValidationError},
		{"not found", "/api/geo/9", `{"timestamp":"t9","latitude":9,"longitude":9,"colour":"red"}`, http.StatusNotFound, CodeNotFound},
		{"conflict", "/api/geo/1", `{"timestamp":"t2","latitude":2,"longitude":2,"colour":"red"}`, http.StatusConflict, CodeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, api, http.MethodPut, tt.target, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestDelete(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/geo", redRecord).Code)

	assert.Equal(t, http.StatusNoContent, do(t, api, http.MethodDelete, "/api/geo/1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodGet, "/api/geo/1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodDelete, "/api/geo/1", "").Code)

	// The key is free again.
	assert.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/geo", redRecord).Code)
}

func TestBodyTooLarge(t *testing.T) {
	h := newTestHandler(t)
	h.maxBody = 64
	api := newRouter(h)

	big := `{"timestamp":"` + strings.Repeat("x", 100) + `","latitude":1,"longitude":1,"colour":"red"}`
	for _, req := range []struct{ method, target string }{
		{http.MethodPost, "/api/geo"},
		{http.MethodPut, "/api/geo/1"},
	} {
		rec := do(t, api, req.method, req.target, big)
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, req.method)
		assert.Equal(t, CodePayloadTooLarge, decodeError(t, rec).Code)
	}

	// Bodies within the limit still go through.
	assert.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/geo",
		`{"timestamp":"t","latitude":1,"longitude":1,"colour":"red"}`).Code)
}
