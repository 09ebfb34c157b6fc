// Package models defines the core domain types for the geo record service.
package models

import (
	"github.com/shopspring/decimal"
)

func init() {
	// Coordinates travel as plain JSON numbers, the way clients send them.
	decimal.MarshalJSONWithoutQuotes = true
}

// Record is one geo-tagged, coloured, timestamped data point.
//
// The (Timestamp, Latitude, Longitude) triple is the duplicate key: no two
// persisted records may share it. Coordinates are arbitrary-precision decimals
// and are compared exactly, so 51.5 and 51.50 are the same coordinate while
// 51.5 and 51.5000001 are not.
type Record struct {
	// ID is the surrogate key assigned by storage on create. Zero means the
	// record has not been persisted yet.
	ID int64 `json:"id"`

	// Timestamp is caller supplied and stored verbatim. It is never parsed as
	// a calendar value.
	Timestamp string `json:"timestamp"`

	Latitude  decimal.Decimal `json:"latitude"`
	Longitude decimal.Decimal `json:"longitude"`

	// Colour holds the canonical #RRGGBB form once the record has been
	// ingested. The British spelling of the wire and column name is kept for
	// compatibility with existing clients and tables.
	Colour string `json:"colour"`
}

// Key returns the duplicate key of the record.
func (r *Record) Key() Key {
	return Key{Timestamp: r.Timestamp, Latitude: r.Latitude, Longitude: r.Longitude}
}

// SameContent reports whether r and o carry identical field values, ignoring
// the identity.
func (r *Record) SameContent(o *Record) bool {
	return r.Timestamp == o.Timestamp &&
		r.Latitude.Equal(o.Latitude) &&
		r.Longitude.Equal(o.Longitude) &&
		r.Colour == o.Colour
}

// Key is the exact-match deduplication key of a record.
type Key struct {
	Timestamp string
	Latitude  decimal.Decimal
	Longitude decimal.Decimal
}

// Equal reports whether two keys match exactly.
func (k Key) Equal(o Key) bool {
	return k.Timestamp == o.Timestamp && k.Latitude.Equal(o.Latitude) && k.Longitude.Equal(o.Longitude)
}

// ColorPoint is the (latitude, longitude, colour) projection served by the
// colour query.
type ColorPoint struct {
	Latitude  decimal.Decimal `json:"latitude"`
	Longitude decimal.Decimal `json:"longitude"`
	Colour    string          `json:"colour"`
}

// RecordID is the identity-only projection served by the key query.
type RecordID struct {
	ID int64 `json:"id"`
}
