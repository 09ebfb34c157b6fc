package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/arkantrust/geocrud-api/models"
)

var (
	// ErrMalformedPayload is returned when the top-level payload is neither a
	// JSON object nor a JSON array.
	ErrMalformedPayload = errors.New("invalid JSON data: expected a JSON object or an array of objects")
	// ErrEmptyBatch is returned for an empty JSON array.
	ErrEmptyBatch = errors.New("empty list")
	// ErrBadCoordinate is returned for a coordinate that is not a decimal
	// number within the accepted precision.
	ErrBadCoordinate = errors.New("must be a decimal number")
)

// Coordinate literals outside these bounds are rejected while decoding.
// Comparing two decimals rescales them to a common exponent, which costs
// 10^|exponent difference| of big.Int work.
const (
	maxCoordinateLen = 64
	minCoordinateExp = -30
	maxCoordinateExp = 3
)

// ParseCoordinate parses a latitude or longitude given as text.
func ParseCoordinate(s string) (decimal.Decimal, error) {
	if len(s) > maxCoordinateLen {
		return decimal.Decimal{}, ErrBadCoordinate
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !coordinateInBounds(d) {
		return decimal.Decimal{}, ErrBadCoordinate
	}
	return d, nil
}

func coordinateInBounds(d decimal.Decimal) bool {
	e := d.Exponent()
	return e >= minCoordinateExp && e <= maxCoordinateExp
}

// Input is a record as submitted by a caller, before validation. A nil field
// was absent or null in the payload.
type Input struct {
	Timestamp *string          `json:"timestamp"`
	Latitude  *decimal.Decimal `json:"latitude"`
	Longitude *decimal.Decimal `json:"longitude"`
	Colour    *string          `json:"colour"`

	// decodeErrs collects fields that were present with the wrong type. They
	// are reported by Validate alongside the missing fields.
	decodeErrs []FieldError
}

// UnmarshalJSON decodes an object field by field so that one badly typed
// field becomes a field error instead of failing the whole record. Only a
// value that is not an object is rejected.
func (in *Input) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return errors.New("expected a JSON object")
	}

	*in = Input{}
	in.Timestamp = in.decodeString(fields, "timestamp")
	in.Latitude = in.decodeDecimal(fields, "latitude")
	in.Longitude = in.decodeDecimal(fields, "longitude")
	in.Colour = in.decodeString(fields, "colour")
	return nil
}

func (in *Input) decodeString(fields map[string]json.RawMessage, name string) *string {
	raw, ok := lookupField(fields, name)
	if !ok || isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		in.decodeErrs = append(in.decodeErrs, FieldError{Field: name, Message: "must be a string"})
		return nil
	}
	return &s
}

func (in *Input) decodeDecimal(fields map[string]json.RawMessage, name string) *decimal.Decimal {
	raw, ok := lookupField(fields, name)
	if !ok || isNull(raw) {
		return nil
	}
	raw = bytes.TrimSpace(raw)
	var d decimal.Decimal
	// Two extra bytes for the quotes of a numeric string.
	if len(raw) > maxCoordinateLen+2 || d.UnmarshalJSON(raw) != nil || !coordinateInBounds(d) {
		in.decodeErrs = append(in.decodeErrs, FieldError{Field: name, Message: ErrBadCoordinate.Error()})
		return nil
	}
	return &d
}

// lookupField finds a key the way encoding/json does: an exact match first,
// then a case-insensitive one.
func lookupField(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	if raw, ok := fields[name]; ok {
		return raw, true
	}
	for k, raw := range fields {
		if strings.EqualFold(k, name) {
			return raw, true
		}
	}
	return nil, false
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Record converts a validated input to a record. Fields that are nil stay at
// their zero value.
func (in *Input) Record() *models.Record {
	r := &models.Record{}
	if in.Timestamp != nil {
		r.Timestamp = *in.Timestamp
	}
	if in.Latitude != nil {
		r.Latitude = *in.Latitude
	}
	if in.Longitude != nil {
		r.Longitude = *in.Longitude
	}
	if in.Colour != nil {
		r.Colour = *in.Colour
	}
	return r
}

// Payload is a decoded ingestion request.
type Payload struct {
	// Batch is true when the payload was a JSON array.
	Batch  bool
	Inputs []Input
}

// DecodePayload splits a request body into inputs. A top-level object yields
// one input; an array yields one input per element, where an element that is
// not an object becomes an input that fails validation. Anything else is
// rejected with ErrMalformedPayload before any element is looked at.
func DecodePayload(data []byte) (*Payload, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrMalformedPayload
	}

	switch data[0] {
	case '{':
		var in Input
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, ErrMalformedPayload
		}
		return &Payload{Inputs: []Input{in}}, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return nil, ErrMalformedPayload
		}
		if len(elems) == 0 {
			return nil, ErrEmptyBatch
		}
		inputs := make([]Input, len(elems))
		for i, raw := range elems {
			if err := json.Unmarshal(raw, &inputs[i]); err != nil {
				inputs[i] = Input{decodeErrs: []FieldError{{Message: err.Error()}}}
			}
		}
		return &Payload{Batch: true, Inputs: inputs}, nil
	default:
		return nil, ErrMalformedPayload
	}
}
