package ingest

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FieldError describes one structural problem with an input. Field is empty
// when the problem concerns the element as a whole.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

var (
	maxLatitude  = decimal.NewFromInt(90)
	maxLongitude = decimal.NewFromInt(180)
)

// Validate checks that every required field is present and that coordinates
// are physically plausible. An empty colour is accepted: it normalizes to the
// fallback colour. Validate never looks at storage.
func Validate(in *Input) []FieldError {
	errs := append([]FieldError(nil), in.decodeErrs...)

	if in.Timestamp == nil || strings.TrimSpace(*in.Timestamp) == "" {
		if !hasField(errs, "timestamp") {
			errs = append(errs, FieldError{Field: "timestamp", Message: "is required"})
		}
	}
	errs = checkCoordinate(errs, "latitude", in.Latitude, maxLatitude)
	errs = checkCoordinate(errs, "longitude", in.Longitude, maxLongitude)
	if in.Colour == nil && !hasField(errs, "colour") {
		errs = append(errs, FieldError{Field: "colour", Message: "is required"})
	}

	return errs
}

func checkCoordinate(errs []FieldError, field string, v *decimal.Decimal, limit decimal.Decimal) []FieldError {
	if v == nil {
		if hasField(errs, field) {
			return errs
		}
		return append(errs, FieldError{Field: field, Message: "is required"})
	}
	if !coordinateInBounds(*v) {
		return append(errs, FieldError{Field: field, Message: ErrBadCoordinate.Error()})
	}
	if v.Abs().GreaterThan(limit) {
		return append(errs, FieldError{Field: field, Message: fmt.Sprintf("must be between -%s and %s", limit, limit)})
	}
	return errs
}

func hasField(errs []FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}
