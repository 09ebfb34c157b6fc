// Package colornorm coerces free-form colour strings into the canonical
// #RRGGBB form stored on every record.
//
// Normalization never fails. Input that is neither a known colour name nor a
// 6 or 8 digit hex code collapses to Fallback, so a record is never rejected
// because of its colour alone.
package colornorm

import (
	"fmt"
	"image/color"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// Fallback is returned for every colour that cannot be resolved.
const Fallback = "#000000"

// Source tells how a colour was resolved.
type Source int

const (
	// SourceFallback means the input was not recognized.
	SourceFallback Source = iota
	// SourceName means the input matched the colour name table.
	SourceName
	// SourceHex means the input was a #RRGGBB or #AARRGGBB hex code.
	SourceHex
)

func (s Source) String() string {
	switch s {
	case SourceName:
		return "name"
	case SourceHex:
		return "hex"
	default:
		return "fallback"
	}
}

// Result is the outcome of resolving a colour. R, G and B are only meaningful
// when Source is not SourceFallback.
type Result struct {
	R, G, B uint8
	Source  Source
}

// Resolved reports whether the input was recognized.
func (r Result) Resolved() bool {
	return r.Source != SourceFallback
}

// Hex formats the result as #RRGGBB with uppercase digits.
func (r Result) Hex() string {
	if !r.Resolved() {
		return Fallback
	}
	return fmt.Sprintf("#%02X%02X%02X", r.R, r.G, r.B)
}

var hexPattern = regexp.MustCompile(`^#(?:[0-9A-Fa-f]{6}|[0-9A-Fa-f]{8})$`)

// extraNames supplements the SVG 1.1 table with names the HTML colour
// translation also accepts.
var extraNames = map[string]color.RGBA{
	"transparent": {R: 0xFF, G: 0xFF, B: 0xFF, A: 0x00},
}

// Resolve maps input to its RGB channels. Names are matched case-insensitively
// against the SVG 1.1 colour keywords. Eight digit hex codes carry the alpha
// channel in the leading byte (#AARRGGBB); alpha is dropped.
func Resolve(input string) Result {
	if c, ok := lookupName(input); ok {
		return Result{R: c.R, G: c.G, B: c.B, Source: SourceName}
	}
	if !hexPattern.MatchString(input) {
		return Result{}
	}

	digits := input[1:]
	if len(digits) == 8 {
		digits = digits[2:]
	}
	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return Result{}
	}
	return Result{
		R:      uint8(v >> 16),
		G:      uint8(v >> 8),
		B:      uint8(v),
		Source: SourceHex,
	}
}

// Normalize returns the canonical #RRGGBB form of input, or Fallback.
func Normalize(input string) string {
	return Resolve(input).Hex()
}

func lookupName(input string) (color.RGBA, bool) {
	if input == "" {
		return color.RGBA{}, false
	}
	name := strings.ToLower(input)
	if c, ok := colornames.Map[name]; ok {
		return c, true
	}
	c, ok := extraNames[name]
	return c, ok
}
