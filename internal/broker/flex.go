package broker

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/libs/numbers"
)

// Partner APIs are loose about JSON types: numbers arrive as strings and
// account ids as numbers. These types accept either.

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	v, err := decodeScalar(b)
	if err != nil {
		return err
	}
	*f = flexFloat(numbers.NonNegativeFloat(v))
	return nil
}

type flexInt int64

func (i *flexInt) UnmarshalJSON(b []byte) error {
	v, err := decodeScalar(b)
	if err != nil {
		return err
	}
	*i = flexInt(numbers.NonNegativeInt(v))
	return nil
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	v, err := decodeScalar(b)
	if err != nil {
		return err
	}
	*s = flexString(numbers.FormatID(v))
	return nil
}

func decodeScalar(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// parseTime accepts the timestamp shapes partner APIs return.
func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func latest(a *time.Time, b time.Time) *time.Time {
	if a == nil || b.After(*a) {
		return &b
	}
	return a
}
