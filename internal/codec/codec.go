// Package codec defines the shape every binary-format decoder exposes to the
// canonicalizer: a list of decoded fields, each carrying a numeric array and a
// string-keyed metadata lookup with graceful absence. Any decoder producing
// this shape is pluggable without touching the pipeline.
package codec

import (
	"strconv"
	"strings"
)

// Field is one decoded grid field or observation set.
type Field struct {
	Values []float64
	Meta   Metadata
}

// Metadata is a string-keyed lookup over decoder-reported attributes. Values
// may be strings, integers, floats, or float slices depending on what the
// underlying codec emits; the accessors coerce between scalar kinds so callers
// can express ordered fallback chains instead of guessing types.
type Metadata map[string]any

// String returns the first present key rendered as a string.
func (m Metadata) String(keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t, true
			}
		case int:
			return strconv.Itoa(t), true
		case int64:
			return strconv.FormatInt(t, 10), true
		case float64:
			return strconv.FormatFloat(t, 'g', -1, 64), true
		}
	}
	return "", false
}

// Float returns the first present key coerced to float64.
func (m Metadata) Float(keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t, true
		case float32:
			return float64(t), true
		case int:
			return float64(t), true
		case int64:
			return float64(t), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// Int returns the first present key coerced to int. Floats truncate.
func (m Metadata) Int(keys ...string) (int, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case int:
			return t, true
		case int64:
			return int(t), true
		case float64:
			return int(t), true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Floats returns the first present key holding a float slice.
func (m Metadata) Floats(keys ...string) ([]float64, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if fs, ok := v.([]float64); ok && len(fs) > 0 {
			return fs, true
		}
	}
	return nil, false
}
