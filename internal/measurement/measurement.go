// Package measurement defines the sample record produced by every poll.
package measurement

import (
	"fmt"
	"sort"
	"time"
)

// Measurement is one sample taken from a scan target.
//
// Field values are limited to float64, int64, string and bool. Use New or Set
// to normalize other numeric kinds before a Measurement is handed to the codec.
type Measurement struct {
	Timestamp time.Time
	Host      string
	Name      string
	Tags      map[string]string
	Fields    map[string]any
}

// New returns a Measurement with initialized tag and field maps.
func New(host, name string, ts time.Time) Measurement {
	return Measurement{
		Timestamp: ts,
		Host:      host,
		Name:      name,
		Tags:      make(map[string]string),
		Fields:    make(map[string]any),
	}
}

// Set normalizes v and stores it under name. It returns an error for values
// that cannot be represented on the wire.
func (m *Measurement) Set(name string, v any) error {
	nv, ok := Normalize(v)
	if !ok {
		return fmt.Errorf("field %q: unsupported value type %T", name, v)
	}
	if m.Fields == nil {
		m.Fields = make(map[string]any)
	}
	m.Fields[name] = nv
	return nil
}

// FieldNames returns the field names in sorted order.
func (m Measurement) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Normalize maps v onto one of the four supported field types.
func Normalize(v any) (any, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > 1<<63-1 {
			return float64(x), true
		}
		return int64(x), true
	case uint64:
		if x > 1<<63-1 {
			return float64(x), true
		}
		return int64(x), true
	case string:
		return x, true
	case bool:
		return x, true
	default:
		return nil, false
	}
}

// Equal reports whether a and b carry the same host, name, tags, fields and
// instant. Timestamps are compared with time.Time.Equal.
func Equal(a, b Measurement) bool {
	if a.Host != b.Host || a.Name != b.Name || !a.Timestamp.Equal(b.Timestamp) {
		return false
	}
	if len(a.Tags) != len(b.Tags) || len(a.Fields) != len(b.Fields) {
		return false
	}
	for k, v := range a.Tags {
		if bv, ok := b.Tags[k]; !ok || bv != v {
			return false
		}
	}
	for k, v := range a.Fields {
		bv, ok := b.Fields[k]
		if !ok || bv != v {
			return false
		}
	}
	return true
}
