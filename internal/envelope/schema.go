package envelope

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"scanrelay/internal/measurement"
)

// schema binds one wire version to its body writer and reader. A version's
// layout never changes once released.
type schema struct {
	name  string
	write func(enc *msgpack.Encoder, m measurement.Measurement) error
	read  func(dec *msgpack.Decoder) (any, error)
}

// registry is append-only: index i is wire version i+1. Never reorder or
// remove entries, old envelopes must stay decodable.
var registry = []schema{
	{name: "v1", write: writeV1, read: readV1},
	{name: "v2", write: writeV2, read: readV2},
}

// generation is implemented by every decoded body type.
type generation interface {
	measurement() (measurement.Measurement, error)
}

// measurementV1 is the first record layout: millisecond timestamps and
// numeric fields only.
type measurementV1 struct {
	Timestamp int64              `msgpack:"timestamp"`
	Host      string             `msgpack:"host"`
	Tags      map[string]string  `msgpack:"tags"`
	Fields    map[string]float64 `msgpack:"fields"`
}

func writeV1(enc *msgpack.Encoder, m measurement.Measurement) error {
	rec := measurementV1{
		Host:   m.Host,
		Tags:   m.Tags,
		Fields: make(map[string]float64, len(m.Fields)),
	}
	if !m.Timestamp.IsZero() {
		rec.Timestamp = m.Timestamp.UnixMilli()
	}
	for k, v := range m.Fields {
		switch x := v.(type) {
		case float64:
			rec.Fields[k] = x
		case int64:
			rec.Fields[k] = float64(x)
		default:
			return fmt.Errorf("field %q: %T is not representable in schema v1", k, v)
		}
	}
	return enc.Encode(&rec)
}

func readV1(dec *msgpack.Decoder) (any, error) {
	var rec measurementV1
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r measurementV1) measurement() (measurement.Measurement, error) {
	var ts time.Time
	if r.Timestamp != 0 {
		ts = time.UnixMilli(r.Timestamp).UTC()
	}
	m := measurement.New(r.Host, "", ts)
	for k, v := range r.Tags {
		m.Tags[k] = v
	}
	for k, v := range r.Fields {
		m.Fields[k] = v
	}
	return m, nil
}

// measurementV2 adds the measurement name, nanosecond timestamps and typed
// field values.
type measurementV2 struct {
	Timestamp int64             `msgpack:"ts"`
	Host      string            `msgpack:"host"`
	Name      string            `msgpack:"name"`
	Tags      map[string]string `msgpack:"tags"`
	Fields    map[string]any    `msgpack:"fields"`
}

func writeV2(enc *msgpack.Encoder, m measurement.Measurement) error {
	rec := measurementV2{
		Host:   m.Host,
		Name:   m.Name,
		Tags:   m.Tags,
		Fields: make(map[string]any, len(m.Fields)),
	}
	if !m.Timestamp.IsZero() {
		rec.Timestamp = m.Timestamp.UnixNano()
	}
	for k, v := range m.Fields {
		nv, ok := measurement.Normalize(v)
		if !ok {
			return fmt.Errorf("field %q: unsupported value type %T", k, v)
		}
		rec.Fields[k] = nv
	}
	return enc.Encode(&rec)
}

func readV2(dec *msgpack.Decoder) (any, error) {
	var rec measurementV2
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r measurementV2) measurement() (measurement.Measurement, error) {
	var ts time.Time
	if r.Timestamp != 0 {
		ts = time.Unix(0, r.Timestamp).UTC()
	}
	m := measurement.New(r.Host, r.Name, ts)
	for k, v := range r.Tags {
		m.Tags[k] = v
	}
	for k, v := range r.Fields {
		if err := m.Set(k, v); err != nil {
			return measurement.Measurement{}, err
		}
	}
	return m, nil
}
