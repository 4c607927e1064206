// Package envelope frames a measurement as a versioned binary record:
//
//	[magic:1][schema_version:1][msgpack body]
//
// The version byte selects the body layout from an append-only registry, so
// consumers can decode records written by any earlier producer.
//
// Every layout stores the timestamp as an integer offset from the Unix epoch
// and uses 0 for an unset time. A measurement stamped exactly at the epoch
// therefore decodes with a zero Timestamp.
package envelope

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"scanrelay/internal/measurement"
)

const (
	// Magic identifies the envelope protocol family.
	Magic byte = 0x1

	// CurrentVersion is the schema version written by default.
	CurrentVersion uint8 = 2

	// HeaderSize is the length of the fixed magic + version prefix.
	HeaderSize = 2
)

// Codec encodes and decodes envelopes. It holds no mutable state and is safe
// for concurrent use.
type Codec struct {
	version uint8
	schemas []schema
}

// Option configures a Codec.
type Option func(*Codec)

// WithVersion pins the schema version used by Encode. Decoding always
// accepts every registered version.
func WithVersion(v uint8) Option {
	return func(c *Codec) {
		c.version = v
	}
}

// New returns a Codec writing CurrentVersion unless overridden.
func New(opts ...Option) (*Codec, error) {
	c := &Codec{version: CurrentVersion, schemas: registry}
	for _, opt := range opts {
		opt(c)
	}
	if c.version == 0 {
		c.version = CurrentVersion
	}
	if _, err := c.lookup(c.version); err != nil {
		return nil, err
	}
	return c, nil
}

// Version returns the schema version this codec writes.
func (c *Codec) Version() uint8 {
	return c.version
}

func (c *Codec) lookup(v uint8) (schema, error) {
	idx := int(v) - 1
	if idx < 0 || idx >= len(c.schemas) {
		return schema{}, versionErr(v, ErrUnsupportedSchemaVersion, nil)
	}
	return c.schemas[idx], nil
}

// Encode returns the full envelope for m. The result is either complete or
// nil; a partial frame is never returned.
func (c *Codec) Encode(m measurement.Measurement) ([]byte, error) {
	s, err := c.lookup(c.version)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(Magic)
	buf.WriteByte(c.version)

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := s.write(enc, m); err != nil {
		return nil, versionErr(c.version, ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// Decode parses an envelope. Empty input returns ErrEmpty and a nil
// measurement; every other failure wraps one of the package's error kinds.
func (c *Codec) Decode(b []byte) (*measurement.Measurement, error) {
	version, err := Peek(b)
	if err != nil {
		return nil, err
	}

	s, err := c.lookup(version)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(b[HeaderSize:])
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	obj, err := s.read(dec)
	if err != nil {
		return nil, versionErr(version, ErrCorruptEnvelope, err)
	}
	if r.Len() != 0 {
		return nil, versionErr(version, ErrCorruptEnvelope, fmt.Errorf("%d trailing bytes", r.Len()))
	}

	g, ok := obj.(generation)
	if !ok {
		return nil, versionErr(version, ErrUnexpectedPayloadType, fmt.Errorf("got %T", obj))
	}
	m, err := g.measurement()
	if err != nil {
		return nil, versionErr(version, ErrCorruptEnvelope, err)
	}
	return &m, nil
}

// Peek validates the envelope header and returns its schema version without
// decoding the body.
func Peek(b []byte) (uint8, error) {
	if len(b) == 0 {
		return 0, ErrEmpty
	}
	if b[0] != Magic {
		return 0, fmt.Errorf("%w: 0x%02x", ErrBadMagic, b[0])
	}
	if len(b) < HeaderSize {
		return 0, fmt.Errorf("%w: truncated header", ErrCorruptEnvelope)
	}
	return b[1], nil
}
