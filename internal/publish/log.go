package publish

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// LogPublisher only logs records. It backs scan-only mode, when no
// transport is configured.
type LogPublisher struct {
	log    zerolog.Logger
	count  atomic.Uint64
	closed atomic.Bool
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, rec Record) error {
	if p.closed.Load() {
		return ErrClosed
	}
	n := p.count.Add(1)
	p.log.Info().
		Str("key", rec.Key).
		Int("bytes", len(rec.Value)).
		Uint64("count", n).
		Msg("Envelope produced (scan only)")
	return nil
}

// Count returns the number of records seen so far.
func (p *LogPublisher) Count() uint64 {
	return p.count.Load()
}

func (p *LogPublisher) Close() error {
	p.closed.Store(true)
	return nil
}
