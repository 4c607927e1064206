// Package publish transports encoded measurement envelopes downstream.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"scanrelay/pkg/config"
)

var (
	// ErrPublish is wrapped by every publish failure.
	ErrPublish = errors.New("publish failed")

	// ErrFatal marks failures the publisher cannot recover from; the owner
	// of the scanner decides whether to shut down.
	ErrFatal = errors.New("publisher unrecoverable")

	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("publisher closed")
)

// Record is one encoded envelope ready for transport.
type Record struct {
	// Key partitions records downstream; the measurement host.
	Key   string
	Value []byte
}

// Publisher sends records downstream. Implementations must be safe for
// concurrent use; Close must be idempotent.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// Fatal wraps err so that IsFatal reports true.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsFatal reports whether err should be escalated to the process owner.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal) || errors.Is(err, ErrClosed)
}

// Publisher kinds accepted by Open.
const (
	KindNATS  = "nats"
	KindSpool = "spool"
	KindLog   = "log"
)

// Open builds the publisher selected by cfg.Kind.
func Open(ctx context.Context, cfg config.PublisherConfig, log zerolog.Logger) (Publisher, error) {
	switch cfg.Kind {
	case KindNATS:
		p, err := ConnectNATS(ctx, cfg.NATS, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindSpool:
		s, err := OpenSpool(cfg.Spool.Path, log)
		if err != nil {
			return nil, err
		}
		every, err := cfg.Spool.ParseRetentionCheck()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("parsing retention check: %w", err)
		}
		s.RunRetention(ctx, every, cfg.Spool.MaxRecords)
		return s, nil
	case KindLog, "":
		log.Warn().Msg("No publisher transport configured, measurements will only be logged")
		return NewLogPublisher(log), nil
	default:
		return nil, fmt.Errorf("unknown publisher kind %q", cfg.Kind)
	}
}
