package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"scanrelay/pkg/config"
)

// HeaderKey carries the record key alongside every JetStream message.
const HeaderKey = "Scanrelay-Key"

// NATSPublisher appends records to a JetStream stream. Each record goes to
// <subject>.<key> so consumers can filter per host.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	timeout time.Duration
	retries int
	log     zerolog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// ConnectNATS dials cfg.URL and, when cfg.CreateStream is set, creates or
// updates the stream bound to <subject>.>.
func ConnectNATS(ctx context.Context, cfg config.NATSConfig, log zerolog.Logger) (*NATSPublisher, error) {
	timeout, err := cfg.ParsePublishTimeout()
	if err != nil {
		return nil, fmt.Errorf("parsing publish timeout: %w", err)
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	if cfg.CreateStream {
		streamCfg := jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject + ".>"},
			Storage:  jetstream.FileStorage,
		}
		if _, err := js.CreateOrUpdateStream(ctx, streamCfg); err != nil {
			nc.Close()
			return nil, fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
		}
	}

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("stream", cfg.Stream).
		Str("subject", cfg.Subject).
		Msg("NATS publisher connected")

	return &NATSPublisher{
		nc:      nc,
		js:      js,
		subject: cfg.Subject,
		timeout: timeout,
		retries: cfg.RetryAttempts,
		log:     log,
	}, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, rec Record) error {
	if p.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	subject := p.Subject(rec.Key)
	msg := nats.NewMsg(subject)
	msg.Data = rec.Value
	msg.Header.Set(HeaderKey, rec.Key)

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(uuid.NewString()),
		jetstream.WithRetryAttempts(p.retries),
	)
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return Fatal(fmt.Errorf("publishing to %s: %w", subject, err))
		}
		return fmt.Errorf("%w: publishing to %s: %w", ErrPublish, subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("stream", ack.Stream).
		Uint64("seq", ack.Sequence).
		Int("bytes", len(rec.Value)).
		Msg("Envelope published")

	return nil
}

// Subject returns the subject a record with key is published to.
func (p *NATSPublisher) Subject(key string) string {
	return p.subject + "." + subjectToken(key)
}

// subjectToken makes key safe to use as a single subject token.
func subjectToken(key string) string {
	if key == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, key)
}

// Close flushes pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if ferr := p.nc.FlushTimeout(p.timeout); ferr != nil && !errors.Is(ferr, nats.ErrConnectionClosed) {
			err = fmt.Errorf("flushing NATS connection: %w", ferr)
		}
		p.nc.Close()
	})
	return err
}
