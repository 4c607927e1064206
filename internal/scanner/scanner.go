// Package scanner schedules one fixed-rate polling job per scan target and
// hands every encoded measurement to a publisher.
//
// Jobs are isolated from each other: a failed or panicking tick is logged and
// counted, and the job keeps its schedule. Publisher
// failures classified as fatal are surfaced on Fatal for the owner to act on.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"scanrelay/internal/envelope"
	"scanrelay/internal/poll"
	"scanrelay/internal/publish"
	"scanrelay/internal/scanconfig"
)

var (
	// ErrNoTargets is returned by Start when there is nothing to schedule.
	ErrNoTargets = errors.New("no scan targets configured")

	// ErrNilDependency is returned by Start when the task or publisher is nil.
	ErrNilDependency = errors.New("scanner dependency is nil")

	// ErrInvalidInterval is returned by Start for a target whose interval is
	// not positive.
	ErrInvalidInterval = errors.New("scan target interval must be positive")
)

// Option configures a Scanner.
type Option func(*Scanner)

// WithCodec sets the envelope codec. Defaults to the current schema version.
func WithCodec(c *envelope.Codec) Option {
	return func(s *Scanner) { s.codec = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Scanner) { s.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// Scanner runs the scheduled jobs. Create it with Start.
type Scanner struct {
	task    poll.Task
	pub     publish.Publisher
	codec   *envelope.Codec
	log     zerolog.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	done   chan struct{}

	stopping atomic.Bool
	inflight atomic.Int64
	stopOnce sync.Once

	fatal     chan error
	fatalOnce sync.Once
}

// Start validates its inputs and launches one job per target. The first tick
// of every job fires immediately. Jobs run until Stop is called or ctx ends.
func Start(ctx context.Context, targets scanconfig.Targets, task poll.Task, pub publish.Publisher, opts ...Option) (*Scanner, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	if task == nil {
		return nil, fmt.Errorf("%w: poll task", ErrNilDependency)
	}
	if pub == nil {
		return nil, fmt.Errorf("%w: publisher", ErrNilDependency)
	}
	for _, id := range targets.IDs() {
		if iv := targets[id].Interval; iv <= 0 {
			return nil, fmt.Errorf("%w: target %s has %v", ErrInvalidInterval, id, iv)
		}
	}

	s := &Scanner{
		task:  task,
		pub:   pub,
		log:   zerolog.Nop(),
		done:  make(chan struct{}),
		fatal: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.codec == nil {
		codec, err := envelope.New()
		if err != nil {
			return nil, err
		}
		s.codec = codec
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	// One goroutine per target so a stuck poll never delays another job.
	s.group.SetLimit(len(targets))
	for _, id := range targets.IDs() {
		target := targets[id]
		s.group.Go(func() error {
			s.run(target)
			return nil
		})
	}

	go func() {
		s.group.Wait()
		close(s.done)
	}()

	s.log.Info().
		Int("targets", len(targets)).
		Uint8("schema_version", s.codec.Version()).
		Msg("Scanner started")

	return s, nil
}

// run drives one target at a fixed rate. Slots are computed from the previous
// slot, not from when the previous tick finished; an overrunning tick makes
// the missed slots run back-to-back.
func (s *Scanner) run(target scanconfig.Target) {
	log := s.log.With().Str("target", target.ID).Logger()
	log.Debug().Dur("interval", target.Interval).Str("address", target.Address).Msg("Job scheduled")

	slot := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Debug().Msg("Job stopped")
			return
		case <-timer.C:
		}
		if s.ctx.Err() != nil {
			return
		}

		s.tick(log, target, slot)

		slot = slot.Add(target.Interval)
		timer.Reset(time.Until(slot))
	}
}

// tick runs one poll, encode and publish cycle. It never returns an error:
// every failure is logged and counted here.
func (s *Scanner) tick(log zerolog.Logger, target scanconfig.Target, slot time.Time) {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	start := time.Now()
	s.metrics.tickStarted(target.ID, start.Sub(slot))
	defer func() {
		s.metrics.tickFinished(target.ID, time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			s.metrics.failure(target.ID, StagePanic)
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Tick panicked")
		}
	}()

	m, err := s.task.Poll(s.ctx, target)
	if err != nil {
		s.metrics.failure(target.ID, StagePoll)
		log.Warn().Err(err).Str("stage", StagePoll).Msg("Tick failed")
		return
	}

	data, err := s.codec.Encode(m)
	if err != nil {
		s.metrics.failure(target.ID, StageEncode)
		log.Error().Err(err).Str("stage", StageEncode).Msg("Tick failed")
		return
	}

	// A publish that has started is allowed to complete after Stop; the
	// publisher bounds it with its own timeout.
	rec := publish.Record{Key: m.Host, Value: data}
	if err := s.pub.Publish(context.WithoutCancel(s.ctx), rec); err != nil {
		s.metrics.failure(target.ID, StagePublish)
		log.Error().Err(err).Str("stage", StagePublish).Msg("Tick failed")
		if publish.IsFatal(err) {
			s.escalate(err)
		}
		return
	}

	s.metrics.publishedEnvelope(target.ID, len(data))
	log.Debug().
		Str("host", m.Host).
		Int("fields", len(m.Fields)).
		Int("bytes", len(data)).
		Dur("took", time.Since(start)).
		Msg("Measurement published")
}

func (s *Scanner) escalate(err error) {
	s.fatalOnce.Do(func() {
		s.fatal <- err
	})
}

// Fatal delivers the first publisher error classified as fatal. The scanner
// keeps running; deciding whether to shut down is up to the caller.
func (s *Scanner) Fatal() <-chan error {
	return s.fatal
}

// Stop prevents new ticks, cancels in-flight polls and waits for every job
// to exit or for ctx to end, whichever comes first.
func (s *Scanner) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		s.cancel()
		s.log.Info().Int64("in_flight", s.inflight.Load()).Msg("Scanner stopping")
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.log.Warn().Int64("in_flight", s.inflight.Load()).Msg("Abandoning in-flight ticks")
		return ctx.Err()
	}
}

// IsDrained reports whether the scanner is shutting down, through Stop or
// the end of the parent context, and no tick is executing.
func (s *Scanner) IsDrained() bool {
	return (s.stopping.Load() || s.ctx.Err() != nil) && s.inflight.Load() == 0
}

// IsTerminated reports whether every job has exited.
func (s *Scanner) IsTerminated() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
