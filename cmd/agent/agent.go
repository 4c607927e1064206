// Package agent implements the scanrelay run command: it schedules the
// configured scan targets and publishes their measurements.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"scanrelay/internal/envelope"
	"scanrelay/internal/poll"
	"scanrelay/internal/publish"
	"scanrelay/internal/scanconfig"
	"scanrelay/internal/scanner"
	"scanrelay/pkg/config"
	"scanrelay/pkg/logger"
)

// BuildTargets merges every configuration source and parses the scan targets.
// Later sources win: properties file, [jmx] tables, then overrides.
func BuildTargets(cfg *config.Config, overrides map[string]string) (scanconfig.Targets, error) {
	props, err := cfg.Properties(overrides)
	if err != nil {
		return nil, err
	}
	return scanconfig.Parse(props)
}

// Run starts the scan agent and blocks until it is signalled to stop or the
// publisher fails unrecoverably.
func Run(configPath string, overrides map[string]string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Agent.LogLevel, cfg.Agent.LogFormat)

	// Nothing is scheduled unless every target is valid.
	targets, err := BuildTargets(cfg, overrides)
	if err != nil {
		return fmt.Errorf("building scan targets: %w", err)
	}

	router := poll.NewRouter(cfg.Agent.Host, log)
	if err := router.Validate(targets); err != nil {
		return fmt.Errorf("validating scan targets: %w", err)
	}

	shutdownTimeout, err := cfg.Agent.ParseShutdownTimeout()
	if err != nil {
		return fmt.Errorf("parsing shutdown timeout: %w", err)
	}

	var codecOpts []envelope.Option
	if v := cfg.Publisher.SchemaVersion; v != 0 {
		if v < 0 || v > 255 {
			return fmt.Errorf("schema_version %d out of range", v)
		}
		codecOpts = append(codecOpts, envelope.WithVersion(uint8(v)))
	}
	codec, err := envelope.New(codecOpts...)
	if err != nil {
		return fmt.Errorf("creating envelope codec: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Publisher.Kind == publish.KindSpool {
		// Ensure spool directory exists
		dir := filepath.Dir(cfg.Publisher.Spool.Path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating spool directory %s: %w", dir, err)
		}
	}

	pub, err := publish.Open(ctx, cfg.Publisher, log)
	if err != nil {
		return fmt.Errorf("opening publisher: %w", err)
	}
	defer pub.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := scanner.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	errCh := make(chan error, 1)
	var metricsSrv *http.Server
	if cfg.Agent.MetricsAddr != "" {
		metricsSrv = serveMetrics(cfg.Agent.MetricsAddr, reg, errCh, log)
	}

	s, err := scanner.Start(ctx, targets, router, pub,
		scanner.WithCodec(codec),
		scanner.WithLogger(log),
		scanner.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("starting scanner: %w", err)
	}

	for _, id := range targets.IDs() {
		t := targets[id]
		log.Info().
			Str("target", id).
			Str("address", t.Address).
			Str("scope", t.Scope).
			Dur("interval", t.Interval).
			Msg("Scan target scheduled")
	}

	// Wait for shutdown signal, fatal publisher error or metrics server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-s.Fatal():
		log.Error().Err(err).Msg("Publisher failed, shutting down")
		runErr = fmt.Errorf("publisher: %w", err)
	case err := <-errCh:
		log.Error().Err(err).Msg("Metrics server failed, shutting down")
		runErr = fmt.Errorf("metrics server: %w", err)
	}

	shutdown(s, pub, metricsSrv, shutdownTimeout, log)
	return runErr
}

// shutdown stops the scanner before closing the publisher so in-flight ticks
// can still hand over their envelopes.
func shutdown(s *scanner.Scanner, pub publish.Publisher, metricsSrv *http.Server, timeout time.Duration, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Stop(ctx); err != nil {
		log.Warn().Err(err).Dur("timeout", timeout).Msg("Scanner did not drain in time")
	}
	if err := pub.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publisher")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}

	log.Info().
		Bool("drained", s.IsDrained()).
		Bool("terminated", s.IsTerminated()).
		Msg("Agent stopped")
}

func serveMetrics(addr string, reg *prometheus.Registry, errCh chan<- error, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return srv
}
