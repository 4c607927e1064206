// Package poll samples scan targets. A Task performs one synchronous query
// against a target's management interface and returns a measurement.
package poll

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"scanrelay/internal/measurement"
	"scanrelay/internal/scanconfig"
)

// ErrPollFailure is wrapped by every error a Task returns.
var ErrPollFailure = errors.New("poll failed")

// Task samples one target.
type Task interface {
	Poll(ctx context.Context, target scanconfig.Target) (measurement.Measurement, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context, target scanconfig.Target) (measurement.Measurement, error)

// Poll calls f.
func (f TaskFunc) Poll(ctx context.Context, target scanconfig.Target) (measurement.Measurement, error) {
	return f(ctx, target)
}

func failure(target scanconfig.Target, format string, args ...any) error {
	return fmt.Errorf("%w: target %s: %s", ErrPollFailure, target.ID, fmt.Sprintf(format, args...))
}

// Build starts a measurement for target. Dynamic tags discovered during the
// poll are applied first so that static tags from the configuration win. A
// static "host" tag also overrides the host field.
func Build(target scanconfig.Target, host, name string, ts time.Time, dynamic map[string]string) measurement.Measurement {
	m := measurement.New(host, name, ts)
	for k, v := range dynamic {
		m.Tags[k] = v
	}
	for k, v := range target.Tags {
		m.Tags[k] = v
	}
	if h, ok := target.Tags["host"]; ok && h != "" {
		m.Host = h
	}
	return m
}

// Address schemes understood by Router.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeSNMP  = "snmp"
	AddrLocal   = "local"
)

// Router dispatches each target to the poller matching its address:
//
//	http://host:8778/jolokia   Jolokia (JMX over HTTP)
//	host:port                  Jolokia at http://host:port/jolokia
//	snmp://community@host:161  SNMP walk of the scope OID
//	local                      this host, sampled with gopsutil
type Router struct {
	Jolokia Task
	SNMP    Task
	Host    Task

	hostname string
	log      zerolog.Logger
}

// NewRouter returns a Router with the default pollers. A non-empty hostname
// replaces the host field of every measurement.
func NewRouter(hostname string, log zerolog.Logger) *Router {
	return &Router{
		Jolokia:  NewJolokiaPoller(nil),
		SNMP:     &SNMPPoller{},
		Host:     &HostPoller{},
		hostname: hostname,
		log:      log,
	}
}

// Poll implements Task.
func (r *Router) Poll(ctx context.Context, target scanconfig.Target) (measurement.Measurement, error) {
	task, err := r.route(target)
	if err != nil {
		return measurement.Measurement{}, err
	}

	m, err := task.Poll(ctx, target)
	if err != nil {
		return measurement.Measurement{}, err
	}
	if r.hostname != "" {
		m.Host = r.hostname
	}

	r.log.Debug().
		Str("target", target.ID).
		Str("host", m.Host).
		Int("fields", len(m.Fields)).
		Msg("Target polled")

	return m, nil
}

// Validate checks that every target address maps to a poller.
func (r *Router) Validate(targets scanconfig.Targets) error {
	for _, id := range targets.IDs() {
		if _, err := r.route(targets[id]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) route(target scanconfig.Target) (Task, error) {
	addr := target.Address
	if addr == AddrLocal {
		return r.Host, nil
	}

	scheme, _, hasScheme := strings.Cut(addr, "://")
	if !hasScheme {
		// Bare host:port, the classic JMX address form.
		return r.Jolokia, nil
	}

	switch strings.ToLower(scheme) {
	case SchemeHTTP, SchemeHTTPS:
		if _, err := url.Parse(addr); err != nil {
			return nil, failure(target, "invalid address %q: %v", addr, err)
		}
		return r.Jolokia, nil
	case SchemeSNMP:
		return r.SNMP, nil
	default:
		return nil, failure(target, "unsupported address scheme %q", scheme)
	}
}
