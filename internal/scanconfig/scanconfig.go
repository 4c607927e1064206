// Package scanconfig builds scan target configurations from a flat, dotted
// key/value namespace such as:
//
//	jmx.kafka1.address=http://127.0.0.1:8778/jolokia
//	jmx.kafka1.query.scope=kafka.server:*
//	jmx.kafka1.query.interval.s=10
//	jmx.kafka1.tag.env=prod
package scanconfig

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// Prefix marks the keys that belong to the scan namespace.
	Prefix = "jmx."

	// DefaultInterval applies to targets that do not set query.interval.s.
	DefaultInterval = 10 * time.Second

	// MaxInterval is the longest query.interval.s accepted.
	MaxInterval = 365 * 24 * time.Hour

	// DefaultScope selects every MBean.
	DefaultScope = "*:*"

	keyAddress  = "address"
	keyScope    = "query.scope"
	keyInterval = "query.interval.s"
	keyTag      = "tag."
)

// ErrInvalidConfig is wrapped by every error Parse returns.
var ErrInvalidConfig = errors.New("invalid scan configuration")

// Error reports the key that made the configuration unusable.
type Error struct {
	Target string
	Key    string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v: target %q", ErrInvalidConfig, e.Target)
	if e.Key != "" {
		msg += fmt.Sprintf(" key %q", e.Key)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidConfig}
	}
	return []error{ErrInvalidConfig, e.Err}
}

// Target is the configuration for one scanned process.
type Target struct {
	ID       string
	Address  string
	Scope    string
	Interval time.Duration
	Tags     map[string]string
}

// Targets maps target IDs to their configuration.
type Targets map[string]Target

// IDs returns the target IDs in sorted order.
func (t Targets) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type draft struct {
	address  string
	scope    string
	interval time.Duration
	tags     map[string]string
}

// Parse extracts every target from props. Keys outside Prefix and unknown
// sub-keys are ignored. A target without an interval gets DefaultInterval; a
// target without an address, or with a non-integer or non-positive interval,
// fails the whole parse so nothing is ever scheduled from a broken config.
func Parse(props map[string]string) (Targets, error) {
	keys := make([]string, 0, len(props))
	for k := range props {
		if strings.HasPrefix(k, Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	drafts := make(map[string]*draft)
	for _, key := range keys {
		val := props[key]
		rest := strings.TrimPrefix(key, Prefix)

		id, field, found := strings.Cut(rest, ".")
		if id == "" {
			return nil, &Error{Key: key, Reason: "empty target id"}
		}
		if !found || field == "" {
			continue
		}

		d, ok := drafts[id]
		if !ok {
			d = &draft{tags: make(map[string]string)}
			drafts[id] = d
		}

		switch {
		case strings.HasPrefix(field, keyTag):
			name := strings.TrimPrefix(field, keyTag)
			if name == "" {
				return nil, &Error{Target: id, Key: key, Reason: "empty tag name"}
			}
			d.tags[name] = val
		case field == keyAddress:
			d.address = strings.TrimSpace(val)
		case field == keyScope:
			d.scope = strings.TrimSpace(val)
		case field == keyInterval:
			secs, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if err != nil {
				return nil, &Error{Target: id, Key: key, Reason: "interval must be an integer number of seconds", Err: err}
			}
			if secs < 1 {
				return nil, &Error{Target: id, Key: key, Reason: fmt.Sprintf("interval must be at least 1 second, got %d", secs)}
			}
			if secs > int64(MaxInterval/time.Second) {
				return nil, &Error{Target: id, Key: key, Reason: fmt.Sprintf("interval out of range, got %d (max %d)", secs, int64(MaxInterval/time.Second))}
			}
			d.interval = time.Duration(secs) * time.Second
		}
	}

	ids := make([]string, 0, len(drafts))
	for id := range drafts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	targets := make(Targets, len(drafts))
	for _, id := range ids {
		d := drafts[id]
		if d.address == "" {
			return nil, &Error{Target: id, Key: Prefix + id + "." + keyAddress, Reason: "missing required field"}
		}
		t := Target{
			ID:       id,
			Address:  d.address,
			Scope:    d.scope,
			Interval: d.interval,
			Tags:     d.tags,
		}
		if t.Scope == "" {
			t.Scope = DefaultScope
		}
		if t.Interval == 0 {
			t.Interval = DefaultInterval
		}
		targets[id] = t
	}
	return targets, nil
}
