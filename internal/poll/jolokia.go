package poll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scanrelay/internal/measurement"
	"scanrelay/internal/scanconfig"
)

const (
	defaultJolokiaPath    = "/jolokia"
	defaultJolokiaTimeout = 10 * time.Second
	maxJolokiaResponse    = 8 << 20
)

// JolokiaPoller reads MBean attributes through a Jolokia agent. The target
// scope is passed as the MBean name and may be a pattern.
type JolokiaPoller struct {
	client *http.Client
	now    func() time.Time
}

// NewJolokiaPoller returns a poller using client, or a client with a 10s
// timeout when client is nil.
func NewJolokiaPoller(client *http.Client) *JolokiaPoller {
	if client == nil {
		client = &http.Client{Timeout: defaultJolokiaTimeout}
	}
	return &JolokiaPoller{client: client, now: time.Now}
}

type jolokiaRequest struct {
	Type  string `json:"type"`
	MBean string `json:"mbean"`
}

type jolokiaResponse struct {
	Status    int             `json:"status"`
	Error     string          `json:"error"`
	Timestamp int64           `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// Poll implements Task.
func (p *JolokiaPoller) Poll(ctx context.Context, target scanconfig.Target) (measurement.Measurement, error) {
	endpoint, err := jolokiaURL(target.Address)
	if err != nil {
		return measurement.Measurement{}, failure(target, "%v", err)
	}

	body, err := json.Marshal(jolokiaRequest{Type: "read", MBean: target.Scope})
	if err != nil {
		return measurement.Measurement{}, failure(target, "encoding request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return measurement.Measurement{}, failure(target, "building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return measurement.Measurement{}, failure(target, "requesting %s: %v", endpoint.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return measurement.Measurement{}, failure(target, "%s returned HTTP %d", endpoint.Redacted(), resp.StatusCode)
	}

	var jr jolokiaResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxJolokiaResponse))
	if err := dec.Decode(&jr); err != nil {
		return measurement.Measurement{}, failure(target, "decoding response: %v", err)
	}
	if jr.Status != http.StatusOK {
		return measurement.Measurement{}, failure(target, "jolokia status %d: %s", jr.Status, jr.Error)
	}

	ts := p.now()
	if jr.Timestamp > 0 {
		ts = time.Unix(jr.Timestamp, 0)
	}

	var value map[string]any
	vdec := json.NewDecoder(bytes.NewReader(jr.Value))
	vdec.UseNumber()
	if err := vdec.Decode(&value); err != nil {
		return measurement.Measurement{}, failure(target, "decoding value: %v", err)
	}

	var (
		name    = target.Scope
		dynamic map[string]string
	)
	if !isPattern(target.Scope) {
		name, dynamic = splitObjectName(target.Scope)
	}

	m := Build(target, endpoint.Hostname(), name, ts, dynamic)
	if isPattern(target.Scope) {
		for mbean, attrs := range value {
			if obj, ok := attrs.(map[string]any); ok {
				flatten(&m, mbean, obj)
			}
		}
	} else {
		flatten(&m, "", value)
	}
	return m, nil
}

func jolokiaURL(addr string) (*url.URL, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr + defaultJolokiaPath
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid jolokia address %q: %w", addr, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid jolokia address %q: missing host", addr)
	}
	return u, nil
}

func isPattern(mbean string) bool {
	return strings.ContainsAny(mbean, "*?")
}

// splitObjectName turns "domain:k1=v1,k2=v2" into the domain and its key
// properties.
func splitObjectName(mbean string) (string, map[string]string) {
	domain, props, found := strings.Cut(mbean, ":")
	if !found {
		return mbean, nil
	}
	tags := make(map[string]string)
	for _, kv := range strings.Split(props, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k != "" {
			tags[k] = v
		}
	}
	return domain, tags
}

// flatten stores scalar attribute values under dotted names. Composite
// values recurse; arrays and nulls are skipped.
func flatten(m *measurement.Measurement, prefix string, attrs map[string]any) {
	for k, v := range attrs {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch x := v.(type) {
		case json.Number:
			if i, err := x.Int64(); err == nil {
				m.Fields[name] = i
			} else if f, err := x.Float64(); err == nil {
				m.Fields[name] = f
			}
		case string:
			m.Fields[name] = x
		case bool:
			m.Fields[name] = x
		case map[string]any:
			flatten(m, name, x)
		}
	}
}
