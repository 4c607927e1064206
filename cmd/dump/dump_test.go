package dump

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"scanrelay/internal/envelope"
	"scanrelay/internal/measurement"
	"scanrelay/internal/publish"
)

func TestDump_DistinguishesEmptyFromUndecodable(t *testing.T) {
	spool, err := publish.OpenSpool(filepath.Join(t.TempDir(), "spool.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open spool: %v", err)
	}
	defer spool.Close()

	codec, err := envelope.New()
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	m := measurement.New("web-1", "java.lang", time.Unix(1700000000, 0))
	m.Tags["type"] = "Memory"
	m.Set("HeapMemoryUsage.used", 1024)
	good, err := codec.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ctx := context.Background()
	for _, rec := range []publish.Record{
		{Key: "web-1", Value: good},
		{Key: "web-2", Value: nil},
		{Key: "web-3", Value: []byte{envelope.Magic, 0x7f, 0x80}},
		{Key: "web-4", Value: []byte{0xde, 0xad}},
	} {
		if err := spool.Publish(ctx, rec); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var buf bytes.Buffer
	stats, err := Dump(&buf, spool, codec, zerolog.Nop())
	if err != nil {
		t.Fatalf("dump: %v", err)
	}

	if stats != (Stats{Decoded: 1, Empty: 1, Undecodable: 2}) {
		t.Errorf("stats: got %+v", stats)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "host=web-1") || !strings.Contains(lines[0], "HeapMemoryUsage.used=1024") {
		t.Errorf("decoded line: %q", lines[0])
	}
	if !strings.Contains(lines[0], "[type=Memory]") {
		t.Errorf("decoded line missing tags: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "no value") {
		t.Errorf("empty line: %q", lines[1])
	}
	if !strings.Contains(lines[2], "undecodable") || !strings.Contains(lines[3], "undecodable") {
		t.Errorf("undecodable lines: %q, %q", lines[2], lines[3])
	}
}
