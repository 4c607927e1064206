package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testSpool(t *testing.T) (*Spool, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spool.db")
	s, err := OpenSpool(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open spool: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSpool_PublishAndForEach(t *testing.T) {
	s, _ := testSpool(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := Record{Key: fmt.Sprintf("host%d", i), Value: []byte{0x01, 0x02, byte(i)}}
		if err := s.Publish(ctx, rec); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	var entries []SpoolEntry
	if err := s.ForEach(func(e SpoolEntry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		t.Fatalf("foreach failed: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			t.Errorf("entry %d: Seq got %d, want %d", i, e.Seq, i+1)
		}
		if e.Key != fmt.Sprintf("host%d", i) {
			t.Errorf("entry %d: Key got %s", i, e.Key)
		}
		if len(e.Value) != 3 || e.Value[2] != byte(i) {
			t.Errorf("entry %d: Value got %v", i, e.Value)
		}
		if e.StoredAt.IsZero() {
			t.Errorf("entry %d: StoredAt not set", i)
		}
	}
}

func TestSpool_Trim(t *testing.T) {
	s, _ := testSpool(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.Publish(ctx, Record{Key: "h", Value: []byte{byte(i)}}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	removed, err := s.Trim(4)
	if err != nil {
		t.Fatalf("trim failed: %v", err)
	}
	if removed != 6 {
		t.Errorf("removed: got %d, want 6", removed)
	}

	n, err := s.Len()
	if err != nil {
		t.Fatalf("len failed: %v", err)
	}
	if n != 4 {
		t.Fatalf("Len: got %d, want 4", n)
	}

	// The newest records survive.
	var first uint64
	s.ForEach(func(e SpoolEntry) error {
		if first == 0 {
			first = e.Seq
		}
		return nil
	})
	if first != 7 {
		t.Errorf("oldest surviving seq: got %d, want 7", first)
	}

	if removed, _ := s.Trim(100); removed != 0 {
		t.Errorf("trim under limit removed %d", removed)
	}
}

func TestSpool_RunRetention(t *testing.T) {
	s, _ := testSpool(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		s.Publish(ctx, Record{Key: "h", Value: []byte{byte(i)}})
	}

	s.RunRetention(ctx, 10*time.Millisecond, 2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := s.Len(); n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	n, _ := s.Len()
	t.Fatalf("retention did not trim spool: Len %d", n)
}

func TestSpool_PublishAfterClose(t *testing.T) {
	s, _ := testSpool(t)

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	err := s.Publish(context.Background(), Record{Key: "h", Value: []byte{1}})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if !IsFatal(err) {
		t.Error("publish after close should be fatal")
	}
}

func TestSpool_ReadOnlyReopen(t *testing.T) {
	s, path := testSpool(t)
	s.Publish(context.Background(), Record{Key: "h", Value: []byte{1, 2}})
	s.Close()

	ro, err := OpenSpoolReadOnly(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()

	n, err := ro.Len()
	if err != nil {
		t.Fatalf("len failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Len: got %d, want 1", n)
	}
}
