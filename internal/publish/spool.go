package publish

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var recordsBucket = []byte("records")

// SpoolEntry is one spooled record.
type SpoolEntry struct {
	Seq      uint64    `json:"-"`
	Key      string    `json:"key"`
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// Spool is a durable, append-only local log of envelopes backed by bbolt.
// Records are keyed by a monotonically increasing sequence.
type Spool struct {
	db     *bolt.DB
	mu     sync.RWMutex
	closed bool
	log    zerolog.Logger
}

// OpenSpool opens or creates a spool file at path.
func OpenSpool(path string, log zerolog.Logger) (*Spool, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening spool %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating records bucket: %w", err)
	}

	return &Spool{db: db, log: log}, nil
}

// OpenSpoolReadOnly opens an existing spool for reading.
func OpenSpoolReadOnly(path string, log zerolog.Logger) (*Spool, error) {
	db, err := bolt.Open(path, 0400, &bolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("opening spool %s: %w", path, err)
	}
	return &Spool{db: db, log: log}, nil
}

// Close closes the underlying database. Calling Close more than once is a
// no-op.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Publish appends rec to the spool.
func (s *Spool) Publish(_ context.Context, rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)

		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(SpoolEntry{Key: rec.Key, Value: rec.Value, StoredAt: time.Now().UTC()})
		if err != nil {
			return fmt.Errorf("marshaling spool entry: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		if errors.Is(err, bolt.ErrDatabaseNotOpen) {
			return Fatal(err)
		}
		return fmt.Errorf("%w: spooling record: %w", ErrPublish, err)
	}

	s.log.Debug().
		Str("key", rec.Key).
		Uint64("seq", seq).
		Int("bytes", len(rec.Value)).
		Msg("Envelope spooled")

	return nil
}

// ForEach calls fn for every entry in sequence order. Entries that cannot be
// unmarshaled are logged and skipped.
func (s *Spool) ForEach(fn func(SpoolEntry) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e SpoolEntry
			if err := json.Unmarshal(v, &e); err != nil {
				s.log.Warn().Err(err).Uint64("seq", binary.BigEndian.Uint64(k)).Msg("Skipping corrupt spool entry")
				return nil
			}
			e.Seq = binary.BigEndian.Uint64(k)
			return fn(e)
		})
	})
}

// Len returns the number of spooled records.
func (s *Spool) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(recordsBucket); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Trim deletes the oldest records so that at most max remain. It returns
// the number of records removed.
func (s *Spool) Trim(max int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		excess := b.Stats().KeyN - max
		if excess <= 0 {
			return nil
		}

		c := b.Cursor()
		for k, _ := c.First(); k != nil && removed < excess; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// RunRetention trims the spool to max records every interval until ctx is
// done.
func (s *Spool) RunRetention(ctx context.Context, every time.Duration, max int) {
	if max <= 0 || every <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.Trim(max)
				if err != nil {
					if errors.Is(err, ErrClosed) {
						return
					}
					s.log.Error().Err(err).Msg("Spool retention failed")
					continue
				}
				if removed > 0 {
					s.log.Info().Int("removed", removed).Int("max_records", max).Msg("Spool trimmed")
				}
			}
		}
	}()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
