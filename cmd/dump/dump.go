// Package dump implements the scanrelay dump command, a consumer that decodes
// every envelope held in the local spool.
package dump

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"scanrelay/internal/envelope"
	"scanrelay/internal/measurement"
	"scanrelay/internal/publish"
	"scanrelay/pkg/config"
	"scanrelay/pkg/logger"
)

// Stats summarizes one dump.
type Stats struct {
	Decoded     int
	Empty       int
	Undecodable int
}

// Run opens the configured spool read-only and prints every record.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Agent.LogLevel, cfg.Agent.LogFormat)

	spool, err := publish.OpenSpoolReadOnly(cfg.Publisher.Spool.Path, log)
	if err != nil {
		return err
	}
	defer spool.Close()

	codec, err := envelope.New()
	if err != nil {
		return err
	}

	stats, err := Dump(os.Stdout, spool, codec, log)
	if err != nil {
		return err
	}

	fmt.Printf("\n  %d decoded, %d without value, %d undecodable\n",
		stats.Decoded, stats.Empty, stats.Undecodable)
	return nil
}

// Dump writes one line per spooled record to w. Records without a value are
// reported apart from records that are present but cannot be decoded.
func Dump(w io.Writer, spool *publish.Spool, codec *envelope.Codec, log zerolog.Logger) (Stats, error) {
	var stats Stats

	err := spool.ForEach(func(e publish.SpoolEntry) error {
		m, err := codec.Decode(e.Value)
		switch {
		case err == nil:
			stats.Decoded++
			version, _ := envelope.Peek(e.Value)
			fmt.Fprintf(w, "%6d  v%d  %s\n", e.Seq, version, formatMeasurement(m))
		case errors.Is(err, envelope.ErrEmpty):
			stats.Empty++
			fmt.Fprintf(w, "%6d  --  key=%s no value\n", e.Seq, e.Key)
		default:
			stats.Undecodable++
			log.Debug().Err(err).Uint64("seq", e.Seq).Msg("Undecodable envelope")
			fmt.Fprintf(w, "%6d  !!  key=%s undecodable: %v\n", e.Seq, e.Key, err)
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("reading spool: %w", err)
	}
	return stats, nil
}

func formatMeasurement(m *measurement.Measurement) string {
	var b strings.Builder
	b.WriteString(m.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteString(" host=" + m.Host)
	if m.Name != "" {
		b.WriteString(" name=" + m.Name)
	}

	tags := make([]string, 0, len(m.Tags))
	for k, v := range m.Tags {
		tags = append(tags, k+"="+v)
	}
	sort.Strings(tags)
	if len(tags) > 0 {
		b.WriteString(" [" + strings.Join(tags, ",") + "]")
	}

	for _, name := range m.FieldNames() {
		fmt.Fprintf(&b, " %s=%v", name, m.Fields[name])
	}
	return b.String()
}
