// Package targets implements the scanrelay targets command, which validates
// the scan configuration and prints the resulting targets.
package targets

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"scanrelay/cmd/agent"
	"scanrelay/internal/poll"
	"scanrelay/internal/scanconfig"
	"scanrelay/pkg/config"
)

// Run loads the configuration, validates every target and prints a table.
func Run(configPath string, overrides map[string]string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	targets, err := agent.BuildTargets(cfg, overrides)
	if err != nil {
		return err
	}
	if err := poll.NewRouter(cfg.Agent.Host, zerolog.Nop()).Validate(targets); err != nil {
		return err
	}

	if len(targets) == 0 {
		fmt.Println("No scan targets configured.")
		return nil
	}

	fmt.Printf("\n  Scan Targets (%d configured)\n\n", len(targets))
	displayTargetTable(os.Stdout, targets)
	fmt.Println()
	return nil
}

func displayTargetTable(w io.Writer, targets scanconfig.Targets) {
	fmt.Fprintf(w, "  %-16s %-36s %-28s %-8s %s\n",
		"Target", "Address", "Scope", "Every", "Tags")
	fmt.Fprintf(w, "  %s %s %s %s %s\n",
		strings.Repeat("─", 16),
		strings.Repeat("─", 36),
		strings.Repeat("─", 28),
		strings.Repeat("─", 8),
		strings.Repeat("─", 20))

	for _, id := range targets.IDs() {
		t := targets[id]
		fmt.Fprintf(w, "  %-16s %-36s %-28s %-8s %s\n",
			truncate(id, 16),
			truncate(t.Address, 36),
			truncate(t.Scope, 28),
			t.Interval,
			formatTags(t.Tags),
		)
	}
}

func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return "-"
	}
	pairs := make([]string, 0, len(tags))
	for k, v := range tags {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
