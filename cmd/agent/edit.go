package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"scanrelay/internal/poll"
	"scanrelay/pkg/config"
)

const defaultConfigTemplate = `[agent]
  log_level        = "info"
  log_format       = "auto"
  host             = ""
  properties_file  = ""
  shutdown_timeout = "10s"
  metrics_addr     = ""

[publisher]
  kind           = "log"
  schema_version = 0

  [publisher.nats]
    url             = "nats://127.0.0.1:4222"
    client_name     = "scanrelay"
    stream          = "METRICS"
    subject         = "_metrics"
    create_stream   = true
    publish_timeout = "5s"
    retry_attempts  = 2

  [publisher.spool]
    path            = "/var/lib/scanrelay/spool.db"
    max_records     = 100000
    retention_check = "30s"

# One table per scan target.
[jmx.self]
  address          = "local"
  query.scope      = "cpu,mem,load"
  query.interval.s = 10
  tag.role         = "agent"
`

// fallbackEditors are tried in order when $EDITOR is unset.
var fallbackEditors = []string{"vi", "nano", "vim"}

// EditConfig opens the configuration file in the system editor, seeding it
// from the default template when it does not exist yet. The saved file is
// checked the same way run checks it, so a broken edit is reported here
// instead of at the next start.
func EditConfig(path string) error {
	created, err := seedConfig(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Created %s from the default template\n", path)
	}

	editor, err := findEditor(os.Getenv("EDITOR"), exec.LookPath)
	if err != nil {
		return err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", editor, err)
	}

	n, err := checkConfig(path)
	if err != nil {
		return fmt.Errorf("%s was saved but is not usable: %w", path, err)
	}
	fmt.Printf("%s OK, %d scan target(s)\n", path, n)
	return nil
}

// seedConfig writes the default template to path unless a file is already
// there. It reports whether it created one.
func seedConfig(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return false, fmt.Errorf("writing default config: %w", err)
	}
	return true, nil
}

func findEditor(env string, lookPath func(string) (string, error)) (string, error) {
	if env != "" {
		return env, nil
	}
	for _, name := range fallbackEditors {
		if _, err := lookPath(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no editor found: set $EDITOR or install one of %v", fallbackEditors)
}

// checkConfig loads path and builds its scan targets, returning how many
// there are.
func checkConfig(path string) (int, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return 0, fmt.Errorf("loading config: %w", err)
	}
	targets, err := BuildTargets(cfg, nil)
	if err != nil {
		return 0, fmt.Errorf("building scan targets: %w", err)
	}
	if err := poll.NewRouter(cfg.Agent.Host, zerolog.Nop()).Validate(targets); err != nil {
		return 0, fmt.Errorf("validating scan targets: %w", err)
	}
	if _, err := cfg.Agent.ParseShutdownTimeout(); err != nil {
		return 0, fmt.Errorf("parsing shutdown_timeout: %w", err)
	}
	return len(targets), nil
}
