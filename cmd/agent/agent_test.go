package agent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"scanrelay/internal/poll"
	"scanrelay/internal/scanconfig"
	"scanrelay/pkg/config"
)

func TestDefaultConfigTemplate(t *testing.T) {
	cfg, err := config.Parse([]byte(defaultConfigTemplate))
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}

	targets, err := BuildTargets(cfg, nil)
	if err != nil {
		t.Fatalf("template targets: %v", err)
	}
	self, ok := targets["self"]
	if !ok {
		t.Fatalf("expected target self, got %v", targets.IDs())
	}
	if self.Address != poll.AddrLocal || self.Interval != 10*time.Second {
		t.Errorf("self: got %+v", self)
	}
	if err := poll.NewRouter("", zerolog.Nop()).Validate(targets); err != nil {
		t.Errorf("template target not routable: %v", err)
	}
}

func TestBuildTargets_Overrides(t *testing.T) {
	cfg, err := config.Parse([]byte(`
[jmx.kafka1]
  address = "10.0.0.1:8778"
  query.interval.s = 30
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	targets, err := BuildTargets(cfg, map[string]string{
		"jmx.kafka1.query.interval.s": "5",
		"jmx.kafka2.address":          "local",
	})
	if err != nil {
		t.Fatalf("build targets: %v", err)
	}
	if targets["kafka1"].Interval != 5*time.Second {
		t.Errorf("override not applied: %v", targets["kafka1"].Interval)
	}
	if _, ok := targets["kafka2"]; !ok {
		t.Error("override-only target missing")
	}
}

func TestBuildTargets_Invalid(t *testing.T) {
	cfg, err := config.Parse([]byte(`
[jmx.kafka1]
  address = "10.0.0.1:8778"
  query.interval.s = "often"
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	if _, err := BuildTargets(cfg, nil); !errors.Is(err, scanconfig.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestSeedAndCheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.toml")

	created, err := seedConfig(path)
	if err != nil || !created {
		t.Fatalf("first seed: created=%v err=%v", created, err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate+`
[jmx.kafka1]
  address = "10.0.0.1:8778"
`), 0644); err != nil {
		t.Fatal(err)
	}
	created, err = seedConfig(path)
	if err != nil || created {
		t.Fatalf("second seed must keep the file: created=%v err=%v", created, err)
	}

	n, err := checkConfig(path)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 targets, got %d", n)
	}
}

func TestCheckConfig_RejectsBrokenEdit(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"interval": "[jmx.a]\n  address = \"local\"\n  query.interval.s = 0\n",
		"toml":     "[jmx.a\n",
		"timeout":  "[agent]\n  shutdown_timeout = \"soon\"\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".toml")
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := checkConfig(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	path := filepath.Join(dir, "interval.toml")
	if _, err := checkConfig(path); !errors.Is(err, scanconfig.ErrInvalidConfig) {
		t.Errorf("interval: expected ErrInvalidConfig, got %v", err)
	}
}

func TestFindEditor(t *testing.T) {
	only := func(name string) func(string) (string, error) {
		return func(file string) (string, error) {
			if file == name {
				return "/usr/bin/" + file, nil
			}
			return "", errors.New("not found")
		}
	}

	if got, err := findEditor("emacs", only("vi")); err != nil || got != "emacs" {
		t.Errorf("$EDITOR: got %q, %v", got, err)
	}
	if got, err := findEditor("", only("nano")); err != nil || got != "nano" {
		t.Errorf("fallback: got %q, %v", got, err)
	}
	if _, err := findEditor("", only("ed")); err == nil {
		t.Error("expected error with no editor available")
	}
}
