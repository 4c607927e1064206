// scanrelay — periodic metric scanner and envelope publisher
//
// Usage:
//
//	scanrelay run     — poll scan targets and publish measurement envelopes
//	scanrelay targets — validate the scan configuration and list targets
//	scanrelay dump    — decode the envelopes held in the local spool
package main

import (
	"fmt"
	"os"
	"strings"

	"scanrelay/cmd/agent"
	"scanrelay/cmd/dump"
	"scanrelay/cmd/targets"
	"scanrelay/pkg/config"
)

const (
	defaultLocalPath = "config.toml"
	version          = "0.3.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""
	overrides := make(map[string]string)

	// Parse --config and --set flags if present
	var args []string
	raw := os.Args[1:]
	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		switch {
		case arg == "--config" && i+1 < len(raw):
			configPath = raw[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			configPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--set" && i+1 < len(raw):
			if err := addOverride(overrides, raw[i+1]); err != nil {
				fail(err)
			}
			i++
		case strings.HasPrefix(arg, "--set="):
			if err := addOverride(overrides, strings.TrimPrefix(arg, "--set=")); err != nil {
				fail(err)
			}
		default:
			args = append(args, arg)
		}
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = config.DefaultPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "run":
		err = agent.Run(configPath, overrides)
	case "targets":
		err = targets.Run(configPath, overrides)
	case "dump":
		err = dump.Run(configPath)
	case "edit":
		err = agent.EditConfig(configPath)
	case "version":
		fmt.Printf("scanrelay v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fail(err)
	}
}

func addOverride(overrides map[string]string, arg string) error {
	key, value, err := config.ParseOverride(arg)
	if err != nil {
		return err
	}
	overrides[key] = value
	return nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Printf(`scanrelay v%s — periodic metric scanner and envelope publisher

Usage:
  scanrelay <command> [--config <path>] [--set <key>=<value> ...]

Commands:
  run      Poll every scan target and publish measurement envelopes
  targets  Validate the scan configuration and list the targets
  dump     Decode and print the envelopes held in the local spool
  edit     Edit the configuration file in your system editor
  version  Print version information
  help     Show this help message

Options:
  --config <path>      Path to config file (default: looks for ./config.toml, then %s)
  --set <key>=<value>  Override a scan property, e.g. jmx.kafka1.query.interval.s=30

Examples:
  scanrelay run                                         # Start scanning with default config
  scanrelay targets --set jmx.self.address=local        # Check targets with an extra one
  scanrelay dump --config ./config.toml                 # Inspect the local spool

`, version, config.DefaultPath)
}
