package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ScanPrefix is prepended to every key flattened out of the [jmx] tables.
const ScanPrefix = "jmx"

// ScanProperties flattens the [jmx] tables into dotted property keys, e.g.
// [jmx.kafka1] query.interval.s = 10 becomes "jmx.kafka1.query.interval.s" -> "10".
func (cfg *Config) ScanProperties() map[string]string {
	out := make(map[string]string)
	flatten(ScanPrefix, cfg.Scan, out)
	return out
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := prefix + "." + k
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		case int64:
			out[key] = strconv.FormatInt(val, 10)
		case float64:
			out[key] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[key] = strconv.FormatBool(val)
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// LoadProperties reads a properties file: one key=value or key: value per
// line, with # and ! starting comment lines.
func LoadProperties(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading properties %s: %w", path, err)
	}
	defer f.Close()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}

		key, value := line, ""
		if i := strings.IndexAny(line, "=:"); i >= 0 {
			key, value = line[:i], line[i+1:]
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading properties %s: %w", path, err)
	}
	return props, nil
}

// ParseOverride splits a --set argument of the form key=value.
func ParseOverride(arg string) (string, string, error) {
	key, value, ok := strings.Cut(arg, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid override %q, expected key=value", arg)
	}
	return key, value, nil
}

// Merge combines property sets; later sources win per key.
func Merge(sources ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, src := range sources {
		for k, v := range src {
			out[k] = v
		}
	}
	return out
}

// Properties assembles the scan properties from the properties file, the
// [jmx] tables and overrides, in that order of precedence from lowest.
func (cfg *Config) Properties(overrides map[string]string) (map[string]string, error) {
	var file map[string]string
	if cfg.Agent.PropertiesFile != "" {
		var err error
		file, err = LoadProperties(cfg.Agent.PropertiesFile)
		if err != nil {
			return nil, err
		}
	}
	return Merge(file, cfg.ScanProperties(), overrides), nil
}
