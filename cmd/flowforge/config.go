package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/basicflag"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "FLOWFORGE_"

// Config holds the flowforge configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr      string        `koanf:"listen_addr"`
	DBPath          string        `koanf:"db_path"`
	LogLevel        string        `koanf:"log_level"`
	AutosaveDelay   time.Duration `koanf:"autosave_delay"`
	SimulatedWork   time.Duration `koanf:"simulated_work"`
	Ordering        string        `koanf:"ordering"`
	ImageAPIKey     string        `koanf:"image_api_key"`
	ImageAPIURL     string        `koanf:"image_api_url"`
	VaultPassphrase string        `koanf:"vault_passphrase"`
	VaultSalt       string        `koanf:"vault_salt"`
	Metrics         bool          `koanf:"metrics"`
	Scheduler       bool          `koanf:"scheduler"`
}

func defaults() map[string]any {
	return map[string]any{
		"listen_addr":    ":4200",
		"db_path":        filepath.Join(flowforgeDir(), "flowforge.db"),
		"log_level":      "info",
		"autosave_delay": "1s",
		"simulated_work": "1500ms",
		"ordering":       "depth_first",
		"vault_salt":     "flowforge-vault",
		"metrics":        true,
		"scheduler":      true,
	}
}

func flowforgeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowforge"
	}
	return filepath.Join(home, ".flowforge")
}

func settingsPath() string {
	return filepath.Join(flowforgeDir(), "settings.json")
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"listen":    "listen_addr",
	"db":        "db_path",
	"log-level": "log_level",
	"ordering":  "ordering",
	"work":      "simulated_work",
}

// registerFlags adds the config-overriding flags a subcommand accepts.
func registerFlags(fs *flag.FlagSet, names ...string) {
	usage := map[string]string{
		"listen":    "HTTP listen address",
		"db":        "libSQL database path",
		"log-level": "log level (debug, info, warn, error)",
		"ordering":  "execution ordering (depth_first, topological)",
		"work":      "simulated work per node, negative disables",
	}
	for _, n := range names {
		fs.String(n, "", usage[n])
	}
}

// loadConfig layers defaults, the settings file, FLOWFORGE_* env vars and
// the flags explicitly set on flags. A missing settings file is not an error.
func loadConfig(path string, flags *flag.FlagSet) (Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return Config{}, fmt.Errorf("config default %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), json.Parser()); err != nil {
				return Config{}, fmt.Errorf("read %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	envKey := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}

	if flags != nil {
		set := make(map[string]bool)
		flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
		flagKey := func(name, value string) (string, any) {
			key, ok := flagKeys[name]
			if !ok || !set[name] {
				return "", nil
			}
			return key, value
		}
		if err := k.Load(basicflag.ProviderWithValue(flags, ".", flagKey), nil); err != nil {
			return Config{}, fmt.Errorf("read flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	MetricsChanged  bool
	RestartNeeded   []string // keys that only take effect after a restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	d.LogLevelChanged = old.LogLevel != new.LogLevel
	d.MetricsChanged = old.Metrics != new.Metrics

	restart := []struct {
		key     string
		changed bool
	}{
		{"listen_addr", old.ListenAddr != new.ListenAddr},
		{"db_path", old.DBPath != new.DBPath},
		{"autosave_delay", old.AutosaveDelay != new.AutosaveDelay},
		{"simulated_work", old.SimulatedWork != new.SimulatedWork},
		{"ordering", old.Ordering != new.Ordering},
		{"image_api_key", old.ImageAPIKey != new.ImageAPIKey},
		{"image_api_url", old.ImageAPIURL != new.ImageAPIURL},
		{"vault_passphrase", old.VaultPassphrase != new.VaultPassphrase},
		{"scheduler", old.Scheduler != new.Scheduler},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartNeeded = append(d.RestartNeeded, r.key)
		}
	}
	return d
}
