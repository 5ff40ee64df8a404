package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all metrica server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	ScriptEngine    string `json:"script_engine"`
	PollSeconds     int    `json:"poll_seconds"`
	DebounceSeconds int    `json:"debounce_seconds"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(metricaDir(), "metrica.db"),
		LogLevel:        "info",
		ScriptEngine:    "expr",
		PollSeconds:     10,
		DebounceSeconds: 10,
	}
}

func metricaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".metrica"
	}
	return filepath.Join(home, ".metrica")
}

func settingsPath() string {
	return filepath.Join(metricaDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("METRICA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("METRICA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("METRICA_SCRIPT_ENGINE"); v != "" {
		cfg.ScriptEngine = v
	}
	if v := os.Getenv("METRICA_POLL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollSeconds = n
		}
	}
	if v := os.Getenv("METRICA_DEBOUNCE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DebounceSeconds = n
		}
	}

	return cfg
}

func (c Config) pollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

func (c Config) debounce() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}
