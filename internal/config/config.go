// Package config loads workspace settings from an optional YAML file,
// a .env file, and the process environment. Precedence is environment
// over file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full settings tree.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Persist PersistConfig `yaml:"persist"`
	Collab  CollabConfig  `yaml:"collab"`
	API     APIConfig     `yaml:"api"`
	Relay   RelayConfig   `yaml:"relay"`
	Locale  LocaleConfig  `yaml:"locale"`
}

// StoreConfig locates the durable local store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// PersistConfig tunes the debounced save pipeline.
type PersistConfig struct {
	SaveWindow       time.Duration `yaml:"save_window"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// CollabConfig tunes the live session client.
type CollabConfig struct {
	ServerURL           string        `yaml:"server_url"`
	BroadcastInterval   time.Duration `yaml:"broadcast_interval"`
	FullSyncInterval    time.Duration `yaml:"full_sync_interval"`
	ReconnectMaxElapsed time.Duration `yaml:"reconnect_max_elapsed"`
}

// APIConfig points at the backend HTTP surface.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RelayConfig configures the room relay server. An empty RedisAddr
// keeps all room state in process memory.
type RelayConfig struct {
	Addr          string        `yaml:"addr"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	SnapshotTTL   time.Duration `yaml:"snapshot_ttl"`
}

// LocaleConfig picks the workspace language.
type LocaleConfig struct {
	Language string `yaml:"language"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Path: "goclass.db"},
		Persist: PersistConfig{
			SaveWindow:       300 * time.Millisecond,
			FailureThreshold: 3,
		},
		Collab: CollabConfig{
			ServerURL:           "ws://localhost:8787",
			BroadcastInterval:   200 * time.Millisecond,
			FullSyncInterval:    20 * time.Second,
			ReconnectMaxElapsed: 30 * time.Second,
		},
		API: APIConfig{
			BaseURL: "http://localhost:8788",
			Timeout: 10 * time.Second,
		},
		Relay: RelayConfig{
			Addr:        ":8787",
			SnapshotTTL: 24 * time.Hour,
		},
		Locale: LocaleConfig{Language: "en"},
	}
}

// Load builds the configuration. file may be empty; a missing .env is
// fine, env vars still apply.
func Load(file string) (*Config, error) {
	// Ignore the error: no .env file just means plain env vars.
	_ = godotenv.Load()

	cfg := Defaults()

	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", file, err)
		}
	}

	cfg.Store.Path = getEnv("GOCLASS_STORE_PATH", cfg.Store.Path)
	cfg.Persist.SaveWindow = getDuration("GOCLASS_SAVE_WINDOW", cfg.Persist.SaveWindow)
	cfg.Persist.FailureThreshold = getInt("GOCLASS_SAVE_FAILURE_THRESHOLD", cfg.Persist.FailureThreshold)
	cfg.Collab.ServerURL = getEnv("GOCLASS_COLLAB_URL", cfg.Collab.ServerURL)
	cfg.Collab.BroadcastInterval = getDuration("GOCLASS_BROADCAST_INTERVAL", cfg.Collab.BroadcastInterval)
	cfg.Collab.FullSyncInterval = getDuration("GOCLASS_FULL_SYNC_INTERVAL", cfg.Collab.FullSyncInterval)
	cfg.Collab.ReconnectMaxElapsed = getDuration("GOCLASS_RECONNECT_MAX_ELAPSED", cfg.Collab.ReconnectMaxElapsed)
	cfg.API.BaseURL = getEnv("GOCLASS_API_URL", cfg.API.BaseURL)
	cfg.API.Timeout = getDuration("GOCLASS_API_TIMEOUT", cfg.API.Timeout)
	cfg.Relay.Addr = getEnv("GOCLASS_RELAY_ADDR", cfg.Relay.Addr)
	cfg.Relay.RedisAddr = getEnv("GOCLASS_REDIS_ADDR", cfg.Relay.RedisAddr)
	cfg.Relay.RedisPassword = getEnv("GOCLASS_REDIS_PASSWORD", cfg.Relay.RedisPassword)
	cfg.Relay.RedisDB = getInt("GOCLASS_REDIS_DB", cfg.Relay.RedisDB)
	cfg.Relay.SnapshotTTL = getDuration("GOCLASS_SNAPSHOT_TTL", cfg.Relay.SnapshotTTL)
	cfg.Locale.Language = getEnv("GOCLASS_LANG", cfg.Locale.Language)

	return &cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// getDuration accepts time.ParseDuration syntax; a bare number is
// taken as seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
