// Package config loads gateway settings from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the gateway configuration.
type Config struct {
	Host            string   `yaml:"host"`
	Port            string   `yaml:"port"`
	DataDir         string   `yaml:"dataDir"`
	TrustedNetworks []string `yaml:"trustedNetworks"`

	AuthUsername string `yaml:"authUsername"`
	AuthPassword string `yaml:"authPassword"`

	DefaultRoom    string `yaml:"defaultRoom"`
	DefaultService string `yaml:"defaultService"`
	AnnounceVolume int    `yaml:"announceVolume"`
	Country        string `yaml:"country"`

	PandoraUsername string `yaml:"pandoraUsername"`
	PandoraPassword string `yaml:"pandoraPassword"`

	SpotifyClientID     string `yaml:"spotifyClientId"`
	SpotifyClientSecret string `yaml:"spotifyClientSecret"`

	LibraryReindexInterval string `yaml:"libraryReindexInterval"`
	RandomQueueLimit       int    `yaml:"randomQueueLimit"`

	TTSCacheMaxAgeHours int    `yaml:"ttsCacheMaxAgeHours"`
	TTSHostIP           string `yaml:"ttsHostIp"`

	LogLevel string `yaml:"logLevel"`
}

// Load reads the YAML file at path (missing file is fine), then applies
// environment overrides and defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		Host:                   "0.0.0.0",
		Port:                   "5005",
		DataDir:                "./data",
		AnnounceVolume:         40,
		Country:                "US",
		LibraryReindexInterval: "1d",
		RandomQueueLimit:       50,
		TTSCacheMaxAgeHours:    72,
		LogLevel:               "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Host = envString("GATEWAY_HOST", cfg.Host)
	cfg.Port = envString("GATEWAY_PORT", cfg.Port)
	cfg.DataDir = envString("GATEWAY_DATA_DIR", cfg.DataDir)
	cfg.TrustedNetworks = envCSV("GATEWAY_TRUSTED_NETWORKS", cfg.TrustedNetworks)
	cfg.AuthUsername = envString("GATEWAY_AUTH_USERNAME", cfg.AuthUsername)
	cfg.AuthPassword = envString("GATEWAY_AUTH_PASSWORD", cfg.AuthPassword)
	cfg.DefaultRoom = envString("GATEWAY_DEFAULT_ROOM", cfg.DefaultRoom)
	cfg.DefaultService = envString("GATEWAY_DEFAULT_SERVICE", cfg.DefaultService)
	cfg.AnnounceVolume = envInt("GATEWAY_ANNOUNCE_VOLUME", cfg.AnnounceVolume)
	cfg.Country = envString("GATEWAY_COUNTRY", cfg.Country)
	cfg.PandoraUsername = envString("PANDORA_USERNAME", cfg.PandoraUsername)
	cfg.PandoraPassword = envString("PANDORA_PASSWORD", cfg.PandoraPassword)
	cfg.SpotifyClientID = envString("SPOTIFY_CLIENT_ID", cfg.SpotifyClientID)
	cfg.SpotifyClientSecret = envString("SPOTIFY_CLIENT_SECRET", cfg.SpotifyClientSecret)
	cfg.LibraryReindexInterval = envString("GATEWAY_LIBRARY_REINDEX", cfg.LibraryReindexInterval)
	cfg.RandomQueueLimit = envInt("GATEWAY_RANDOM_QUEUE_LIMIT", cfg.RandomQueueLimit)
	cfg.TTSCacheMaxAgeHours = envInt("GATEWAY_TTS_CACHE_MAX_AGE_HOURS", cfg.TTSCacheMaxAgeHours)
	cfg.TTSHostIP = envString("GATEWAY_TTS_HOST_IP", cfg.TTSHostIP)
	cfg.LogLevel = envString("GATEWAY_LOG_LEVEL", cfg.LogLevel)

	if cfg.AnnounceVolume < 0 || cfg.AnnounceVolume > 100 {
		return Config{}, fmt.Errorf("announceVolume must be 0..100, got %d", cfg.AnnounceVolume)
	}
	if _, err := ParseReindexInterval(cfg.LibraryReindexInterval); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReindexInterval returns the parsed library reindex period.
func (c Config) ReindexInterval() time.Duration {
	d, _ := ParseReindexInterval(c.LibraryReindexInterval)
	return d
}

// DataPath joins a cache file name onto the data directory.
func (c Config) DataPath(name string) string {
	return filepath.Join(c.DataDir, name)
}

var reindexGrammar = regexp.MustCompile(`^(\d+)(h|d|w)$`)

// ParseReindexInterval parses the compact interval grammar <int>(h|d|w).
func ParseReindexInterval(s string) (time.Duration, error) {
	match := reindexGrammar.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return 0, fmt.Errorf("invalid reindex interval %q, want <int>(h|d|w)", s)
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid reindex interval %q, want <int>(h|d|w)", s)
	}
	switch match[2] {
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envCSV(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
