package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Session string `yaml:"session"`
	// Bus is a signaling bus URL, see signal.Dial.
	Bus string `yaml:"bus"`

	// Role is "actor", "viewer" or empty to derive it from ActorID.
	Role    string `yaml:"role"`
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	ActorID string `yaml:"actor_id"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Timing      TimingConfig      `yaml:"timing"`
	Media       MediaConfig       `yaml:"media"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// CredentialsConfig selects the relay credential source. URL wins over
// TURNSecret; with neither, only STUN is used.
type CredentialsConfig struct {
	URL        string   `yaml:"url"`
	Token      string   `yaml:"token"`
	TURNSecret string   `yaml:"turn_secret"`
	TURNURIs   []string `yaml:"turn_uris"`
	STUN       []string `yaml:"stun"`
}

type TimingConfig struct {
	RefreshMargin time.Duration `yaml:"refresh_margin"`
	MinDelay      time.Duration `yaml:"min_delay"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
}

// MediaConfig lists the H264 files an actor streams. The first is active
// at start.
type MediaConfig struct {
	Sources []string `yaml:"sources"`
	FPS     int      `yaml:"fps"`
}

// Load reads configuration from a .env file (if present), an optional YAML
// file named by ACTORCAST_CONFIG and environment variables. Environment
// variables take precedence over the file.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: "info",
		Media:    MediaConfig{FPS: 30},
	}

	if path := os.Getenv("ACTORCAST_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvironment(cfg); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	return cfg, nil
}

// Validate checks the settings every participant needs.
func (c *Config) Validate() error {
	if c.Session == "" {
		return fmt.Errorf("ACTORCAST_SESSION environment variable is required")
	}
	if c.Bus == "" {
		return fmt.Errorf("ACTORCAST_BUS environment variable is required")
	}
	return nil
}

func applyEnvironment(cfg *Config) error {
	str := map[string]*string{
		"ACTORCAST_SESSION":           &cfg.Session,
		"ACTORCAST_BUS":               &cfg.Bus,
		"ACTORCAST_ROLE":              &cfg.Role,
		"ACTORCAST_ID":                &cfg.ID,
		"ACTORCAST_NAME":              &cfg.Name,
		"ACTORCAST_ACTOR_ID":          &cfg.ActorID,
		"ACTORCAST_CREDENTIALS_URL":   &cfg.Credentials.URL,
		"ACTORCAST_CREDENTIALS_TOKEN": &cfg.Credentials.Token,
		"ACTORCAST_TURN_SECRET":       &cfg.Credentials.TURNSecret,
		"ACTORCAST_METRICS_ADDR":      &cfg.MetricsAddr,
		"ACTORCAST_LOG_LEVEL":         &cfg.LogLevel,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	lists := map[string]*[]string{
		"ACTORCAST_TURN_URIS": &cfg.Credentials.TURNURIs,
		"ACTORCAST_STUN":      &cfg.Credentials.STUN,
		"ACTORCAST_SOURCES":   &cfg.Media.Sources,
	}
	for key, dst := range lists {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	durations := map[string]*time.Duration{
		"ACTORCAST_REFRESH_MARGIN": &cfg.Timing.RefreshMargin,
		"ACTORCAST_MIN_DELAY":      &cfg.Timing.MinDelay,
		"ACTORCAST_SETTLE_DELAY":   &cfg.Timing.SettleDelay,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("ACTORCAST_FPS"); v != "" {
		fps, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ACTORCAST_FPS: %w", err)
		}
		cfg.Media.FPS = fps
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
