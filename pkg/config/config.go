// Package config loads devcli settings from a YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	BackendHost   = "host"
	BackendDocker = "docker"
)

// Config defines runtime settings for devcli.
type Config struct {
	// Root is the directory every file tool is contained in.
	Root string `yaml:"root"`

	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"baseURL"`
	APIKey   string `yaml:"apiKey"`

	Log       LogConfig       `yaml:"log"`
	Session   SessionConfig   `yaml:"session"`
	Command   CommandConfig   `yaml:"command"`
	Voice     VoiceConfig     `yaml:"voice"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	// File receives log output. Empty means stderr.
	File string `yaml:"file"`
}

type SessionConfig struct {
	MaxRounds     int           `yaml:"maxRounds"`
	MaxDuration   time.Duration `yaml:"maxDuration"`
	OracleTimeout time.Duration `yaml:"oracleTimeout"`
	RetryAttempts int           `yaml:"retryAttempts"`
	Instructions  string        `yaml:"instructions"`
}

type CommandConfig struct {
	Backend   string        `yaml:"backend"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxOutput int           `yaml:"maxOutput"`
	// Image is used by the docker backend.
	Image string `yaml:"image"`
}

type VoiceConfig struct {
	// ListenCommand records speech and prints the transcript on stdout.
	// Empty disables voice input.
	ListenCommand string `yaml:"listenCommand"`
	// SpeakCommand reads text on stdin and speaks it. {rate} is replaced by
	// Rate. Empty selects a platform default.
	SpeakCommand string `yaml:"speakCommand"`
	Rate         int    `yaml:"rate"`
	Mute         bool   `yaml:"mute"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// AllowedOrigins lists the browser origins, besides the server's own
	// host, that may call the API.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type TelemetryConfig struct {
	// Traces enables span export to TraceFile (stdout when empty).
	Traces    bool   `yaml:"traces"`
	TraceFile string `yaml:"traceFile"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Root:     ".",
		Provider: ProviderOpenAI,
		Model:    "gemini-1.5-flash",
		BaseURL:  "https://generativelanguage.googleapis.com/v1beta/openai/",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			MaxRounds:     25,
			MaxDuration:   10 * time.Minute,
			OracleTimeout: 2 * time.Minute,
			RetryAttempts: 3,
		},
		Command: CommandConfig{
			Backend:   BackendHost,
			Timeout:   60 * time.Second,
			MaxOutput: 1 << 20,
			Image:     "alpine:3.20",
		},
		Voice: VoiceConfig{
			Rate: 170,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
	}
}

// Load reads the .env file in the working directory, then the YAML file at
// path, then applies environment overrides. An empty path selects
// DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns the default location for the config file.
func DefaultPath() string {
	if path := os.Getenv("DEVCLI_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(StateDir(), "config.yaml")
}

// StateDir is where devcli keeps its own files, outside any project root.
// DEVCLI_HOME overrides it.
func StateDir() string {
	if dir := os.Getenv("DEVCLI_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "devcli")
	}
	return filepath.Join(home, ".devcli")
}

// StatePath returns name inside StateDir, creating the directory.
func StatePath(name string) (string, error) {
	dir := StateDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"DEVCLI_ROOT":       &c.Root,
		"DEVCLI_PROVIDER":   &c.Provider,
		"DEVCLI_MODEL":      &c.Model,
		"DEVCLI_BASE_URL":   &c.BaseURL,
		"DEVCLI_COMMAND":    &c.Command.Backend,
		"DEVCLI_LISTEN_CMD": &c.Voice.ListenCommand,
		"DEVCLI_SPEAK_CMD":  &c.Voice.SpeakCommand,
		"DEVCLI_ADDR":       &c.Server.Addr,
		"LOG_LEVEL":         &c.Log.Level,
		"DEVCLI_LOG_FILE":   &c.Log.File,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// GEMINI_API_KEY is the fallback; DEVCLI_API_KEY wins when both are set.
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if v := os.Getenv("DEVCLI_API_KEY"); v != "" {
		c.APIKey = v
	}

	if v := os.Getenv("DEVCLI_MAX_ROUNDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DEVCLI_MAX_ROUNDS %q: %w", v, err)
		}
		c.Session.MaxRounds = n
	}
	if v := os.Getenv("DEVCLI_COMMAND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DEVCLI_COMMAND_TIMEOUT %q: %w", v, err)
		}
		c.Command.Timeout = d
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderOpenAI, ProviderGemini)
	}
	if c.APIKey == "" {
		return errors.New("GEMINI_API_KEY is not set in your environment or .env file")
	}
	if c.Model == "" {
		return errors.New("model must not be empty")
	}
	switch c.Command.Backend {
	case BackendHost, BackendDocker:
	default:
		return fmt.Errorf("unknown command backend %q (want %s or %s)", c.Command.Backend, BackendHost, BackendDocker)
	}
	if c.Command.Timeout < 0 {
		return errors.New("command timeout must not be negative")
	}
	if c.Session.MaxRounds < 1 {
		return errors.New("session.maxRounds must be at least 1")
	}
	if c.Session.MaxDuration <= 0 {
		return errors.New("session.maxDuration must be positive")
	}
	if c.Voice.Rate <= 0 {
		return errors.New("voice.rate must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// AbsRoot resolves Root against the working directory.
func (c *Config) AbsRoot() (string, error) {
	root := c.Root
	if strings.HasPrefix(root, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		root = filepath.Join(home, root[2:])
	}
	return filepath.Abs(root)
}
