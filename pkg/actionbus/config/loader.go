package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// PrefixSetting declares one derived emission prefix.
type PrefixSetting struct {
	Name    string
	Checkin string
}

// Settings holds everything needed to build a bus.
type Settings struct {
	Prefixes    []PrefixSetting
	BufferSize  int
	ErrorBuffer int
	JournalPath string
	NATSURL     string
	NATSSubject string
	// NATSIngest enables reading remote actions from NATS.
	NATSIngest bool
	// NATSIngestTimeout bounds each ingested emit.
	NATSIngestTimeout time.Duration
}

// Defaults used when a setting is absent.
const (
	DefaultBufferSize  = 256
	DefaultErrorBuffer = 64
	DefaultNATSSubject = "actions"

	DefaultNATSIngestTimeout = 5 * time.Second
)

// SettingsFrom extracts Settings from a decoded config.
func SettingsFrom(cfg Config) (Settings, error) {
	s := Settings{
		BufferSize:  cfg.Int("buffer_size", DefaultBufferSize),
		ErrorBuffer: cfg.Int("error_buffer", DefaultErrorBuffer),
		JournalPath: cfg.String("journal_path", ""),
	}

	nats := cfg.Section("nats")
	s.NATSURL = nats.String("url", "")
	s.NATSSubject = nats.String("subject", DefaultNATSSubject)
	s.NATSIngest = nats.Bool("ingest", true)
	s.NATSIngestTimeout = nats.Duration("ingest_timeout", DefaultNATSIngestTimeout)

	if cfg.Has("prefixes") && cfg.List("prefixes") == nil {
		return Settings{}, &Error{Field: "prefixes", Message: "must be a list"}
	}

	for i, raw := range cfg.List("prefixes") {
		var p PrefixSetting
		switch v := raw.(type) {
		case string:
			p = parsePrefix(v)
		case map[string]any:
			entry := New(v)
			p = PrefixSetting{
				Name:    entry.String("name", ""),
				Checkin: entry.String("checkin", ""),
			}
		default:
			return Settings{}, &Error{Field: fmt.Sprintf("prefixes[%d]", i), Message: "must be a string or mapping"}
		}
		s.Prefixes = append(s.Prefixes, p)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// envSettings mirrors Settings for environment parsing.
type envSettings struct {
	Prefixes    []string `env:"ACTIONBUS_PREFIXES" envSeparator:","`
	BufferSize  int      `env:"ACTIONBUS_BUFFER_SIZE" envDefault:"256"`
	ErrorBuffer int      `env:"ACTIONBUS_ERROR_BUFFER" envDefault:"64"`
	JournalPath string   `env:"ACTIONBUS_JOURNAL_PATH"`
	NATSURL     string   `env:"ACTIONBUS_NATS_URL"`
	NATSSubject string   `env:"ACTIONBUS_NATS_SUBJECT" envDefault:"actions"`

	NATSIngest        bool          `env:"ACTIONBUS_NATS_INGEST" envDefault:"true"`
	NATSIngestTimeout time.Duration `env:"ACTIONBUS_NATS_INGEST_TIMEOUT" envDefault:"5s"`
}

// SettingsFromEnv loads Settings from ACTIONBUS_* environment variables.
func SettingsFromEnv() (Settings, error) {
	var raw envSettings
	if err := env.Parse(&raw); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}

	s := Settings{
		BufferSize:  raw.BufferSize,
		ErrorBuffer: raw.ErrorBuffer,
		JournalPath: raw.JournalPath,
		NATSURL:     raw.NATSURL,
		NATSSubject: raw.NATSSubject,

		NATSIngest:        raw.NATSIngest,
		NATSIngestTimeout: raw.NATSIngestTimeout,
	}
	for _, p := range raw.Prefixes {
		if p = strings.TrimSpace(p); p != "" {
			s.Prefixes = append(s.Prefixes, parsePrefix(p))
		}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks settings for consistency.
func (s Settings) Validate() error {
	seen := make(map[string]struct{}, len(s.Prefixes))
	for i, p := range s.Prefixes {
		field := fmt.Sprintf("prefixes[%d]", i)
		if p.Name == "" {
			return &Error{Field: field, Message: "name is required"}
		}
		if _, dup := seen[p.Name]; dup {
			return &Error{Field: field, Message: fmt.Sprintf("duplicate prefix %q", p.Name)}
		}
		seen[p.Name] = struct{}{}
	}
	if s.BufferSize < 0 {
		return &Error{Field: "buffer_size", Message: "must not be negative"}
	}
	if s.ErrorBuffer < 0 {
		return &Error{Field: "error_buffer", Message: "must not be negative"}
	}
	if s.NATSIngestTimeout < 0 {
		return &Error{Field: "nats.ingest_timeout", Message: "must not be negative"}
	}
	return nil
}

// Error reports an invalid setting.
type Error struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

func parsePrefix(s string) PrefixSetting {
	name, checkin, _ := strings.Cut(s, ":")
	return PrefixSetting{Name: strings.TrimSpace(name), Checkin: strings.TrimSpace(checkin)}
}
