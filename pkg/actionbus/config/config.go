package config

import (
	"time"
)

// Config is a decoded settings document: the top level of an actionbus
// YAML or JSON file, or one nested mapping inside it such as the nats
// section or a single prefixes entry.
//
// Lookups never fail. A missing key, or a value of the wrong shape, yields
// the caller's default, and SettingsFrom decides which of those cases are
// errors worth reporting.
type Config struct {
	data map[string]any
}

// New wraps a decoded mapping. A nil map behaves as an empty document.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// lookup returns the value under key when it has type T.
func lookup[T any](c Config, key string) (T, bool) {
	v, ok := c.data[key].(T)
	return v, ok
}

// String returns a text value such as journal_path or nats.url.
func (c Config) String(key, defaultVal string) string {
	if s, ok := lookup[string](c, key); ok {
		return s
	}
	return defaultVal
}

// Duration returns a timeout such as nats.ingest_timeout. Strings use
// time.ParseDuration ("250ms"); bare numbers count seconds.
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch v := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	case time.Duration:
		return v
	}
	return defaultVal
}

// Bool returns a switch such as nats.ingest.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := lookup[bool](c, key); ok {
		return b
	}
	return defaultVal
}

// Int returns a size such as buffer_size or error_buffer. YAML decodes
// these as int and JSON as float64; a float with a fraction is rejected.
func (c Config) Int(key string, defaultVal int) int {
	switch v := c.data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return defaultVal
}

// Section returns the mapping under key, e.g. the nats block.
// Anything else reads as an empty section, so its keys take their defaults.
func (c Config) Section(key string) Config {
	m, _ := lookup[map[string]any](c, key)
	return New(m)
}

// List returns the sequence under key, or nil when it is absent or not a
// sequence. Items keep their decoded form: a prefixes entry is either a
// "name:checkin" string or a mapping, which the caller wraps with New.
func (c Config) List(key string) []any {
	l, _ := lookup[[]any](c, key)
	return l
}

// Has reports whether key is present, whatever its value. Paired with List
// it tells a missing prefixes key apart from a malformed one.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}
