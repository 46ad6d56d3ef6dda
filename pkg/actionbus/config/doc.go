/*
Package config loads action bus settings from YAML, JSON, or the environment.

# File Format

	prefixes:
	  - name: billing
	    checkin: billing-started
	  - name: shipping
	buffer_size: 512
	error_buffer: 64
	journal_path: ./failures.db
	nats:
	  url: nats://127.0.0.1:4222
	  subject: actions
	  ingest: true
	  ingest_timeout: 5s

Load it with:

	cfg, err := config.FromFile("actionbus.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	settings, err := config.SettingsFrom(cfg)

# Environment

SettingsFromEnv reads ACTIONBUS_* variables. Prefixes are given as a comma
separated list of name[:checkin] pairs:

	ACTIONBUS_PREFIXES=billing:billing-started,shipping
	ACTIONBUS_BUFFER_SIZE=512

# Typed Access

Config wraps the decoded map and returns defaults for missing keys or
mismatched types, so partial files never fail to load.

Note that the correlation expiry window is fixed and is not configurable.
*/
package config
