// Package config loads server settings: defaults, then an optional TOML file,
// then a .env file, then ENTITYSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/entity-sync/internal/envelope"
)

const EnvPrefix = "ENTITYSYNC_"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Addr              string
	TickInterval      time.Duration
	OutboxSize        int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	Compression       envelope.Codec
	CompressThreshold int
	LogLevel          string
	LogFormat         string // "json" or "console"
	DatabaseURL       string // empty disables the presence journal
	Profile           string // "", "cpu" or "mem"
}

func Default() Config {
	return Config{
		Addr:              ":8080",
		TickInterval:      50 * time.Millisecond,
		OutboxSize:        64,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Second,
		MaxMessageBytes:   1 << 20,
		Compression:       envelope.CodecS2,
		CompressThreshold: 512,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// config.toml key mapping.
type fileConfig struct {
	Addr              string   `toml:"addr"`
	TickInterval      duration `toml:"tick_interval"`
	OutboxSize        int      `toml:"outbox_size"`
	ReadTimeout       duration `toml:"read_timeout"`
	WriteTimeout      duration `toml:"write_timeout"`
	MaxMessageBytes   int64    `toml:"max_message_bytes"`
	Compression       string   `toml:"compression"`
	CompressThreshold int      `toml:"compress_threshold"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`
	DatabaseURL       string   `toml:"database_url"`
	Profile           string   `toml:"profile"`
}

// duration decodes TOML strings such as "50ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.loadEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) loadFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("tick_interval") {
		cfg.TickInterval = raw.TickInterval.Duration
	}
	if meta.IsDefined("outbox_size") {
		cfg.OutboxSize = raw.OutboxSize
	}
	if meta.IsDefined("read_timeout") {
		cfg.ReadTimeout = raw.ReadTimeout.Duration
	}
	if meta.IsDefined("write_timeout") {
		cfg.WriteTimeout = raw.WriteTimeout.Duration
	}
	if meta.IsDefined("max_message_bytes") {
		cfg.MaxMessageBytes = raw.MaxMessageBytes
	}
	if meta.IsDefined("compression") {
		c, err := envelope.ParseCodec(strings.TrimSpace(raw.Compression))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.Compression = c
	}
	if meta.IsDefined("compress_threshold") {
		cfg.CompressThreshold = raw.CompressThreshold
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("database_url") {
		cfg.DatabaseURL = strings.TrimSpace(raw.DatabaseURL)
	}
	if meta.IsDefined("profile") {
		cfg.Profile = strings.TrimSpace(raw.Profile)
	}
	return nil
}

func (cfg *Config) loadEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	str("ADDR", &cfg.Addr)
	dur("TICK_INTERVAL", &cfg.TickInterval)
	dur("READ_TIMEOUT", &cfg.ReadTimeout)
	dur("WRITE_TIMEOUT", &cfg.WriteTimeout)
	num("MAX_MESSAGE_BYTES", &cfg.MaxMessageBytes)

	outbox, threshold := int64(cfg.OutboxSize), int64(cfg.CompressThreshold)
	num("OUTBOX_SIZE", &outbox)
	num("COMPRESS_THRESHOLD", &threshold)
	cfg.OutboxSize, cfg.CompressThreshold = int(outbox), int(threshold)

	if v, ok := lookup(EnvPrefix + "COMPRESSION"); ok {
		c, err := envelope.ParseCodec(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCOMPRESSION: %w", EnvPrefix, err))
		} else {
			cfg.Compression = c
		}
	}
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("PROFILE", &cfg.Profile)

	if len(errs) > 0 {
		return fmt.Errorf("load env: %w", errors.Join(errs...))
	}
	return nil
}

func (cfg Config) Validate() error {
	switch {
	case cfg.Addr == "":
		return fmt.Errorf("%w: addr is empty", ErrInvalid)
	case cfg.TickInterval <= 0:
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalid)
	case cfg.OutboxSize <= 0:
		return fmt.Errorf("%w: outbox_size must be positive", ErrInvalid)
	case cfg.ReadTimeout <= 0 || cfg.WriteTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	case cfg.MaxMessageBytes <= 0:
		return fmt.Errorf("%w: max_message_bytes must be positive", ErrInvalid)
	case cfg.CompressThreshold < 0:
		return fmt.Errorf("%w: compress_threshold is negative", ErrInvalid)
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalid, cfg.LogFormat)
	}
	switch cfg.Profile {
	case "", "cpu", "mem":
	default:
		return fmt.Errorf("%w: profile %q", ErrInvalid, cfg.Profile)
	}
	return nil
}
