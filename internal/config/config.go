package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

const (
	DefaultPort                 = 3000
	DefaultStoragePath          = "./files"
	DefaultCleanPeriod    int64 = 3600
	DefaultLimitSize      int64 = 10 * 1024 * 1024
	DefaultSyntaxTheme          = "vs"
	DefaultHighlight            = "client"
	DefaultBackend              = "fs"
	DefaultRateBurst            = 20
	DefaultRequestTimeout int64 = 10
	DefaultLogLevel             = "info"

	// ConfigEnvKey names a TOML config file when --config is not given.
	ConfigEnvKey = "YPB_CONFIG"
	envPrefix    = "YPB_"
)

// Backends recognised by the server.
var backends = []string{"fs", "bolt", "sqlite"}

// Config defines runtime configuration for ypb. It is built once at startup
// and passed to every component that needs it.
type Config struct {
	Port           int     `toml:"port"`
	StoragePath    string  `toml:"storage_path"`
	CleanPeriod    int64   `toml:"clean_period"`
	LimitSize      int64   `toml:"limit_size"`
	SyntaxTheme    string  `toml:"syntax_theme"`
	Highlight      string  `toml:"highlight"`
	Backend        string  `toml:"backend"`
	BaseURL        string  `toml:"base_url"`
	BehindProxy    bool    `toml:"behind_proxy"`
	RateLimit      float64 `toml:"rate_limit"`
	RateBurst      int     `toml:"rate_burst"`
	RequestTimeout int64   `toml:"request_timeout"`
	LogLevel       string  `toml:"log_level"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		Port:           DefaultPort,
		StoragePath:    DefaultStoragePath,
		CleanPeriod:    DefaultCleanPeriod,
		LimitSize:      DefaultLimitSize,
		SyntaxTheme:    DefaultSyntaxTheme,
		Highlight:      DefaultHighlight,
		Backend:        DefaultBackend,
		RateBurst:      DefaultRateBurst,
		RequestTimeout: DefaultRequestTimeout,
		LogLevel:       DefaultLogLevel,
	}
}

// Load starts from defaults, applies the TOML file at path (or the file
// named by YPB_CONFIG when path is empty) and then YPB_* environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(ConfigEnvKey))
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	for _, key := range Keys() {
		raw := strings.TrimSpace(getenv(envPrefix + strings.ToUpper(key)))
		if raw == "" {
			continue
		}
		if err := c.Set(key, raw); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, strings.ToUpper(key), err)
		}
	}
	return nil
}

var keys = []string{
	"port",
	"storage_path",
	"clean_period",
	"limit_size",
	"syntax_theme",
	"highlight",
	"backend",
	"base_url",
	"behind_proxy",
	"rate_limit",
	"rate_burst",
	"request_timeout",
	"log_level",
}

// Keys returns the recognised configuration keys.
func Keys() []string {
	return keys
}

// Set parses value into the option named key.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("port must be an integer")
		}
		c.Port = n
	case "storage_path":
		c.StoragePath = value
	case "clean_period", "limit_size", "request_timeout":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s must be an integer", key)
		}
		switch key {
		case "clean_period":
			c.CleanPeriod = n
		case "limit_size":
			c.LimitSize = n
		default:
			c.RequestTimeout = n
		}
	case "syntax_theme":
		c.SyntaxTheme = value
	case "highlight":
		c.Highlight = strings.ToLower(value)
	case "backend":
		c.Backend = strings.ToLower(value)
	case "base_url":
		c.BaseURL = value
	case "behind_proxy":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("behind_proxy must be true or false")
		}
		c.BehindProxy = b
	case "rate_limit":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("rate_limit must be a number")
		}
		c.RateLimit = f
	case "rate_burst":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("rate_burst must be an integer")
		}
		c.RateBurst = n
	case "log_level":
		c.LogLevel = value
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

// Validate reports the first invalid option.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	case strings.TrimSpace(c.StoragePath) == "":
		return errors.New("storage_path is required")
	case c.CleanPeriod <= 0:
		return errors.New("clean_period must be positive")
	case c.LimitSize <= 0:
		return errors.New("limit_size must be positive")
	case c.RequestTimeout <= 0:
		return errors.New("request_timeout must be positive")
	case c.RateLimit < 0:
		return errors.New("rate_limit must not be negative")
	case c.RateLimit > 0 && c.RateBurst <= 0:
		return errors.New("rate_burst must be positive when rate_limit is set")
	case c.Highlight != "client" && c.Highlight != "server":
		return fmt.Errorf("highlight must be client or server, got %q", c.Highlight)
	}
	for _, b := range backends {
		if c.Backend == b {
			return nil
		}
	}
	return fmt.Errorf("backend must be one of %s, got %q", strings.Join(backends, ", "), c.Backend)
}

// Retention is the age after which blobs are swept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.CleanPeriod) * time.Second
}

// Timeout is the per-request deadline.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Addr is the listen address for Port.
func (c *Config) Addr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Port)
}

// RegisterFlags adds a command-line flag for every option.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.IntP("port", "p", d.Port, "port to listen on")
	fs.StringP("storage-path", "s", d.StoragePath, "path to the file storage directory")
	fs.Int64P("clean-period", "c", d.CleanPeriod, "age in seconds after which files are deleted")
	fs.Int64P("limit-size", "l", d.LimitSize, "upload size limit in bytes")
	fs.StringP("syntax-theme", "t", d.SyntaxTheme, "syntax highlighting theme")
	fs.String("highlight", d.Highlight, "where to highlight code: client or server")
	fs.String("backend", d.Backend, "storage backend: fs, bolt or sqlite")
	fs.String("base-url", d.BaseURL, "canonical base URL used in upload responses")
	fs.Bool("behind-proxy", d.BehindProxy, "trust proxy headers for client addresses")
	fs.Float64("rate-limit", d.RateLimit, "requests per second allowed per client (0 disables)")
	fs.Int("rate-burst", d.RateBurst, "burst size for the per-client rate limit")
	fs.Int64("request-timeout", d.RequestTimeout, "per-request timeout in seconds")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn or error")
}

// ApplyFlags copies every flag the user set explicitly onto c.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	for _, key := range keys {
		name := strings.ReplaceAll(key, "_", "-")
		flag := fs.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := c.Set(key, flag.Value.String()); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}
	return nil
}
