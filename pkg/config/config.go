// Package config loads accessgate configuration.
//
// Values are layered with koanf: built-in defaults, then an optional TOML
// file, then the environment. Environment variables use the ACCESSGATE_
// prefix with "__" separating sections, e.g. ACCESSGATE_SERVER__PORT=9090.
// CF_TEAM_DOMAIN is honoured as an alias for broker.domain. String values of
// the form "file:///path" are replaced with the contents of that file.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/deepworx/accessgate/pkg/health"
	"github.com/deepworx/accessgate/pkg/keycell"
	"github.com/deepworx/accessgate/pkg/otel"
	"github.com/deepworx/accessgate/pkg/rotator"
	"github.com/deepworx/accessgate/pkg/slogutil"
	"github.com/deepworx/accessgate/pkg/validator"
	"github.com/deepworx/accessgate/pkg/verifyhttp"
)

const (
	// EnvPrefix prefixes every accessgate environment variable.
	EnvPrefix = "ACCESSGATE_"

	// PathEnv names the variable holding the config file path.
	PathEnv = EnvPrefix + "CONFIG"

	// TeamDomainEnv is accepted as an alias for broker.domain.
	TeamDomainEnv = "CF_TEAM_DOMAIN"

	envSectionSep = "__"
)

// Config is the complete service configuration.
type Config struct {
	Broker     BrokerConfig     `koanf:"broker"`
	Server     ServerConfig     `koanf:"server"`
	Rotation   RotationConfig   `koanf:"rotation"`
	Validation ValidationConfig `koanf:"validation"`
	Log        slogutil.Config  `koanf:"log"`
	Telemetry  otel.Config      `koanf:"telemetry"`
	Health     health.Config    `koanf:"health"`
}

// BrokerConfig describes the identity broker.
type BrokerConfig struct {
	// Domain is the broker base URL. It is the certs endpoint base and the
	// exact expected "iss" claim. Required.
	Domain string `koanf:"domain"`

	// HTTPTimeout bounds one certs fetch.
	HTTPTimeout time.Duration `koanf:"http_timeout"`

	// TokenHeader is the request header carrying the token.
	TokenHeader string `koanf:"token_header"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host to bind. Empty binds all interfaces.
	Host string `koanf:"host"`

	Port int `koanf:"port"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// RotationConfig configures key refresh and key expiry.
type RotationConfig struct {
	Interval               time.Duration `koanf:"interval"`
	MaxConsecutiveFailures int           `koanf:"max_consecutive_failures"`
	InitialBackoff         time.Duration `koanf:"initial_backoff"`
	MaxBackoff             time.Duration `koanf:"max_backoff"`

	// ValidityWindow is how long a fetched key stays usable. 0 disables expiry.
	ValidityWindow time.Duration `koanf:"validity_window"`
}

// Rotator returns the rotator settings.
func (r RotationConfig) Rotator() rotator.Config {
	return rotator.Config{
		Interval:               r.Interval,
		MaxConsecutiveFailures: r.MaxConsecutiveFailures,
		InitialBackoff:         r.InitialBackoff,
		MaxBackoff:             r.MaxBackoff,
	}
}

// ValidationConfig configures claim checks.
type ValidationConfig struct {
	// Leeway is the clock skew tolerated on time-based claims. 0 disables it.
	Leeway time.Duration `koanf:"leeway"`
}

// Default returns the built-in configuration. Broker.Domain is left empty.
func Default() Config {
	rot := rotator.DefaultConfig()
	return Config{
		Broker: BrokerConfig{
			HTTPTimeout: rotator.DefaultHTTPTimeout,
			TokenHeader: verifyhttp.DefaultTokenHeader,
		},
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Rotation: RotationConfig{
			Interval:               rot.Interval,
			MaxConsecutiveFailures: rot.MaxConsecutiveFailures,
			InitialBackoff:         rot.InitialBackoff,
			MaxBackoff:             rot.MaxBackoff,
			ValidityWindow:         keycell.DefaultValidityWindow,
		},
		Validation: ValidationConfig{
			Leeway: validator.DefaultConfig().Leeway,
		},
		Log:       slogutil.DefaultConfig(),
		Telemetry: otel.DefaultConfig(),
		Health:    health.DefaultConfig(),
	}
}

// Load reads configuration from defaults, the TOML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(defaultsProvider(Default()), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(TeamDomainEnv, ".", teamDomainKey), nil); err != nil {
		return nil, fmt.Errorf("load %s: %w", TeamDomainEnv, err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Load(&fileRefProvider{k: k}, nil); err != nil {
		return nil, fmt.Errorf("resolve file references: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PathFromEnv returns the config file path from the environment, if any.
func PathFromEnv() string {
	return os.Getenv(PathEnv)
}

// Validate checks that the configuration can start the service.
func (c *Config) Validate() error {
	if c.Broker.Domain == "" {
		return fmt.Errorf("validate config: %w", ErrBrokerDomainRequired)
	}
	u, err := url.Parse(c.Broker.Domain)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("validate config: %w: %q", ErrInvalidBrokerDomain, c.Broker.Domain)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("validate config: %w: %d", ErrInvalidPort, c.Server.Port)
	}

	positive := []struct {
		key string
		d   time.Duration
	}{
		{"broker.http_timeout", c.Broker.HTTPTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"rotation.interval", c.Rotation.Interval},
		{"rotation.initial_backoff", c.Rotation.InitialBackoff},
		{"rotation.max_backoff", c.Rotation.MaxBackoff},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("validate config: %w: %s must be positive, got %s", ErrInvalidDuration, p.key, p.d)
		}
	}
	if c.Rotation.InitialBackoff > c.Rotation.MaxBackoff {
		return fmt.Errorf("validate config: %w: rotation.initial_backoff %s exceeds rotation.max_backoff %s",
			ErrInvalidDuration, c.Rotation.InitialBackoff, c.Rotation.MaxBackoff)
	}
	if c.Rotation.ValidityWindow < 0 {
		return fmt.Errorf("validate config: %w: rotation.validity_window must not be negative", ErrInvalidDuration)
	}
	if c.Validation.Leeway < 0 {
		return fmt.Errorf("validate config: %w: validation.leeway must not be negative", ErrInvalidDuration)
	}

	if c.Rotation.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("validate config: %w: %d", ErrInvalidFailureCeiling, c.Rotation.MaxConsecutiveFailures)
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// envKey maps ACCESSGATE_SECTION__KEY to section.key.
func envKey(key, value string) (string, any) {
	name := strings.TrimPrefix(key, EnvPrefix)
	if key == PathEnv || value == "" {
		return "", nil
	}
	return strings.ReplaceAll(strings.ToLower(name), envSectionSep, "."), value
}

func teamDomainKey(key, value string) (string, any) {
	if key != TeamDomainEnv || value == "" {
		return "", nil
	}
	return "broker.domain", value
}
