// Package config loads the tool's run configuration: a YAML file naming
// the two control-plane endpoints and tuning the per-stage waits, with
// environment overrides so credentials never have to live in the file.
//
// Environment variables use the UCSFW prefix and follow the structure of
// the file: UCSFW_VCENTER_URL, UCSFW_VCENTER_USERNAME,
// UCSFW_VCENTER_PASSWORD, UCSFW_UCS_URL, UCSFW_UCS_USERNAME,
// UCSFW_UCS_PASSWORD, UCSFW_LOG_LEVEL, and so on.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/MallocArray/Update-UCSFirmware/pkg/rollout"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "ucsfw"

// Config is the full run configuration.
type Config struct {
	// VCenter is the fleet manager endpoint.
	VCenter Endpoint `yaml:"vcenter"`
	// UCS is the hardware lifecycle manager endpoint.
	UCS Endpoint `yaml:"ucs"`

	// AllowAmbiguousIdentity relaxes hardware correlation: an identity
	// matching several profiles resolves to the lowest profile DN instead
	// of failing the node. Off by default; leave it off unless profile
	// templates legitimately share addresses.
	AllowAmbiguousIdentity bool `yaml:"allow_ambiguous_identity" envconfig:"ALLOW_AMBIGUOUS_IDENTITY"`

	Log   Log   `yaml:"log"`
	Waits Waits `yaml:"waits"`
}

// Endpoint describes one control-plane API endpoint.
type Endpoint struct {
	URL      string `yaml:"url" validate:"required,url"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	// Insecure skips TLS certificate verification. Lab use only.
	Insecure bool `yaml:"insecure"`
}

// Log tunes the diagnostic logger.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Waits tunes the per-stage poll pacing. Values are duration strings
// ("10s", "2m"); anything unset keeps its default. A zero timeout waits
// without bound.
type Waits struct {
	DrainInterval     string `yaml:"drain_interval"`
	DrainTimeout      string `yaml:"drain_timeout"`
	PowerOffInterval  string `yaml:"power_off_interval"`
	PowerOffTimeout   string `yaml:"power_off_timeout"`
	AssociateInterval string `yaml:"associate_interval"`
	AssociateTimeout  string `yaml:"associate_timeout"`
	ReconnectInterval string `yaml:"reconnect_interval"`
	ReconnectTimeout  string `yaml:"reconnect_timeout"`
}

// Default returns the configuration the file and environment are applied
// over.
func Default() *Config {
	return &Config{
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. An empty path skips the file and uses environment
// variables alone.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the YAML file at path and applies environment overrides
// without validating the result. Simulation runs use it so log and wait
// tuning work without real endpoint credentials.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for missing or malformed fields.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		for _, fe := range errs {
			return fmt.Errorf("invalid configuration: field %s failed %q", fe.Namespace(), fe.Tag())
		}
	}
	if _, err := c.WaitConfig(); err != nil {
		return err
	}
	return nil
}

// WaitConfig converts the configured wait tuning into the rollout's wait
// configuration, defaulting every unset value.
func (c *Config) WaitConfig() (*rollout.WaitConfig, error) {
	wc := rollout.DefaultWaitConfig()
	fields := []struct {
		name     string
		value    string
		dst      *time.Duration
		interval bool
	}{
		{"drain_interval", c.Waits.DrainInterval, &wc.DrainInterval, true},
		{"drain_timeout", c.Waits.DrainTimeout, &wc.DrainTimeout, false},
		{"power_off_interval", c.Waits.PowerOffInterval, &wc.PowerOffInterval, true},
		{"power_off_timeout", c.Waits.PowerOffTimeout, &wc.PowerOffTimeout, false},
		{"associate_interval", c.Waits.AssociateInterval, &wc.AssociateInterval, true},
		{"associate_timeout", c.Waits.AssociateTimeout, &wc.AssociateTimeout, false},
		{"reconnect_interval", c.Waits.ReconnectInterval, &wc.ReconnectInterval, true},
		{"reconnect_timeout", c.Waits.ReconnectTimeout, &wc.ReconnectTimeout, false},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return nil, fmt.Errorf("invalid waits.%s %q: %w", f.name, f.value, err)
		}
		if f.interval && d <= 0 {
			return nil, fmt.Errorf("waits.%s must be positive, got %q", f.name, f.value)
		}
		if !f.interval && d < 0 {
			return nil, fmt.Errorf("waits.%s must not be negative, got %q", f.name, f.value)
		}
		*f.dst = d
	}
	return wc, nil
}
