// Package config loads the YAML configuration of a validation setup and
// assembles the validator stack it describes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Revocation checking modes.
const (
	RevocationBoth     = "both"
	RevocationCRLOnly  = "crl-only"
	RevocationOCSPOnly = "ocsp-only"
	RevocationDisabled = "disabled"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return NewConfigError("duration", fmt.Sprintf("invalid duration %q", s))
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PKCS12Store points at a PKCS#12 trust store file.
type PKCS12Store struct {
	// File is the path to the PKCS#12 file.
	File string `yaml:"file"`

	// Passphrase unlocks the store.
	Passphrase string `yaml:"passphrase"`
}

// TrustConfig names the certificate sources of the trust setup.
type TrustConfig struct {
	// AnchorFiles are PEM or DER files holding trust anchor certificates.
	AnchorFiles []string `yaml:"anchors"`

	// PKCS12Stores are PKCS#12 trust stores holding trust anchors.
	PKCS12Stores []PKCS12Store `yaml:"pkcs12-stores"`

	// IntermediateFiles are PEM or DER files holding supporting
	// certificates available for path building.
	IntermediateFiles []string `yaml:"intermediates"`
}

// RevocationConfig controls certificate status checking.
type RevocationConfig struct {
	// Mode selects the status sources: both, crl-only, ocsp-only or
	// disabled.
	Mode string `yaml:"mode"`

	// CacheDir is the directory for the on-disk CRL cache. Empty keeps
	// the cache in memory only.
	CacheDir string `yaml:"cache-dir"`

	// ConnectTimeout bounds establishing a connection to a CRL
	// distribution point.
	ConnectTimeout Duration `yaml:"connect-timeout"`

	// ReadTimeout bounds reading a CRL response.
	ReadTimeout Duration `yaml:"read-timeout"`

	// OCSPTimeout bounds a complete OCSP exchange.
	OCSPTimeout Duration `yaml:"ocsp-timeout"`

	// ResponderDepth is how many issuer levels the responder and CRL
	// issuer certificates are themselves status checked.
	ResponderDepth int `yaml:"responder-depth"`

	// SingleThreaded probes CRL and OCSP sequentially.
	SingleThreaded bool `yaml:"single-threaded"`
}

// SVTConfig controls validation through Signature Validation Tokens.
type SVTConfig struct {
	// Enabled turns SVT processing on.
	Enabled bool `yaml:"enabled"`

	// IssuerCertFiles are PEM or DER files with certificates of accepted
	// token issuers, made available for path building.
	IssuerCertFiles []string `yaml:"issuer-certs"`
}

// PolicyConfig names the validation policy reported in results.
type PolicyConfig struct {
	// Name overrides the default policy identifier.
	Name string `yaml:"name"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is the log format (text, json).
	Format string `yaml:"format"`
}

// Config is the top-level validation configuration.
type Config struct {
	Trust      TrustConfig      `yaml:"trust"`
	Revocation RevocationConfig `yaml:"revocation"`
	SVT        SVTConfig        `yaml:"svt"`
	Policy     PolicyConfig     `yaml:"policy"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Load reads and parses a configuration file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML data. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SetDefaults fills in defaults for fields left unset.
func (c *Config) SetDefaults() {
	if c.Revocation.Mode == "" {
		c.Revocation.Mode = RevocationBoth
	}
	if c.Revocation.ConnectTimeout == 0 {
		c.Revocation.ConnectTimeout = Duration(10 * time.Second)
	}
	if c.Revocation.ReadTimeout == 0 {
		c.Revocation.ReadTimeout = Duration(20 * time.Second)
	}
	if c.Revocation.OCSPTimeout == 0 {
		c.Revocation.OCSPTimeout = Duration(10 * time.Second)
	}
	if c.Revocation.ResponderDepth == 0 {
		c.Revocation.ResponderDepth = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.Trust.AnchorFiles) == 0 && len(c.Trust.PKCS12Stores) == 0 {
		return NewConfigError("trust", "at least one trust anchor source is required")
	}
	for i, store := range c.Trust.PKCS12Stores {
		if store.File == "" {
			return NewConfigError(fmt.Sprintf("trust.pkcs12-stores[%d].file", i), "required field is missing")
		}
	}
	switch c.Revocation.Mode {
	case RevocationBoth, RevocationCRLOnly, RevocationOCSPOnly, RevocationDisabled:
	default:
		return NewConfigError("revocation.mode",
			fmt.Sprintf("unknown mode %q (expected both, crl-only, ocsp-only or disabled)", c.Revocation.Mode))
	}
	if c.Revocation.ResponderDepth < 0 {
		return NewConfigError("revocation.responder-depth", "must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return NewConfigError("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return NewConfigError("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}
	return nil
}
