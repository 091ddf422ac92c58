package kerberos

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/jonwraymond/authchain/auth"
)

// Environment variables that override Config values.
const (
	EnvKeytab    = "AUTHCHAIN_KERBEROS_KEYTAB"
	EnvPrincipal = "AUTHCHAIN_KERBEROS_PRINCIPAL"
)

// DefaultMaxClockSkew is used when Config.MaxClockSkew is zero.
const DefaultMaxClockSkew = 5 * time.Minute

// ErrNotConfigured is returned by New for incomplete configuration. It
// matches auth.ErrConfiguration.
var ErrNotConfigured = fmt.Errorf("kerberos: %w", auth.ErrConfiguration)

// Config configures ticket verification.
type Config struct {
	// KeytabPath is the service keytab file.
	KeytabPath string `yaml:"keytab_path"`

	// ServicePrincipal selects the keytab entry, e.g. "HTTP/app.example.com".
	ServicePrincipal string `yaml:"service_principal"`

	// MaxClockSkew tolerates client clock drift. Default: 5 minutes.
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`
}

// resolve applies environment overrides and defaults.
func (c Config) resolve() (Config, error) {
	if v := os.Getenv(EnvKeytab); v != "" {
		c.KeytabPath = v
	}
	if v := os.Getenv(EnvPrincipal); v != "" {
		c.ServicePrincipal = v
	}
	if c.MaxClockSkew == 0 {
		c.MaxClockSkew = DefaultMaxClockSkew
	}

	var errs []error
	if c.KeytabPath == "" {
		errs = append(errs, fmt.Errorf("%w: keytab path not set (keytab_path or %s)", ErrNotConfigured, EnvKeytab))
	}
	if c.ServicePrincipal == "" {
		errs = append(errs, fmt.Errorf("%w: service principal not set (service_principal or %s)", ErrNotConfigured, EnvPrincipal))
	}
	if c.MaxClockSkew < 0 {
		errs = append(errs, fmt.Errorf("%w: negative max clock skew", ErrNotConfigured))
	}
	return c, errors.Join(errs...)
}

func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}
	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}
	return kt, nil
}
