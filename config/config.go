package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/authchain/auth"
	"github.com/jonwraymond/authchain/cache"
	"github.com/jonwraymond/authchain/introspect"
	"github.com/jonwraymond/authchain/kerberos"
	"github.com/jonwraymond/authchain/observe"
	"github.com/jonwraymond/authchain/store"
)

// ErrInvalid wraps every validation error. It matches
// auth.ErrConfiguration.
var ErrInvalid = fmt.Errorf("config: %w", auth.ErrConfiguration)

// Config is a chain definition.
type Config struct {
	// Name is the chain name used in telemetry. Default: "default".
	Name string `yaml:"name"`

	Observe      *observe.Config     `yaml:"observe"`
	Secrets      SecretsConfig       `yaml:"secrets"`
	Store        *StoreConfig        `yaml:"store"`
	Token        *TokenConfig        `yaml:"token"`
	Collective   *CollectiveConfig   `yaml:"collective"`
	Certificates []CertificatePlugin `yaml:"certificates" validate:"dive"`
	Kerberos     *KerberosConfig     `yaml:"kerberos"`
	OAuth2       *OAuth2Config       `yaml:"oauth2"`
	HTTP         auth.HTTPConfig     `yaml:"http"`
	Strategies   []StrategyConfig    `yaml:"strategies" jsonschema:"required,minItems=1"`
}

// SecretsConfig configures secret providers. The env provider is always
// available.
type SecretsConfig struct {
	// Strict rejects secrets that resolve to an empty value.
	Strict    bool             `yaml:"strict"`
	Providers []ProviderConfig `yaml:"providers" validate:"dive"`
}

// ProviderConfig selects a secret provider.
type ProviderConfig struct {
	Name   string         `yaml:"name" validate:"required"`
	Config map[string]any `yaml:"config"`
}

// StoreConfig configures the identity store.
type StoreConfig struct {
	// Type is "memory", "sqlite" or "postgres".
	Type  string `yaml:"type" validate:"required,oneof=memory sqlite postgres" jsonschema:"required,enum=memory,enum=sqlite,enum=postgres"`
	Realm string `yaml:"realm" validate:"required" jsonschema:"required"`

	// Path is the SQLite database path. ":memory:" is allowed.
	Path string `yaml:"path" validate:"required_if=Type sqlite"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn" validate:"required_if=Type postgres"`

	// MaxConns bounds the PostgreSQL pool.
	MaxConns int32 `yaml:"max_conns" validate:"gte=0"`

	// Users seeds the store.
	Users []UserConfig `yaml:"users"`

	// Cache enables lookup caching when its TTL is positive.
	Cache *cache.Policy `yaml:"cache"`

	// CacheDir keeps the lookup cache in a Badger database under this
	// directory instead of process memory.
	CacheDir string `yaml:"cache_dir"`

	// Guard enables retries and circuit breaking.
	Guard *store.GuardConfig `yaml:"guard"`
}

// UserConfig is a seeded user. Password, when set, is resolved and hashed
// at build time.
type UserConfig struct {
	store.User `yaml:",inline"`
	Password   string `yaml:"password"`
}

// TokenConfig configures token signing and verification.
type TokenConfig struct {
	Issuer string        `yaml:"issuer"`
	TTL    time.Duration `yaml:"ttl" validate:"gte=0"`
	Leeway time.Duration `yaml:"leeway" validate:"gte=0"`

	// Secret is the HS256 secret, at least 32 bytes.
	Secret string `yaml:"secret"`

	// PrivateKeyFile is a PEM RSA private key for RS256.
	PrivateKeyFile string `yaml:"private_key_file"`
	KeyID          string `yaml:"key_id"`

	// JWKSURL provides RS256 verification keys.
	JWKSURL      string        `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`

	// Assertions enables signed assertions with the same keys.
	Assertions bool `yaml:"assertions"`
}

// CollectiveConfig configures collective certificate trust.
type CollectiveConfig struct {
	// CAFile is a PEM bundle of collective CA certificates.
	CAFile string `yaml:"ca_file" validate:"required"`
}

// CertificatePlugin maps certificates by organizational unit.
type CertificatePlugin struct {
	Name    string `yaml:"name" validate:"required"`
	OrgUnit string `yaml:"org_unit" validate:"required"`
	Type    string `yaml:"type"`
	Realm   string `yaml:"realm" validate:"required"`
}

// KerberosConfig configures the kerberos external mechanism.
type KerberosConfig struct {
	kerberos.Config `yaml:",inline"`

	// MapToStore resolves principals through the identity store.
	MapToStore bool `yaml:"map_to_store"`
}

// OAuth2Config configures the oauth2 introspection mechanism.
type OAuth2Config struct {
	introspect.Config `yaml:",inline"`

	// MapToStore resolves introspected principals through the identity
	// store.
	MapToStore bool `yaml:"map_to_store"`
}

// StrategyConfig is one chain entry.
type StrategyConfig struct {
	// Type selects the builder in auth.DefaultRegistry.
	Type string `yaml:"type" jsonschema:"required"`

	// Name labels the entry in telemetry. Default: Type.
	Name string `yaml:"name"`

	Config map[string]any `yaml:"config"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration without touching external resources.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if len(c.Strategies) == 0 {
		add("no strategies configured")
	}
	known := auth.DefaultRegistry.List()
	for i, s := range c.Strategies {
		if !contains(known, s.Type) {
			add("strategies[%d]: unknown type %q", i, s.Type)
		}
	}

	var fieldErrs validator.ValidationErrors
	if err := validate.Struct(c); errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			add("%s", describeFieldError(fe))
		}
	} else if err != nil {
		add("%v", err)
	}

	if s := c.Store; s != nil && s.Cache != nil {
		if err := s.Cache.Validate(); err != nil {
			add("store: %v", err)
		}
	}

	if t := c.Token; t != nil {
		if t.Secret == "" && t.PrivateKeyFile == "" && t.JWKSURL == "" {
			add("token: one of secret, private_key_file or jwks_url is required")
		}
		if t.Secret != "" && (t.PrivateKeyFile != "" || t.JWKSURL != "") {
			add("token: secret cannot be combined with RSA keys")
		}
	}

	for i, p := range c.Certificates {
		if p.Type != "" && !auth.AccessIDType(p.Type).Valid() {
			add("certificates[%d]: unknown type %q", i, p.Type)
		}
	}

	if c.Observe != nil {
		if err := c.Observe.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: observe: %v", ErrInvalid, err))
		}
	}
	return errors.Join(errs...)
}

// validate checks the validate struct tags. Field errors are named by
// their YAML paths.
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}()

func describeFieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	parent := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		parent = path[:i]
	}
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "required_if":
		params := strings.Fields(fe.Param())
		return fmt.Sprintf("%s: %s requires %s", parent, params[len(params)-1], fe.Field())
	case "oneof":
		return fmt.Sprintf("%s: unknown %s %q (want one of %s)", parent, fe.Field(), fe.Value(), fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s=%s", path, fe.Tag(), fe.Param())
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
