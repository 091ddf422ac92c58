package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Dependencies are the long-lived collaborators shared by every strategy
// a Registry builds. They must be safe for concurrent use.
type Dependencies struct {
	Store        IdentityStore
	Codec        TokenCodec
	Assertions   AssertionVerifier
	Certificates *CertificateAuthenticators
	Collective   CollectiveTrust
	Mechanisms   *MechanismRegistry
	Audit        AuditFunc
}

// StrategyBuilder validates strategy configuration and returns a factory
// for fresh instances.
type StrategyBuilder func(cfg map[string]any, deps Dependencies) (StrategyFactory, error)

// Registry manages strategy builders keyed by strategy type.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]StrategyBuilder
}

// NewRegistry creates a new strategy registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]StrategyBuilder),
	}
}

// Register adds a strategy builder.
func (r *Registry) Register(typ string, builder StrategyBuilder) error {
	if typ == "" || builder == nil {
		return errors.New("auth: invalid strategy registration")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[typ]; exists {
		return fmt.Errorf("auth: strategy %q already registered", typ)
	}

	r.builders[typ] = builder
	return nil
}

// Build returns a factory for the strategy type. Configuration problems
// are reported here rather than at attempt time.
func (r *Registry) Build(typ string, cfg map[string]any, deps Dependencies) (StrategyFactory, error) {
	r.mu.RLock()
	builder, ok := r.builders[typ]
	r.mu.RUnlock()

	if !ok {
		return nil, NewFailure(ReasonConfiguration, typ, fmt.Errorf("strategy type %q not registered", typ))
	}

	f, err := builder(cfg, deps)
	if err != nil {
		return nil, asFailure(err, typ, ReasonConfiguration)
	}
	return f, nil
}

// List returns registered strategy types.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeConfig decodes a strategy's config map into out. Unknown keys
// and mistyped values are configuration errors.
func decodeConfig(cfg map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(cfg)
}

type passwordConfig struct {
	Qualifier string `mapstructure:"qualifier"`
}

type assertionConfig struct {
	AllowWithoutPassword bool   `mapstructure:"allow_without_password"`
	Qualifier            string `mapstructure:"qualifier"`
}

type externalConfig struct {
	Mechanism string `mapstructure:"mechanism"`
}

// DefaultRegistry is the global strategy registry with built-in builders.
var DefaultRegistry = NewRegistry()

func init() {
	_ = DefaultRegistry.Register("password", func(cfg map[string]any, deps Dependencies) (StrategyFactory, error) {
		var c passwordConfig
		if err := decodeConfig(cfg, &c); err != nil {
			return nil, err
		}
		if deps.Store == nil {
			return nil, errors.New("password strategy requires an identity store")
		}
		opts := PasswordOptions{Audit: deps.Audit}
		if c.Qualifier != "" {
			opts.Names = QualifiedNameResolver(c.Qualifier)
		}
		return func() (Strategy, error) {
			return NewPasswordStrategy(deps.Store, opts), nil
		}, nil
	})

	_ = DefaultRegistry.Register("certificate", func(cfg map[string]any, deps Dependencies) (StrategyFactory, error) {
		if err := decodeConfig(cfg, &struct{}{}); err != nil {
			return nil, err
		}
		opts := CertificateOptions{
			Collective: deps.Collective,
			Plugins:    deps.Certificates,
			Audit:      deps.Audit,
		}
		return func() (Strategy, error) {
			return NewCertificateStrategy(deps.Store, opts), nil
		}, nil
	})

	_ = DefaultRegistry.Register("assertion", func(cfg map[string]any, deps Dependencies) (StrategyFactory, error) {
		var c assertionConfig
		if err := decodeConfig(cfg, &c); err != nil {
			return nil, err
		}
		opts := AssertionOptions{AllowAssertionWithoutPassword: c.AllowWithoutPassword, Audit: deps.Audit}
		if c.Qualifier != "" {
			opts.Names = QualifiedNameResolver(c.Qualifier)
		}
		if opts.AllowAssertionWithoutPassword && deps.Store == nil {
			return nil, errors.New("assertion without password requires an identity store")
		}
		return func() (Strategy, error) {
			return NewAssertionStrategy(deps.Store, opts), nil
		}, nil
	})

	_ = DefaultRegistry.Register("token", func(cfg map[string]any, deps Dependencies) (StrategyFactory, error) {
		if err := decodeConfig(cfg, &struct{}{}); err != nil {
			return nil, err
		}
		if deps.Codec == nil && deps.Assertions == nil {
			return nil, errors.New("token strategy requires a token codec or assertion verifier")
		}
		opts := TokenOptions{Assertions: deps.Assertions, Audit: deps.Audit}
		return func() (Strategy, error) {
			return NewTokenStrategy(deps.Codec, deps.Store, opts), nil
		}, nil
	})

	_ = DefaultRegistry.Register("external", func(cfg map[string]any, deps Dependencies) (StrategyFactory, error) {
		var c externalConfig
		if err := decodeConfig(cfg, &c); err != nil {
			return nil, err
		}
		if c.Mechanism == "" {
			return nil, errors.New("external strategy requires a mechanism name")
		}
		// Resolve once so a missing mechanism fails at build time.
		if _, err := NewDelegatingStrategy(c.Mechanism, deps.Mechanisms); err != nil {
			return nil, err
		}
		return func() (Strategy, error) {
			return NewDelegatingStrategy(c.Mechanism, deps.Mechanisms)
		}, nil
	})
}
