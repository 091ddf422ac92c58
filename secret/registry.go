package secret

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// OpenFunc opens a provider from its settings in the secrets section of
// the chain configuration.
type OpenFunc func(settings map[string]any) (Provider, error)

// Registry maps provider names to the functions that open them.
type Registry struct {
	mu   sync.RWMutex
	open map[string]OpenFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{open: make(map[string]OpenFunc)}
}

// NewDefaultRegistry returns a registry with the env and file providers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("env", openEnv)
	_ = r.Register("file", openFile)
	return r
}

// Register adds open under name. Names are unique.
func (r *Registry) Register(name string, open OpenFunc) error {
	name = strings.TrimSpace(name)
	if name == "" || open == nil {
		return fmt.Errorf("%w: provider registration needs a name and an open function", ErrInvalidSetting)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.open[name]; dup {
		return fmt.Errorf("secret: provider %q already registered", name)
	}
	r.open[name] = open
	return nil
}

// Open opens the provider registered under name.
func (r *Registry) Open(name string, settings map[string]any) (Provider, error) {
	r.mu.RLock()
	open, ok := r.open[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, name)
	}
	p, err := open(settings)
	if err != nil {
		return nil, fmt.Errorf("secret: open %s: %w", name, err)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.open))
}

func openEnv(settings map[string]any) (Provider, error) {
	var p EnvProvider
	if err := decodeSettings(settings, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func openFile(settings map[string]any) (Provider, error) {
	var p FileProvider
	if err := decodeSettings(settings, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// decodeSettings decodes settings into out, rejecting unknown keys and
// values of the wrong type.
func decodeSettings(settings map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(settings); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}
	return nil
}
