package config

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/authchain/auth"
	"github.com/jonwraymond/authchain/cache"
	"github.com/jonwraymond/authchain/health"
	"github.com/jonwraymond/authchain/introspect"
	"github.com/jonwraymond/authchain/kerberos"
	"github.com/jonwraymond/authchain/observe"
	"github.com/jonwraymond/authchain/observe/exporters"
	"github.com/jonwraymond/authchain/secret"
	"github.com/jonwraymond/authchain/store"
	"github.com/jonwraymond/authchain/token"
)

// Runtime is a built chain and the resources it owns.
type Runtime struct {
	Chain *auth.Chain

	// Codec issues and decodes tokens. Nil without a token section.
	Codec *token.Codec

	// Assertions signs and verifies signed assertions. Nil unless
	// token.assertions is set.
	Assertions *token.Assertions

	// Store is the decorated identity store. Nil without a store section.
	Store auth.IdentityStore

	// Guard exposes circuit state. Nil unless store.guard is set.
	Guard *store.Guarded

	HTTP     auth.HTTPConfig
	Observer observe.Observer
	Logger   observe.Logger

	// Metrics serves the Prometheus scrape endpoint. Nil unless the
	// prometheus metrics exporter is configured.
	Metrics http.Handler

	jwks    token.KeyProvider
	keyID   string
	cache   health.Pinger
	closers []func(context.Context) error
}

// Middleware returns HTTP middleware running the chain per request.
func (r *Runtime) Middleware() func(http.Handler) http.Handler {
	return auth.Middleware(r.Chain, r.HTTP)
}

// Health returns an aggregator checking the identity store, its circuit,
// the persistent lookup cache and the JWKS endpoint when configured.
func (r *Runtime) Health() *health.Aggregator {
	agg := health.NewAggregator()
	if r.Store != nil {
		agg.Register(health.NewStoreChecker("store", r.Store, ""))
	}
	if r.Guard != nil {
		agg.Register(health.NewCircuitChecker("store.circuit", r.Guard))
	}
	if r.cache != nil {
		agg.Register(health.NewCacheChecker("store.cache", r.cache))
	}
	if r.jwks != nil {
		agg.Register(health.NewKeyChecker("token.jwks", r.jwks, r.keyID))
	}
	return agg
}

// Close releases the store and flushes telemetry.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Build resolves secrets and wires a Runtime. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg *Config) (_ *Runtime, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{HTTP: cfg.HTTP}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	resolver, err := newResolver(cfg.Secrets)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return resolver.Close() })

	if err := rt.buildObserver(ctx, cfg); err != nil {
		return nil, err
	}
	audit := auditLogger(rt.Logger)

	deps := auth.Dependencies{Audit: audit}
	if cfg.Store != nil {
		if deps.Store, err = rt.buildStore(ctx, cfg.Store, resolver); err != nil {
			return nil, err
		}
	}
	if cfg.Token != nil {
		if err := rt.buildToken(ctx, cfg.Token, resolver); err != nil {
			return nil, err
		}
		if rt.Codec != nil {
			deps.Codec = rt.Codec
		}
		if rt.Assertions != nil {
			deps.Assertions = rt.Assertions
		}
	}
	if cfg.Collective != nil {
		if deps.Collective, err = buildCollective(ctx, cfg.Collective, resolver); err != nil {
			return nil, err
		}
	}
	if len(cfg.Certificates) > 0 {
		deps.Certificates = auth.NewCertificateAuthenticators()
		for _, p := range cfg.Certificates {
			typ := auth.AccessIDType(p.Type)
			if typ == "" {
				typ = auth.AccessIDUser
			}
			if err := deps.Certificates.Register(p.Name, auth.OrgUnitAuthenticator{
				OrgUnit: p.OrgUnit,
				Type:    typ,
				Realm:   p.Realm,
			}); err != nil {
				return nil, fmt.Errorf("%w: certificates: %v", ErrInvalid, err)
			}
		}
	}

	deps.Mechanisms = auth.NewMechanismRegistry()
	if k := cfg.Kerberos; k != nil {
		kcfg := k.Config
		if err := resolver.ResolveInto(ctx, map[string]*string{"kerberos.keytab_path": &kcfg.KeytabPath}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		v, err := kerberos.New(kcfg)
		if err != nil {
			return nil, err
		}
		opts := kerberos.Options{Audit: audit}
		if k.MapToStore {
			if deps.Store == nil {
				return nil, fmt.Errorf("%w: kerberos.map_to_store requires a store", ErrInvalid)
			}
			opts.Store = deps.Store
		}
		kerberos.Register(deps.Mechanisms, v, opts)
	}

	if o := cfg.OAuth2; o != nil {
		icfg := o.Config
		if err := resolver.ResolveInto(ctx, map[string]*string{
			"oauth2.endpoint":      &icfg.Endpoint,
			"oauth2.client_secret": &icfg.ClientSecret,
		}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		in, err := introspect.New(icfg, nil)
		if err != nil {
			return nil, err
		}
		opts := introspect.Options{Audit: audit}
		if o.MapToStore {
			if deps.Store == nil {
				return nil, fmt.Errorf("%w: oauth2.map_to_store requires a store", ErrInvalid)
			}
			opts.Store = deps.Store
		}
		introspect.Register(deps.Mechanisms, in, opts)
	}

	name := cfg.Name
	if name == "" {
		name = auth.DefaultChainName
	}
	opts := []auth.ChainOption{
		auth.WithName(name),
		auth.WithLogger(rt.Logger),
		auth.WithTracer(rt.Observer.LoginTracer()),
		auth.WithMetrics(rt.Observer.LoginMetrics()),
	}
	for i, s := range cfg.Strategies {
		f, err := auth.DefaultRegistry.Build(s.Type, s.Config, deps)
		if err != nil {
			return nil, fmt.Errorf("config: strategies[%d]: %w", i, err)
		}
		opts = append(opts, auth.WithStrategy(strategyName(s), f))
	}
	rt.Chain = auth.NewChain(opts...)
	return rt, nil
}

func strategyName(s StrategyConfig) string {
	if s.Name != "" {
		return s.Name
	}
	if s.Type == "external" {
		if m, _ := s.Config["mechanism"].(string); m != "" {
			return m
		}
	}
	return s.Type
}

func newResolver(cfg SecretsConfig) (*secret.Resolver, error) {
	resolver := secret.NewResolver(cfg.Strict, secret.EnvProvider{})
	registry := secret.NewDefaultRegistry()
	for _, p := range cfg.Providers {
		provider, err := registry.Open(p.Name, p.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: secrets: %v", ErrInvalid, err)
		}
		resolver.Register(provider)
	}
	return resolver, nil
}

func (rt *Runtime) buildObserver(ctx context.Context, cfg *Config) error {
	ocfg := observe.Config{ServiceName: "authchain"}
	if cfg.Observe != nil {
		ocfg = *cfg.Observe
	}
	obs, err := observe.NewObserver(ctx, ocfg)
	if err != nil {
		return fmt.Errorf("config: observe: %w", err)
	}
	rt.Observer = obs
	rt.Logger = obs.Logger()
	if m := ocfg.Metrics; m.Enabled && m.Exporter == "prometheus" {
		rt.Metrics = exporters.MetricsHandler()
	}
	rt.closers = append(rt.closers, obs.Shutdown)
	return nil
}

func auditLogger(logger observe.Logger) auth.AuditFunc {
	return func(ctx context.Context, ev auth.AuditEvent) {
		fields := []observe.Field{
			{Key: "strategy", Value: ev.Strategy},
			{Key: "user", Value: ev.User},
			{Key: "outcome", Value: ev.Outcome.String()},
		}
		if ev.Succeeded() {
			logger.Info(ctx, "credential verified", fields...)
			return
		}
		fields = append(fields, observe.Field{Key: "reason", Value: ev.Reason.String()})
		logger.Warn(ctx, "credential rejected", fields...)
	}
}

func (rt *Runtime) buildStore(ctx context.Context, cfg *StoreConfig, resolver *secret.Resolver) (auth.IdentityStore, error) {
	path, dsn, cacheDir := cfg.Path, cfg.DSN, cfg.CacheDir
	if err := resolver.ResolveInto(ctx, map[string]*string{
		"store.path":      &path,
		"store.dsn":       &dsn,
		"store.cache_dir": &cacheDir,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	users := make([]store.User, 0, len(cfg.Users))
	for i, uc := range cfg.Users {
		u := uc.User
		if uc.Password != "" {
			pw, err := resolver.ResolveValue(ctx, uc.Password)
			if err != nil {
				return nil, fmt.Errorf("%w: store.users[%d].password: %v", ErrInvalid, i, err)
			}
			if u.PasswordHash, err = store.HashPassword(pw); err != nil {
				return nil, fmt.Errorf("%w: store.users[%d]: %v", ErrInvalid, i, err)
			}
		}
		users = append(users, u)
	}

	var base auth.IdentityStore
	switch cfg.Type {
	case "memory":
		ms := store.NewMemoryStore(cfg.Realm)
		for _, u := range users {
			if err := ms.AddUser(u); err != nil {
				return nil, fmt.Errorf("%w: store: %v", ErrInvalid, err)
			}
		}
		base = ms
	case "sqlite":
		ss, err := store.NewSQLiteStore(path, cfg.Realm)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return ss.Close() })
		for _, u := range users {
			if err := ss.AddUser(ctx, u); err != nil {
				return nil, fmt.Errorf("config: store: %w", err)
			}
		}
		base = ss
	case "postgres":
		ps, err := store.NewPostgresStore(ctx, store.PostgresConfig{DSN: dsn, Realm: cfg.Realm, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("config: store: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { ps.Close(); return nil })
		for _, u := range users {
			if err := ps.AddUser(ctx, u); err != nil {
				return nil, fmt.Errorf("config: store: %w", err)
			}
		}
		base = ps
	}

	s := base
	if cfg.Guard != nil {
		gcfg := *cfg.Guard
		logger := rt.Logger
		gcfg.Circuit.OnStateChange = func(from, to store.CircuitState) {
			logger.Warn(context.Background(), "identity store circuit changed",
				observe.Field{Key: "from", Value: from.String()},
				observe.Field{Key: "to", Value: to.String()},
			)
		}
		rt.Guard = store.NewGuarded(s, gcfg)
		s = rt.Guard
	}
	if cfg.Cache != nil && cfg.Cache.ShouldCache() {
		var c cache.Cache
		if cacheDir != "" {
			bc, err := cache.OpenBadgerCache(cacheDir, *cfg.Cache)
			if err != nil {
				return nil, fmt.Errorf("config: store: %w", err)
			}
			rt.closers = append(rt.closers, func(context.Context) error { return bc.Close() })
			c, rt.cache = bc, bc
		}
		s = store.NewCached(s, c, *cfg.Cache)
	}
	rt.Store = s
	return s, nil
}

func (rt *Runtime) buildToken(ctx context.Context, cfg *TokenConfig, resolver *secret.Resolver) error {
	sec, keyFile, jwksURL := cfg.Secret, cfg.PrivateKeyFile, cfg.JWKSURL
	if err := resolver.ResolveInto(ctx, map[string]*string{
		"token.secret":           &sec,
		"token.private_key_file": &keyFile,
		"token.jwks_url":         &jwksURL,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	tcfg := token.Config{
		Issuer: cfg.Issuer,
		TTL:    cfg.TTL,
		Leeway: cfg.Leeway,
		KeyID:  cfg.KeyID,
	}
	if sec != "" {
		tcfg.Secret = []byte(sec)
	}
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return fmt.Errorf("config: token: read private key: %w", err)
		}
		if tcfg.PrivateKey, err = jwt.ParseRSAPrivateKeyFromPEM(data); err != nil {
			return fmt.Errorf("%w: token: private key: %v", ErrInvalid, err)
		}
	}
	if jwksURL != "" {
		tcfg.Keys = token.NewJWKSKeyProvider(token.JWKSConfig{
			URL:      jwksURL,
			CacheTTL: cfg.JWKSCacheTTL,
		})
		rt.jwks, rt.keyID = tcfg.Keys, cfg.KeyID
	}

	codec, err := token.NewCodec(tcfg)
	if err != nil {
		return fmt.Errorf("config: token: %w", err)
	}
	rt.Codec = codec
	if cfg.Assertions {
		if rt.Assertions, err = token.NewAssertions(tcfg); err != nil {
			return fmt.Errorf("config: assertions: %w", err)
		}
	}
	return nil
}

func buildCollective(ctx context.Context, cfg *CollectiveConfig, resolver *secret.Resolver) (*auth.PoolCollectiveTrust, error) {
	path := cfg.CAFile
	if err := resolver.ResolveInto(ctx, map[string]*string{"collective.ca_file": &path}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cas, err := readCertificates(path)
	if err != nil {
		return nil, fmt.Errorf("config: collective: %w", err)
	}
	return auth.NewPoolCollectiveTrust(cas...), nil
}

// readCertificates parses every CERTIFICATE block of a PEM file.
func readCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCertificates(data)
}

// ParseCertificates parses every CERTIFICATE block of PEM data.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found")
	}
	return certs, nil
}
