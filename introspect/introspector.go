package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/authchain/auth"
	"github.com/jonwraymond/authchain/cache"
)

// Client authentication methods for the introspection endpoint.
const (
	AuthMethodBasic = "client_secret_basic"
	AuthMethodPost  = "client_secret_post"

	// AuthMethodClientCredentials obtains an access token from TokenURL
	// and presents it as a bearer token.
	AuthMethodClientCredentials = "client_credentials"
)

var (
	// ErrNotConfigured matches auth.ErrConfiguration.
	ErrNotConfigured = fmt.Errorf("introspect: %w", auth.ErrConfiguration)

	// ErrIntrospectionFailed indicates the endpoint could not be queried
	// or answered with something other than an introspection response.
	ErrIntrospectionFailed = errors.New("introspect: introspection failed")
)

// Config configures an Introspector.
type Config struct {
	// Endpoint is the introspection endpoint URL.
	Endpoint string `yaml:"endpoint"`

	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// ClientAuthMethod is AuthMethodBasic (default), AuthMethodPost or
	// AuthMethodClientCredentials.
	ClientAuthMethod string `yaml:"client_auth_method"`

	// TokenURL and Scopes configure AuthMethodClientCredentials.
	TokenURL string   `yaml:"token_url"`
	Scopes   []string `yaml:"scopes"`

	// CacheTTL bounds how long an active result is reused. The token's own
	// exp also bounds it. Default: 1 minute. Negative disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Timeout is the HTTP timeout. Default: 10 seconds.
	Timeout time.Duration `yaml:"timeout"`

	// PrincipalClaim names the claim holding the user. Default: "sub".
	PrincipalClaim string `yaml:"principal_claim"`

	// Realm is the access id realm of introspected principals.
	Realm string `yaml:"realm"`

	HTTPClient *http.Client `yaml:"-"`
}

func (c Config) withDefaults() (Config, error) {
	if c.ClientAuthMethod == "" {
		c.ClientAuthMethod = AuthMethodBasic
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Minute
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.PrincipalClaim == "" {
		c.PrincipalClaim = "sub"
	}
	base := c.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: c.Timeout}
	}
	c.HTTPClient = base

	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, fmt.Errorf("%w: endpoint is required", ErrNotConfigured))
	}
	if c.Realm == "" {
		errs = append(errs, fmt.Errorf("%w: realm is required", ErrNotConfigured))
	}
	switch c.ClientAuthMethod {
	case AuthMethodBasic, AuthMethodPost:
	case AuthMethodClientCredentials:
		if c.TokenURL == "" {
			errs = append(errs, fmt.Errorf("%w: token_url is required for %s", ErrNotConfigured, c.ClientAuthMethod))
			break
		}
		cc := clientcredentials.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.TokenURL,
			Scopes:       c.Scopes,
		}
		c.HTTPClient = cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
		c.HTTPClient.Timeout = c.Timeout
	default:
		errs = append(errs, fmt.Errorf("%w: unknown client auth method %q", ErrNotConfigured, c.ClientAuthMethod))
	}
	return c, errors.Join(errs...)
}

// Result is an introspection response.
type Result struct {
	Active    bool           `json:"active"`
	Principal string         `json:"principal"`
	ClientID  string         `json:"client_id,omitempty"`
	Scope     string         `json:"scope,omitempty"`
	ExpiresAt time.Time      `json:"expires_at,omitzero"`
	Claims    map[string]any `json:"claims,omitempty"`
}

// Introspector queries an introspection endpoint.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: endpoint failures wrap ErrIntrospectionFailed. An inactive
//     token is not an error.
type Introspector struct {
	cfg   Config
	cache cache.Cache
	keys  cache.Keyer
	now   func() time.Time
	calls singleflight.Group
}

// New creates an introspector. A nil cache uses an in-memory cache.
func New(cfg Config, c cache.Cache) (*Introspector, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = cache.NewMemoryCache(cache.Policy{DefaultTTL: cfg.CacheTTL, MaxEntries: 10000})
	}
	return &Introspector{
		cfg:   cfg,
		cache: c,
		keys:  cache.NewHashKeyer("oauth2"),
		now:   time.Now,
	}, nil
}

// Realm returns the configured realm.
func (i *Introspector) Realm() string { return i.cfg.Realm }

// Introspect returns the server's view of token. Concurrent calls for the
// same token share one request, bounded by the configured timeout.
func (i *Introspector) Introspect(ctx context.Context, token string) (Result, error) {
	key := i.keys.Key("introspect", token)
	if raw, ok := i.cache.Get(ctx, key); ok {
		var r Result
		if err := json.Unmarshal(raw, &r); err == nil && (r.ExpiresAt.IsZero() || i.now().Before(r.ExpiresAt)) {
			return r, nil
		}
	}

	// The request is detached from ctx; each caller stops waiting on its own.
	ch := i.calls.DoChan(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.Timeout)
		defer cancel()
		return i.query(qctx, token)
	})
	var r Result
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		r = res.Val.(Result)
	}
	if !r.Active {
		return r, nil
	}

	ttl := i.cfg.CacheTTL
	if !r.ExpiresAt.IsZero() {
		ttl = min(ttl, r.ExpiresAt.Sub(i.now()))
	}
	if ttl > 0 {
		if raw, err := json.Marshal(r); err == nil {
			_ = i.cache.Set(ctx, key, raw, ttl)
		}
	}
	return r, nil
}

func (i *Introspector) query(ctx context.Context, token string) (Result, error) {
	form := url.Values{}
	form.Set("token", token)
	if i.cfg.ClientAuthMethod == AuthMethodPost {
		form.Set("client_id", i.cfg.ClientID)
		form.Set("client_secret", i.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrIntrospectionFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if i.cfg.ClientAuthMethod == AuthMethodBasic {
		req.SetBasicAuth(url.QueryEscape(i.cfg.ClientID), url.QueryEscape(i.cfg.ClientSecret))
	}

	resp, err := i.cfg.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrIntrospectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d", ErrIntrospectionFailed, resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return Result{}, fmt.Errorf("%w: decode: %v", ErrIntrospectionFailed, err)
	}

	r := Result{Claims: claims}
	r.Active, _ = claims["active"].(bool)
	r.Principal, _ = claims[i.cfg.PrincipalClaim].(string)
	r.ClientID, _ = claims["client_id"].(string)
	r.Scope, _ = claims["scope"].(string)
	if exp, ok := claims["exp"].(float64); ok && exp > 0 {
		r.ExpiresAt = time.Unix(int64(exp), 0)
	}
	if r.Active && !r.ExpiresAt.IsZero() && !i.now().Before(r.ExpiresAt) {
		r.Active = false
	}
	return r, nil
}
