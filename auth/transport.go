package auth

import (
	"context"
	"net/http"
	"strings"
)

// HTTPConfig configures credential extraction from HTTP requests.
type HTTPConfig struct {
	// TokenCookie names a cookie carrying an opaque token. Optional.
	TokenCookie string `yaml:"token_cookie"`

	// AssertionHeaderPrefix enables trusted assertion headers. A header
	// "<prefix>uniqueId" becomes the uniqueId property. Only set this when
	// a trusted proxy strips these headers from client requests.
	AssertionHeaderPrefix string `yaml:"assertion_header_prefix"`

	// Realm is sent in WWW-Authenticate challenges.
	Realm string `yaml:"realm"`
}

var assertionProps = []string{
	PropUniqueID, PropUserID, PropSecurityName, PropRealm,
	PropCacheKey, PropAuthProvider, PropToken, PropPassword,
}

// HTTPChannel supplies credentials carried by an HTTP request.
type HTTPChannel struct {
	r   *http.Request
	cfg HTTPConfig
}

// NewHTTPChannel creates a channel over r.
func NewHTTPChannel(r *http.Request, cfg HTTPConfig) *HTTPChannel {
	return &HTTPChannel{r: r, cfg: cfg}
}

// Request returns the credential of the given kind found in the request.
func (c *HTTPChannel) Request(_ context.Context, kind CredentialKind) (Credential, bool) {
	switch kind {
	case KindPassword:
		user, pass, ok := c.r.BasicAuth()
		if !ok {
			return nil, false
		}
		return PasswordCredential{Username: user, Password: pass}, true

	case KindCertificate:
		if c.r.TLS == nil || len(c.r.TLS.PeerCertificates) == 0 {
			return nil, false
		}
		return CertificateCredential{Chain: c.r.TLS.PeerCertificates}, true

	case KindToken:
		if h := c.r.Header.Get("Authorization"); h != "" {
			if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
				if tok = strings.TrimSpace(tok); tok != "" {
					return TokenCredential{Bytes: []byte(tok)}, true
				}
			}
		}
		if c.cfg.TokenCookie != "" {
			if ck, err := c.r.Cookie(c.cfg.TokenCookie); err == nil && ck.Value != "" {
				return TokenCredential{Bytes: []byte(ck.Value)}, true
			}
		}
		return nil, false

	case KindAssertion:
		if c.cfg.AssertionHeaderPrefix == "" {
			return nil, false
		}
		props := make(map[string]string)
		for _, p := range assertionProps {
			if v := c.r.Header.Get(c.cfg.AssertionHeaderPrefix + p); v != "" {
				props[p] = v
			}
		}
		if len(props) == 0 {
			return nil, false
		}
		return AssertionCredential{Properties: props}, true
	}
	return nil, false
}

// Middleware is HTTP middleware that runs a login attempt per request and
// stores the committed subject and session in the request context.
//
// Credential failures get 401, backend failures 503.
//
// Usage:
//
//	mux.Handle("/api", auth.Middleware(chain, auth.HTTPConfig{Realm: "api"})(apiHandler))
func Middleware(chain *Chain, cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := chain.Login(r.Context(), &LoginRequest{
				Credentials: NewHTTPChannel(r, cfg),
			})
			if err != nil {
				if IsBackendFailure(err) {
					http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
					return
				}
				realm := cfg.Realm
				if realm == "" {
					realm = chain.Name()
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			ctx := WithSession(WithSubject(r.Context(), sess.Subject), sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
