package introspect

import (
	"context"
	"errors"
	"strings"

	"github.com/jonwraymond/authchain/auth"
)

// MechanismName is the name Register installs the mechanism under.
const MechanismName = "oauth2"

// Public attributes set on introspected subjects.
const (
	AttrClientID = "oauth2.client_id"
	AttrScope    = "oauth2.scope"
)

// Options configures identity mapping.
type Options struct {
	// Store maps the principal to an account. When nil, the principal is
	// used as the unique id in the introspector's realm.
	Store auth.IdentityStore

	// Audit observes verification outcomes. Optional.
	Audit auth.AuditFunc
}

// Mechanism is a per-attempt introspection mechanism.
//
// Bearer tokens are opaque until the endpoint has seen them, so the attempt
// is claimed only once the token is reported active. An inactive token is
// published to shared state and the mechanism abstains, leaving the token
// to later strategies such as the local token codec. Endpoint errors fail
// the attempt. The instance guard still stops a second attempt on the same
// instance.
type Mechanism struct {
	auth.AttemptState

	in   *Introspector
	opts Options
}

// NewMechanism creates a mechanism over in.
func NewMechanism(in *Introspector, opts Options) *Mechanism {
	return &Mechanism{in: in, opts: opts}
}

// Register installs a factory for the mechanism under MechanismName.
func Register(registry *auth.MechanismRegistry, in *Introspector, opts Options) {
	registry.Register(MechanismName, func() (auth.ExternalMechanism, error) {
		if in == nil {
			return nil, ErrNotConfigured
		}
		return NewMechanism(in, opts), nil
	})
}

// Attempt introspects the token credential.
func (m *Mechanism) Attempt(ctx context.Context, ch auth.Channel, state *auth.SharedState) (auth.Outcome, error) {
	if !m.Begin(state) {
		return auth.Abstained, nil
	}
	tok, ok := auth.RequestCredential[auth.TokenCredential](ctx, ch, state, auth.KindToken)
	if !ok || !tok.Complete() {
		return auth.Abstained, nil
	}

	r, err := m.in.Introspect(ctx, strings.TrimSpace(string(tok.Bytes)))
	if err != nil {
		m.audit(ctx, "", err)
		return auth.Abstained, err
	}
	if !r.Active {
		m.Publish(state, tok)
		return auth.Abstained, nil
	}
	m.Claim(state, MechanismName, tok)

	subject, err := m.subject(ctx, r)
	m.audit(ctx, r.Principal, err)
	if err != nil {
		return auth.Abstained, err
	}
	m.Resolve(subject, map[string]string{auth.SSORealm: subject.Principal.AccessID.Realm})
	return auth.Authenticated, nil
}

func (m *Mechanism) subject(ctx context.Context, r Result) (*auth.Subject, error) {
	if r.Principal == "" {
		return nil, auth.NewFailure(auth.ReasonInvalidToken, MechanismName, errors.New("introspection response has no principal"))
	}
	realm, uniqueID, display := m.in.Realm(), r.Principal, r.Principal

	if s := m.opts.Store; s != nil {
		var err error
		if uniqueID, err = s.ResolveUniqueID(ctx, r.Principal); err != nil {
			return nil, lookupFailure(err)
		}
		if display, err = s.ResolveDisplayName(ctx, r.Principal); err != nil {
			return nil, lookupFailure(err)
		}
		if uniqueID == "" {
			return nil, auth.NewFailure(auth.ReasonBadCredentials, MechanismName, auth.ErrNotFound)
		}
		if display == "" {
			display = r.Principal
		}
		realm = s.Realm()
	}

	id := auth.NewAccessID(auth.AccessIDUser, realm, uniqueID)
	subject := auth.NewSubject()
	subject.Principal = &auth.Principal{Name: display, AccessID: id, Method: auth.MethodExternal}
	subject.Public[auth.AttrUniqueID] = uniqueID
	subject.Public[auth.AttrSecurityName] = r.Principal
	subject.Public[auth.AttrRealm] = realm
	subject.Public[auth.AttrAccessID] = id.String()
	if r.ClientID != "" {
		subject.Public[AttrClientID] = r.ClientID
	}
	if r.Scope != "" {
		subject.Public[AttrScope] = r.Scope
	}
	if !r.ExpiresAt.IsZero() {
		subject.Public[auth.AttrTokenExpiry] = r.ExpiresAt
	}
	return subject, nil
}

func lookupFailure(err error) error {
	return auth.StoreFailure(MechanismName, err, auth.ReasonBadCredentials)
}

func (m *Mechanism) audit(ctx context.Context, user string, err error) {
	if m.opts.Audit == nil {
		return
	}
	ev := auth.AuditEvent{Strategy: MechanismName, User: user, Outcome: auth.Authenticated}
	if err != nil {
		ev.Outcome = auth.Abstained
		ev.Reason = auth.ReasonOf(err)
		if ev.Reason == auth.ReasonUnknown {
			ev.Reason = auth.ReasonExternalMechanism
		}
	}
	m.opts.Audit(ctx, ev)
}
