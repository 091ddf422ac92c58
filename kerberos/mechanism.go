package kerberos

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/authchain/auth"
)

// MechanismName is the name Register installs the mechanism under.
const MechanismName = "kerberos"

// AttrPrincipal holds the verified "name@REALM" in the public attributes.
const AttrPrincipal = "kerberos.principal"

// Options configures identity mapping for verified principals.
type Options struct {
	// Store maps the principal username to an account. When nil, the
	// access id is built from the Kerberos realm and principal name.
	Store auth.IdentityStore

	// Audit observes verification outcomes. Optional.
	Audit auth.AuditFunc
}

// Mechanism is a per-attempt Kerberos mechanism.
type Mechanism struct {
	auth.AttemptState

	tickets TicketVerifier
	opts    Options
}

// NewMechanism creates a mechanism over tickets.
func NewMechanism(tickets TicketVerifier, opts Options) *Mechanism {
	return &Mechanism{tickets: tickets, opts: opts}
}

// Factory returns a factory building a fresh mechanism per attempt.
func Factory(tickets TicketVerifier, opts Options) auth.MechanismFactory {
	return func() (auth.ExternalMechanism, error) {
		if tickets == nil {
			return nil, fmt.Errorf("%w: no ticket verifier", ErrNotConfigured)
		}
		return NewMechanism(tickets, opts), nil
	}
}

// Register installs the mechanism under MechanismName.
func Register(registry *auth.MechanismRegistry, tickets TicketVerifier, opts Options) {
	registry.Register(MechanismName, Factory(tickets, opts))
}

// Attempt verifies a Kerberos token from the token credential. Other
// tokens are published for later strategies and the mechanism abstains.
func (m *Mechanism) Attempt(ctx context.Context, ch auth.Channel, state *auth.SharedState) (auth.Outcome, error) {
	if !m.Begin(state) {
		return auth.Abstained, nil
	}
	tok, ok := auth.RequestCredential[auth.TokenCredential](ctx, ch, state, auth.KindToken)
	if !ok || !tok.Complete() {
		return auth.Abstained, nil
	}
	apReq, ok := ExtractAPReq(tok.Bytes)
	if !ok {
		m.Publish(state, tok)
		return auth.Abstained, nil
	}
	m.Claim(state, MechanismName, tok)

	p, err := m.tickets.VerifyTicket(ctx, apReq)
	if err != nil {
		m.audit(ctx, "", err)
		if errors.Is(err, auth.ErrBadCredentials) {
			return auth.Abstained, auth.NewFailure(auth.ReasonBadCredentials, MechanismName, err)
		}
		return auth.Abstained, err
	}

	subject, err := m.subject(ctx, p)
	m.audit(ctx, p.String(), err)
	if err != nil {
		return auth.Abstained, err
	}
	m.Resolve(subject, map[string]string{auth.SSORealm: subject.Principal.AccessID.Realm})
	return auth.Authenticated, nil
}

func (m *Mechanism) subject(ctx context.Context, p Principal) (*auth.Subject, error) {
	realm, uniqueID, display := p.Realm, p.Name, p.String()

	if s := m.opts.Store; s != nil {
		user := p.Username()
		var err error
		if uniqueID, err = s.ResolveUniqueID(ctx, user); err != nil {
			return nil, lookupFailure(err)
		}
		if display, err = s.ResolveDisplayName(ctx, user); err != nil {
			return nil, lookupFailure(err)
		}
		if uniqueID == "" {
			return nil, auth.NewFailure(auth.ReasonBadCredentials, MechanismName, auth.ErrNotFound)
		}
		if display == "" {
			display = user
		}
		realm = s.Realm()
	}

	id := auth.NewAccessID(auth.AccessIDUser, realm, uniqueID)
	subject := auth.NewSubject()
	subject.Principal = &auth.Principal{Name: display, AccessID: id, Method: auth.MethodExternal}
	subject.Public[auth.AttrUniqueID] = uniqueID
	subject.Public[auth.AttrSecurityName] = p.Name
	subject.Public[auth.AttrRealm] = realm
	subject.Public[auth.AttrAccessID] = id.String()
	subject.Public[AttrPrincipal] = p.String()
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

var _ auth.ExternalMechanism = (*Mechanism)(nil)
