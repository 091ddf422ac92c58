package kerberos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"

	"github.com/jonwraymond/authchain/auth"
)

// ErrTicketRejected is returned when an AP-REQ fails verification. It
// matches auth.ErrBadCredentials.
var ErrTicketRejected = fmt.Errorf("kerberos: ticket rejected: %w", auth.ErrBadCredentials)

// Principal is the verified Kerberos client.
type Principal struct {
	// Name is the client principal name without realm, e.g. "alice" or
	// "svc/host".
	Name string

	// Realm is the client realm.
	Realm string
}

// String returns "name@REALM".
func (p Principal) String() string {
	return p.Name + "@" + p.Realm
}

// Username returns Name up to the first '/'.
func (p Principal) Username() string {
	name, _, _ := strings.Cut(p.Name, "/")
	return name
}

// TicketVerifier verifies a raw AP-REQ.
type TicketVerifier interface {
	VerifyTicket(ctx context.Context, apReq []byte) (Principal, error)
}

// Verifier verifies AP-REQs against a service keytab.
//
// Contract:
//   - Concurrency: safe for concurrent use; the keytab is read-only.
type Verifier struct {
	keytab    *keytab.Keytab
	principal string
	cfg       Config
}

// New loads the keytab and returns a verifier. Configuration problems
// match auth.ErrConfiguration.
func New(cfg Config) (*Verifier, error) {
	cfg, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	kt, err := loadKeytab(cfg.KeytabPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load keytab %s: %v", ErrNotConfigured, cfg.KeytabPath, err)
	}
	return NewWithKeytab(kt, cfg)
}

// NewWithKeytab returns a verifier over an already loaded keytab.
func NewWithKeytab(kt *keytab.Keytab, cfg Config) (*Verifier, error) {
	if kt == nil {
		return nil, fmt.Errorf("%w: nil keytab", ErrNotConfigured)
	}
	if cfg.ServicePrincipal == "" {
		return nil, fmt.Errorf("%w: service principal not set", ErrNotConfigured)
	}
	if cfg.MaxClockSkew == 0 {
		cfg.MaxClockSkew = DefaultMaxClockSkew
	}
	return &Verifier{
		keytab:    kt,
		principal: cfg.ServicePrincipal,
		cfg:       cfg,
	}, nil
}

// ServicePrincipal returns the configured service principal.
func (v *Verifier) ServicePrincipal() string { return v.principal }

// VerifyTicket unmarshals and verifies apReq.
func (v *Verifier) VerifyTicket(ctx context.Context, apReq []byte) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	var req messages.APReq
	if err := req.Unmarshal(apReq); err != nil {
		return Principal{}, fmt.Errorf("kerberos: unmarshal AP-REQ: %w", err)
	}

	settings := service.NewSettings(
		v.keytab,
		service.MaxClockSkew(v.cfg.MaxClockSkew),
		service.DecodePAC(false),
		service.KeytabPrincipal(v.principal),
	)
	ok, creds, err := service.VerifyAPREQ(&req, settings)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrTicketRejected, err)
	}
	if !ok || creds == nil {
		return Principal{}, ErrTicketRejected
	}
	p := Principal{
		Name:  creds.CName().PrincipalNameString(),
		Realm: creds.Domain(),
	}
	if p.Name == "" || p.Realm == "" {
		return Principal{}, errors.Join(ErrTicketRejected, errors.New("ticket carries no client principal"))
	}
	return p, nil
}

var _ TicketVerifier = (*Verifier)(nil)
