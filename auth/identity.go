package auth

import (
	"fmt"
	"maps"
	"strings"
)

// AccessIDType distinguishes user accounts from server identities.
type AccessIDType string

const (
	AccessIDUser   AccessIDType = "user"
	AccessIDServer AccessIDType = "server"
)

// Valid reports whether t is a known access id type.
func (t AccessIDType) Valid() bool {
	return t == AccessIDUser || t == AccessIDServer
}

// AccessID is the canonical name of an authenticated principal.
//
// The string form is "type:realm/uniqueId". The realm may contain ':' but
// not '/'; the unique id may contain anything.
type AccessID struct {
	Type     AccessIDType
	Realm    string
	UniqueID string
}

// NewAccessID builds an access id.
func NewAccessID(typ AccessIDType, realm, uniqueID string) AccessID {
	return AccessID{Type: typ, Realm: realm, UniqueID: uniqueID}
}

// String returns the canonical "type:realm/uniqueId" form.
func (a AccessID) String() string {
	if a.IsZero() {
		return ""
	}
	return string(a.Type) + ":" + a.Realm + "/" + a.UniqueID
}

// IsZero reports whether a is the zero access id.
func (a AccessID) IsZero() bool {
	return a == AccessID{}
}

// ParseAccessID parses the canonical string form.
func ParseAccessID(s string) (AccessID, error) {
	typ, rest, ok := strings.Cut(s, ":")
	if !ok {
		return AccessID{}, fmt.Errorf("%w: %q", ErrMalformedAccessID, s)
	}
	realm, uniqueID, ok := strings.Cut(rest, "/")
	if !ok {
		return AccessID{}, fmt.Errorf("%w: %q", ErrMalformedAccessID, s)
	}
	id := AccessID{Type: AccessIDType(typ), Realm: realm, UniqueID: uniqueID}
	if !id.Type.Valid() || realm == "" || uniqueID == "" {
		return AccessID{}, fmt.Errorf("%w: %q", ErrMalformedAccessID, s)
	}
	return id, nil
}

// IsAccessID reports whether s is a well-formed access id.
func IsAccessID(s string) bool {
	_, err := ParseAccessID(s)
	return err == nil
}

// AuthMethod indicates how authentication was performed.
type AuthMethod string

const (
	MethodPassword    AuthMethod = "password"
	MethodCertificate AuthMethod = "certificate"
	MethodAssertion   AuthMethod = "assertion"
	MethodToken       AuthMethod = "token"
	MethodExternal    AuthMethod = "external"
)

// Principal is the composed (display name, access id, method) triple.
type Principal struct {
	Name     string
	AccessID AccessID
	Method   AuthMethod
}

// Well-known attribute names.
const (
	AttrUniqueID     = "uniqueId"
	AttrSecurityName = "securityName"
	AttrRealm        = "realm"
	AttrCacheKey     = "cacheKey"
	AttrAuthProvider = "authProvider"
	AttrAccessID     = "accessId"
	AttrToken        = "token"
	AttrTokenExpiry  = "tokenExpiry"
	AttrAssertion    = "assertion"
)

// Attributes is an attribute bag attached to a Subject.
type Attributes map[string]any

// String returns the attribute as a string, or "" if absent or not a string.
func (a Attributes) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Subject is the identity context built up by a login attempt.
//
// Public and Private are disjoint bags; the strategy that authenticates
// owns both until commit merges them into the live subject.
type Subject struct {
	Principal *Principal
	Public    Attributes
	Private   Attributes
}

// NewSubject returns an empty subject.
func NewSubject() *Subject {
	return &Subject{
		Public:  make(Attributes),
		Private: make(Attributes),
	}
}

// IsEmpty reports whether the subject carries no principal and no attributes.
func (s *Subject) IsEmpty() bool {
	return s == nil || (s.Principal == nil && len(s.Public) == 0 && len(s.Private) == 0)
}

// AccessID returns the principal's access id, or the zero value.
func (s *Subject) AccessID() AccessID {
	if s == nil || s.Principal == nil {
		return AccessID{}
	}
	return s.Principal.AccessID
}

// Clone returns a deep copy of the principal and a shallow copy of each bag.
func (s *Subject) Clone() *Subject {
	out := NewSubject()
	if s == nil {
		return out
	}
	if s.Principal != nil {
		p := *s.Principal
		out.Principal = &p
	}
	maps.Copy(out.Public, s.Public)
	maps.Copy(out.Private, s.Private)
	return out
}

// Promote merges from into s. The principal is replaced; attributes are
// overwritten name by name.
func (s *Subject) Promote(from *Subject) {
	if from == nil {
		return
	}
	if s.Public == nil {
		s.Public = make(Attributes)
	}
	if s.Private == nil {
		s.Private = make(Attributes)
	}
	if from.Principal != nil {
		p := *from.Principal
		s.Principal = &p
	}
	maps.Copy(s.Public, from.Public)
	maps.Copy(s.Private, from.Private)
}

// Prune removes the named attributes from both bags.
func (s *Subject) Prune(names ...string) {
	for _, n := range names {
		delete(s.Public, n)
		delete(s.Private, n)
	}
}
