package auth

import (
	"context"
	"errors"
)

// AssertionOptions configures an AssertionStrategy.
type AssertionOptions struct {
	// AllowAssertionWithoutPassword lets a bag carrying only a user id
	// authenticate. Enable it only when the upstream component has already
	// proven the caller's identity.
	AllowAssertionWithoutPassword bool

	// Names resolves display names on the password path.
	Names NameResolver

	// Audit observes every verification outcome.
	Audit AuditFunc
}

// AssertionStrategy authenticates a property bag asserted by a trusted
// upstream component.
//
// Resolution order, first applicable wins:
//  1. uniqueId and securityName: trusted directly, no store round trip.
//  2. userId and password: verified like PasswordStrategy.
//  3. userId alone: resolved through the store when
//     AllowAssertionWithoutPassword is set.
//
// cacheKey, realm and authProvider never affect the decision; they are
// written as SSO attributes at commit.
type AssertionStrategy struct {
	AttemptState
	store IdentityStore
	opts  AssertionOptions
}

// NewAssertionStrategy creates a trusted assertion strategy.
func NewAssertionStrategy(store IdentityStore, opts AssertionOptions) *AssertionStrategy {
	return &AssertionStrategy{store: store, opts: opts}
}

// Name returns "assertion".
func (s *AssertionStrategy) Name() string { return "assertion" }

// Attempt resolves the assertion bag.
func (s *AssertionStrategy) Attempt(ctx context.Context, ch Channel, state *SharedState) (Outcome, error) {
	if !s.Begin(state) {
		return Abstained, nil
	}
	bag, ok := RequestCredential[AssertionCredential](ctx, ch, state, KindAssertion)
	if !ok || !bag.Complete() {
		return Abstained, nil
	}

	var (
		subject *Subject
		err     error
	)
	switch {
	case bag.Has(PropUniqueID) && bag.Has(PropSecurityName):
		s.Claim(state, s.Name(), bag)
		subject, err = s.asserted(bag)
	case bag.Has(PropUserID) && bag.Has(PropPassword):
		s.Claim(state, s.Name(), bag)
		subject, err = verifyPassword(ctx, s.Name(), s.store,
			PasswordOptions{Names: s.opts.Names, Audit: s.opts.Audit},
			bag.Get(PropUserID), bag.Get(PropPassword))
	case bag.Has(PropUserID) && !bag.Has(PropToken) && s.opts.AllowAssertionWithoutPassword:
		s.Claim(state, s.Name(), bag)
		subject, err = s.resolveUser(ctx, bag.Get(PropUserID))
	default:
		// Leave the bag for a later strategy, such as one decoding an
		// embedded token.
		s.Publish(state, bag)
		return Abstained, nil
	}
	if err != nil {
		return Abstained, err
	}

	subject.Principal.Method = MethodAssertion
	sso := decorate(subject, bag)
	subject.Private[AttrAssertion] = bag
	s.Resolve(subject, sso, AttrAssertion)
	return Authenticated, nil
}

func (s *AssertionStrategy) asserted(bag AssertionCredential) (*Subject, error) {
	uniqueID := bag.Get(PropUniqueID)
	securityName := bag.Get(PropSecurityName)

	id, err := ParseAccessID(uniqueID)
	if err != nil {
		realm := bag.Get(PropRealm)
		if realm == "" && s.store != nil {
			realm = s.store.Realm()
		}
		if realm == "" {
			return nil, NewFailure(ReasonConfiguration, s.Name(), errors.New("no realm for asserted identity"))
		}
		id = NewAccessID(AccessIDUser, realm, uniqueID)
	}
	return assertedSubject(id, securityName), nil
}

func (s *AssertionStrategy) resolveUser(ctx context.Context, userID string) (*Subject, error) {
	if s.store == nil {
		return nil, NewFailure(ReasonConfiguration, s.Name(), errors.New("no identity store"))
	}
	uniqueID, err := s.store.ResolveUniqueID(ctx, userID)
	if err != nil {
		return nil, StoreFailure(s.Name(), err, ReasonBadCredentials)
	}
	if uniqueID == "" {
		return nil, NewFailure(ReasonBadCredentials, s.Name(), nil)
	}
	display, err := s.store.ResolveDisplayName(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, StoreFailure(s.Name(), err, ReasonBadCredentials)
	}
	if display == "" {
		display = userID
	}
	subject := assertedSubject(NewAccessID(AccessIDUser, s.store.Realm(), uniqueID), display)
	s.opts.Audit.emit(ctx, AuditEvent{Strategy: s.Name(), User: userID, Outcome: Authenticated})
	return subject, nil
}

// assertedSubject builds a subject for an identity trusted without a
// store round trip.
func assertedSubject(id AccessID, securityName string) *Subject {
	subject := NewSubject()
	subject.Principal = &Principal{Name: securityName, AccessID: id, Method: MethodAssertion}
	subject.Public[AttrUniqueID] = id.UniqueID
	subject.Public[AttrSecurityName] = securityName
	subject.Public[AttrRealm] = id.Realm
	subject.Public[AttrAccessID] = id.String()
	return subject
}

// decorate copies the bag's SSO properties onto subject and returns them
// keyed by SSO attribute name.
func decorate(subject *Subject, bag AssertionCredential) map[string]string {
	sso := make(map[string]string)
	for prop, attr := range map[string]string{
		PropCacheKey:     SSOCacheKey,
		PropRealm:        SSORealm,
		PropAuthProvider: SSOAuthProvider,
	} {
		v := bag.Get(prop)
		if v == "" {
			continue
		}
		sso[attr] = v
		switch prop {
		case PropCacheKey:
			subject.Public[AttrCacheKey] = v
		case PropAuthProvider:
			subject.Public[AttrAuthProvider] = v
		}
	}
	return sso
}
