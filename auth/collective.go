package auth

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
)

// PoolCollectiveTrust is a CollectiveTrust over a fixed set of collective
// CA certificates.
type PoolCollectiveTrust struct {
	cas   []*x509.Certificate
	roots *x509.CertPool
}

// NewPoolCollectiveTrust trusts chains issued by cas.
func NewPoolCollectiveTrust(cas ...*x509.Certificate) *PoolCollectiveTrust {
	roots := x509.NewCertPool()
	kept := make([]*x509.Certificate, 0, len(cas))
	for _, ca := range cas {
		if ca == nil {
			continue
		}
		roots.AddCert(ca)
		kept = append(kept, ca)
	}
	return &PoolCollectiveTrust{cas: kept, roots: roots}
}

// IsCollectiveIssuer reports whether the leaf issuer is one of the
// collective CAs.
func (t *PoolCollectiveTrust) IsCollectiveIssuer(chain []*x509.Certificate) bool {
	if len(chain) == 0 || chain[0] == nil {
		return false
	}
	for _, ca := range t.cas {
		if bytes.Equal(chain[0].RawIssuer, ca.RawSubject) {
			return true
		}
	}
	return false
}

// Verify checks the chain against the collective CAs.
func (t *PoolCollectiveTrust) Verify(_ context.Context, chain []*x509.Certificate) error {
	if len(chain) == 0 || chain[0] == nil {
		return errors.New("empty certificate chain")
	}
	inter := x509.NewCertPool()
	for _, c := range chain[1:] {
		inter.AddCert(c)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         t.roots,
		Intermediates: inter,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("collective certificate: %w", err)
	}
	return nil
}

var _ CollectiveTrust = (*PoolCollectiveTrust)(nil)

// OrgUnitAuthenticator maps leaf certificates carrying OrgUnit to an
// identity named after the subject common name.
type OrgUnitAuthenticator struct {
	OrgUnit string
	Type    AccessIDType
	Realm   string
}

// AuthenticateCertificateChain matches leaves whose subject OU contains
// a.OrgUnit.
func (a OrgUnitAuthenticator) AuthenticateCertificateChain(_ context.Context, chain []*x509.Certificate) (CertificateMatch, bool) {
	if len(chain) == 0 || chain[0] == nil || chain[0].Subject.CommonName == "" {
		return CertificateMatch{}, false
	}
	for _, ou := range chain[0].Subject.OrganizationalUnit {
		if ou == a.OrgUnit {
			return CertificateMatch{Type: a.Type, Realm: a.Realm, Username: chain[0].Subject.CommonName}, true
		}
	}
	return CertificateMatch{}, false
}
