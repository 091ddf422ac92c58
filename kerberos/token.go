package kerberos

import (
	"encoding/asn1"

	krbasn1 "github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/spnego"
)

// Mechanism OIDs accepted in GSS-API wrappers.
var (
	OIDSPNEGO       = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 2}
	OIDKerberosV5   = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}
	OIDMSKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 48018, 1, 2, 2}
)

const (
	tagGSSWrapper = 0x60
	tagAPReq      = 0x6e
)

// krb5 GSS token id for AP-REQ (RFC 1964).
var tokIDAPReq = []byte{0x01, 0x00}

// IsKerberosToken reports whether raw looks like a SPNEGO or Kerberos
// token carrying an AP-REQ.
func IsKerberosToken(raw []byte) bool {
	_, ok := ExtractAPReq(raw)
	return ok
}

// ExtractAPReq returns the AP-REQ inside raw. raw may be a bare AP-REQ, a
// GSS-API Kerberos token, or a SPNEGO NegTokenInit whose mech token is
// one of those.
func ExtractAPReq(raw []byte) ([]byte, bool) {
	return extractAPReq(raw, true)
}

func extractAPReq(raw []byte, allowSPNEGO bool) ([]byte, bool) {
	if len(raw) < 2 {
		return nil, false
	}
	switch raw[0] {
	case tagAPReq:
		return raw, true
	case tagGSSWrapper:
	default:
		return nil, false
	}

	oid, inner, ok := unwrapGSS(raw)
	if !ok {
		return nil, false
	}
	switch {
	case oid.Equal(OIDKerberosV5), oid.Equal(OIDMSKerberosV5):
		if len(inner) < 3 || inner[0] != tokIDAPReq[0] || inner[1] != tokIDAPReq[1] || inner[2] != tagAPReq {
			return nil, false
		}
		return inner[2:], true
	case oid.Equal(OIDSPNEGO) && allowSPNEGO:
		isInit, tok, err := spnego.UnmarshalNegToken(inner)
		if err != nil || !isInit {
			return nil, false
		}
		init, ok := tok.(spnego.NegTokenInit)
		if !ok || !offersKerberos(init.MechTypes) {
			return nil, false
		}
		return extractAPReq(init.MechTokenBytes, false)
	default:
		return nil, false
	}
}

// unwrapGSS splits an InitialContextToken into its mechanism OID and the
// inner token.
func unwrapGSS(raw []byte) (asn1.ObjectIdentifier, []byte, bool) {
	var outer asn1.RawValue
	if rest, err := asn1.Unmarshal(raw, &outer); err != nil || len(rest) != 0 {
		return nil, nil, false
	}
	if outer.Class != asn1.ClassApplication || outer.Tag != 0 {
		return nil, nil, false
	}
	var oid asn1.ObjectIdentifier
	inner, err := asn1.Unmarshal(outer.Bytes, &oid)
	if err != nil {
		return nil, nil, false
	}
	return oid, inner, true
}

func offersKerberos(mechs []krbasn1.ObjectIdentifier) bool {
	for _, mech := range mechs {
		m := asn1.ObjectIdentifier(mech)
		if m.Equal(OIDKerberosV5) || m.Equal(OIDMSKerberosV5) {
			return true
		}
	}
	return false
}
