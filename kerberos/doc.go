// Package kerberos provides a Kerberos external mechanism for the
// delegating strategy.
//
// The mechanism reads the token credential, recognizes SPNEGO and raw
// Kerberos AP-REQ tokens, and verifies them against a service keytab with
// gokrb5. Tokens that are not Kerberos tokens are left for other
// strategies.
//
// Usage:
//
//	v, err := kerberos.New(kerberos.Config{
//		KeytabPath:       "/etc/authchain/http.keytab",
//		ServicePrincipal: "HTTP/app.example.com",
//	})
//	if err != nil {
//		return err
//	}
//	kerberos.Register(mechanisms, v, kerberos.Options{Store: ids})
package kerberos
