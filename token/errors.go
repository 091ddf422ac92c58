package token

import (
	"errors"
	"fmt"

	"github.com/jonwraymond/authchain/auth"
)

// Decode errors. Both match the corresponding auth sentinel with errors.Is.
var (
	// ErrExpired indicates the token is past its expiry.
	ErrExpired = fmt.Errorf("token: expired: %w", auth.ErrExpiredToken)

	// ErrInvalid indicates the token is malformed, truncated, tampered
	// with or signed by an unknown key.
	ErrInvalid = fmt.Errorf("token: invalid: %w", auth.ErrInvalidToken)
)

// Configuration and key errors.
var (
	// ErrConfig indicates an unusable signing configuration.
	ErrConfig = fmt.Errorf("token: bad configuration: %w", auth.ErrConfiguration)

	// ErrKeyNotFound indicates no verification key matches the key id.
	ErrKeyNotFound = errors.New("token: key not found")

	// ErrCannotSign indicates the codec holds verification keys only.
	ErrCannotSign = errors.New("token: no signing key")
)
