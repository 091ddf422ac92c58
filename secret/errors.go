package secret

import "errors"

var (
	// ErrMissingEnv reports an unset environment variable, either in a
	// ${VAR} expansion or behind an env reference.
	ErrMissingEnv = errors.New("secret: missing environment variable")

	// ErrProviderNotRegistered reports a reference to an unknown provider.
	ErrProviderNotRegistered = errors.New("secret: provider not registered")

	// ErrEmptySecret reports an empty secret under a strict resolver.
	ErrEmptySecret = errors.New("secret: empty value")

	// ErrInvalidRef reports a malformed reference or a file reference
	// leaving the provider directory.
	ErrInvalidRef = errors.New("secret: invalid reference")

	// ErrInvalidSetting reports bad provider settings.
	ErrInvalidSetting = errors.New("secret: invalid provider setting")
)
