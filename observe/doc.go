// Package observe provides observability primitives for login attempts.
//
// A Middleware wraps each attempt with an "auth.login" span, attempt
// metrics and a log/slog record in JSON or text form. Credential-bearing fields are
// redacted. NewObserver sets up the OpenTelemetry providers and exporters.
package observe
