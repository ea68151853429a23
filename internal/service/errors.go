package service

import "errors"

var (
	// ErrInvalidArgument marks a malformed management request (empty
	// name/user/scopes). Wrapped with a caller-facing detail message.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict is returned when secret generation collides twice in a
	// row, which is cryptographically negligible in practice.
	ErrConflict = errors.New("conflict")

	// ErrNoCredential means the request carried neither an Authorization
	// header nor a session cookie.
	ErrNoCredential = errors.New("no credential supplied")

	// ErrInvalidCredentials covers unknown, deactivated, and expired
	// credentials alike, so status codes don't enumerate key state.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrScopeDenied means the credential is valid but its scopes do not
	// cover the requested service.
	ErrScopeDenied = errors.New("insufficient scope")

	// ErrAdminRequired means base verification passed but the service is
	// admin-gated and the principal lacks admin privilege.
	ErrAdminRequired = errors.New("admin privilege required")

	// ErrUnavailable means the credential store could not answer in time.
	// Verification fails closed on it.
	ErrUnavailable = errors.New("credential store unavailable")
)
