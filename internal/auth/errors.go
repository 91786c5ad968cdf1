package auth

import "errors"

var (
	// ErrMissingIdentityEmail means the provider returned no email; the user
	// is sent to the holding page.
	ErrMissingIdentityEmail = errors.New("auth: identity has no email")

	ErrStateNotFoundOrExpired = errors.New("auth: login state not found or expired")

	// ErrUnsafeRedirect is only logged; callers fall back to the default target.
	ErrUnsafeRedirect = errors.New("auth: unsafe redirect target")

	ErrAuditPersistence = errors.New("auth: audit persistence failed")

	ErrDuplicateAccountRace = errors.New("auth: concurrent first login created the account")

	ErrSessionNotEstablished = errors.New("auth: session not established after callback")
)
