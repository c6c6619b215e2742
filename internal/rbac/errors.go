package rbac

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")

	// ErrUnauthorized means no valid identity is attached to the request.
	// It takes precedence over ErrForbidden everywhere.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the identity is valid but lacks the required role
	// or permission.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredentials covers both unknown username and wrong password,
	// so login failures never reveal which half was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")

	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
