package service

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrUserInactive         = errors.New("user inactive")
	ErrInvalidSigningMethod = errors.New("invalid signing method")
	ErrInvalidCredentials   = errors.New("invalid credentials")
)

// Authentication failure codes. They are logged and counted, never shown to the client.
const (
	CodeAccessTokenExpired  = "access_token_expired"
	CodeAccessTokenNotValid = "access_token_not_valid"
	CodeUserNotFound        = "user_not_found"
	CodeUserInactive        = "user_inactive"
)

// Realm tells which strategy rejected the request.
type Realm string

const (
	RealmAccess  Realm = "api"
	RealmRefresh Realm = "api/auth"
)

// AuthError is an authentication failure with an internal code.
type AuthError struct {
	Code  string
	Realm Realm
	Err   error
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Code + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

func authFailed(realm Realm, code string, err error) error {
	return &AuthError{Code: code, Realm: realm, Err: err}
}

// ValidationError collects per-field messages for a rejected request body.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// OrNil returns the error only if at least one field failed.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
