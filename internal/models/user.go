package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsStaff      bool      `json:"is_staff"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountTokenKind distinguishes single-use lifecycle tokens.
type AccountTokenKind string

const (
	AccountTokenActivation    AccountTokenKind = "activation"
	AccountTokenResetPassword AccountTokenKind = "reset_password"
)

// AccountToken is a single-use emailed token. Only its hash is stored.
type AccountToken struct {
	UserID    int64
	Kind      AccountTokenKind
	TokenHash string
	ExpiresAt time.Time
}
