package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rryowa/cookie_auth/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrTokenNotFound   = errors.New("account token not found")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can run inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Storage interface {
	UserRepository
	SessionRepository
	AccountRepository
}

type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}

// SessionRepository persists refresh sessions.
//
// CreateSession inserts the session and, in the same transaction, deletes every
// other session of the owner once the owner holds maxPerUser or more.
// RotateSession replaces key, expiry and client metadata only if the stored key
// still equals oldKey; otherwise it returns ErrSessionNotFound.
type SessionRepository interface {
	CreateSession(ctx context.Context, session models.RefreshSession, maxPerUser int) (*models.RefreshSession, error)
	GetSessionByKey(ctx context.Context, sessionKey string) (*models.RefreshSession, error)
	RotateSession(ctx context.Context, oldKey string, session models.RefreshSession) (*models.RefreshSession, error)
	DeleteSession(ctx context.Context, id int64) error
	ListUserSessions(ctx context.Context, userID int64) ([]models.RefreshSession, error)
	DeleteAllUserSessions(ctx context.Context, userID int64) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// AccountRepository stores single-use lifecycle tokens and applies them atomically.
type AccountRepository interface {
	UpsertAccountToken(ctx context.Context, token models.AccountToken) error
	// ActivateUserTx consumes a live activation token and marks its owner active.
	ActivateUserTx(ctx context.Context, tokenHash string, now time.Time) (*models.User, error)
	// ResetPasswordTx consumes a live reset token, stores the new hash and drops every refresh session of the owner.
	ResetPasswordTx(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*models.User, error)
}
