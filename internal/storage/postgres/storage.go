package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage"
)

type Storage struct {
	db *sql.DB
	*UserRepository
	*SessionRepository
	*AccountTokenRepository
}

var _ storage.Storage = (*Storage)(nil)

func NewStorage(db *sql.DB) *Storage {
	return &Storage{
		db:                     db,
		UserRepository:         NewUserRepository(db),
		SessionRepository:      NewSessionRepository(db),
		AccountTokenRepository: NewAccountTokenRepository(db),
	}
}

// withTx runs fn in a transaction. Any error, including a cancelled ctx, rolls everything back.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateSession inserts a refresh session and enforces the per-user cap in one transaction.
// The owner row is locked first so concurrent logins of one user are serialised.
func (s *Storage) CreateSession(ctx context.Context, session models.RefreshSession, maxPerUser int) (*models.RefreshSession, error) {
	var created *models.RefreshSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		userRepoTx := NewUserRepository(tx)
		sessionRepoTx := NewSessionRepository(tx)

		if err := userRepoTx.LockUser(ctx, session.UserID); err != nil {
			return err
		}

		var err error
		created, err = sessionRepoTx.InsertSession(ctx, session)
		if err != nil {
			return fmt.Errorf("failed to create session in tx: %w", err)
		}

		count, err := sessionRepoTx.CountUserSessions(ctx, session.UserID)
		if err != nil {
			return err
		}
		if count >= maxPerUser {
			if _, err := sessionRepoTx.DeleteUserSessionsExcept(ctx, session.UserID, created.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RotateSession replaces the key of a session still holding oldKey.
// A concurrent rotation that already committed leaves zero matching rows, so the loser gets ErrSessionNotFound.
func (s *Storage) RotateSession(ctx context.Context, oldKey string, session models.RefreshSession) (*models.RefreshSession, error) {
	var rotated *models.RefreshSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rotated, err = NewSessionRepository(tx).UpdateSessionKey(ctx, oldKey, session)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rotated, nil
}

// ActivateUserTx consumes a live activation token and marks the owner active.
func (s *Storage) ActivateUserTx(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	var user *models.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		userID, err := NewAccountTokenRepository(tx).ConsumeAccountToken(ctx, models.AccountTokenActivation, tokenHash, now)
		if err != nil {
			return err
		}
		user, err = NewUserRepository(tx).ActivateUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ResetPasswordTx consumes a live reset token, stores the new password hash and drops every refresh session of the owner.
func (s *Storage) ResetPasswordTx(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*models.User, error) {
	var user *models.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		userID, err := NewAccountTokenRepository(tx).ConsumeAccountToken(ctx, models.AccountTokenResetPassword, tokenHash, now)
		if err != nil {
			return err
		}
		user, err = NewUserRepository(tx).SetPassword(ctx, userID, passwordHash)
		if err != nil {
			return err
		}
		return NewSessionRepository(tx).DeleteAllUserSessions(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
