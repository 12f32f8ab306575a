package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage"
)

type AccountTokenRepository struct {
	db storage.DBTX
}

func NewAccountTokenRepository(db storage.DBTX) *AccountTokenRepository {
	return &AccountTokenRepository{db: db}
}

// UpsertAccountToken keeps at most one token per user and kind; re-issuing replaces it.
func (r *AccountTokenRepository) UpsertAccountToken(ctx context.Context, token models.AccountToken) error {
	query := `INSERT INTO account_tokens (user_id, kind, token_hash, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, kind) DO UPDATE SET token_hash = EXCLUDED.token_hash, expires_at = EXCLUDED.expires_at`
	_, err := r.db.ExecContext(ctx, query, token.UserID, string(token.Kind), token.TokenHash, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert account token: %w", err)
	}
	return nil
}

// ConsumeAccountToken deletes a live token of the given kind and reports its owner.
func (r *AccountTokenRepository) ConsumeAccountToken(
	ctx context.Context,
	kind models.AccountTokenKind,
	tokenHash string,
	now time.Time,
) (int64, error) {
	query := `DELETE FROM account_tokens WHERE kind = $1 AND token_hash = $2 AND expires_at > $3 RETURNING user_id`
	var userID int64
	err := r.db.QueryRowContext(ctx, query, string(kind), tokenHash, now).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrTokenNotFound
		}
		return 0, fmt.Errorf("consume account token: %w", err)
	}
	return userID, nil
}
