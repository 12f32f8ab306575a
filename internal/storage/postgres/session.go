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

const sessionColumns = `id, session_key, user_id, expires_at, COALESCE(user_agent, ''), COALESCE(remote_addr, ''), COALESCE(remote_host, ''), created_at`

type SessionRepository struct {
	db storage.DBTX
}

func NewSessionRepository(db storage.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) InsertSession(ctx context.Context, session models.RefreshSession) (*models.RefreshSession, error) {
	query := `INSERT INTO refresh_sessions (session_key, user_id, expires_at, user_agent, remote_addr, remote_host) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, '')) RETURNING id, created_at`
	err := r.db.QueryRowContext(
		ctx,
		query,
		session.SessionKey,
		session.UserID,
		session.ExpiresAt,
		session.UserAgent,
		session.RemoteAddr,
		session.RemoteHost,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) CountUserSessions(ctx context.Context, userID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM refresh_sessions WHERE user_id = $1`
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count user sessions: %w", err)
	}
	return count, nil
}

func (r *SessionRepository) DeleteUserSessionsExcept(ctx context.Context, userID, keepID int64) (int64, error) {
	query := `DELETE FROM refresh_sessions WHERE user_id = $1 AND id <> $2`
	res, err := r.db.ExecContext(ctx, query, userID, keepID)
	if err != nil {
		return 0, fmt.Errorf("delete other user sessions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SessionRepository) GetSessionByKey(ctx context.Context, sessionKey string) (*models.RefreshSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM refresh_sessions WHERE session_key = $1`
	session, err := scanSession(r.db.QueryRowContext(ctx, query, sessionKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// UpdateSessionKey swaps key, expiry and metadata only while the row still holds oldKey.
func (r *SessionRepository) UpdateSessionKey(ctx context.Context, oldKey string, session models.RefreshSession) (*models.RefreshSession, error) {
	query := `UPDATE refresh_sessions SET session_key = $3, expires_at = $4, user_agent = NULLIF($5, ''), remote_addr = NULLIF($6, ''), remote_host = NULLIF($7, '') WHERE id = $1 AND session_key = $2 RETURNING ` + sessionColumns
	updated, err := scanSession(r.db.QueryRowContext(
		ctx,
		query,
		session.ID,
		oldKey,
		session.SessionKey,
		session.ExpiresAt,
		session.UserAgent,
		session.RemoteAddr,
		session.RemoteHost,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	return updated, nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, id int64) error {
	query := `DELETE FROM refresh_sessions WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListUserSessions(ctx context.Context, userID int64) ([]models.RefreshSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM refresh_sessions WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.RefreshSession, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) DeleteAllUserSessions(ctx context.Context, userID int64) error {
	query := `DELETE FROM refresh_sessions WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM refresh_sessions WHERE expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.RefreshSession, error) {
	var session models.RefreshSession
	err := row.Scan(
		&session.ID,
		&session.SessionKey,
		&session.UserID,
		&session.ExpiresAt,
		&session.UserAgent,
		&session.RemoteAddr,
		&session.RemoteHost,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}
