package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage"
)

const (
	// MaxSessionsPerUser caps live refresh sessions per user. Reaching it drops every older session.
	MaxSessionsPerUser = 6
	// sessionKeyBytes encodes to a 64 character URL-safe key.
	sessionKeyBytes = 48
)

// SessionService owns refresh session keys and expiry on top of a SessionRepository.
type SessionService struct {
	repo       storage.SessionRepository
	refreshTTL time.Duration
}

func NewSessionService(repo storage.SessionRepository, refreshTTL time.Duration) *SessionService {
	return &SessionService{repo: repo, refreshTTL: refreshTTL}
}

func (s *SessionService) Create(ctx context.Context, userID int64, meta models.ClientMetadata, now time.Time) (*models.RefreshSession, error) {
	key, err := NewSessionKey()
	if err != nil {
		return nil, err
	}

	session := models.RefreshSession{
		SessionKey: key,
		UserID:     userID,
		ExpiresAt:  now.Add(s.refreshTTL),
		UserAgent:  meta.UserAgent,
		RemoteAddr: meta.RemoteAddr,
		RemoteHost: meta.RemoteHost,
	}

	created, err := s.repo.CreateSession(ctx, session, MaxSessionsPerUser)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

// FindByKey does not look at expires_at; callers compare it themselves.
func (s *SessionService) FindByKey(ctx context.Context, key string) (*models.RefreshSession, error) {
	return s.repo.GetSessionByKey(ctx, key)
}

// Rotate gives the session a fresh key and expiry. The old key stops working once this returns.
func (s *SessionService) Rotate(ctx context.Context, session *models.RefreshSession, meta models.ClientMetadata, now time.Time) (*models.RefreshSession, error) {
	key, err := NewSessionKey()
	if err != nil {
		return nil, err
	}

	next := *session
	next.SessionKey = key
	next.ExpiresAt = now.Add(s.refreshTTL)
	next.UserAgent = meta.UserAgent
	next.RemoteAddr = meta.RemoteAddr
	next.RemoteHost = meta.RemoteHost

	rotated, err := s.repo.RotateSession(ctx, session.SessionKey, next)
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	return rotated, nil
}

func (s *SessionService) Delete(ctx context.Context, session *models.RefreshSession) error {
	return s.repo.DeleteSession(ctx, session.ID)
}

func (s *SessionService) ListByUser(ctx context.Context, userID int64) ([]models.RefreshSession, error) {
	return s.repo.ListUserSessions(ctx, userID)
}

func (s *SessionService) DeleteAllForUser(ctx context.Context, userID int64) error {
	return s.repo.DeleteAllUserSessions(ctx, userID)
}

func (s *SessionService) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, now)
}

// NewSessionKey returns a random URL-safe refresh session key.
func NewSessionKey() (string, error) {
	raw := make([]byte, sessionKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
