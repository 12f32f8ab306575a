package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/metrics"
	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage"
)

const (
	opAccessAuth  = "access_auth"
	opRefreshAuth = "refresh_auth"
	opLogin       = "login"
	opRefresh     = "refresh"
	opLogout      = "logout"

	msgBadCredentials = "Unable to log in with provided credentials."
)

// Credentials is what a successful login or refresh hands to the cookie transport.
type Credentials struct {
	AccessToken  string
	AccessClaims *AccessClaims
	Session      *models.RefreshSession
}

// AuthService verifies access tokens and refresh sessions and drives login, refresh and logout.
type AuthService struct {
	users    storage.UserRepository
	sessions *SessionService
	tokens   *TokenService
	hasher   *PasswordHasher
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewAuthService(
	users storage.UserRepository,
	sessions *SessionService,
	tokens *TokenService,
	hasher *PasswordHasher,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

func (s *AuthService) Now() time.Time { return s.now() }

// AuthenticateAccess verifies an access token and loads its active owner. It never touches the session table.
func (s *AuthService) AuthenticateAccess(ctx context.Context, token string) (*models.User, *AccessClaims, error) {
	claims, err := s.tokens.Decode(token, s.now())
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, nil, s.fail(opAccessAuth, authFailed(RealmAccess, CodeAccessTokenExpired, err))
		}
		return nil, nil, s.fail(opAccessAuth, authFailed(RealmAccess, CodeAccessTokenNotValid, err))
	}

	user, err := s.activeUser(ctx, RealmAccess, claims.UserID)
	if err != nil {
		return nil, nil, s.fail(opAccessAuth, err)
	}
	return user, claims, nil
}

// AuthenticateRefresh resolves a refresh session key to its live session and active owner.
// A missing and an expired session are reported the same way.
func (s *AuthService) AuthenticateRefresh(ctx context.Context, sessionKey string) (*models.User, *models.RefreshSession, error) {
	session, err := s.sessions.FindByKey(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, nil, s.fail(opRefreshAuth, authFailed(RealmRefresh, CodeUserNotFound, err))
		}
		return nil, nil, fmt.Errorf("find session: %w", err)
	}
	if session.IsExpired(s.now()) {
		return nil, nil, s.fail(opRefreshAuth, authFailed(RealmRefresh, CodeUserNotFound, storage.ErrSessionNotFound))
	}

	user, err := s.activeUser(ctx, RealmRefresh, session.UserID)
	if err != nil {
		return nil, nil, s.fail(opRefreshAuth, err)
	}
	return user, session, nil
}

// CheckCredentials validates a login body and returns the matching active user.
// Every mismatch yields the same ValidationError.
func (s *AuthService) CheckCredentials(ctx context.Context, req models.LoginRequest) (*models.User, error) {
	verr := &ValidationError{}
	if req.Username == "" {
		verr.Add("username", "This field is required.")
	}
	if req.Password == "" {
		verr.Add("password", "This field is required.")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByUsername(ctx, req.Username)
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("get user by username: %w", err)
	}

	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	if !s.hasher.Verify(hash, req.Password) || user == nil || !user.IsActive {
		s.metrics.ObserveAuthFailure(opLogin, "bad_credentials")
		verr.Add("message", msgBadCredentials)
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, verr)
	}
	return user, nil
}

// Login opens a new refresh session and mints an access token. No prior state is consulted.
func (s *AuthService) Login(ctx context.Context, user *models.User, meta models.ClientMetadata) (*Credentials, error) {
	now := s.now()

	session, err := s.sessions.Create(ctx, user.ID, meta, now)
	if err != nil {
		s.metrics.ObserveOperation(opLogin, err)
		return nil, err
	}

	creds, err := s.issue(user, session, now)
	s.metrics.ObserveOperation(opLogin, err)
	if err != nil {
		return nil, err
	}

	s.log.Infow("User logged in", "userID", user.ID, "sessionID", session.ID, "remoteAddr", meta.RemoteAddr)
	return creds, nil
}

// Refresh rotates an authenticated session and mints a fresh access token.
// Losing a concurrent rotation surfaces as an AuthError wrapping storage.ErrSessionNotFound.
func (s *AuthService) Refresh(
	ctx context.Context,
	user *models.User,
	session *models.RefreshSession,
	meta models.ClientMetadata,
) (*Credentials, error) {
	now := s.now()

	rotated, err := s.sessions.Rotate(ctx, session, meta, now)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, s.fail(opRefresh, authFailed(RealmRefresh, CodeUserNotFound, err))
		}
		s.metrics.ObserveOperation(opRefresh, err)
		return nil, err
	}

	creds, err := s.issue(user, rotated, now)
	s.metrics.ObserveOperation(opRefresh, err)
	if err != nil {
		return nil, err
	}

	s.log.Debugw("Session rotated", "userID", user.ID, "sessionID", rotated.ID)
	return creds, nil
}

func (s *AuthService) Logout(ctx context.Context, session *models.RefreshSession) error {
	err := s.sessions.Delete(ctx, session)
	s.metrics.ObserveOperation(opLogout, err)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.log.Infow("User logged out", "userID", session.UserID, "sessionID", session.ID)
	return nil
}

// ListSessions returns the user's refresh sessions that have not expired yet.
func (s *AuthService) ListSessions(ctx context.Context, user *models.User) ([]models.RefreshSession, error) {
	sessions, err := s.sessions.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	now := s.now()
	active := make([]models.RefreshSession, 0, len(sessions))
	for i := range sessions {
		if !sessions[i].IsExpired(now) {
			active = append(active, sessions[i])
		}
	}
	return active, nil
}

func (s *AuthService) issue(user *models.User, session *models.RefreshSession, now time.Time) (*Credentials, error) {
	claims, token, err := s.tokens.Encode(user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("encode access token: %w", err)
	}
	return &Credentials{
		AccessToken:  token,
		AccessClaims: claims,
		Session:      session,
	}, nil
}

func (s *AuthService) activeUser(ctx context.Context, realm Realm, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, authFailed(realm, CodeUserNotFound, err)
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	if !user.IsActive {
		return nil, authFailed(realm, CodeUserInactive, ErrUserInactive)
	}
	return user, nil
}

// fail records an authentication failure and passes err through.
func (s *AuthService) fail(operation string, err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		s.metrics.ObserveAuthFailure(operation, authErr.Code)
		s.log.Debugw("Authentication failed", "operation", operation, "code", authErr.Code, "error", authErr.Err)
	}
	return err
}
