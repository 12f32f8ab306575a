package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage"
	"github.com/rryowa/cookie_auth/internal/util"
)

const accountTokenBytes = 64

// AccountStore is the part of the storage an AccountService needs.
type AccountStore interface {
	storage.UserRepository
	storage.AccountRepository
}

// RequestInfo describes the HTTP request that triggered an account email.
type RequestInfo struct {
	Host      string
	UserAgent string
}

// AccountService implements registration, email activation and password reset.
type AccountService struct {
	store  AccountStore
	hasher *PasswordHasher
	mail   *MailService
	cfg    *util.AccountConfig
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewAccountService(
	store AccountStore,
	hasher *PasswordHasher,
	mail *MailService,
	cfg *util.AccountConfig,
	log *zap.SugaredLogger,
) *AccountService {
	return &AccountService{
		store:  store,
		hasher: hasher,
		mail:   mail,
		cfg:    cfg,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *AccountService) WithClock(now func() time.Time) *AccountService {
	s.now = now
	return s
}

// Register creates an inactive user and emails an activation link.
func (s *AccountService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	verr := &ValidationError{}
	validateUsername(verr, req.Username)
	validateEmail(verr, req.Email)
	validatePassword(verr, "password", req.Password, req.Username)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, models.User{
		Username:     req.Username,
		Email:        strings.ToLower(req.Email),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return nil, s.duplicateUserError(ctx, req)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.sendActivation(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infow("User registered", "userID", user.ID)
	return user, nil
}

func (s *AccountService) CheckUsername(ctx context.Context, username string) (bool, error) {
	verr := &ValidationError{}
	if username == "" {
		verr.Add("username", "This field is required.")
	} else if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		verr.Add("username", fmt.Sprintf("Ensure this field has between %d and %d characters.", minUsernameLength, maxUsernameLength))
	}
	if err := verr.OrNil(); err != nil {
		return false, err
	}
	return s.store.UsernameExists(ctx, username)
}

func (s *AccountService) CheckEmail(ctx context.Context, email string) (bool, error) {
	verr := &ValidationError{}
	validateEmail(verr, email)
	if err := verr.OrNil(); err != nil {
		return false, err
	}
	return s.store.EmailExists(ctx, email)
}

// ConfirmEmail activates the owner of a live activation token. The token is single-use.
func (s *AccountService) ConfirmEmail(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		verr := &ValidationError{}
		verr.Add("token", "This field is required.")
		return nil, verr
	}

	user, err := s.store.ActivateUserTx(ctx, HashAccountToken(token), s.now())
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrUserNotFound) {
			return nil, util.NewBadRequestError("Token not valid.")
		}
		return nil, fmt.Errorf("activate user: %w", err)
	}

	s.log.Infow("User activated", "userID", user.ID)
	return user, nil
}

// SendConfirmEmail re-issues the activation email. Unknown addresses succeed silently.
func (s *AccountService) SendConfirmEmail(ctx context.Context, email string) error {
	verr := &ValidationError{}
	validateEmail(verr, email)
	if err := verr.OrNil(); err != nil {
		return err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("get user by email: %w", err)
	}
	if user.IsActive {
		return util.NewConflictError("User account is already activated")
	}
	return s.sendActivation(ctx, user)
}

// ForgotPassword emails a reset link to an active user. Unknown addresses succeed silently.
func (s *AccountService) ForgotPassword(ctx context.Context, email string, info RequestInfo) error {
	verr := &ValidationError{}
	validateEmail(verr, email)
	if err := verr.OrNil(); err != nil {
		return err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("get user by email: %w", err)
	}
	if !user.IsActive {
		return util.NewConflictError("User account not active.")
	}

	token, err := s.issueToken(ctx, user.ID, models.AccountTokenResetPassword, s.cfg.ResetPasswordTTL)
	if err != nil {
		return err
	}

	return s.mail.SendResetPassword(ctx, user, resetPasswordData{
		Username:       user.Username,
		URL:            s.resetPasswordURL(user, token),
		UserHost:       info.Host,
		UserAgent:      info.UserAgent,
		ExpiresInHours: int(s.cfg.ResetPasswordTTL / time.Hour),
		FrontendURL:    s.cfg.FrontendDomain,
	})
}

// ResetPassword sets a new password from a live reset token and signs the user out everywhere.
func (s *AccountService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	verr := &ValidationError{}
	if req.Token == "" {
		verr.Add("token", "This field is required.")
	}
	validatePassword(verr, "password", req.Password, "")
	if err := verr.OrNil(); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return err
	}

	user, err := s.store.ResetPasswordTx(ctx, HashAccountToken(req.Token), hash, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrUserNotFound) {
			verr.Add("token", "Not valid.")
			return verr
		}
		return fmt.Errorf("reset password: %w", err)
	}

	s.log.Infow("Password reset, refresh sessions dropped", "userID", user.ID)
	return nil
}

func (s *AccountService) sendActivation(ctx context.Context, user *models.User) error {
	token, err := s.issueToken(ctx, user.ID, models.AccountTokenActivation, s.cfg.EmailTokenTTL)
	if err != nil {
		return err
	}
	return s.mail.SendActivation(ctx, user, activationData{
		Username: user.Username,
		URL:      s.cfg.FrontendConfirmEmailURL + "?confirmEmailToken=" + url.QueryEscape(token),
	})
}

func (s *AccountService) issueToken(ctx context.Context, userID int64, kind models.AccountTokenKind, ttl time.Duration) (string, error) {
	token, err := NewAccountToken()
	if err != nil {
		return "", err
	}
	err = s.store.UpsertAccountToken(ctx, models.AccountToken{
		UserID:    userID,
		Kind:      kind,
		TokenHash: HashAccountToken(token),
		ExpiresAt: s.now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("store %s token: %w", kind, err)
	}
	return token, nil
}

func (s *AccountService) resetPasswordURL(user *models.User, token string) string {
	q := url.Values{}
	q.Set("changePasswordToken", token)
	q.Set("userEmail", user.Email)
	q.Set("userUsername", user.Username)
	return s.cfg.FrontendResetPasswordURL + "?" + q.Encode()
}

func (s *AccountService) duplicateUserError(ctx context.Context, req models.RegisterRequest) error {
	verr := &ValidationError{}
	if exists, err := s.store.UsernameExists(ctx, req.Username); err == nil && exists {
		verr.Add("username", "A user with that username already exists.")
	}
	if exists, err := s.store.EmailExists(ctx, req.Email); err == nil && exists {
		verr.Add("email", "A user with that email already exists.")
	}
	if len(verr.Fields) == 0 {
		verr.Add("message", "A user with these credentials already exists.")
	}
	return verr
}

// NewAccountToken returns a random URL-safe single-use token.
func NewAccountToken() (string, error) {
	raw := make([]byte, accountTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashAccountToken is the form in which account tokens are stored.
func HashAccountToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
