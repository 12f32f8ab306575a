package memory

import (
	"context"
	"strings"
	"time"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage"
)

func (m *InMemoryStorage) CreateUser(ctx context.Context, user models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == user.Username || strings.EqualFold(u.Email, user.Email) {
			return nil, storage.ErrUserExists
		}
	}

	m.nextUserID++
	user.ID = m.nextUserID
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = user
	return &user, nil
}

func (m *InMemoryStorage) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return &user, nil
}

func (m *InMemoryStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.findUser(func(u models.User) bool { return u.Username == username })
}

func (m *InMemoryStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUser(func(u models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (m *InMemoryStorage) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := m.GetUserByUsername(ctx, username)
	return err == nil, nil
}

func (m *InMemoryStorage) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := m.GetUserByEmail(ctx, email)
	return err == nil, nil
}

// SetUserActive flips the activity flag; used by seeding and tests.
func (m *InMemoryStorage) SetUserActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[id]; ok {
		u.IsActive = active
		m.users[id] = u
	}
}

// DeleteUser removes a user together with everything it owns.
func (m *InMemoryStorage) DeleteUser(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteUserSessionsLocked(id)
	for k := range m.tokens {
		if k.userID == id {
			delete(m.tokens, k)
		}
	}
	delete(m.users, id)
}

func (m *InMemoryStorage) UpsertAccountToken(ctx context.Context, token models.AccountToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[token.UserID]; !ok {
		return storage.ErrUserNotFound
	}
	m.tokens[tokenKey{userID: token.UserID, kind: token.Kind}] = token
	return nil
}

func (m *InMemoryStorage) ActivateUserTx(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, err := m.consumeTokenLocked(models.AccountTokenActivation, tokenHash, now)
	if err != nil {
		return nil, err
	}
	user := m.users[userID]
	user.IsActive = true
	m.users[userID] = user
	return &user, nil
}

func (m *InMemoryStorage) ResetPasswordTx(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, err := m.consumeTokenLocked(models.AccountTokenResetPassword, tokenHash, now)
	if err != nil {
		return nil, err
	}
	user := m.users[userID]
	user.PasswordHash = passwordHash
	m.users[userID] = user
	m.deleteUserSessionsLocked(userID)
	return &user, nil
}

func (m *InMemoryStorage) consumeTokenLocked(kind models.AccountTokenKind, tokenHash string, now time.Time) (int64, error) {
	for k, t := range m.tokens {
		if k.kind == kind && t.TokenHash == tokenHash {
			if !now.Before(t.ExpiresAt) {
				return 0, storage.ErrTokenNotFound
			}
			delete(m.tokens, k)
			if _, ok := m.users[k.userID]; !ok {
				return 0, storage.ErrUserNotFound
			}
			return k.userID, nil
		}
	}
	return 0, storage.ErrTokenNotFound
}

func (m *InMemoryStorage) findUser(match func(models.User) bool) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, storage.ErrUserNotFound
}
