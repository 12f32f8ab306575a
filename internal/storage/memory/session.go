package memory

import (
	"context"
	"sort"
	"time"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage"
)

func (m *InMemoryStorage) CreateSession(ctx context.Context, session models.RefreshSession, maxPerUser int) (*models.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := m.users[session.UserID]; !ok {
		return nil, storage.ErrUserNotFound
	}

	m.nextSessionID++
	session.ID = m.nextSessionID
	session.CreatedAt = time.Now().UTC()
	m.sessions[session.ID] = session
	m.sessionsByKey[session.SessionKey] = session.ID

	count := 0
	for _, s := range m.sessions {
		if s.UserID == session.UserID {
			count++
		}
	}
	if count >= maxPerUser {
		for id, s := range m.sessions {
			if s.UserID == session.UserID && id != session.ID {
				m.deleteSessionLocked(id)
			}
		}
		m.log.Debugw("Session cap reached, older sessions dropped", "userID", session.UserID, "count", count)
	}

	m.log.Debugw("Session created", "sessionID", session.ID, "userID", session.UserID)
	return &session, nil
}

func (m *InMemoryStorage) GetSessionByKey(ctx context.Context, sessionKey string) (*models.RefreshSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.sessionsByKey[sessionKey]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	session := m.sessions[id]
	return &session, nil
}

func (m *InMemoryStorage) RotateSession(ctx context.Context, oldKey string, session models.RefreshSession) (*models.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, ok := m.sessions[session.ID]
	if !ok || current.SessionKey != oldKey {
		return nil, storage.ErrSessionNotFound
	}

	delete(m.sessionsByKey, oldKey)
	current.SessionKey = session.SessionKey
	current.ExpiresAt = session.ExpiresAt
	current.UserAgent = session.UserAgent
	current.RemoteAddr = session.RemoteAddr
	current.RemoteHost = session.RemoteHost
	m.sessions[current.ID] = current
	m.sessionsByKey[current.SessionKey] = current.ID

	return &current, nil
}

func (m *InMemoryStorage) DeleteSession(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteSessionLocked(id)
	return nil
}

func (m *InMemoryStorage) ListUserSessions(ctx context.Context, userID int64) ([]models.RefreshSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]models.RefreshSession, 0)
	for _, s := range m.sessions {
		if s.UserID == userID {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID > sessions[j].ID })
	return sessions, nil
}

func (m *InMemoryStorage) DeleteAllUserSessions(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteUserSessionsLocked(userID)
	return nil
}

func (m *InMemoryStorage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, s := range m.sessions {
		if s.IsExpired(now) {
			m.deleteSessionLocked(id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *InMemoryStorage) deleteUserSessionsLocked(userID int64) {
	for id, s := range m.sessions {
		if s.UserID == userID {
			m.deleteSessionLocked(id)
		}
	}
}

func (m *InMemoryStorage) deleteSessionLocked(id int64) {
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessionsByKey, s.SessionKey)
	delete(m.sessions, id)
}
