//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/migrations"
	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage"

	_ "github.com/lib/pq"
)

func newIntegrationStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("cookie_auth_test"),
		tcpostgres.WithUsername("cookie_auth"),
		tcpostgres.WithPassword("cookie_auth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.RunMigrations(db, zap.NewNop().Sugar()))
	return NewStorage(db)
}

func TestIntegration_SessionLifecycle(t *testing.T) {
	s := newIntegrationStorage(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, models.User{Username: "alice", Email: "alice@example.com", PasswordHash: "h", IsActive: true})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, models.User{Username: "alice", Email: "other@example.com", PasswordHash: "h"})
	require.ErrorIs(t, err, storage.ErrUserExists)

	t.Run("cap under concurrent logins", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.CreateSession(ctx, models.RefreshSession{
					SessionKey: fmt.Sprintf("login-%d", i),
					UserID:     user.ID,
					ExpiresAt:  time.Now().Add(time.Hour),
				}, 6)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		sessions, err := s.ListUserSessions(ctx, user.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(sessions), 5)
		assert.NotEmpty(t, sessions)
	})

	t.Run("single rotation winner", func(t *testing.T) {
		created, err := s.CreateSession(ctx, models.RefreshSession{
			SessionKey: "rotate-me",
			UserID:     user.ID,
			ExpiresAt:  time.Now().Add(time.Hour),
		}, 6)
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := *created
				next.SessionKey = fmt.Sprintf("rotated-%d", i)
				if _, err := s.RotateSession(ctx, "rotate-me", next); err == nil {
					wins.Add(1)
				} else {
					assert.ErrorIs(t, err, storage.ErrSessionNotFound)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("sweep", func(t *testing.T) {
		_, err := s.CreateSession(ctx, models.RefreshSession{
			SessionKey: "stale",
			UserID:     user.ID,
			ExpiresAt:  time.Now().Add(-time.Minute),
		}, 100)
		require.NoError(t, err)

		n, err := s.DeleteExpiredSessions(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestIntegration_AccountTokens(t *testing.T) {
	s := newIntegrationStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	user, err := s.CreateUser(ctx, models.User{Username: "bob", Email: "bob@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, models.RefreshSession{SessionKey: "bob-key", UserID: user.ID, ExpiresAt: now.Add(time.Hour)}, 6)
	require.NoError(t, err)

	require.NoError(t, s.UpsertAccountToken(ctx, models.AccountToken{
		UserID: user.ID, Kind: models.AccountTokenActivation, TokenHash: fmt.Sprintf("%064d", 1), ExpiresAt: now.Add(time.Hour),
	}))
	activated, err := s.ActivateUserTx(ctx, fmt.Sprintf("%064d", 1), now)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	_, err = s.ActivateUserTx(ctx, fmt.Sprintf("%064d", 1), now)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)

	require.NoError(t, s.UpsertAccountToken(ctx, models.AccountToken{
		UserID: user.ID, Kind: models.AccountTokenResetPassword, TokenHash: fmt.Sprintf("%064d", 2), ExpiresAt: now.Add(time.Hour),
	}))
	updated, err := s.ResetPasswordTx(ctx, fmt.Sprintf("%064d", 2), "new-hash", now)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", updated.PasswordHash)

	_, err = s.GetSessionByKey(ctx, "bob-key")
	require.ErrorIs(t, err, storage.ErrSessionNotFound)
}
