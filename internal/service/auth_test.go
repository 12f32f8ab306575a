package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage"
)

var testMeta = models.ClientMetadata{UserAgent: "test-agent", RemoteAddr: "192.0.2.10", RemoteHost: "client.example"}

func requireAuthError(t *testing.T, err error, realm Realm, code string) {
	t.Helper()
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, realm, authErr.Realm)
	assert.Equal(t, code, authErr.Code)
}

func TestAuthService_Login(t *testing.T) {
	env := newTestEnv(t)
	user := env.activeUser(t, "alice")

	creds, err := env.auth.Login(context.Background(), user, testMeta)
	require.NoError(t, err)

	assert.Equal(t, user.ID, creds.AccessClaims.UserID)
	assert.Equal(t, testNow.Add(5*time.Minute), creds.AccessClaims.Expiry())
	assert.Equal(t, testNow.Add(24*time.Hour), creds.Session.ExpiresAt)
	assert.Len(t, creds.Session.SessionKey, 64)
	assert.Equal(t, "test-agent", creds.Session.UserAgent)
	assert.Equal(t, "192.0.2.10", creds.Session.RemoteAddr)

	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.AuthOperations.WithLabelValues(opLogin, "success")), 0)
}

func TestAuthService_AuthenticateAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.activeUser(t, "alice")
	creds, err := env.auth.Login(ctx, user, testMeta)
	require.NoError(t, err)

	got, claims, err := env.auth.AuthenticateAccess(ctx, creds.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, creds.AccessClaims.ID, claims.ID)

	t.Run("does not depend on the session", func(t *testing.T) {
		require.NoError(t, env.auth.Logout(ctx, creds.Session))
		_, _, err := env.auth.AuthenticateAccess(ctx, creds.AccessToken)
		require.NoError(t, err)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, _, err := env.auth.AuthenticateAccess(ctx, "garbage")
		requireAuthError(t, err, RealmAccess, CodeAccessTokenNotValid)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("inactive user", func(t *testing.T) {
		env.store.SetUserActive(user.ID, false)
		defer env.store.SetUserActive(user.ID, true)

		_, _, err := env.auth.AuthenticateAccess(ctx, creds.AccessToken)
		requireAuthError(t, err, RealmAccess, CodeUserInactive)
	})

	t.Run("expired token", func(t *testing.T) {
		env.clock.Advance(5 * time.Minute)
		_, _, err := env.auth.AuthenticateAccess(ctx, creds.AccessToken)
		requireAuthError(t, err, RealmAccess, CodeAccessTokenExpired)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.AuthFailures.WithLabelValues(CodeAccessTokenExpired)), 0)
}

func TestAuthService_AuthenticateAccess_DeletedUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.activeUser(t, "alice")
	creds, err := env.auth.Login(ctx, user, testMeta)
	require.NoError(t, err)

	env.store.DeleteUser(user.ID)

	_, _, err = env.auth.AuthenticateAccess(ctx, creds.AccessToken)
	requireAuthError(t, err, RealmAccess, CodeUserNotFound)
}

func TestAuthService_AuthenticateRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.activeUser(t, "alice")
	creds, err := env.auth.Login(ctx, user, testMeta)
	require.NoError(t, err)

	got, session, err := env.auth.AuthenticateRefresh(ctx, creds.Session.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, creds.Session.ID, session.ID)

	_, _, err = env.auth.AuthenticateRefresh(ctx, "unknown-key")
	requireAuthError(t, err, RealmRefresh, CodeUserNotFound)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	env.clock.Advance(24*time.Hour - time.Second)
	_, _, err = env.auth.AuthenticateRefresh(ctx, creds.Session.SessionKey)
	require.NoError(t, err)

	env.clock.Advance(time.Second)
	_, _, err = env.auth.AuthenticateRefresh(ctx, creds.Session.SessionKey)
	requireAuthError(t, err, RealmRefresh, CodeUserNotFound)
}

func TestAuthService_ListSessions_SkipsExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.activeUser(t, "alice")

	first, err := env.auth.Login(ctx, user, testMeta)
	require.NoError(t, err)
	env.clock.Advance(time.Hour)
	second, err := env.auth.Login(ctx, user, testMeta)
	require.NoError(t, err)

	sessions, err := env.auth.ListSessions(ctx, user)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	env.clock.Advance(23 * time.Hour)
	sessions, err = env.auth.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second.Session.ID, sessions[0].ID)
	_, _, err = env.auth.AuthenticateRefresh(ctx, first.Session.SessionKey)
	requireAuthError(t, err, RealmRefresh, CodeUserNotFound)

	env.clock.Advance(25 * time.Hour)
	sessions, err = env.auth.ListSessions(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestAuthService_AuthenticateRefresh_InactiveUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.activeUser(t, "alice")
	creds, err := env.auth.Login(ctx, user, testMeta)
	require.NoError(t, err)

	env.store.SetUserActive(user.ID, false)

	_, _, err = env.auth.AuthenticateRefresh(ctx, creds.Session.SessionKey)
	requireAuthError(t, err, RealmRefresh, CodeUserInactive)
}

func TestAuthService_LoginRefreshLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.activeUser(t, "alice")

	login, err := env.auth.Login(ctx, user, testMeta)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	first, err := env.auth.Refresh(ctx, user, login.Session, testMeta)
	require.NoError(t, err)
	assert.Equal(t, login.Session.ID, first.Session.ID)
	assert.NotEqual(t, login.Session.SessionKey, first.Session.SessionKey)
	assert.Equal(t, testNow.Add(time.Minute+24*time.Hour), first.Session.ExpiresAt)
	assert.NotEqual(t, login.AccessClaims.ID, first.AccessClaims.ID)

	_, _, err = env.auth.AuthenticateRefresh(ctx, login.Session.SessionKey)
	requireAuthError(t, err, RealmRefresh, CodeUserNotFound)

	_, err = env.auth.Refresh(ctx, user, login.Session, testMeta)
	requireAuthError(t, err, RealmRefresh, CodeUserNotFound)

	second, err := env.auth.Refresh(ctx, user, first.Session, testMeta)
	require.NoError(t, err)

	require.NoError(t, env.auth.Logout(ctx, second.Session))
	_, _, err = env.auth.AuthenticateRefresh(ctx, second.Session.SessionKey)
	requireAuthError(t, err, RealmRefresh, CodeUserNotFound)

	sessions, err := env.auth.ListSessions(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestAuthService_ConcurrentRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.activeUser(t, "alice")
	login, err := env.auth.Login(ctx, user, testMeta)
	require.NoError(t, err)

	const attempts = 8
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		winner  atomic.Pointer[Credentials]
		start   = make(chan struct{})
		unknown atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			creds, err := env.auth.Refresh(ctx, user, login.Session, testMeta)
			var authErr *AuthError
			switch {
			case err == nil:
				wins.Add(1)
				winner.Store(creds)
			case errors.As(err, &authErr) && errors.Is(err, storage.ErrSessionNotFound):
			default:
				unknown.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Zero(t, unknown.Load())

	_, _, err = env.auth.AuthenticateRefresh(ctx, winner.Load().Session.SessionKey)
	require.NoError(t, err)
}

func TestAuthService_SessionCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.activeUser(t, "alice")
	other := env.activeUser(t, "bob")

	otherCreds, err := env.auth.Login(ctx, other, testMeta)
	require.NoError(t, err)

	var all []*Credentials
	for i := 0; i < MaxSessionsPerUser-1; i++ {
		creds, err := env.auth.Login(ctx, user, testMeta)
		require.NoError(t, err)
		all = append(all, creds)
	}
	sessions, err := env.auth.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, sessions, MaxSessionsPerUser-1)

	latest, err := env.auth.Login(ctx, user, testMeta)
	require.NoError(t, err)

	sessions, err = env.auth.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, latest.Session.ID, sessions[0].ID)

	for _, creds := range all {
		_, _, err := env.auth.AuthenticateRefresh(ctx, creds.Session.SessionKey)
		requireAuthError(t, err, RealmRefresh, CodeUserNotFound)

		_, _, err = env.auth.AuthenticateAccess(ctx, creds.AccessToken)
		require.NoError(t, err, "access tokens outlive dropped sessions until they expire")
	}

	_, _, err = env.auth.AuthenticateRefresh(ctx, otherCreds.Session.SessionKey)
	require.NoError(t, err)
}

func TestAuthService_CheckCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.activeUser(t, "alice")

	got, err := env.auth.CheckCredentials(ctx, models.LoginRequest{Username: "alice", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	t.Run("missing fields", func(t *testing.T) {
		_, err := env.auth.CheckCredentials(ctx, models.LoginRequest{})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"This field is required."}, verr.Fields["username"])
		assert.Equal(t, []string{"This field is required."}, verr.Fields["password"])
		assert.NotErrorIs(t, err, ErrInvalidCredentials)
	})

	bad := []struct {
		name string
		req  models.LoginRequest
		prep func()
	}{
		{"wrong password", models.LoginRequest{Username: "alice", Password: "wrong-password"}, func() {}},
		{"unknown user", models.LoginRequest{Username: "nobody", Password: testPassword}, func() {}},
		{"inactive user", models.LoginRequest{Username: "alice", Password: testPassword}, func() {
			env.store.SetUserActive(user.ID, false)
		}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			tt.prep()
			_, err := env.auth.CheckCredentials(ctx, tt.req)
			require.ErrorIs(t, err, ErrInvalidCredentials)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, []string{msgBadCredentials}, verr.Fields["message"])
		})
	}
}
