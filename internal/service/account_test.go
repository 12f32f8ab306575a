package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/util"
)

func requireResponseError(t *testing.T, err error, status int) {
	t.Helper()
	var respErr util.MyResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, status, respErr.Status)
}

func register(t *testing.T, env *testEnv, username string) *models.User {
	t.Helper()
	user, err := env.accounts.Register(context.Background(), models.RegisterRequest{
		Username: username,
		Email:    username + "@Example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	return user
}

func TestAccountService_RegisterAndConfirm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := register(t, env, "alice")
	assert.False(t, user.IsActive)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, testPassword, user.PasswordHash)

	task := env.dispatcher.last(t)
	assert.Equal(t, "alice@example.com", task.To)
	assert.Equal(t, activationSubject, task.Subject)
	assert.Contains(t, task.HTML, "https://app.example.com/confirm?confirmEmailToken=")
	assert.NotContains(t, task.Text, "<p>")
	token := tokenFromEmail(t, confirmTokenPattern, task)

	_, err := env.auth.CheckCredentials(ctx, models.LoginRequest{Username: "alice", Password: testPassword})
	require.ErrorIs(t, err, ErrInvalidCredentials, "inactive users cannot log in")

	activated, err := env.accounts.ConfirmEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	_, err = env.auth.CheckCredentials(ctx, models.LoginRequest{Username: "alice", Password: testPassword})
	require.NoError(t, err)

	_, err = env.accounts.ConfirmEmail(ctx, token)
	requireResponseError(t, err, http.StatusBadRequest)
}

func TestAccountService_ConfirmEmail_Expired(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "alice")
	token := tokenFromEmail(t, confirmTokenPattern, env.dispatcher.last(t))

	env.clock.Advance(72 * time.Hour)

	_, err := env.accounts.ConfirmEmail(context.Background(), token)
	requireResponseError(t, err, http.StatusBadRequest)
}

func TestAccountService_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "alice")

	tests := []struct {
		name   string
		req    models.RegisterRequest
		fields []string
	}{
		{"empty", models.RegisterRequest{}, []string{"username", "email", "password"}},
		{"short username", models.RegisterRequest{Username: "ab", Email: "ab@example.com", Password: testPassword}, []string{"username"}},
		{"bad username", models.RegisterRequest{Username: "bad name", Email: "b@example.com", Password: testPassword}, []string{"username"}},
		{"bad email", models.RegisterRequest{Username: "bobby", Email: "not-an-email", Password: testPassword}, []string{"email"}},
		{"short password", models.RegisterRequest{Username: "bobby", Email: "b@example.com", Password: "short"}, []string{"password"}},
		{"numeric password", models.RegisterRequest{Username: "bobby", Email: "b@example.com", Password: "1234567890123"}, []string{"password"}},
		{"common password", models.RegisterRequest{Username: "bobby", Email: "b@example.com", Password: "password1"}, []string{"password"}},
		{"password equals username", models.RegisterRequest{Username: "bobby_tables", Email: "b@example.com", Password: "bobby_tables"}, []string{"password"}},
		{"duplicate username", models.RegisterRequest{Username: "alice", Email: "new@example.com", Password: testPassword}, []string{"username"}},
		{"duplicate email", models.RegisterRequest{Username: "alice2", Email: "ALICE@example.com", Password: testPassword}, []string{"email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.accounts.Register(context.Background(), tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			for _, field := range tt.fields {
				assert.NotEmpty(t, verr.Fields[field], "expected an error for %s, got %v", field, verr.Fields)
			}
			assert.Len(t, verr.Fields, len(tt.fields))
		})
	}
}

func TestAccountService_RegisterDispatchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.err = errors.New("redis down")

	_, err := env.accounts.Register(context.Background(), models.RegisterRequest{
		Username: "alice", Email: "alice@example.com", Password: testPassword,
	})
	require.Error(t, err)
}

func TestAccountService_Checks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	register(t, env, "alice")

	exists, err := env.accounts.CheckUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = env.accounts.CheckUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = env.accounts.CheckUsername(ctx, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	exists, err = env.accounts.CheckEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = env.accounts.CheckEmail(ctx, "nope")
	require.ErrorAs(t, err, &verr)
}

func TestAccountService_SendConfirmEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	register(t, env, "alice")
	first := tokenFromEmail(t, confirmTokenPattern, env.dispatcher.last(t))

	require.NoError(t, env.accounts.SendConfirmEmail(ctx, "alice@example.com"))
	assert.Equal(t, 2, env.dispatcher.count())
	second := tokenFromEmail(t, confirmTokenPattern, env.dispatcher.last(t))
	assert.NotEqual(t, first, second)

	_, err := env.accounts.ConfirmEmail(ctx, first)
	requireResponseError(t, err, http.StatusBadRequest)

	_, err = env.accounts.ConfirmEmail(ctx, second)
	require.NoError(t, err)

	err = env.accounts.SendConfirmEmail(ctx, "alice@example.com")
	requireResponseError(t, err, http.StatusConflict)

	require.NoError(t, env.accounts.SendConfirmEmail(ctx, "nobody@example.com"))
	assert.Equal(t, 2, env.dispatcher.count())
}

func TestAccountService_ForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.activeUser(t, "alice")

	creds, err := env.auth.Login(ctx, user, testMeta)
	require.NoError(t, err)

	require.NoError(t, env.accounts.ForgotPassword(ctx, "alice@example.com", RequestInfo{Host: "192.0.2.10", UserAgent: "test-agent"}))
	task := env.dispatcher.last(t)
	assert.Equal(t, resetPasswordSubject, task.Subject)
	assert.Contains(t, task.Text, "192.0.2.10")
	assert.Contains(t, task.Text, "24 hours")
	token := tokenFromEmail(t, resetTokenPattern, task)

	err = env.accounts.ResetPassword(ctx, models.ResetPasswordRequest{Token: token, Password: "short"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Fields["password"])

	const newPassword = "another-long-secret"
	require.NoError(t, env.accounts.ResetPassword(ctx, models.ResetPasswordRequest{Token: token, Password: newPassword}))

	_, _, err = env.auth.AuthenticateRefresh(ctx, creds.Session.SessionKey)
	requireAuthError(t, err, RealmRefresh, CodeUserNotFound)

	_, err = env.auth.CheckCredentials(ctx, models.LoginRequest{Username: "alice", Password: testPassword})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.auth.CheckCredentials(ctx, models.LoginRequest{Username: "alice", Password: newPassword})
	require.NoError(t, err)

	err = env.accounts.ResetPassword(ctx, models.ResetPasswordRequest{Token: token, Password: newPassword})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Not valid."}, verr.Fields["token"])
}

func TestAccountService_ForgotPassword_Inactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	register(t, env, "alice")
	sent := env.dispatcher.count()

	err := env.accounts.ForgotPassword(ctx, "alice@example.com", RequestInfo{})
	requireResponseError(t, err, http.StatusConflict)

	require.NoError(t, env.accounts.ForgotPassword(ctx, "ghost@example.com", RequestInfo{}))
	assert.Equal(t, sent, env.dispatcher.count())
}

func TestAccountTokenHelpers(t *testing.T) {
	token, err := NewAccountToken()
	require.NoError(t, err)
	assert.Len(t, token, 86)
	assert.False(t, strings.ContainsAny(token, "+/="))

	hash := HashAccountToken(token)
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, HashAccountToken(token))
}
