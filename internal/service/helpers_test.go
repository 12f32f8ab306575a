package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rryowa/cookie_auth/internal/metrics"
	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage/memory"
	"github.com/rryowa/cookie_auth/internal/util"
)

const testPassword = "correct-horse-battery"

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []models.EmailTask
	err   error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, task models.EmailTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *fakeDispatcher) last(t *testing.T) models.EmailTask {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.tasks, "no email was sent")
	return d.tasks[len(d.tasks)-1]
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store      *memory.InMemoryStorage
	metrics    *metrics.Metrics
	clock      *testClock
	hasher     *PasswordHasher
	sessions   *SessionService
	auth       *AuthService
	accounts   *AccountService
	dispatcher *fakeDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := zap.NewNop().Sugar()
	clock := &testClock{now: testNow}
	store := memory.NewStorage(log)
	m := metrics.New(prometheus.NewRegistry())

	hasher, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)

	tokenCfg := &util.TokenConfig{
		JwtSecretKey: []byte("test-access-signing-key"),
		AccessTTL:    5 * time.Minute,
		RefreshTTL:   24 * time.Hour,
	}
	sessions := NewSessionService(store, tokenCfg.RefreshTTL)
	dispatcher := &fakeDispatcher{}

	auth := NewAuthService(store, sessions, NewTokenService(tokenCfg), hasher, m, log).WithClock(clock.Now)
	accounts := NewAccountService(store, hasher, NewMailService(dispatcher, m), &util.AccountConfig{
		EmailTokenTTL:            72 * time.Hour,
		ResetPasswordTTL:         24 * time.Hour,
		BcryptCost:               bcrypt.MinCost,
		FrontendDomain:           "https://app.example.com",
		FrontendConfirmEmailURL:  "https://app.example.com/confirm",
		FrontendResetPasswordURL: "https://app.example.com/reset",
	}, log).WithClock(clock.Now)

	return &testEnv{
		store:      store,
		metrics:    m,
		clock:      clock,
		hasher:     hasher,
		sessions:   sessions,
		auth:       auth,
		accounts:   accounts,
		dispatcher: dispatcher,
	}
}

// activeUser creates an active user with testPassword.
func (e *testEnv) activeUser(t *testing.T, username string) *models.User {
	t.Helper()
	hash, err := e.hasher.Hash(testPassword)
	require.NoError(t, err)
	user, err := e.store.CreateUser(context.Background(), models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		IsActive:     true,
	})
	require.NoError(t, err)
	return user
}

var (
	confirmTokenPattern = regexp.MustCompile(`confirmEmailToken=([A-Za-z0-9_-]+)`)
	resetTokenPattern   = regexp.MustCompile(`changePasswordToken=([A-Za-z0-9_-]+)`)
)

func tokenFromEmail(t *testing.T, pattern *regexp.Regexp, task models.EmailTask) string {
	t.Helper()
	m := pattern.FindStringSubmatch(task.HTML)
	require.Len(t, m, 2, "token not found in %q", task.HTML)
	return m[1]
}
