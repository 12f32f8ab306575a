package memory

import (
	"sync"

	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/models"
	"github.com/rryowa/cookie_auth/internal/storage"
)

// InMemoryStorage keeps users, refresh sessions and account tokens in maps behind one mutex,
// so every multi-step operation is linearizable like its postgres transaction counterpart.
type InMemoryStorage struct {
	mu            sync.RWMutex
	users         map[int64]models.User
	sessions      map[int64]models.RefreshSession
	sessionsByKey map[string]int64
	tokens        map[tokenKey]models.AccountToken
	nextUserID    int64
	nextSessionID int64
	log           *zap.SugaredLogger
}

type tokenKey struct {
	userID int64
	kind   models.AccountTokenKind
}

var _ storage.Storage = (*InMemoryStorage)(nil)

func NewStorage(log *zap.SugaredLogger) *InMemoryStorage {
	return &InMemoryStorage{
		users:         make(map[int64]models.User),
		sessions:      make(map[int64]models.RefreshSession),
		sessionsByKey: make(map[string]int64),
		tokens:        make(map[tokenKey]models.AccountToken),
		log:           log,
	}
}
