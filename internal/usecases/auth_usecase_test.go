package usecases

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa_automation/internal/entities"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*entities.User
}

func (m *memUsers) Create(_ context.Context, u *entities.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = map[string]*entities.User{}
	}
	u.ID = len(m.users) + 1
	cp := *u
	m.users[u.Username] = &cp
	return nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*entities.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

const testSecret = "test-secret"

func TestRegisterAndLogin(t *testing.T) {
	users := &memUsers{}
	auth := NewAuthUsecase(users, testSecret)
	ctx := context.Background()

	require.NoError(t, auth.Register(ctx, "budi", "secret123"))
	assert.NotEqual(t, "secret123", users.users["budi"].PasswordHash)

	tokenString, err := auth.Login(ctx, "budi", "secret123")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, claims["user_id"])
	assert.Equal(t, "user", claims["role"])

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), exp.Time, time.Minute)
}

func TestRegisterDuplicate(t *testing.T) {
	auth := NewAuthUsecase(&memUsers{}, testSecret)
	require.NoError(t, auth.Register(context.Background(), "budi", "secret123"))
	assert.ErrorIs(t, auth.Register(context.Background(), "budi", "other123"), entities.ErrValidation)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := NewAuthUsecase(&memUsers{}, testSecret)
	require.NoError(t, auth.Register(context.Background(), "budi", "secret123"))

	_, err := auth.Login(context.Background(), "budi", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(context.Background(), "nobody", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEnsureAdmin(t *testing.T) {
	users := &memUsers{}
	auth := NewAuthUsecase(users, testSecret)

	require.NoError(t, auth.EnsureAdmin(context.Background(), "", "x"))
	assert.Empty(t, users.users)

	require.NoError(t, auth.EnsureAdmin(context.Background(), "admin", "admin123"))
	require.NoError(t, auth.EnsureAdmin(context.Background(), "admin", "changed"))
	assert.Len(t, users.users, 1)
	assert.Equal(t, "admin", users.users["admin"].Role)

	_, err := auth.Login(context.Background(), "admin", "admin123")
	assert.NoError(t, err)
}
