package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/config"
	"github.com/ragnote/ragcore/internal/configstore"
	"github.com/ragnote/ragcore/internal/db"
	"github.com/ragnote/ragcore/internal/store"
)

type stubMailer struct {
	sent []string
	fail bool
}

func (m *stubMailer) Send(_ context.Context, to, _, _ string) error {
	if m.fail {
		return errors.New("smtp refused")
	}
	m.sent = append(m.sent, to)
	return nil
}

func newAuthService(t *testing.T, mailer Mailer) (*Service, *configstore.Store) {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Type:        "sqlite",
		SQLitePath:  filepath.Join(t.TempDir(), "auth.db"),
		PoolSize:    4,
		PoolTimeout: 2 * time.Second,
	}
	client, err := db.NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Migrate(context.Background()))

	st := store.New(client, nil, zap.NewNop())
	configs := configstore.New(time.Minute, zap.NewNop())
	svc := NewService(Config{JWTSecret: "test-secret"}, st, configs, mailer, zap.NewNop())
	return svc, configs
}

func registerUser(t *testing.T, svc *Service, configs *configstore.Store, username, email string) {
	t.Helper()
	configs.SetCode(email, "123456")
	_, err := svc.Register(context.Background(), username, email, "Password1", "123456")
	require.NoError(t, err)
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("Password1"))

	cases := map[string]string{
		"short":       "Ab1",
		"no upper":    "password1",
		"no lower":    "PASSWORD1",
		"no digit":    "Passwordx",
		"over bcrypt": "Aa1" + string(make([]byte, 80)),
	}
	for name, pw := range cases {
		var ve *ValidationError
		assert.ErrorAs(t, ValidatePassword(pw), &ve, name)
	}
}

func TestSendCodeDevModeWithoutMailer(t *testing.T) {
	svc, configs := newAuthService(t, nil)

	res, err := svc.SendCode(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.False(t, res.Sent)
	require.Len(t, res.DevCode, 6)
	assert.True(t, configs.VerifyCode("a@example.com", res.DevCode))
}

func TestSendCodeFallsBackWhenDeliveryFails(t *testing.T) {
	svc, _ := newAuthService(t, &stubMailer{fail: true})

	res, err := svc.SendCode(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.NotEmpty(t, res.DevCode)
}

func TestSendCodeRejectsRegisteredEmail(t *testing.T) {
	svc, configs := newAuthService(t, nil)
	registerUser(t, svc, configs, "alice", "a@example.com")

	_, err := svc.SendCode(context.Background(), "a@example.com")
	assert.ErrorIs(t, err, ErrEmailRegistered)
}

func TestRegisterAndLogin(t *testing.T) {
	svc, configs := newAuthService(t, nil)
	registerUser(t, svc, configs, "alice", "a@example.com")

	token, err := svc.Login(context.Background(), "alice", "Password1")
	require.NoError(t, err)

	identity, err := svc.JWT().ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
	assert.NotZero(t, identity.UserID)
}

func TestRegisterRejectsBadCode(t *testing.T) {
	svc, configs := newAuthService(t, nil)
	configs.SetCode("a@example.com", "123456")

	_, err := svc.Register(context.Background(), "alice", "a@example.com", "Password1", "999999")
	assert.ErrorIs(t, err, ErrBadCode)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc, configs := newAuthService(t, nil)
	registerUser(t, svc, configs, "alice", "a@example.com")

	configs.SetCode("b@example.com", "123456")
	_, err := svc.Register(context.Background(), "alice", "b@example.com", "Password1", "123456")
	assert.ErrorIs(t, err, ErrUsernameExists)

	configs.SetCode("a@example.com", "123456")
	_, err = svc.Register(context.Background(), "bob", "a@example.com", "Password1", "123456")
	assert.ErrorIs(t, err, ErrEmailRegistered)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, configs := newAuthService(t, nil)
	registerUser(t, svc, configs, "alice", "a@example.com")

	_, err := svc.Login(context.Background(), "alice", "WrongPass1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody", "Password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResetPassword(t *testing.T) {
	svc, configs := newAuthService(t, nil)
	registerUser(t, svc, configs, "alice", "a@example.com")

	configs.SetCode("a@example.com", "654321")
	require.NoError(t, svc.ResetPassword(context.Background(), "a@example.com", "654321", "NewPass1"))

	_, err := svc.Login(context.Background(), "alice", "Password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(context.Background(), "alice", "NewPass1")
	assert.NoError(t, err)
}

func TestResetPasswordUnknownEmail(t *testing.T) {
	svc, _ := newAuthService(t, nil)
	err := svc.ResetPassword(context.Background(), "x@example.com", "123456", "NewPass1")
	assert.ErrorIs(t, err, ErrEmailNotFound)
}
