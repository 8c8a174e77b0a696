package configstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigRoundTrip(t *testing.T) {
	s := New(0, zap.NewNop())

	_, err := s.GetConfig(1)
	require.ErrorIs(t, err, ErrConfigMissing)

	s.SetConfig(1, UserConfig{LLMModel: "gpt-4o-mini", LLMAPIKey: "k"})
	cfg, err := s.GetConfig(1)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.False(t, cfg.UpdatedAt.IsZero())

	s.DeleteConfig(1)
	_, err = s.GetConfig(1)
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestSessionFlags(t *testing.T) {
	s := New(0, zap.NewNop())

	_, ok := s.GetSession("conv-1")
	assert.False(t, ok)

	s.MarkDocumentsLoaded("conv-1")
	st, ok := s.GetSession("conv-1")
	require.True(t, ok)
	assert.True(t, st.DocumentsLoaded)

	s.DropSession("conv-1")
	_, ok = s.GetSession("conv-1")
	assert.False(t, ok)
}

func TestVerifyCodeConsumes(t *testing.T) {
	s := New(time.Minute, zap.NewNop())

	s.SetCode("a@example.com", "123456")
	assert.False(t, s.VerifyCode("a@example.com", "999999"))
	assert.True(t, s.VerifyCode("a@example.com", "123456"))
	assert.False(t, s.VerifyCode("a@example.com", "123456"), "code is single use")
}

func TestCodeExpiry(t *testing.T) {
	s := New(time.Minute, zap.NewNop())
	now := time.Now()
	s.now = func() time.Time { return now }

	s.SetCode("a@example.com", "123456")
	now = now.Add(2 * time.Minute)
	assert.False(t, s.VerifyCode("a@example.com", "123456"))
}

func TestStats(t *testing.T) {
	s := New(0, zap.NewNop())
	s.SetConfig(1, UserConfig{})
	s.MarkDocumentsLoaded("c1")
	s.SetCode("a@example.com", "1")

	stats := s.Stats()
	assert.Equal(t, 1, stats["configs"])
	assert.Equal(t, 1, stats["sessions"])
	assert.Equal(t, 1, stats["codes"])
}

func TestEncryptorRoundTrip(t *testing.T) {
	e, err := NewEncryptor("master-key")
	require.NoError(t, err)

	sealed, err := e.Encrypt("sk-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-secret", sealed)

	plain, err := e.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", plain)
}

func TestEncryptorWrongKey(t *testing.T) {
	e1, err := NewEncryptor("key-one")
	require.NoError(t, err)
	e2, err := NewEncryptor("key-two")
	require.NoError(t, err)

	sealed, err := e1.Encrypt("secret")
	require.NoError(t, err)

	_, err = e2.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestEncryptConfigOnlyTouchesKeys(t *testing.T) {
	e, err := NewEncryptor("master")
	require.NoError(t, err)

	in := UserConfig{
		LLMModel:        "gpt-4o-mini",
		LLMAPIKey:       "sk-a",
		EmbeddingAPIKey: "sk-b",
	}
	sealed, err := e.EncryptConfig(in)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", sealed.LLMModel)
	assert.NotEqual(t, "sk-a", sealed.LLMAPIKey)

	open, err := e.DecryptConfig(sealed)
	require.NoError(t, err)
	assert.Equal(t, in.LLMAPIKey, open.LLMAPIKey)
	assert.Equal(t, in.EmbeddingAPIKey, open.EmbeddingAPIKey)
}

func TestNewEncryptorEmptyKey(t *testing.T) {
	_, err := NewEncryptor("")
	assert.Error(t, err)
}
