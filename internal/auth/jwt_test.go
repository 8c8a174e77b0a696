package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, err := m.GenerateAccessToken(42, "alice")
	require.NoError(t, err)

	identity, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.EqualValues(t, 42, identity.UserID)
	assert.Equal(t, "alice", identity.Username)
}

func TestExpiredToken(t *testing.T) {
	m := NewJWTManager("secret", -time.Minute)

	token, err := m.GenerateAccessToken(1, "alice")
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestZeroExpirySelectsDefault(t *testing.T) {
	m := NewJWTManager("secret", 0)
	assert.Equal(t, defaultAccessExpiry, m.accessExpiry)

	m = NewJWTManager("secret", -time.Minute)
	assert.Equal(t, -time.Minute, m.accessExpiry)
}

func TestWrongKeyRejected(t *testing.T) {
	token, err := NewJWTManager("secret-a", time.Hour).GenerateAccessToken(1, "alice")
	require.NoError(t, err)

	_, err = NewJWTManager("secret-b", time.Hour).ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestExtractBearerToken(t *testing.T) {
	token, err := ExtractBearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	_, err = ExtractBearerToken("Basic abc")
	assert.Error(t, err)
	_, err = ExtractBearerToken("")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	mw := NewMiddleware(m)

	var gotIdentity *Identity
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var envelope map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope["detail"])

	token, err := m.GenerateAccessToken(7, "alice")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotIdentity)
	assert.EqualValues(t, 7, gotIdentity.UserID)
}
