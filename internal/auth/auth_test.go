package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gwi.com/jedi-chat-client/internal/cache"
	"gwi.com/jedi-chat-client/internal/config"
	"gwi.com/jedi-chat-client/internal/store"
	"gwi.com/jedi-chat-client/internal/transport"
)

func withSecret(t *testing.T, secret string) {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig.JWTSecret = secret
	t.Cleanup(func() { config.AppConfig = prev })
}

func TestJWTRoundTrip(t *testing.T) {
	withSecret(t, "test-secret")

	token, err := GenerateJWT(42)
	require.NoError(t, err)

	userID, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	exp, err := TokenExpiry(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(tokenLifetime), exp, time.Minute)
	assert.False(t, Expired(token))

	config.AppConfig.JWTSecret = "other-secret"
	_, err = ValidateJWT(token)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	withSecret(t, "test-secret")

	claims := jwt.MapClaims{"sub": "1", "exp": time.Now().Add(-time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ValidateJWT(token)
	assert.Error(t, err)
	assert.True(t, Expired(token))

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = TokenExpiry(noExp)
	assert.ErrorIs(t, err, ErrNoExpiry)
	assert.False(t, Expired(noExp))

	_, err = TokenExpiry("not-a-token")
	assert.Error(t, err)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.True(t, CheckPasswordHash("hunter2", hash))
	assert.False(t, CheckPasswordHash("hunter3", hash))
}

func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var c Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		if c.Password != "secret" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "token-" + c.Username})
	})
	r.Post("/auth/signup", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionLoginPersistsCredential(t *testing.T) {
	srv := newAuthServer(t)
	local, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	defer local.Close()

	cacheStore := cache.NewStore()
	session, err := NewSession(local, cacheStore)
	require.NoError(t, err)
	assert.False(t, session.SignedIn())

	client := transport.NewClient(srv.URL, session)
	err = session.Login(context.Background(), client, Credentials{Username: "luke", Password: "wrong"})
	assert.True(t, transport.IsStatus(err, http.StatusUnauthorized))
	assert.False(t, session.SignedIn())

	require.NoError(t, session.Login(context.Background(), client, Credentials{Username: "luke", Password: "secret"}))
	assert.Equal(t, "token-luke", session.Credential())

	restored, err := NewSession(local, cacheStore)
	require.NoError(t, err)
	assert.Equal(t, "token-luke", restored.Credential())

	cacheStore.Set(cache.NewKey("conversations", "token-luke"), []string{"cached"})
	require.NoError(t, restored.Logout())
	assert.Empty(t, restored.Credential())
	_, ok := cacheStore.Get(cache.NewKey("conversations", "token-luke"))
	assert.False(t, ok)

	again, err := NewSession(local, nil)
	require.NoError(t, err)
	assert.False(t, again.SignedIn())
}

func TestSignupWithoutToken(t *testing.T) {
	srv := newAuthServer(t)
	session, err := NewSession(nil, nil)
	require.NoError(t, err)

	err = session.Signup(context.Background(), transport.NewClient(srv.URL, session), Credentials{Username: "leia", Password: "x"})
	assert.ErrorIs(t, err, ErrNoToken)
}
