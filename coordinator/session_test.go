package coordinator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "tester"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestSession_ExpiresAt(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	s := &Session{Token: signedToken(t, exp)}
	assert.Equal(t, exp.Unix(), s.ExpiresAt().Unix())
}

func TestSession_ExpiresAt_NoClaimOrGarbage(t *testing.T) {
	assert.True(t, (&Session{Token: signedToken(t, time.Time{})}).ExpiresAt().IsZero())
	assert.True(t, (&Session{Token: "not.a.jwt"}).ExpiresAt().IsZero())
	assert.True(t, (&Session{}).ExpiresAt().IsZero())
}

func TestSession_Expired(t *testing.T) {
	fresh := &Session{Token: signedToken(t, time.Now().Add(time.Hour))}
	assert.False(t, fresh.Expired(time.Minute))

	closeToExpiry := &Session{Token: signedToken(t, time.Now().Add(30*time.Second))}
	assert.True(t, closeToExpiry.Expired(time.Minute))

	// No expiry claim means the server decides; never locally expired.
	eternal := &Session{Token: signedToken(t, time.Time{})}
	assert.False(t, eternal.Expired(time.Minute))
}

func TestSession_SaveLoadDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s := &Session{
		BaseURL: "http://localhost:9001",
		Token:   "tok",
		User:    User{Username: "alice", DisplayName: "Alice"},
	}

	require.NoError(t, s.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadSession(path)
	require.NoError(t, err)
	assert.Equal(t, s.BaseURL, loaded.BaseURL)
	assert.Equal(t, s.Token, loaded.Token)
	assert.Equal(t, "alice", loaded.User.Username)

	require.NoError(t, DeleteSession(path))
	_, err = LoadSession(path)
	assert.Error(t, err)

	// Deleting an already-missing session is not an error.
	assert.NoError(t, DeleteSession(path))
}
