package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session holds the bearer credential and the resolved base URL of the
// per-client API. It is passed explicitly to every coordinator component;
// there is no package-level credential.
type Session struct {
	BaseURL string     `json:"base_url"`
	Token   string     `json:"token"`
	User    User       `json:"user"`
	Client  ClientInfo `json:"client"`
}

// ExpiresAt returns the expiry claim of the bearer token, or the zero time
// when the token carries none or cannot be parsed. The token is decoded
// without signature verification: the server is the authority, the client
// only wants to warn before issuing calls with a dead credential.
func (s *Session) ExpiresAt() time.Time {
	if s.Token == "" {
		return time.Time{}
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(s.Token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Expired reports whether the bearer token expires within the margin.
// A token with no expiry claim is never considered expired.
func (s *Session) Expired(margin time.Duration) bool {
	exp := s.ExpiresAt()
	if exp.IsZero() {
		return false
	}
	return nowFunc().Add(margin).After(exp)
}

// SessionFilePath returns the default on-disk location for the session.
func SessionFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "peershare", "session.json")
}

// Save persists the session so later CLI invocations can reuse it.
func (s *Session) Save(path string) error {
	if path == "" {
		path = SessionFilePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	sub("session").Debug("session saved", "path", path, "user", s.User.Username)
	return nil
}

// LoadSession reads a previously saved session.
func LoadSession(path string) (*Session, error) {
	if path == "" {
		path = SessionFilePath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &s, nil
}

// DeleteSession removes the saved session file. Missing files are not an
// error; logout must never block on local cleanup.
func DeleteSession(path string) error {
	if path == "" {
		path = SessionFilePath()
	}
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
