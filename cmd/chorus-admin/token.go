package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var errNotLoggedIn = errors.New("not logged in, run chorus-admin login")

// savedToken is what login leaves on disk for later commands.
type savedToken struct {
	Server    string `json:"server"`
	Username  string `json:"username"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // unix millis
}

func (t savedToken) expired(now time.Time) bool {
	return t.ExpiresAt > 0 && now.UnixMilli() >= t.ExpiresAt
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chorus-admin-token"
	}
	return filepath.Join(home, ".chorus", "admin-token")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func loadToken(path string) (savedToken, error) {
	var t savedToken
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, errNotLoggedIn
	}
	if err != nil {
		return t, fmt.Errorf("read token: %w", err)
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("parse token file %s: %w", path, err)
	}
	if t.Token == "" {
		return t, errNotLoggedIn
	}
	return t, nil
}

func storeToken(path string, t savedToken) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0600)
}

func removeToken(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
