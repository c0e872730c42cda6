package client

import (
	"sync"
)

// MockState is an in-memory test implementation of StateInterface
type MockState struct {
	mu sync.RWMutex

	// In-memory storage
	config map[string]string
	dir    string

	// Error injection
	getConfigErr error
	setConfigErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config: make(map[string]string),
		dir:    "/tmp/mock-state",
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}

	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}

	s.config[key] = value
	return nil
}

// GetServerURL returns the last used backend URL
func (s *MockState) GetServerURL() string {
	url, _ := s.GetConfig(keyServerURL)
	return url
}

// SetServerURL stores the backend URL
func (s *MockState) SetServerURL(url string) error {
	return s.SetConfig(keyServerURL, url)
}

// GetLastUsername returns the last username signed in with
func (s *MockState) GetLastUsername() string {
	username, _ := s.GetConfig(keyLastUsername)
	return username
}

// SetLastUsername stores the last username signed in with
func (s *MockState) SetLastUsername(username string) error {
	return s.SetConfig(keyLastUsername, username)
}

// GetSession returns the saved session
func (s *MockState) GetSession() *Session {
	return sessionFromConfig(s.GetConfig)
}

// SaveSession stores sess
func (s *MockState) SaveSession(sess *Session) error {
	return saveSessionConfig(s.SetConfig, sess)
}

// ClearSession forgets the saved session
func (s *MockState) ClearSession() error {
	return saveSessionConfig(s.SetConfig, nil)
}

// GetStateDir returns the mock state directory
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close is a no-op for the mock
func (s *MockState) Close() error {
	return nil
}

// SetGetConfigError injects an error for GetConfig
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError injects an error for SetConfig
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}
