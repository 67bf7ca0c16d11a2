package fieldsync

import "sync"

// ============================================================================
// Session
// ============================================================================

// Session holds the credential pair used by the gateway. It is set on login
// or refresh success and cleared on definitive auth failure or logout. Only
// the gateway's refresh logic and the external login flow write to it.
//
// Injecting the session rather than reading ambient globals keeps the
// gateway independently testable with fake sessions.
type Session interface {
	AccessToken() string
	RefreshToken() string
	SetTokens(access, refresh string)
	Clear()
}

// MemorySession is a process-local Session implementation.
type MemorySession struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemorySession creates a session preloaded with the given credential pair.
func NewMemorySession(access, refresh string) *MemorySession {
	return &MemorySession{access: access, refresh: refresh}
}

func (s *MemorySession) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *MemorySession) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func (s *MemorySession) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
}

func (s *MemorySession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
}
