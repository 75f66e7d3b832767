package supervisor

import (
	"sync"

	"github.com/obdesk/obdesk/internal/onebot"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// StatusUpdate is the conn.status bus payload.
type StatusUpdate struct {
	Status Status
	Detail string
}

// Session is one live binding to the remote connection. At most one session
// is active; retired sessions linger only as targets of stale background
// tasks, which check activity before mutating shared state.
type Session struct {
	client   onebot.Client
	endpoint string

	mu     sync.Mutex
	status Status
	selfID int64
}

func newSession(client onebot.Client, endpoint string) *Session {
	return &Session{client: client, endpoint: endpoint, status: StatusConnecting}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// SelfID returns the latched account identity, 0 if not yet known.
func (s *Session) SelfID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// LatchSelfID records the identity unless one is already set. First writer
// wins between the resolution task and the normalizer's opportunistic latch.
func (s *Session) LatchSelfID(id int64) bool {
	if id <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selfID != 0 {
		return false
	}
	s.selfID = id
	return true
}

func (s *Session) shutdown() error {
	return s.client.Shutdown()
}
