package command

import (
	"encoding/json"

	"github.com/obdesk/obdesk/internal/supervisor"
)

// ConnService exposes session lifecycle and outbound send commands.
type ConnService struct {
	sup *supervisor.Supervisor
}

// NewConnService creates the connection command service.
func NewConnService(sup *supervisor.Supervisor) *ConnService {
	return &ConnService{sup: sup}
}

// Connect establishes a session to the given endpoint.
func (s *ConnService) Connect(endpoint, token string) error {
	if endpoint == "" {
		return validationError("endpoint", "is required")
	}
	return s.sup.Connect(endpoint, token)
}

// Disconnect retires the active session.
func (s *ConnService) Disconnect() {
	s.sup.Disconnect()
}

// Status reports the session state.
func (s *ConnService) Status() supervisor.Status {
	return s.sup.Status()
}

// SelfID reports the active account id, 0 when unknown.
func (s *ConnService) SelfID() int64 {
	return s.sup.SelfID()
}

// Send forwards an action to the remote session.
func (s *ConnService) Send(action string, params map[string]any) (json.RawMessage, error) {
	if action == "" {
		return nil, validationError("action", "is required")
	}
	return s.sup.Send(action, params)
}

// ForwardPayload fetches a combined-forward message bundle.
func (s *ConnService) ForwardPayload(id string) (json.RawMessage, error) {
	if id == "" {
		return nil, validationError("id", "is required")
	}
	return s.sup.GetForwardPayload(id)
}
