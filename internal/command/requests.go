package command

import (
	"github.com/obdesk/obdesk/internal/store"
)

// RequestService exposes the mirror's relationship-request operations for the
// active account.
type RequestService struct {
	stores   *store.Manager
	identity identitySource
}

// NewRequestService creates the request command service.
func NewRequestService(stores *store.Manager, identity identitySource) *RequestService {
	return &RequestService{stores: stores, identity: identity}
}

func (s *RequestService) db() (*store.DB, error) {
	return s.stores.Get(s.identity.SelfID())
}

// Save persists a relationship request, replacing any earlier one for the
// same (peer, group) pair.
func (s *RequestService) Save(r store.Request) error {
	if r.ID == "" {
		return validationError("id", "is required")
	}
	if r.Flag == "" {
		return validationError("flag", "is required")
	}
	if r.UserID == 0 {
		return validationError("user_id", "is required")
	}
	if r.Status == "" {
		r.Status = store.StatusPending
	}
	db, err := s.db()
	if err != nil {
		return err
	}
	return db.UpsertRequest(&r)
}

// UpdateStatus records the resolution of a request.
func (s *RequestService) UpdateStatus(flag, status string) error {
	if flag == "" {
		return validationError("flag", "is required")
	}
	if status == "" {
		return validationError("status", "is required")
	}
	db, err := s.db()
	if err != nil {
		return err
	}
	_, err = db.UpdateRequestStatus(flag, status)
	return err
}

// List returns requests, newest first, optionally narrowed to one status.
func (s *RequestService) List(status string, limit, offset int) ([]store.Request, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return db.ListRequests(status, limit, offset)
}

// Delete removes the request carrying flag.
func (s *RequestService) Delete(flag string) error {
	if flag == "" {
		return validationError("flag", "is required")
	}
	db, err := s.db()
	if err != nil {
		return err
	}
	return db.DeleteRequest(flag)
}

// ClearResolved deletes all non-pending requests. Returns the removed count.
func (s *RequestService) ClearResolved() (int, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	return db.ClearResolvedRequests()
}

// MarkRead flags a request as seen.
func (s *RequestService) MarkRead(flag string) error {
	if flag == "" {
		return validationError("flag", "is required")
	}
	db, err := s.db()
	if err != nil {
		return err
	}
	return db.MarkRequestRead(flag)
}

// UnreadCount counts pending requests not yet seen.
func (s *RequestService) UnreadCount() (int, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	return db.UnreadPendingCount()
}
