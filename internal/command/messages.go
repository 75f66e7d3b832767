package command

import (
	"go.uber.org/zap"

	"github.com/obdesk/obdesk/internal/store"
)

// MessageService exposes the mirror's message operations for the active
// account.
type MessageService struct {
	stores   *store.Manager
	identity identitySource
	logger   *zap.Logger
}

// NewMessageService creates the message command service.
func NewMessageService(stores *store.Manager, identity identitySource, logger *zap.Logger) *MessageService {
	return &MessageService{stores: stores, identity: identity, logger: logger}
}

func (s *MessageService) db() (*store.DB, error) {
	return s.stores.Get(s.identity.SelfID())
}

// SaveParams is the payload for Save. LocalMessageID, Time, and PostType are
// required.
type SaveParams struct {
	LocalMessageID string `json:"localMessageId"`
	Time           int64  `json:"time"`
	PostType       string `json:"post_type"`
	MessageType    string `json:"message_type"`
	UserID         int64  `json:"user_id"`
	GroupID        int64  `json:"group_id"`
	MessageID      int64  `json:"message_id"`
	Content        string `json:"content"`
	RawMessage     string `json:"raw_message"`
	Data           string `json:"data"`
}

// Save validates and persists one message row.
func (s *MessageService) Save(p SaveParams) error {
	if p.LocalMessageID == "" {
		return validationError("localMessageId", "is required")
	}
	if p.Time <= 0 {
		return validationError("time", "must be a positive unix timestamp")
	}
	if p.PostType == "" {
		return validationError("post_type", "is required")
	}
	data := p.Data
	if data == "" {
		data = "{}"
	}
	db, err := s.db()
	if err != nil {
		return err
	}
	return db.SaveMessage(&store.Message{
		LocalID:     p.LocalMessageID,
		Timestamp:   p.Time,
		PostType:    p.PostType,
		MessageType: p.MessageType,
		UserID:      p.UserID,
		GroupID:     p.GroupID,
		RemoteID:    p.MessageID,
		Content:     p.Content,
		RawMessage:  p.RawMessage,
		Data:        data,
	})
}

// UpdateRemoteID attaches a remote message id to a stored row.
func (s *MessageService) UpdateRemoteID(localID string, remoteID int64) error {
	if localID == "" {
		return validationError("localMessageId", "is required")
	}
	db, err := s.db()
	if err != nil {
		return err
	}
	return db.UpdateRemoteID(localID, remoteID)
}

// UpdateContent rewrites a stored row's text fields.
func (s *MessageService) UpdateContent(localID, content, rawMessage string) error {
	if localID == "" {
		return validationError("localMessageId", "is required")
	}
	db, err := s.db()
	if err != nil {
		return err
	}
	return db.UpdateContent(localID, content, rawMessage)
}

// List returns stored messages, newest first.
func (s *MessageService) List(f store.ListFilter) ([]store.Message, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return db.ListMessages(f)
}

// Search runs a full-text query over stored messages.
func (s *MessageService) Search(query string, limit, offset int) ([]store.Message, error) {
	if query == "" {
		return nil, validationError("query", "is required")
	}
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return db.SearchMessages(query, limit, offset)
}

// Delete removes one stored message.
func (s *MessageService) Delete(localID string) error {
	if localID == "" {
		return validationError("localMessageId", "is required")
	}
	db, err := s.db()
	if err != nil {
		return err
	}
	return db.DeleteMessage(localID)
}

// Trim keeps only the most recent rows. Returns the purged count.
func (s *MessageService) Trim(keep int) (int, error) {
	if keep < 0 {
		return 0, validationError("keep", "must not be negative")
	}
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	return db.TrimMessages(keep)
}

// Stats summarizes the stored rows.
func (s *MessageService) Stats() (*store.Stats, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return db.MessageStats()
}

// MarkRecalled flags the message with the given remote id as recalled.
// An unmatched id is logged, not an error; recalls can outrun the mirror.
func (s *MessageService) MarkRecalled(remoteID int64) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	found, err := db.MarkRecalled(remoteID)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Warn("recall for unmirrored message", zap.Int64("remote_id", remoteID))
	}
	return nil
}

// CheckRecalled reports whether the message with the given remote id has been
// recalled.
func (s *MessageService) CheckRecalled(remoteID int64) (bool, error) {
	db, err := s.db()
	if err != nil {
		return false, err
	}
	return db.CheckRecalled(remoteID)
}
