package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/obdesk/obdesk/internal/bus"
	"github.com/obdesk/obdesk/internal/store"
)

// Identity is the session-owned self identity cell. LatchSelfID reports
// whether this call set the value; a second writer loses.
type Identity interface {
	SelfID() int64
	LatchSelfID(id int64) bool
}

// Normalizer classifies raw protocol frames, publishes the normalized event
// on the bus, and persists relationship requests into the account mirror.
// One normalizer is bound as the single frame sink of a session.
type Normalizer struct {
	bus      *bus.Bus
	stores   *store.Manager
	identity Identity
	logger   *zap.Logger
	now      func() int64
}

// New creates a normalizer bound to one session identity.
func New(b *bus.Bus, stores *store.Manager, identity Identity, logger *zap.Logger) *Normalizer {
	return &Normalizer{
		bus:      b,
		stores:   stores,
		identity: identity,
		logger:   logger,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// HandleFrame normalizes one raw frame and publishes the result. Frames that
// cannot be classified are dropped.
func (n *Normalizer) HandleFrame(raw json.RawMessage) {
	evt := n.Process(raw)
	if evt == nil {
		return
	}
	n.bus.Publish(bus.Event{Kind: "event." + evt.Category, Payload: evt})
}

type frameHead struct {
	PostType      string          `json:"post_type"`
	Time          int64           `json:"time"`
	SelfID        int64           `json:"self_id"`
	MessageType   string          `json:"message_type"`
	SubType       string          `json:"sub_type"`
	MessageID     int64           `json:"message_id"`
	UserID        int64           `json:"user_id"`
	GroupID       int64           `json:"group_id"`
	Message       json.RawMessage `json:"message"`
	RawMessage    string          `json:"raw_message"`
	Sender        json.RawMessage `json:"sender"`
	NoticeType    string          `json:"notice_type"`
	RequestType   string          `json:"request_type"`
	Comment       string          `json:"comment"`
	Flag          string          `json:"flag"`
	MetaEventType string          `json:"meta_event_type"`
	Status        string          `json:"status"`
	RetCode       *int64          `json:"retcode"`
	Data          json.RawMessage `json:"data"`
	Echo          string          `json:"echo"`
}

// Process classifies one raw frame. Returns nil for frames that carry no
// recognizable category; those are logged and dropped, never fatal.
func (n *Normalizer) Process(raw json.RawMessage) *Event {
	var head frameHead
	if err := json.Unmarshal(raw, &head); err != nil {
		n.logger.Warn("undecodable frame dropped", zap.Error(err))
		return nil
	}

	switch head.PostType {
	case CategoryMessage, CategoryMessageSent:
		n.latchSelfID(head.SelfID)
		return &Event{
			Category: head.PostType,
			Time:     head.Time,
			SelfID:   head.SelfID,
			Raw:      raw,
			Message: &MessageEvent{
				MessageType: messageKind(head.MessageType),
				SubType:     head.SubType,
				RemoteID:    head.MessageID,
				UserID:      head.UserID,
				GroupID:     head.GroupID,
				Content:     messageText(head.Message),
				RawMessage:  head.RawMessage,
				Sender:      head.Sender,
			},
		}

	case CategoryNotice:
		return &Event{
			Category: CategoryNotice,
			Time:     head.Time,
			SelfID:   head.SelfID,
			Raw:      raw,
			Notice: &NoticeEvent{
				NoticeType: noticeKind(head.NoticeType),
				UserID:     head.UserID,
				GroupID:    head.GroupID,
				RemoteID:   head.MessageID,
			},
		}

	case CategoryRequest:
		evt := &Event{
			Category: CategoryRequest,
			Time:     head.Time,
			SelfID:   n.requestSelfID(head.SelfID),
			Raw:      raw,
			Request: &RequestEvent{
				RequestType: requestKind(head.RequestType),
				SubType:     requestSubKind(head.RequestType, head.SubType),
				UserID:      head.UserID,
				GroupID:     head.GroupID,
				Comment:     head.Comment,
				Flag:        head.Flag,
			},
		}
		if evt.Request.Flag != "" {
			n.persistRequest(evt)
		}
		return evt

	case CategoryMeta:
		n.latchSelfID(head.SelfID)
		return &Event{
			Category: CategoryMeta,
			Time:     head.Time,
			SelfID:   head.SelfID,
			Raw:      raw,
			Meta: &MetaEvent{
				MetaType: head.MetaEventType,
				SubType:  head.SubType,
			},
		}

	case "":
		if head.Status != "" || head.RetCode != nil {
			var code int64
			if head.RetCode != nil {
				code = *head.RetCode
			}
			return &Event{
				Category: CategoryResponse,
				Time:     head.Time,
				SelfID:   n.requestSelfID(head.SelfID),
				Raw:      raw,
				Response: &ResponseEvent{
					Status:  head.Status,
					RetCode: code,
					Data:    head.Data,
					Message: responseMessage(head.Message),
					Echo:    head.Echo,
					Action:  InferAction(head.Data),
				},
			}
		}
		fallthrough

	default:
		n.logger.Warn("unclassifiable frame dropped", zap.String("post_type", head.PostType))
		return nil
	}
}

// latchSelfID opportunistically records the account identity from an inbound
// frame. First writer wins against the supervisor's own resolution task; the
// learned event is published only once.
func (n *Normalizer) latchSelfID(id int64) {
	if id <= 0 || n.identity == nil {
		return
	}
	if n.identity.LatchSelfID(id) {
		n.bus.Publish(bus.Event{Kind: "conn.self_id", Payload: id})
	}
}

// requestSelfID prefers the frame's own self id, falling back to the session.
func (n *Normalizer) requestSelfID(frameID int64) int64 {
	if frameID > 0 {
		return frameID
	}
	if n.identity != nil {
		return n.identity.SelfID()
	}
	return 0
}

// persistRequest writes the request into the account mirror in a detached
// task started before the event is published, bounding the loss window to
// the write itself. Failures are logged only.
func (n *Normalizer) persistRequest(evt *Event) {
	req := evt.Request
	rec := &store.Request{
		ID:          fmt.Sprintf("%s_%s_%d", req.RequestType, req.Flag, n.now()),
		Timestamp:   evt.Time,
		RequestType: req.RequestType,
		SubType:     req.SubType,
		UserID:      req.UserID,
		Comment:     req.Comment,
		Flag:        req.Flag,
		GroupID:     req.GroupID,
		Status:      store.StatusPending,
	}
	selfID := evt.SelfID
	go func() {
		db, err := n.stores.Get(selfID)
		if err != nil {
			n.logger.Error("open mirror for request", zap.Int64("self_id", selfID), zap.Error(err))
			return
		}
		if err := db.UpsertRequest(rec); err != nil {
			n.logger.Error("persist request", zap.String("flag", rec.Flag), zap.Error(err))
		}
	}()
}

func messageKind(v string) string {
	switch v {
	case "private", "group":
		return v
	}
	return "unknown"
}

func noticeKind(v string) string {
	switch v {
	case "group_upload", "group_admin", "group_increase", "group_decrease",
		"group_ban", "friend_add", "group_recall", "friend_recall", "notify":
		return v
	}
	return "unknown"
}

func requestKind(v string) string {
	switch v {
	case "friend", "group":
		return v
	}
	return "unknown"
}

func requestSubKind(kind, v string) string {
	if kind != "group" {
		return v
	}
	switch v {
	case "add", "invite":
		return v
	}
	return "unknown"
}

// messageText renders the content field as text: a plain string passes
// through, a structured segment array keeps its JSON form.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// responseMessage extracts the error message string an API response carries.
func responseMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
