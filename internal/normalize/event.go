// Package normalize turns raw protocol frames into one application-level
// event shape, latching the self identity opportunistically and persisting
// relationship requests as a side effect.
package normalize

import "encoding/json"

// Event categories.
const (
	CategoryMessage     = "message"
	CategoryMessageSent = "message_sent"
	CategoryNotice      = "notice"
	CategoryRequest     = "request"
	CategoryResponse    = "api_response"
	CategoryMeta        = "meta_event"
)

// Event is the normalized envelope. Exactly one of the variant pointers is
// set, matching Category.
type Event struct {
	Category string
	Time     int64
	SelfID   int64
	Raw      json.RawMessage

	Message  *MessageEvent
	Notice   *NoticeEvent
	Request  *RequestEvent
	Response *ResponseEvent
	Meta     *MetaEvent
}

// MessageEvent covers both received and self-sent chat messages.
type MessageEvent struct {
	MessageType string // private, group, unknown
	SubType     string
	RemoteID    int64
	UserID      int64
	GroupID     int64
	Content     string
	RawMessage  string
	Sender      json.RawMessage
}

// NoticeEvent is a server-side notification.
type NoticeEvent struct {
	NoticeType string // group_upload, group_admin, group_increase, group_decrease,
	// group_ban, friend_add, group_recall, friend_recall, notify, unknown
	UserID   int64
	GroupID  int64
	RemoteID int64
}

// RequestEvent is an incoming friend or group relationship request.
type RequestEvent struct {
	RequestType string // friend, group, unknown
	SubType     string // group: add, invite, unknown
	UserID      int64
	GroupID     int64
	Comment     string
	Flag        string
}

// ResponseEvent is an API call result passed through with a best-effort
// inferred action name.
type ResponseEvent struct {
	Status  string
	RetCode int64
	Data    json.RawMessage
	Message string
	Echo    string
	Action  string
}

// MetaEvent is a lifecycle or heartbeat frame.
type MetaEvent struct {
	MetaType string // lifecycle, heartbeat
	SubType  string
}
