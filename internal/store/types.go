package store

// Message is a mirrored row of chat history. LocalID is the caller-assigned
// primary key; RemoteID is the server-assigned message id and may be attached
// after the row exists.
type Message struct {
	LocalID     string
	Timestamp   int64
	PostType    string
	MessageType string
	UserID      int64
	GroupID     int64
	RemoteID    int64
	Content     string
	RawMessage  string
	Data        string
	Recalled    bool
}

// Request is a mirrored relationship request (friend or group). GroupID 0
// means the request has no group. Flag is the opaque token required to act
// on the request.
type Request struct {
	ID          string
	Timestamp   int64
	RequestType string
	SubType     string
	UserID      int64
	UserName    string
	Comment     string
	Flag        string
	GroupID     int64
	GroupName   string
	Status      string
	IsRead      bool
}

// ListFilter narrows ListMessages. Zero values mean "no filter".
type ListFilter struct {
	Limit    int
	Offset   int
	PostType string
	UserID   int64
	GroupID  int64
}

// Stats summarizes the mirrored message rows.
type Stats struct {
	Total      int64
	ByCategory map[string]int64
}

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)
