package onebot

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClient is the websocket implementation of Client. Outbound actions carry
// a uuid echo; the read loop forwards every frame to the sink and additionally
// routes echoed responses back to their pending call.
type WSClient struct {
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	sink    Sink
	pend    map[string]*pending
	selfID  int64
	closed  bool
	closeCh chan struct{}
}

// NewWSClient creates a disconnected client.
func NewWSClient(logger *zap.Logger) *WSClient {
	return &WSClient{
		logger:  logger,
		pend:    make(map[string]*pending),
		closeCh: make(chan struct{}),
	}
}

// Subscribe binds the single frame sink. Must be called before Connect.
func (c *WSClient) Subscribe(sink Sink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Connect dials the endpoint and runs the read loop until the connection
// fails or Shutdown is called. A clean shutdown returns nil.
func (c *WSClient) Connect(url string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("session connected", zap.String("url", url))
	return c.readLoop(conn)
}

func (c *WSClient) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasShutdown := c.closed
			c.mu.Unlock()
			c.teardown()
			if wasShutdown {
				return nil
			}
			return err
		}
		c.dispatch(raw)
	}
}

// dispatch forwards the frame to the sink, latches self_id when present, and
// completes a pending call if the frame echoes one.
func (c *WSClient) dispatch(raw json.RawMessage) {
	var head struct {
		Echo   string `json:"echo"`
		SelfID int64  `json:"self_id"`
	}
	_ = json.Unmarshal(raw, &head)

	c.mu.Lock()
	if head.SelfID > 0 && c.selfID == 0 {
		c.selfID = head.SelfID
	}
	sink := c.sink
	var p *pending
	if head.Echo != "" {
		p = c.pend[head.Echo]
		delete(c.pend, head.Echo)
	}
	c.mu.Unlock()

	if sink != nil {
		sink.HandleFrame(raw)
	}
	if p != nil {
		select {
		case p.ch <- raw:
		default:
		}
	}
}

func (c *WSClient) send(action string, params map[string]any) (*pending, error) {
	echo := uuid.NewString()
	frame, err := json.Marshal(map[string]any{
		"action": action,
		"params": params,
		"echo":   echo,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	p := &pending{
		ch:   make(chan json.RawMessage, 1),
		done: c.closeCh,
		cancel: func() {
			c.mu.Lock()
			delete(c.pend, echo)
			c.mu.Unlock()
		},
	}
	c.pend[echo] = p
	err = c.conn.WriteMessage(websocket.TextMessage, frame)
	if err != nil {
		delete(c.pend, echo)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SendTyped sends a message action whose response carries a remote id.
func (c *WSClient) SendTyped(action string, params map[string]any) (Ack, error) {
	p, err := c.send(action, params)
	if err != nil {
		return nil, err
	}
	return &wsAck{p: p}, nil
}

// SendRaw sends any action; the response payload is available on the call.
func (c *WSClient) SendRaw(action string, params map[string]any) (Call, error) {
	p, err := c.send(action, params)
	if err != nil {
		return nil, err
	}
	return &wsCall{p: p}, nil
}

// Shutdown closes the connection. The read loop exits and Connect returns
// nil. Safe to call more than once and before Connect.
func (c *WSClient) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.closeCh)
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// teardown abandons pending calls after the read loop stops.
func (c *WSClient) teardown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	c.pend = make(map[string]*pending)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// SelfID returns the account id latched from inbound frames, 0 if unknown.
func (c *WSClient) SelfID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

var _ Client = (*WSClient)(nil)
