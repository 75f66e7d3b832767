// Package onebot holds the thin protocol boundary between the supervisor and
// the remote session: a client interface, the acknowledgement types for
// correlated calls, and a websocket implementation.
package onebot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sink receives every inbound frame from the remote session as raw JSON,
// API responses included.
type Sink interface {
	HandleFrame(raw json.RawMessage)
}

// Ack tracks a typed message send until the server assigns a remote id.
type Ack interface {
	WaitResponse(timeout time.Duration) (int64, error)
}

// Call tracks a raw action until its response payload arrives.
type Call interface {
	Data(timeout time.Duration) (json.RawMessage, error)
}

// Client is the session transport. Exactly one sink may be bound; Connect
// blocks running the read loop until failure or Shutdown.
type Client interface {
	Connect(url string) error
	Subscribe(sink Sink)
	SendTyped(action string, params map[string]any) (Ack, error)
	SendRaw(action string, params map[string]any) (Call, error)
	Shutdown() error
	SelfID() int64
}

// ErrClosed reports a call abandoned because the connection went away.
var ErrClosed = errors.New("onebot: connection closed")

// pending is one in-flight correlated call.
type pending struct {
	ch     chan json.RawMessage
	done   <-chan struct{}
	cancel func()
}

type response struct {
	Status  string          `json:"status"`
	RetCode int64           `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Echo    string          `json:"echo"`
}

func (p *pending) wait(timeout time.Duration) (*response, error) {
	select {
	case raw := <-p.ch:
		var resp response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if resp.Status == "failed" || resp.RetCode != 0 {
			return nil, fmt.Errorf("remote call failed: status=%s retcode=%d", resp.Status, resp.RetCode)
		}
		return &resp, nil
	case <-time.After(timeout):
		p.cancel()
		return nil, errors.New("onebot: response timeout")
	case <-p.done:
		return nil, ErrClosed
	}
}

type wsAck struct{ p *pending }

func (a *wsAck) WaitResponse(timeout time.Duration) (int64, error) {
	resp, err := a.p.wait(timeout)
	if err != nil {
		return 0, err
	}
	var data struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return 0, fmt.Errorf("decode message id: %w", err)
	}
	return data.MessageID, nil
}

type wsCall struct{ p *pending }

func (c *wsCall) Data(timeout time.Duration) (json.RawMessage, error) {
	resp, err := c.p.wait(timeout)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
