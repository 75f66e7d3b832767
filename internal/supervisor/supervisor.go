// Package supervisor owns the single active session to the remote protocol
// client: connect/identify/disconnect lifecycle, the typed send path that
// reconciles acknowledgements back into the mirror, and media URL recovery.
package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/obdesk/obdesk/internal/bus"
	"github.com/obdesk/obdesk/internal/normalize"
	"github.com/obdesk/obdesk/internal/onebot"
	"github.com/obdesk/obdesk/internal/store"
)

// ErrNotConnected reports a command issued without an active session.
var ErrNotConnected = errors.New("supervisor: not connected")

const responseWait = 10 * time.Second

// ClientFactory builds a fresh protocol client per connect.
type ClientFactory func() onebot.Client

// SentInfo is the message.sent bus payload.
type SentInfo struct {
	LocalID  string
	RemoteID int64
}

// UpdatedInfo is the message.updated bus payload, published after a sent
// message's content is rewritten from its canonical remote form.
type UpdatedInfo struct {
	LocalID    string
	Content    string
	RawMessage string
}

// Supervisor drives the session lifecycle. The mutex guards only the active
// session pointer and is never held across a network wait.
type Supervisor struct {
	bus       *bus.Bus
	stores    *store.Manager
	logger    *zap.Logger
	newClient ClientFactory

	// overridable for tests
	identityDelays []time.Duration

	mu      sync.Mutex
	session *Session
}

// New creates a supervisor in the disconnected state.
func New(b *bus.Bus, stores *store.Manager, logger *zap.Logger, factory ClientFactory) *Supervisor {
	return &Supervisor{
		bus:       b,
		stores:    stores,
		logger:    logger,
		newClient: factory,
		identityDelays: []time.Duration{
			500 * time.Millisecond, time.Second, 2 * time.Second,
			4 * time.Second, 8 * time.Second,
		},
	}
}

// Connect establishes a new session, retiring any previous one first. It
// returns once the session exists and is wired; identity resolution continues
// in the background.
func (sv *Supervisor) Connect(endpoint, token string) error {
	sv.mu.Lock()
	old := sv.session
	sv.session = nil
	sv.mu.Unlock()
	if old != nil {
		if err := old.shutdown(); err != nil {
			sv.logger.Warn("shutdown of previous session", zap.Error(err))
		}
	}

	client := sv.newClient()
	sess := newSession(client, endpoint)
	// Exactly one sink per client; a second would duplicate every event.
	client.Subscribe(normalize.New(sv.bus, sv.stores, sess, sv.logger))

	target := endpoint
	if token != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target += sep + "access_token=" + url.QueryEscape(token)
	}

	sv.mu.Lock()
	sv.session = sess
	sv.mu.Unlock()
	sv.publishStatus(StatusConnecting, "")

	go sv.runLoop(sess, target)
	go sv.resolveIdentity(sess)

	sess.setStatus(StatusConnected)
	sv.publishStatus(StatusConnected, "")
	return nil
}

// runLoop keeps the client alive until it errors or is shut down.
func (sv *Supervisor) runLoop(sess *Session, target string) {
	err := sess.client.Connect(target)
	if err == nil {
		return
	}
	sv.logger.Warn("session loop ended", zap.String("endpoint", sess.endpoint), zap.Error(err))
	_ = sess.shutdown()
	if sv.clearIfActive(sess) {
		sess.setStatus(StatusError)
		sv.publishStatus(StatusError, err.Error())
	}
}

// resolveIdentity queries login info with backoff until the identity is
// known. An unauthenticated session must not be left connected, so exhausting
// the retries shuts it down.
func (sv *Supervisor) resolveIdentity(sess *Session) {
	for i, delay := range sv.identityDelays {
		if sess.SelfID() != 0 {
			return
		}
		if id, err := sv.queryLoginInfo(sess); err == nil && id > 0 {
			if sess.LatchSelfID(id) {
				sv.bus.Publish(bus.Event{Kind: "conn.self_id", Payload: id})
			}
			return
		} else if err != nil {
			sv.logger.Debug("login info attempt failed", zap.Error(err))
		}
		// No sleep after the final attempt; exhaustion reports immediately.
		if i < len(sv.identityDelays)-1 {
			time.Sleep(delay)
		}
	}
	if sess.SelfID() != 0 {
		return
	}
	if sv.clearIfActive(sess) {
		_ = sess.shutdown()
		sess.setStatus(StatusError)
		sv.publishStatus(StatusError, "identity resolution failed")
	}
}

func (sv *Supervisor) queryLoginInfo(sess *Session) (int64, error) {
	call, err := sess.client.SendRaw("get_login_info", nil)
	if err != nil {
		return 0, err
	}
	data, err := call.Data(responseWait)
	if err != nil {
		return 0, err
	}
	var info struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return 0, fmt.Errorf("decode login info: %w", err)
	}
	return info.UserID, nil
}

// Disconnect retires the active session. Idempotent; the status event is
// published regardless of shutdown success.
func (sv *Supervisor) Disconnect() {
	sv.mu.Lock()
	sess := sv.session
	sv.session = nil
	sv.mu.Unlock()

	if sess != nil {
		sess.setStatus(StatusDisconnected)
		if err := sess.shutdown(); err != nil {
			sv.logger.Warn("session shutdown", zap.Error(err))
		}
	}
	sv.publishStatus(StatusDisconnected, "")
}

// Status reports the active session's state without touching the network.
func (sv *Supervisor) Status() Status {
	sv.mu.Lock()
	sess := sv.session
	sv.mu.Unlock()
	if sess == nil {
		return StatusDisconnected
	}
	return sess.Status()
}

// SelfID reports the active session's identity, 0 when unknown.
func (sv *Supervisor) SelfID() int64 {
	sv.mu.Lock()
	sess := sv.session
	sv.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.SelfID()
}

// Send forwards an action to the remote session. Chat sends with a structured
// message payload go through the typed path; when the caller supplies
// local_message_id the acknowledgement is reconciled into the mirror by a
// detached task and the call returns immediately. All other actions return
// the response data synchronously.
func (sv *Supervisor) Send(action string, params map[string]any) (json.RawMessage, error) {
	sess := sv.active()
	if sess == nil {
		return nil, ErrNotConnected
	}

	if isChatSend(action, params) {
		localID, _ := params["local_message_id"].(string)
		needReload, _ := params["need_reload"].(bool)
		wire := make(map[string]any, len(params))
		for k, v := range params {
			if k == "local_message_id" || k == "need_reload" {
				continue
			}
			wire[k] = v
		}

		ack, err := sess.client.SendTyped(action, wire)
		if err != nil {
			return nil, err
		}
		if localID != "" {
			go sv.reconcileSend(sess, ack, localID, needReload)
		}
		return nil, nil
	}

	call, err := sess.client.SendRaw(action, params)
	if err != nil {
		return nil, err
	}
	return call.Data(responseWait)
}

func isChatSend(action string, params map[string]any) bool {
	if action != "send_private_msg" && action != "send_group_msg" {
		return false
	}
	_, ok := params["message"].([]any)
	return ok
}

// reconcileSend waits for the acknowledgement, attaches the remote id to the
// mirror row, optionally rewrites content from the canonical remote form, and
// publishes the outcome. Failures are logged; the originating call has
// already returned.
func (sv *Supervisor) reconcileSend(sess *Session, ack onebot.Ack, localID string, needReload bool) {
	remoteID, err := ack.WaitResponse(responseWait)
	if err != nil {
		sv.logger.Warn("send not acknowledged", zap.String("local_id", localID), zap.Error(err))
		return
	}

	db, err := sv.stores.Get(sess.SelfID())
	if err != nil {
		sv.logger.Error("open mirror for send", zap.Error(err))
		return
	}
	if err := db.UpdateRemoteID(localID, remoteID); err != nil {
		sv.logger.Error("attach remote id",
			zap.String("local_id", localID), zap.Int64("remote_id", remoteID), zap.Error(err))
	}

	if needReload {
		if content, rawMsg, err := sv.reloadMessage(sess, remoteID); err != nil {
			sv.logger.Warn("reload sent message", zap.Int64("remote_id", remoteID), zap.Error(err))
		} else {
			if err := db.UpdateContent(localID, content, rawMsg); err != nil {
				sv.logger.Error("rewrite content", zap.String("local_id", localID), zap.Error(err))
			} else {
				sv.bus.Publish(bus.Event{Kind: "message.updated", Payload: &UpdatedInfo{
					LocalID: localID, Content: content, RawMessage: rawMsg,
				}})
			}
		}
	}

	sv.bus.Publish(bus.Event{Kind: "message.sent", Payload: &SentInfo{
		LocalID: localID, RemoteID: remoteID,
	}})
}

// reloadMessage fetches the canonical remote representation of a message,
// used to replace inline binary content with stable references.
func (sv *Supervisor) reloadMessage(sess *Session, remoteID int64) (content, rawMessage string, err error) {
	call, err := sess.client.SendRaw("get_msg", map[string]any{"message_id": remoteID})
	if err != nil {
		return "", "", err
	}
	data, err := call.Data(responseWait)
	if err != nil {
		return "", "", err
	}
	var msg struct {
		Message    json.RawMessage `json:"message"`
		RawMessage string          `json:"raw_message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", "", fmt.Errorf("decode message: %w", err)
	}
	return segmentText(msg.Message), msg.RawMessage, nil
}

func segmentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// GetForwardPayload fetches a combined-forward message bundle by id.
func (sv *Supervisor) GetForwardPayload(id string) (json.RawMessage, error) {
	sess := sv.active()
	if sess == nil {
		return nil, ErrNotConnected
	}
	call, err := sess.client.SendRaw("get_forward_msg", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return call.Data(responseWait)
}

// ResolveMediaURL obtains a fresh download URL for a media file whose cached
// source URL expired. The detail lookup is tried first; servers without it
// fall back to a generic query whose response is sniffed for a url field.
func (sv *Supervisor) ResolveMediaURL(fileID string) (string, error) {
	sess := sv.active()
	if sess == nil {
		return "", ErrNotConnected
	}

	if u, err := sv.urlFromCall(sess, "get_image_detail", fileID); err == nil && u != "" {
		return u, nil
	}
	u, err := sv.urlFromCall(sess, "get_image", fileID)
	if err != nil {
		return "", err
	}
	if u == "" {
		return "", fmt.Errorf("no url in response for file %q", fileID)
	}
	return u, nil
}

func (sv *Supervisor) urlFromCall(sess *Session, action, fileID string) (string, error) {
	call, err := sess.client.SendRaw(action, map[string]any{"file": fileID})
	if err != nil {
		return "", err
	}
	data, err := call.Data(responseWait)
	if err != nil {
		return "", err
	}
	var shape struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return "", fmt.Errorf("decode %s response: %w", action, err)
	}
	return shape.URL, nil
}

func (sv *Supervisor) active() *Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.session
}

func (sv *Supervisor) clearIfActive(sess *Session) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.session != sess {
		return false
	}
	sv.session = nil
	return true
}

func (sv *Supervisor) publishStatus(st Status, detail string) {
	sv.bus.Publish(bus.Event{Kind: "conn.status", Payload: &StatusUpdate{Status: st, Detail: detail}})
}
