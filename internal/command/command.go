// Package command is the transport-agnostic request/response surface exposed
// to the UI layer. Each service wraps one collaborator; payload validation
// happens here so the collaborators can trust their inputs.
package command

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation wraps all malformed-payload rejections.
var ErrValidation = errors.New("invalid payload")

func validationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}

// Envelope wraps a bus event for delivery to a watching UI subscriber.
type Envelope struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// identitySource reports the active account, 0 when unknown. The store and
// cache services use it to pick the per-account data tree.
type identitySource interface {
	SelfID() int64
}
