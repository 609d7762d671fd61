package hub

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Domain errors for the hub package.
var (
	// ErrNotConnected is returned when a send is attempted without an
	// established connection.
	ErrNotConnected = errors.New("hub: not connected")

	// ErrNegotiateFailed is returned when the negotiate request fails or its
	// response cannot be used.
	ErrNegotiateFailed = errors.New("hub: negotiate failed")

	// ErrHandshakeFailed is returned when the protocol handshake is rejected
	// or does not complete.
	ErrHandshakeFailed = errors.New("hub: handshake failed")

	// ErrServerClosed is returned when the server sends a close frame.
	ErrServerClosed = errors.New("hub: closed by server")

	// ErrMaxAttempts is returned when the manager gives up reconnecting.
	ErrMaxAttempts = errors.New("hub: max connection attempts reached")

	// ErrInvalidFrame is returned when a frame is not a hub protocol message.
	ErrInvalidFrame = errors.New("hub: invalid frame")
)

// CompletionError is a completion frame that reports a failed invocation.
type CompletionError struct {
	InvocationID string
	Message      string
	Result       json.RawMessage
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("hub: invocation %s failed: %s", e.InvocationID, e.Message)
}
