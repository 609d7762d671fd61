package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// recordSeparator terminates every JSON hub protocol frame.
const recordSeparator = 0x1E

// Hub protocol message types.
const (
	typeInvocation       = 1
	typeStreamItem       = 2
	typeCompletion       = 3
	typeStreamInvocation = 4
	typeCancelInvocation = 5
	typePing             = 6
	typeClose            = 7
)

// Invocation targets.
const (
	// TargetReceiveMessage is the server-to-client method carrying payloads.
	TargetReceiveMessage = "ReceiveMessage"

	// TargetSendMessage is the client-to-server method for outbound batches.
	TargetSendMessage = "SendMessage"
)

// handshakeRequest selects the JSON protocol.
var handshakeRequest = []byte(`{"protocol":"json","version":1}` + string(rune(recordSeparator)))

// message is any hub protocol frame. Only the fields relevant to Type are set.
type message struct {
	Type           int               `json:"type"`
	Target         string            `json:"target,omitempty"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Error          string            `json:"error,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// invocation is the outbound form of a type 1 message.
type invocation struct {
	Type         int    `json:"type"`
	Target       string `json:"target"`
	InvocationID string `json:"invocationId,omitempty"`
	Arguments    []any  `json:"arguments"`
}

// handshakeResponse is the server's reply to the handshake request.
type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// encodeFrame marshals v and appends the record separator.
func encodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

// splitFrames splits a websocket text message into its record-separated
// frames. Empty records are skipped.
func splitFrames(data []byte) [][]byte {
	var frames [][]byte
	for _, part := range bytes.Split(data, []byte{recordSeparator}) {
		part = bytes.TrimSpace(part)
		if len(part) > 0 {
			frames = append(frames, part)
		}
	}
	return frames
}

// decodeFrame parses one frame.
func decodeFrame(frame []byte) (message, error) {
	var msg message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return message{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if msg.Type == 0 {
		return message{}, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return msg, nil
}

// parseHandshake validates the handshake response. Frames following the
// handshake in the same websocket message are returned for processing.
func parseHandshake(data []byte) (rest [][]byte, err error) {
	frames := splitFrames(data)
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrHandshakeFailed)
	}

	var resp handshakeResponse
	if err := json.Unmarshal(frames[0], &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrHandshakeFailed, resp.Error)
	}
	return frames[1:], nil
}
