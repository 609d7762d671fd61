package bridge

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Hub message discriminators carried in the "$type" field.
const (
	TypeAuthenticate         = "authenticate"
	TypeSubscribeToChat      = "subscribeToChat"
	TypeUpdateContext        = "updateContext"
	TypeWelcome              = "welcome"
	TypeChatsSessionsUpdated = "chatsSessionsUpdated"
	TypeChatStarted          = "chatStarted"
	TypeChatClosed           = "chatClosed"
	TypeChatEnded            = "chatEnded"
	TypeAction               = "action"
	TypeError                = "error"
)

// Authenticate scope and capabilities announced on every connection.
var (
	authScope        = []string{"role:app", "role:inspector"}
	authCapabilities = map[string]string{
		"audioInput":  "WebSocketStream",
		"audioOutput": "Url",
	}
)

// AuthenticateMessage is sent immediately after the hub connection opens.
type AuthenticateMessage struct {
	Type          string            `json:"$type"`
	Client        string            `json:"client"`
	ClientVersion string            `json:"clientVersion"`
	Scope         []string          `json:"scope"`
	Capabilities  map[string]string `json:"capabilities"`
}

// SubscribeToChatMessage is sent whenever a session becomes active.
type SubscribeToChatMessage struct {
	Type      string `json:"$type"`
	SessionID string `json:"sessionId"`
}

// UpdateContextMessage registers the action set for a session.
type UpdateContextMessage struct {
	Type       string             `json:"$type"`
	SessionID  string             `json:"sessionId"`
	ContextKey string             `json:"contextKey"`
	Actions    []ActionDefinition `json:"actions"`
}

// NewAuthenticateMessage builds the authenticate message for a client identity.
func NewAuthenticateMessage(client, clientVersion string) AuthenticateMessage {
	return AuthenticateMessage{
		Type:          TypeAuthenticate,
		Client:        client,
		ClientVersion: clientVersion,
		Scope:         authScope,
		Capabilities:  authCapabilities,
	}
}

// NewSubscribeToChatMessage builds a chat subscription for a session.
func NewSubscribeToChatMessage(sessionID string) SubscribeToChatMessage {
	return SubscribeToChatMessage{Type: TypeSubscribeToChat, SessionID: sessionID}
}

// envelope reads only the discriminator of an inbound payload.
type envelope struct {
	Type string `json:"$type"`
}

// UserInfo identifies the authenticated chat user.
type UserInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WelcomeMessage confirms authentication.
type WelcomeMessage struct {
	VoxtaServerVersion string    `json:"voxtaServerVersion"`
	APIVersion         string    `json:"apiVersion"`
	User               *UserInfo `json:"user"`
}

// CharacterInfo is a chat participant.
type CharacterInfo struct {
	Name string `json:"name"`
}

// SessionInfo describes a chat session. chatStarted payloads share this shape.
type SessionInfo struct {
	SessionID  string          `json:"sessionId"`
	ChatID     string          `json:"chatId"`
	Characters []CharacterInfo `json:"characters"`
}

// CharacterName returns the first character's name, or "" if none.
func (s SessionInfo) CharacterName() string {
	if len(s.Characters) == 0 {
		return ""
	}
	return s.Characters[0].Name
}

// SessionsUpdatedMessage carries the current session list.
type SessionsUpdatedMessage struct {
	Sessions []SessionInfo `json:"sessions"`
}

// ActionArgumentValue is one named argument of an invoked action.
type ActionArgumentValue struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// ActionMessage is an action invocation from the chat service.
type ActionMessage struct {
	Value     string                `json:"value"`
	Arguments []ActionArgumentValue `json:"arguments"`
}

// ArgumentMap flattens the argument list into name -> text value.
// Unnamed arguments are skipped; later duplicates win.
func (m ActionMessage) ArgumentMap() map[string]string {
	args := make(map[string]string, len(m.Arguments))
	for _, arg := range m.Arguments {
		if arg.Name == "" {
			continue
		}
		args[arg.Name] = rawText(arg.Value)
	}
	return args
}

// rawText converts a JSON value to the text the device executor consumes.
// Strings are unquoted, null or missing becomes "", anything else keeps its
// literal JSON form (50 -> "50").
func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return strings.TrimSpace(string(trimmed))
}

// unwrapPayloads splits the first hub argument into individual payloads.
// A single object yields one payload, an array yields its object elements.
// ok is false when the argument is neither.
func unwrapPayloads(raw json.RawMessage) (payloads []json.RawMessage, ok bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false
	}

	switch trimmed[0] {
	case '{':
		return []json.RawMessage{trimmed}, true
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, false
		}
		for _, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) > 0 && item[0] == '{' {
				payloads = append(payloads, item)
			}
		}
		return payloads, true
	default:
		return nil, false
	}
}
