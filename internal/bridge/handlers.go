package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/openhandy-bridge/internal/hub"
)

func (b *Bridge) handleOpened() {
	b.logInfo("hub connection opened, sending authenticate")

	s := &b.state
	s.connected = true
	b.clearAuth()

	b.send(NewAuthenticateMessage(b.client, b.clientVersion))
}

func (b *Bridge) handleClosed(e Closed) {
	if e.Err != nil {
		b.logInfo("hub connection closed", "error", e.Err)
	} else {
		b.logInfo("hub connection closed")
	}

	b.state.connected = false
	b.clearAuth()
	b.clearSession()
}

func (b *Bridge) handleHubError(e HubError) {
	var completion *hub.CompletionError
	if errors.As(e.Err, &completion) {
		b.logError("hub completion error", e.Err,
			"invocation_id", completion.InvocationID,
			"result", string(completion.Result))
		return
	}
	b.logError("hub error", e.Err)
}

func (b *Bridge) handleDiscovered(e Discovered) {
	s := &b.state
	if s.deviceAddress != "" {
		if e.Address != s.deviceAddress {
			b.logDebug("ignoring additional device discovery",
				"device", s.deviceAddress,
				"ignored", e.Address)
		}
		return
	}

	b.logInfo("device discovered", "device", e.Address)

	s.deviceAddress = e.Address
	s.loggedNoDeviceFor = ""
	b.publishDiscovery(e.Address, e.Raw)

	b.attemptInjection()
}

// handleMessageBatch dispatches every payload of a batch on its own, so one
// malformed or failing payload does not drop the rest.
func (b *Bridge) handleMessageBatch(ctx context.Context, e MessageBatch) {
	payloads, ok := unwrapPayloads(e.Payload)
	if !ok {
		b.logDebug("ignoring hub message that is neither object nor array")
		return
	}

	for _, p := range payloads {
		b.dispatchPayload(ctx, p)
	}
}

func (b *Bridge) dispatchPayload(ctx context.Context, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logError("hub payload handler panic recovered", fmt.Errorf("%v", r))
		}
	}()

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logDebug("dropping undecodable hub payload", "error", err)
		return
	}
	if env.Type == "" {
		return
	}

	b.stats.messages++

	var err error
	switch env.Type {
	case TypeWelcome:
		err = b.onWelcome(payload)
	case TypeChatsSessionsUpdated:
		err = b.onSessionsUpdated(payload)
	case TypeChatStarted:
		err = b.onChatStarted(payload)
	case TypeChatClosed, TypeChatEnded:
		b.onChatEnded()
	case TypeAction:
		err = b.onAction(ctx, payload)
	case TypeError:
		b.logError("chat service error", errors.New(string(payload)))
	default:
		b.logDebug("unhandled hub message", "type", env.Type)
	}

	if err != nil {
		b.logWarn("dropping malformed hub message", "type", env.Type, "error", err)
	}
}

func (b *Bridge) onWelcome(payload json.RawMessage) error {
	var msg WelcomeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}

	s := &b.state
	s.authenticated = true
	if msg.User != nil {
		s.userID = msg.User.ID
		s.userName = msg.User.Name
	}

	b.logInfo("authenticated",
		"user", s.userName,
		"user_id", s.userID,
		"server_version", msg.VoxtaServerVersion,
		"api_version", msg.APIVersion)
	return nil
}

func (b *Bridge) onSessionsUpdated(payload json.RawMessage) error {
	var msg SessionsUpdatedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}

	s := &b.state
	if len(msg.Sessions) == 0 {
		if s.session.id != "" {
			b.logInfo("active chat closed, session list empty", "session_id", s.session.id)
		}
		b.clearSession()
		return nil
	}

	active := msg.Sessions[0]
	prev := s.session.id
	s.session = session{
		id:        active.SessionID,
		chatID:    active.ChatID,
		character: active.CharacterName(),
	}

	b.logInfo("chat sessions updated",
		"session_id", s.session.id,
		"chat_id", s.session.chatID,
		"character", s.session.character,
		"previous", prev)

	if prev != s.session.id {
		b.clearGates()
	}

	if s.session.id != "" {
		b.send(NewSubscribeToChatMessage(s.session.id))
	}

	b.attemptInjection()
	return nil
}

func (b *Bridge) onChatStarted(payload json.RawMessage) error {
	var msg SessionInfo
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}

	s := &b.state

	// Repeated start notifications for the live session are dropped without
	// touching gates or sending anything.
	if s.session.id != "" && msg.SessionID == s.session.id {
		b.logDebug("duplicate chatStarted ignored", "session_id", msg.SessionID)
		return nil
	}

	prev := s.session.id
	s.session = session{
		id:        msg.SessionID,
		chatID:    msg.ChatID,
		character: msg.CharacterName(),
	}

	b.logInfo("chat started",
		"session_id", s.session.id,
		"character", s.session.character,
		"previous", prev)

	b.clearGates()

	if s.session.id != "" {
		b.send(NewSubscribeToChatMessage(s.session.id))
	}

	b.attemptInjection()
	return nil
}

func (b *Bridge) onChatEnded() {
	b.logInfo("chat ended", "session_id", b.state.session.id)
	b.clearSession()
}

func (b *Bridge) onAction(ctx context.Context, payload json.RawMessage) error {
	var msg ActionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}

	s := &b.state
	if !s.authenticated {
		b.logDebug("ignoring action before authentication", "action", msg.Value)
		return nil
	}

	args := msg.ArgumentMap()
	b.logInfo("action triggered", "action", msg.Value, "args", args)

	if msg.Value != b.action.Name {
		return nil
	}

	// Without a device the executor aborts, so nothing is counted or recorded.
	if s.deviceAddress != "" {
		b.stats.actions++
		b.recordAction(ctx, msg.Value, args)
		b.publishAction(msg.Value, args)
	}

	// In-flight device calls are allowed to finish on shutdown.
	b.executor.Execute(context.WithoutCancel(ctx), s.deviceAddress, args)
	return nil
}

// clearAuth resets authentication and user identity.
func (b *Bridge) clearAuth() {
	s := &b.state
	s.authenticated = false
	s.userID = ""
	s.userName = ""
}

// clearSession drops the active session and both injection gates.
func (b *Bridge) clearSession() {
	b.state.session = session{}
	b.clearGates()
}

// clearGates resets the per-session injection and log gates.
func (b *Bridge) clearGates() {
	b.state.injectedFor = ""
	b.state.loggedNoDeviceFor = ""
}
