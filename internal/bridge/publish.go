package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// DefaultTopicPrefix roots all bridge status topics.
const DefaultTopicPrefix = "handybridge"

// Status publish settings.
const (
	statusQoS    byte = 1
	actionQoS    byte = 0
	statusOnline      = "online"

	// historyTimeout bounds a single action history write.
	historyTimeout = 2 * time.Second
)

// MQTTPublisher is the subset of the MQTT client used for status events.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// ActionHistory stores executed action invocations.
type ActionHistory interface {
	RecordAction(ctx context.Context, rec ActionRecord) error
}

// ActionRecord is one action invocation handed to the device executor.
type ActionRecord struct {
	Action    string
	SessionID string
	Device    string
	Arguments map[string]string
	Timestamp time.Time
}

// Topics builds the MQTT topics the bridge publishes to.
//
//	topics := NewTopics("handybridge")
//	topics.Status() // "handybridge/status"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix, or DefaultTopicPrefix
// when prefix is empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Status is the retained bridge snapshot topic.
func (t Topics) Status() string { return t.prefix + "/status" }

// Discovery is the retained device discovery topic.
func (t Topics) Discovery() string { return t.prefix + "/discovery" }

// Action carries each executed action invocation.
func (t Topics) Action() string { return t.prefix + "/action" }

// Snapshot is an immutable copy of the bridge state taken after an event.
type Snapshot struct {
	Status        string    `json:"status"`
	Connected     bool      `json:"connected"`
	Authenticated bool      `json:"authenticated"`
	UserID        string    `json:"user_id,omitempty"`
	UserName      string    `json:"user_name,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	ChatID        string    `json:"chat_id,omitempty"`
	Character     string    `json:"character,omitempty"`
	DeviceAddress string    `json:"device_address,omitempty"`
	InjectedFor   string    `json:"injected_for,omitempty"`
	Messages      uint64    `json:"messages"`
	Actions       uint64    `json:"actions"`
	Injections    uint64    `json:"injections"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SameState reports whether two snapshots describe the same state,
// ignoring counters and the timestamp.
func (s Snapshot) SameState(o Snapshot) bool {
	s.Messages, o.Messages = 0, 0
	s.Actions, o.Actions = 0, 0
	s.Injections, o.Injections = 0, 0
	s.UpdatedAt, o.UpdatedAt = time.Time{}, time.Time{}
	return s == o
}

// takeSnapshot copies the loop-owned state.
func (b *Bridge) takeSnapshot() Snapshot {
	s := &b.state
	return Snapshot{
		Status:        statusOnline,
		Connected:     s.connected,
		Authenticated: s.authenticated,
		UserID:        s.userID,
		UserName:      s.userName,
		SessionID:     s.session.id,
		ChatID:        s.session.chatID,
		Character:     s.session.character,
		DeviceAddress: s.deviceAddress,
		InjectedFor:   s.injectedFor,
		Messages:      b.stats.messages,
		Actions:       b.stats.actions,
		Injections:    b.stats.injections,
		UpdatedAt:     time.Now().UTC(),
	}
}

// refreshSnapshot stores the current snapshot and publishes it as retained
// status when the state (not just the counters) changed.
func (b *Bridge) refreshSnapshot() {
	snap := b.takeSnapshot()
	b.snapshot.Store(&snap)

	if snap.SameState(b.lastSent) {
		return
	}
	if b.publishJSON(b.topics.Status(), snap, statusQoS, true) {
		b.lastSent = snap
	}
}

func (b *Bridge) publishDiscovery(address, raw string) {
	payload := struct {
		Device    string    `json:"device"`
		Raw       string    `json:"raw"`
		Timestamp time.Time `json:"timestamp"`
	}{address, raw, time.Now().UTC()}

	b.publishJSON(b.topics.Discovery(), payload, statusQoS, true)
}

func (b *Bridge) publishAction(action string, args map[string]string) {
	payload := struct {
		Action    string            `json:"action"`
		SessionID string            `json:"session_id"`
		Device    string            `json:"device"`
		Arguments map[string]string `json:"arguments"`
		Timestamp time.Time         `json:"timestamp"`
	}{action, b.state.session.id, b.state.deviceAddress, args, time.Now().UTC()}

	b.publishJSON(b.topics.Action(), payload, actionQoS, false)
}

// publishJSON reports whether the payload reached the MQTT client.
func (b *Bridge) publishJSON(topic string, v any, qos byte, retained bool) bool {
	if b.publisher == nil || !b.publisher.IsConnected() {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		b.logError("marshalling status payload", err, "topic", topic)
		return false
	}

	if err := b.publisher.Publish(topic, data, qos, retained); err != nil {
		b.logWarn("publishing status payload failed", "topic", topic, "error", err)
		return false
	}
	return true
}

func (b *Bridge) recordAction(ctx context.Context, action string, args map[string]string) {
	if b.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	rec := ActionRecord{
		Action:    action,
		SessionID: b.state.session.id,
		Device:    b.state.deviceAddress,
		Arguments: args,
		Timestamp: time.Now().UTC(),
	}
	if err := b.history.RecordAction(ctx, rec); err != nil {
		b.logWarn("recording action history failed", "action", action, "error", err)
	}
}
