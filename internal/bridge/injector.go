package bridge

import "github.com/nerrad567/openhandy-bridge/internal/infrastructure/config"

// Action definition defaults applied when the template leaves a field empty.
const (
	DefaultTiming       = "AfterAssistantMessage"
	DefaultLayer        = "default"
	DefaultArgumentType = "String"
)

// ActionDefinition is the action registered with the chat service.
type ActionDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Timing      string           `json:"timing"`
	Layer       string           `json:"layer"`
	Effect      ActionEffect     `json:"effect"`
	Arguments   []ActionArgument `json:"arguments,omitzero"`
}

// ActionEffect is the effect sub-object of an action definition.
type ActionEffect struct {
	Secret   string   `json:"secret"`
	Note     string   `json:"note"`
	SetFlags []string `json:"setFlags"`
}

// ActionArgument is one typed argument of an action definition.
type ActionArgument struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// NewActionDefinition derives the action definition from the static template.
// It is rebuilt on every injection so the template is the only source of truth.
func NewActionDefinition(tmpl config.ActionConfig) ActionDefinition {
	def := ActionDefinition{
		Name:        tmpl.Name,
		Description: orDefault(tmpl.Description, "Action: "+tmpl.Name),
		Timing:      orDefault(tmpl.Timing, DefaultTiming),
		Layer:       orDefault(tmpl.Layer, DefaultLayer),
		Effect: ActionEffect{
			Secret:   tmpl.Secret,
			Note:     tmpl.Note,
			SetFlags: append([]string{}, tmpl.SetFlags...),
		},
	}

	// A present but empty argument list is forwarded as []; only an absent
	// one is omitted.
	if tmpl.Arguments != nil {
		def.Arguments = make([]ActionArgument, 0, len(tmpl.Arguments))
		for _, arg := range tmpl.Arguments {
			def.Arguments = append(def.Arguments, ActionArgument{
				Name:        arg.Name,
				Type:        orDefault(arg.Type, DefaultArgumentType),
				Required:    arg.Required,
				Description: arg.Description,
			})
		}
	}

	return def
}

// NewUpdateContextMessage wraps a single action definition for a session.
func NewUpdateContextMessage(contextKey, sessionID string, def ActionDefinition) UpdateContextMessage {
	return UpdateContextMessage{
		Type:       TypeUpdateContext,
		SessionID:  sessionID,
		ContextKey: contextKey,
		Actions:    []ActionDefinition{def},
	}
}

// attemptInjection sends the context update for the active session once both
// authentication and a discovered device are in place. Safe to call from any
// trigger; the injection gate prevents a second send for the same session.
func (b *Bridge) attemptInjection() {
	s := &b.state
	sessionID := s.session.id

	if !s.authenticated || sessionID == "" {
		return
	}

	if s.deviceAddress == "" {
		if s.loggedNoDeviceFor != sessionID {
			b.logInfo("device not discovered yet, postponing action injection",
				"session_id", sessionID)
			s.loggedNoDeviceFor = sessionID
		}
		return
	}

	if s.injectedFor == sessionID {
		return
	}

	def := NewActionDefinition(b.action)
	msg := NewUpdateContextMessage(b.contextKey, sessionID, def)

	b.logInfo("injecting action into chat context",
		"action", def.Name,
		"session_id", sessionID,
		"context_key", b.contextKey,
		"device", s.deviceAddress)

	b.send(msg)
	s.injectedFor = sessionID
	b.stats.injections++
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
