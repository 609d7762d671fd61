package mqtt

import "strings"

// DefaultTopicPrefix roots all bridge topics when none is configured.
const DefaultTopicPrefix = "handybridge"

// Topics builds the client-level topics under a prefix.
//
// The bridge publishes its own status, discovery and action topics under the
// same prefix; this type only covers what the client owns itself.
//
//	topics := mqtt.Topics{Prefix: "handybridge"}
//	topics.Availability() // "handybridge/availability"
type Topics struct {
	Prefix string
}

// Availability is the retained online/offline topic, also used for the LWT.
//
// Example: handybridge/availability
func (t Topics) Availability() string {
	return t.prefix() + "/availability"
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}
