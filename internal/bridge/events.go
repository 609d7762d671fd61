package bridge

import "encoding/json"

// Event is one input to the bridge state machine. The set is closed:
// Opened, Closed, HubError, MessageBatch and Discovered.
type Event interface {
	isEvent()
}

// Opened reports that the hub connection is established.
type Opened struct{}

// Closed reports that the hub connection ended. Err is nil on a clean close.
type Closed struct {
	Err error
}

// HubError reports a transport or completion error on the hub connection.
type HubError struct {
	Err error
}

// MessageBatch carries the first argument of a hub ReceiveMessage invocation:
// either one payload object or an array of them.
type MessageBatch struct {
	Payload json.RawMessage
}

// Discovered reports the first device announcement seen on the network.
type Discovered struct {
	Address string
	Raw     string
}

func (Opened) isEvent()       {}
func (Closed) isEvent()       {}
func (HubError) isEvent()     {}
func (MessageBatch) isEvent() {}
func (Discovered) isEvent()   {}
