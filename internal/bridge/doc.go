// Package bridge correlates the chat hub, device discovery and device control
// into one consistent state machine.
//
// # Architecture
//
//	┌──────────────┐  events   ┌──────────────┐   GET /api/motion
//	│ hub.Manager  │──────────►│              │──────────────────► device
//	└──────────────┘           │    Bridge    │
//	┌──────────────┐  events   │ (event loop) │   SendMessage
//	│  discovery   │──────────►│              │──────────────────► hub
//	└──────────────┘           └──────────────┘
//
// Every input becomes an Event posted to a single goroutine that owns the
// state. Nothing else reads or writes it; observers use Snapshot.
//
// # Injection
//
// The configured action is registered with the chat service (an
// updateContext message) at most once per session, and only once the
// connection is authenticated and a device has been discovered. Whichever of
// the three arrives last triggers the send.
//
// # Actions
//
// Action invocations matching the configured name are handed to the
// Executor synchronously, so a second invocation waits behind the first.
package bridge
