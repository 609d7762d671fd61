// Package hub maintains the persistent chat hub connection.
//
// The hub speaks the JSON hub protocol over a websocket: an optional
// negotiate request, a protocol handshake, then record-separated (0x1E) JSON
// frames. Frames are typed:
//
//	1  invocation   server ReceiveMessage carries payloads; client SendMessage
//	3  completion   result of a client invocation, errors are surfaced
//	6  ping         keep-alive in both directions
//	7  close        server is closing the connection
//
// Manager owns one connection at a time and reconnects after a fixed delay
// whenever establishment fails or an established connection ends. Its
// Listener sees open, close, error and message events in order.
//
// Usage:
//
//	mgr, err := hub.NewManager(hub.Options{
//	    URL:      "http://localhost:5384/hub",
//	    Listener: bridge,
//	    Logger:   log,
//	})
//	mgr.Start(ctx)
//	defer mgr.Stop()
//
//	mgr.Send([]any{msg})
package hub
