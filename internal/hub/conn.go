package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport limits.
const (
	// maxNegotiateBody caps the negotiate response size.
	maxNegotiateBody = 64 * 1024

	// writeTimeout bounds a single frame write.
	writeTimeout = 5 * time.Second

	// closeGracePeriod is how long a close frame may take to send.
	closeGracePeriod = time.Second
)

// negotiateResponse is the negotiate endpoint reply.
type negotiateResponse struct {
	ConnectionID    string `json:"connectionId"`
	ConnectionToken string `json:"connectionToken"`
	Error           string `json:"error"`
}

// conn is one established hub protocol connection.
type conn struct {
	ws           *websocket.Conn
	connectionID string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// dialer establishes hub connections.
type dialer struct {
	hubURL           string
	skipNegotiation  bool
	handshakeTimeout time.Duration
	httpClient       *http.Client
}

// dial negotiates, opens the websocket and completes the protocol handshake.
// Frames that arrived together with the handshake response are returned so
// the caller can process them before reading further.
func (d *dialer) dial(ctx context.Context) (*conn, [][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.handshakeTimeout)
	defer cancel()

	connectionID := ""
	query := url.Values{}
	if !d.skipNegotiation {
		neg, err := d.negotiate(ctx)
		if err != nil {
			return nil, nil, err
		}
		connectionID = neg.ConnectionID
		token := neg.ConnectionToken
		if token == "" {
			token = neg.ConnectionID
		}
		if token != "" {
			query.Set("id", token)
		}
	}

	wsURL, err := websocketURL(d.hubURL, query)
	if err != nil {
		return nil, nil, err
	}

	wsDialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.handshakeTimeout,
	}
	ws, resp, err := wsDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &conn{ws: ws, connectionID: connectionID}

	rest, err := c.handshake(ctx)
	if err != nil {
		c.close()
		return nil, nil, err
	}
	return c, rest, nil
}

// negotiate requests a connection token from the hub.
func (d *dialer) negotiate(ctx context.Context) (negotiateResponse, error) {
	negURL := d.hubURL + "/negotiate?negotiateVersion=1"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, negURL, nil)
	if err != nil {
		return negotiateResponse{}, fmt.Errorf("%w: %w", ErrNegotiateFailed, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return negotiateResponse{}, fmt.Errorf("%w: %w", ErrNegotiateFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return negotiateResponse{}, fmt.Errorf("%w: status %d", ErrNegotiateFailed, resp.StatusCode)
	}

	var neg negotiateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxNegotiateBody)).Decode(&neg); err != nil {
		return negotiateResponse{}, fmt.Errorf("%w: decoding response: %w", ErrNegotiateFailed, err)
	}
	if neg.Error != "" {
		return negotiateResponse{}, fmt.Errorf("%w: %s", ErrNegotiateFailed, neg.Error)
	}
	return neg, nil
}

// handshake sends the protocol selection and waits for the server's reply.
func (c *conn) handshake(ctx context.Context) ([][]byte, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(deadline) //nolint:errcheck // deadline errors surface on write
	err := c.ws.WriteMessage(websocket.TextMessage, handshakeRequest)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	c.ws.SetReadDeadline(deadline) //nolint:errcheck // deadline errors surface on read
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	c.ws.SetReadDeadline(time.Time{}) //nolint:errcheck // clearing a deadline

	return parseHandshake(data)
}

// read returns the frames of the next websocket message. timeout of zero
// waits indefinitely.
func (c *conn) read(timeout time.Duration) ([][]byte, error) {
	if timeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck // deadline errors surface on read
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return splitFrames(data), nil
}

// writeFrame sends one record-separated frame. Safe for concurrent use.
func (c *conn) writeFrame(v any) error {
	data, err := encodeFrame(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // deadline errors surface on write
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// close sends a websocket close frame and closes the socket. Safe to call
// multiple times.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		c.ws.Close()
	})
}

// websocketURL converts an http(s) hub URL into its ws(s) form.
func websocketURL(hubURL string, query url.Values) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("parsing hub URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub URL scheme %q", u.Scheme)
	}

	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
