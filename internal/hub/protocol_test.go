package hub

import (
	"errors"
	"net/url"
	"testing"
)

func TestSplitFrames(t *testing.T) {
	data := []byte("{\"type\":6}\x1e\x1e {\"type\":1}\x1e")

	frames := splitFrames(data)
	if len(frames) != 2 {
		t.Fatalf("splitFrames() = %d frames, want 2", len(frames))
	}
	if string(frames[1]) != `{"type":1}` {
		t.Errorf("frames[1] = %s", frames[1])
	}
}

func TestEncodeFrame(t *testing.T) {
	data, err := encodeFrame(message{Type: typePing})
	if err != nil {
		t.Fatalf("encodeFrame() error = %v", err)
	}
	if string(data) != "{\"type\":6}\x1e" {
		t.Errorf("encodeFrame() = %q", data)
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
	}{
		{"invocation", `{"type":1,"target":"ReceiveMessage","arguments":[{}]}`, false},
		{"missing type", `{"target":"x"}`, true},
		{"not json", `nope`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFrame([]byte(tt.frame))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("error = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestParseHandshake(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantRest int
		wantErr  bool
	}{
		{"accepted", "{}\x1e", 0, false},
		{"accepted with trailing frame", "{}\x1e{\"type\":6}\x1e", 1, false},
		{"rejected", "{\"error\":\"unsupported\"}\x1e", 0, true},
		{"empty", "", 0, true},
		{"garbage", "xx\x1e", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rest, err := parseHandshake([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseHandshake() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrHandshakeFailed) {
				t.Errorf("error = %v, want ErrHandshakeFailed", err)
			}
			if len(rest) != tt.wantRest {
				t.Errorf("rest = %d frames, want %d", len(rest), tt.wantRest)
			}
		})
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		name    string
		hubURL  string
		query   url.Values
		want    string
		wantErr bool
	}{
		{"http", "http://localhost:5384/hub", nil, "ws://localhost:5384/hub", false},
		{"https with id", "https://example.com/hub", url.Values{"id": {"tok"}}, "wss://example.com/hub?id=tok", false},
		{"ws passthrough", "ws://10.0.0.1/hub", nil, "ws://10.0.0.1/hub", false},
		{"bad scheme", "ftp://example.com/hub", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := websocketURL(tt.hubURL, tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("websocketURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("websocketURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompletionError(t *testing.T) {
	err := error(&CompletionError{InvocationID: "4", Message: "boom"})
	if got := err.Error(); got != "hub: invocation 4 failed: boom" {
		t.Errorf("Error() = %q", got)
	}
}
