package discovery

import (
	"context"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"
)

type discovered struct {
	address string
	raw     string
}

// recorder collects OnDiscover callbacks.
type recorder struct {
	mu    sync.Mutex
	calls []discovered
	ch    chan discovered
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan discovered, 8)}
}

func (r *recorder) onDiscover(address, raw string) {
	r.mu.Lock()
	r.calls = append(r.calls, discovered{address, raw})
	r.mu.Unlock()
	r.ch <- discovered{address, raw}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func startListener(t *testing.T, onDiscover func(string, string)) *Listener {
	t.Helper()

	l, err := New(Options{
		Port:           -1,
		ReceiveTimeout: 20 * time.Millisecond,
		OnDiscover:     onDiscover,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(l.Stop)
	return l
}

func send(t *testing.T, l *Listener, payload string) {
	t.Helper()

	port := l.Addr().(*net.UDPAddr).Port
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitPackets(t *testing.T, l *Listener, n uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.PacketsReceived() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("received %d packets, want %d", l.PacketsReceived(), n)
}

func TestParse(t *testing.T) {
	source := net.IPv4(192, 168, 1, 9)

	tests := []struct {
		name   string
		text   string
		source net.IP
		want   string
		wantOK bool
	}{
		{"ip field", "OPENHANDY_DISCOVERY ip=10.20.0.101 host=openhandy tcode=2000", source, "10.20.0.101", true},
		{"fallback to source", "OPENHANDY_DISCOVERY host=openhandy", source, "192.168.1.9", true},
		{"no source", "OPENHANDY_DISCOVERY host=openhandy", nil, "", false},
		{"wrong prefix", "SOMETHING ip=10.0.0.1", source, "", false},
		{"prefix not at start", "x OPENHANDY_DISCOVERY ip=10.0.0.1", source, "", false},
		{"ip needs word boundary", "OPENHANDY_DISCOVERY vip=10.0.0.1", source, "192.168.1.9", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text, DefaultPrefix, tt.source)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Parse() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without callback expected error")
	}
	if _, err := New(Options{Port: 70000, OnDiscover: func(string, string) {}}); err == nil {
		t.Error("New() with invalid port expected error")
	}

	l, err := New(Options{OnDiscover: func(string, string) {}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if l.port != DefaultPort || l.prefix != DefaultPrefix || l.receiveTimeout != DefaultReceiveTimeout {
		t.Errorf("defaults = %d %q %v", l.port, l.prefix, l.receiveTimeout)
	}
}

func TestListener_FirstAnnouncementWins(t *testing.T) {
	rec := newRecorder()
	l := startListener(t, rec.onDiscover)

	send(t, l, "garbage packet")
	send(t, l, "  OPENHANDY_DISCOVERY ip=10.20.0.101 host=openhandy\n")

	select {
	case got := <-rec.ch:
		if got.address != "10.20.0.101" {
			t.Errorf("address = %q, want 10.20.0.101", got.address)
		}
		if got.raw != "OPENHANDY_DISCOVERY ip=10.20.0.101 host=openhandy" {
			t.Errorf("raw = %q", got.raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no discovery callback")
	}

	send(t, l, "OPENHANDY_DISCOVERY ip=10.20.0.102")
	waitPackets(t, l, 3)

	if got := rec.count(); got != 1 {
		t.Errorf("callbacks = %d, want 1", got)
	}
	if got := l.Device(); got != "10.20.0.101" {
		t.Errorf("Device() = %q", got)
	}
}

func TestListener_SourceAddressFallback(t *testing.T) {
	rec := newRecorder()
	l := startListener(t, rec.onDiscover)

	send(t, l, "OPENHANDY_DISCOVERY host=openhandy")

	select {
	case got := <-rec.ch:
		if got.address != "127.0.0.1" {
			t.Errorf("address = %q, want 127.0.0.1", got.address)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no discovery callback")
	}
}

func TestListener_CallbackPanicContained(t *testing.T) {
	l := startListener(t, func(string, string) { panic("boom") })

	send(t, l, "OPENHANDY_DISCOVERY ip=10.0.0.1")
	send(t, l, "OPENHANDY_DISCOVERY ip=10.0.0.2")
	waitPackets(t, l, 2)

	if got := l.Device(); got != "10.0.0.1" {
		t.Errorf("Device() = %q, want 10.0.0.1", got)
	}
}

func TestListener_StopIsPrompt(t *testing.T) {
	l := startListener(t, func(string, string) {})

	start := time.Now()
	l.Stop()
	l.Stop()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop() took %v", elapsed)
	}
}

func TestListener_BindFailure(t *testing.T) {
	// A socket without SO_REUSEADDR keeps the port exclusive.
	held, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	defer held.Close()
	port := held.LocalAddr().(*net.UDPAddr).Port

	l, err := New(Options{Port: port, OnDiscover: func(string, string) {}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := l.Start(context.Background()); err == nil {
		l.Stop()
		t.Fatal("Start() on an exclusively bound port expected error")
	}
	l.Stop()
}

func TestListener_SharesPort(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("port sharing semantics checked on linux only")
	}

	first := startListener(t, func(string, string) {})
	port := first.Addr().(*net.UDPAddr).Port

	second, err := New(Options{Port: port, OnDiscover: func(string, string) {}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("Start() on a shared port error = %v", err)
	}
	second.Stop()
}
