package main

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/textrelay/relay"
	relayws "github.com/wricardo/textrelay/transport/websocket"
)

// syncBuffer is written by the client's reader goroutine and read by the test.
type syncBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func startRelay(t *testing.T) string {
	t.Helper()
	handler := relayws.NewHandler(relay.NewDispatcher(relay.NewRegistry()), 0)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %q, got %q", want, out.String())
}

func TestDialURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		want    string
		wantErr bool
	}{
		{name: "websocket URL", rawURL: "ws://localhost:8080/ws", want: "ws://localhost:8080/ws?identity=alice"},
		{name: "http becomes ws", rawURL: "http://localhost:8080/ws", want: "ws://localhost:8080/ws?identity=alice"},
		{name: "https becomes wss", rawURL: "https://relay.example.com/", want: "wss://relay.example.com/?identity=alice"},
		{name: "unsupported scheme", rawURL: "ftp://relay.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dialURL(tt.rawURL, "alice")
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFormatOutbound(t *testing.T) {
	if got := formatOutbound("alice", "@bob hi"); got != "alice|@bob hi" {
		t.Errorf("Unexpected outbound line %q", got)
	}
}

func TestChatRejectsSeparatorInIdentity(t *testing.T) {
	err := chat(context.Background(), "ws://localhost:1/ws", "a|b", strings.NewReader(""), io.Discard)
	if err == nil {
		t.Error("Expected error for identity containing '|'")
	}
}

func TestChatSession(t *testing.T) {
	relayURL := startRelay(t)

	in, stdin := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- chat(context.Background(), relayURL, "alice", in, out)
	}()

	waitForOutput(t, out, "alice : is connected")

	bob, _, err := websocket.DefaultDialer.Dial(relayURL+"?identity=bob", nil)
	if err != nil {
		t.Fatalf("Failed to connect bob: %v", err)
	}
	defer bob.Close()
	waitForOutput(t, out, "bob : is connected")

	// Drain bob's own join notice
	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := bob.ReadMessage(); err != nil {
		t.Fatalf("Failed to read join notice: %v", err)
	}

	io.WriteString(stdin, "@bob psst\n")
	_, data, err := bob.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read unicast: %v", err)
	}
	if string(data) != "alice : psst" {
		t.Errorf("Expected %q, got %q", "alice : psst", data)
	}

	io.WriteString(stdin, "hello everyone\n")
	waitForOutput(t, out, "alice : hello everyone")

	stdin.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean exit, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("chat did not return after stdin closed")
	}
}

func TestChatIdentityInUse(t *testing.T) {
	relayURL := startRelay(t)

	first, _, err := websocket.DefaultDialer.Dial(relayURL+"?identity=alice", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer first.Close()

	in, stdin := io.Pipe()
	defer stdin.Close()
	out := &syncBuffer{}

	if err := chat(context.Background(), relayURL, "alice", in, out); err != nil {
		t.Errorf("Expected clean exit on rejection, got %v", err)
	}
	if !strings.Contains(out.String(), "connection closed: identity already in use") {
		t.Errorf("Expected rejection reason in output, got %q", out.String())
	}
}

func TestChatCancelled(t *testing.T) {
	relayURL := startRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	in, stdin := io.Pipe()
	defer stdin.Close()
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() {
		done <- chat(ctx, relayURL, "carol", in, out)
	}()
	waitForOutput(t, out, "carol : is connected")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean exit, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("chat did not return after cancellation")
	}
}
