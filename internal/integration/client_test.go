package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"mentorline/internal/app"
	"mentorline/internal/config"
	"mentorline/pkg/types"
)

const eventTimeout = 3 * time.Second

// inbound is a server frame with its payload left raw
type inbound struct {
	Event types.EventName `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// testClient is a WebSocket client speaking the event envelope protocol
type testClient struct {
	conn   *websocket.Conn
	frames chan inbound
	done   chan struct{}

	writeMu sync.Mutex
	closeMu sync.Once
}

// testServer runs the full application behind httptest
type testServer struct {
	app    *app.Application
	server *httptest.Server
}

func startServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")
	cfg.Database.WriteRetryDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	server := httptest.NewServer(application.Handler())

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return &testServer{app: application, server: server}
}

// dial opens an anonymous socket
func (s *testServer) dial(t *testing.T) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	c := &testClient{
		conn:   conn,
		frames: make(chan inbound, 1024),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(c.close)
	return c
}

// connect opens a socket and registers identity
func (s *testServer) connect(t *testing.T, identity string, role types.Role) *testClient {
	t.Helper()
	c := s.dial(t)
	c.send(t, types.EventSetRole, types.SetRoleCommand{Role: role, Identity: identity})
	var ack types.RoleSetPayload
	c.expect(t, types.EventRoleSet, &ack)
	if ack.Identity != identity {
		t.Fatalf("role-set for %q, want %q", ack.Identity, identity)
	}
	return c
}

// createChat goes through the HTTP collaborator seam
func (s *testServer) createChat(t *testing.T, learnerID, instructorID string) *types.ChatSession {
	t.Helper()
	body := fmt.Sprintf(`{"learnerId":%q,"instructorId":%q}`, learnerID, instructorID)
	resp, err := http.Post(s.server.URL+"/api/chats", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/chats failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/chats returned %d", resp.StatusCode)
	}
	var out struct {
		Chat *types.ChatSession `json:"chat"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	return out.Chat
}

// getJSON decodes a GET response into v
func (s *testServer) getJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	resp, err := http.Get(s.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func (c *testClient) readLoop() {
	defer close(c.done)
	for {
		var frame inbound
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		select {
		case c.frames <- frame:
		default:
			// Tests never leave 1024 frames unread
		}
	}
}

func (c *testClient) send(t *testing.T, event types.EventName, data interface{}) {
	t.Helper()
	if err := c.write(event, data); err != nil {
		t.Fatalf("failed to send %s: %v", event, err)
	}
}

// write is safe to call from goroutines other than the test's
func (c *testClient) write(event types.EventName, data interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(eventTimeout))
	return c.conn.WriteJSON(map[string]interface{}{"event": event, "data": data})
}

// expect skips frames until event arrives and decodes its payload into v
func (c *testClient) expect(t *testing.T, event types.EventName, v interface{}) {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case frame := <-c.frames:
			if frame.Event != event {
				continue
			}
			if v != nil {
				if err := json.Unmarshal(frame.Data, v); err != nil {
					t.Fatalf("decode %s: %v", event, err)
				}
			}
			return
		case <-c.done:
			// Frames read before the close may still be buffered
			for {
				select {
				case frame := <-c.frames:
					if frame.Event != event {
						continue
					}
					if v != nil {
						if err := json.Unmarshal(frame.Data, v); err != nil {
							t.Fatalf("decode %s: %v", event, err)
						}
					}
					return
				default:
					t.Fatalf("connection closed while waiting for %s", event)
				}
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", event)
		}
	}
}

// expectNone fails if event arrives within wait
func (c *testClient) expectNone(t *testing.T, event types.EventName, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case frame := <-c.frames:
			if frame.Event == event {
				t.Fatalf("unexpected %s: %s", event, frame.Data)
			}
		case <-c.done:
			return
		case <-deadline:
			return
		}
	}
}

// waitClosed waits for the server to close the socket
func (c *testClient) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(eventTimeout):
		t.Fatal("server did not close the connection")
	}
}

func (c *testClient) close() {
	c.closeMu.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}
