package gemlive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"google.golang.org/genai"
	"nhooyr.io/websocket"
)

// MockServer provides a test WebSocket server that simulates the Gemini Live
// BidiGenerateContent endpoint: it answers the setup message with
// setupComplete, plays scripted messages and records everything the client sends.
type MockServer struct {
	server *httptest.Server
	t      *testing.T

	// Script is sent right after setupComplete.
	Script [][]byte
	// SkipSetupComplete makes the server stay silent after setup.
	SkipSetupComplete bool
	// Binary sends server messages in binary frames, as the real service does.
	Binary bool

	mu       sync.Mutex
	setup    *genai.LiveClientMessage
	received []*genai.LiveClientMessage
	headers  http.Header
	conn     *websocket.Conn
	ready    chan struct{}
	readyOne sync.Once
	notify   chan struct{}
}

// NewMockServer creates a new mock server for testing
func NewMockServer(t *testing.T) *MockServer {
	ms := &MockServer{t: t, Binary: true, ready: make(chan struct{}), notify: make(chan struct{}, 1)}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handleWebSocket))
	return ms
}

// Close shuts down the mock server
func (ms *MockServer) Close() {
	ms.server.CloseClientConnections()
	ms.server.Close()
}

// Endpoint returns the base URL to use as Config.Endpoint.
func (ms *MockServer) Endpoint() string { return ms.server.URL }

func (ms *MockServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Check for API key in header
	if r.Header.Get("x-goog-api-key") == "" && r.Header.Get("Authorization") == "" {
		http.Error(w, "Missing authentication", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // For testing only
	})
	if err != nil {
		ms.t.Errorf("failed to upgrade to websocket: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(readLimit)
	ctx := r.Context()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var setup genai.LiveClientMessage
	if err := sonic.Unmarshal(data, &setup); err != nil || setup.Setup == nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "expected setup")
		return
	}

	ms.mu.Lock()
	ms.setup = &setup
	ms.headers = r.Header.Clone()
	ms.conn = conn
	ms.mu.Unlock()

	if ms.SkipSetupComplete {
		_, _, _ = conn.Read(ctx) // until the client gives up
		return
	}

	if err := ms.write(ctx, []byte(`{"setupComplete":{}}`)); err != nil {
		return
	}
	for _, msg := range ms.Script {
		if err := ms.write(ctx, msg); err != nil {
			return
		}
	}
	ms.readyOne.Do(func() { close(ms.ready) })

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return // Connection closed
		}
		var msg genai.LiveClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			ms.t.Errorf("client sent invalid JSON: %v", err)
			continue
		}
		ms.mu.Lock()
		ms.received = append(ms.received, &msg)
		ms.mu.Unlock()
		select {
		case ms.notify <- struct{}{}:
		default:
		}
	}
}

func (ms *MockServer) write(ctx context.Context, data []byte) error {
	typ := websocket.MessageText
	if ms.Binary {
		typ = websocket.MessageBinary
	}
	ms.mu.Lock()
	conn := ms.conn
	ms.mu.Unlock()
	return conn.Write(ctx, typ, data)
}

// WaitReady blocks until the scripted messages have been sent.
func (ms *MockServer) WaitReady(t *testing.T) {
	t.Helper()
	select {
	case <-ms.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("mock server never completed setup")
	}
}

// Push sends one raw server message on the live connection.
func (ms *MockServer) Push(t *testing.T, raw string) {
	t.Helper()
	ms.WaitReady(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ms.write(ctx, []byte(raw)); err != nil {
		t.Fatalf("push failed: %v", err)
	}
}

// Drop closes the live connection abnormally.
func (ms *MockServer) Drop(code websocket.StatusCode) {
	ms.mu.Lock()
	conn := ms.conn
	ms.mu.Unlock()
	if conn != nil {
		_ = conn.Close(code, "dropped by test")
	}
}

// Setup returns the setup message the client sent.
func (ms *MockServer) Setup() *genai.LiveClientMessage {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.setup
}

// Headers returns the handshake request headers.
func (ms *MockServer) Headers() http.Header {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.headers
}

// Received returns a copy of the messages received after setup.
func (ms *MockServer) Received() []*genai.LiveClientMessage {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]*genai.LiveClientMessage(nil), ms.received...)
}

// WaitReceived blocks until at least n messages have arrived after setup.
func (ms *MockServer) WaitReceived(t *testing.T, n int) []*genai.LiveClientMessage {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if got := ms.Received(); len(got) >= n {
			return got
		}
		select {
		case <-ms.notify:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("expected %d messages, got %d", n, len(ms.Received()))
		}
	}
}

// CreateMockConfig creates a valid config pointing to the mock server
func CreateMockConfig(endpoint string) Config {
	return Config{
		Endpoint:    endpoint,
		Credential:  APIKey("test-key"),
		DialTimeout: 5 * time.Second,
	}
}

// recordingHandler collects transport callbacks.
type recordingHandler struct {
	mu       sync.Mutex
	messages [][]byte
	errs     []error
	closed   chan struct{}
	once     sync.Once
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan struct{})}
}

func (h *recordingHandler) HandleMessage(raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, raw)
}

func (h *recordingHandler) HandleError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) HandleClosed() {
	h.once.Do(func() { close(h.closed) })
}

func (h *recordingHandler) Messages() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.messages...)
}

func (h *recordingHandler) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}
