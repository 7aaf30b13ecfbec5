package gemlive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"google.golang.org/genai"
	"nhooyr.io/websocket"
)

// readLimit bounds a single inbound frame. Model turns carry inline audio and
// easily exceed the websocket library's 32 KiB default.
const readLimit = 16 << 20

// Handler receives inbound traffic and lifecycle events from a Transport.
// All methods are called from the transport's single read goroutine, in
// arrival order, so they should not block for long.
type Handler interface {
	// HandleMessage receives one raw inbound frame (JSON).
	HandleMessage(raw []byte)
	// HandleError is called at most once, when the channel fails.
	HandleError(err error)
	// HandleClosed is called once when the read side stops, after HandleError if any.
	HandleClosed()
}

// Transport represents one duplex connection to the Gemini Live
// BidiGenerateContent endpoint. A Transport is established by Dial, which
// completes the setup handshake before returning, and is single-use: once
// it fails or is closed it never reconnects.
//
// Send is safe for concurrent use; writes are serialized so send order
// equals delivery order.
type Transport struct {
	cfg Config
	url string
	h   Handler

	// Connection state
	conn       *websocket.Conn    // Underlying WebSocket connection
	writeMu    sync.Mutex         // Protects writes to the WebSocket
	readCancel context.CancelFunc // Cancels the read loop when closing
	closedCh   chan struct{}      // Signals when the transport is closed
	closeOnce  sync.Once          // Ensures closedCh is only closed once
	readDone   chan struct{}
}

// Dial establishes a WebSocket connection to the Live endpoint, sends the
// setup message and waits for the service to confirm it. A returned
// Transport is open: inbound frames flow to h from then on.
//
// Returns a *ConfigError for invalid configuration and a *ConnectionError
// when the dial, the authentication or the setup exchange fails.
func Dial(ctx context.Context, cfg Config, setup Setup, h Handler) (*Transport, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if err := ValidateSetup(setup); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, NewConfigError("Handler", "", "cannot be nil")
	}

	u, err := liveURL(cfg)
	if err != nil {
		return nil, err
	}

	// Prepare authentication and custom headers
	hdr := http.Header{}
	for k, vals := range cfg.HandshakeHeaders {
		for _, v := range vals {
			hdr.Add(k, v)
		}
	}
	cfg.Credential.apply(hdr)

	// Apply dial timeout if specified; it also bounds the setup exchange
	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	ws, resp, err := websocket.Dial(dialCtx, u, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			err = fmt.Errorf("authentication rejected (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, NewConnectionError(u, "dial", err)
	}
	ws.SetReadLimit(readLimit)

	t := &Transport{
		cfg:      cfg,
		url:      u,
		h:        h,
		conn:     ws,
		closedCh: make(chan struct{}),
		readDone: make(chan struct{}),
	}
	t.log("ws_connected", map[string]any{"url": u})

	if err := t.handshake(dialCtx, setup); err != nil {
		_ = ws.Close(websocket.StatusPolicyViolation, "setup failed")
		return nil, NewConnectionError(u, "handshake", err)
	}
	t.log("setup_complete", map[string]any{"model": setup.modelName()})

	// Start read loop in separate goroutine
	rcCtx, cancel := context.WithCancel(context.Background())
	t.readCancel = cancel
	go t.readLoop(rcCtx, ws)

	// Start ping loop to maintain connection
	go t.pingLoop()
	return t, nil
}

// handshake sends the setup message and blocks until setupComplete arrives.
func (t *Transport) handshake(ctx context.Context, setup Setup) error {
	if err := t.Send(ctx, setup.message()); err != nil {
		return err
	}
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				return fmt.Errorf("closed by server during setup (status %d): %w", status, err)
			}
			return err
		}
		in, err := DecodeInbound(data)
		if err != nil {
			return err
		}
		if in.SetupComplete {
			return nil
		}
		t.logDebug("pre_setup_message_dropped", map[string]any{"bytes": len(data)})
	}
}

// URL returns the websocket URL this transport is connected to.
func (t *Transport) URL() string { return t.url }

// Close gracefully shuts down the transport.
// This method is safe to call multiple times and will not block.
// No error or closed event is delivered to the Handler for a local close.
func (t *Transport) Close() error {
	// Mark closed first so the read loop treats its failure as local
	t.closeOnce.Do(func() {
		close(t.closedCh)
	})

	// Cancel the read loop to stop processing incoming messages
	if t.readCancel != nil {
		t.readCancel()
	}

	// Close the WebSocket connection safely
	t.writeMu.Lock()
	if t.conn != nil {
		_ = t.conn.Close(websocket.StatusNormalClosure, "closing")
		t.conn = nil
	}
	t.writeMu.Unlock()
	return nil
}

// Done is closed once the transport stops, locally or remotely.
func (t *Transport) Done() <-chan struct{} { return t.readDone }

// Send encodes msg and writes it as one text frame. Each write is bounded by
// a 15 second timeout on top of ctx.
func (t *Transport) Send(ctx context.Context, msg *genai.LiveClientMessage) error {
	kind := messageKind(msg)
	b, err := encodeOutbound(msg)
	if err != nil {
		return NewSendError(kind, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return NewSendError(kind, ErrClosed)
	}

	// Apply send timeout
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := t.conn.Write(ctx, websocket.MessageText, b); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewSendError(kind, ErrSendTimeout)
		}
		return NewSendError(kind, err)
	}
	return nil
}

// readLoop continuously reads frames from the WebSocket connection.
// Gemini delivers JSON in both text and binary frames, so both are forwarded.
// The loop terminates when the transport is closed or the connection fails.
func (t *Transport) readLoop(ctx context.Context, ws *websocket.Conn) {
	defer close(t.readDone)

	var failure error
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			failure = err
			break
		}
		t.h.HandleMessage(data)
	}

	local := false
	select {
	case <-t.closedCh:
		local = true
	default:
	}

	// Clean up connection state when read loop exits
	t.writeMu.Lock()
	if t.conn != nil {
		_ = t.conn.Close(websocket.StatusNormalClosure, "reader_exit")
		t.conn = nil
	}
	t.writeMu.Unlock()
	t.closeOnce.Do(func() {
		close(t.closedCh)
	})

	if local {
		return
	}
	if websocket.CloseStatus(failure) == websocket.StatusNormalClosure {
		t.log("ws_closed_by_server", nil)
	} else {
		t.logError("ws_read_failed", map[string]any{"err": failure.Error()})
		t.h.HandleError(NewConnectionError(t.url, "read", failure))
	}
	t.h.HandleClosed()
}

func (t *Transport) pingLoop() {
	tk := time.NewTicker(20 * time.Second)
	defer tk.Stop()
	for {
		select {
		case <-t.closedCh:
			return
		case <-tk.C:
			// Ping waits for the pong, so it must not hold writeMu
			t.writeMu.Lock()
			ws := t.conn
			t.writeMu.Unlock()
			if ws == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = ws.Ping(ctx)
			cancel()
		}
	}
}

func (t *Transport) log(event string, fields map[string]any) {
	t.cfg.Logger.Info(event, fields)
}

func (t *Transport) logDebug(event string, fields map[string]any) {
	t.cfg.Logger.Debug(event, fields)
}

func (t *Transport) logError(event string, fields map[string]any) {
	t.cfg.Logger.Error(event, fields)
}
