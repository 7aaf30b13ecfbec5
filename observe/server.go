// Package observe serves engine state to renderers over HTTP: a JSON
// snapshot, a websocket stream of snapshots, and optional session control,
// behind optional OIDC bearer auth and CORS.
package observe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/enesunal-m/gemlive"
	"nhooyr.io/websocket"
)

// DefaultInterval paces the state stream at roughly one frame per display refresh.
const DefaultInterval = 33 * time.Millisecond

// Source publishes engine state. *gemlive.Engine implements it.
type Source interface {
	Snapshot() gemlive.Snapshot
	Subscribe(buffer int) (<-chan gemlive.Snapshot, func())
}

// Controller drives the session. *gemlive.Engine implements it.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Sleep() error
}

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists CORS and websocket origins. Empty allows any.
	AllowedOrigins []string
	// Verifier guards every endpoint except /healthz. Nil disables auth.
	Verifier Verifier
	// Control enables POST /session/start, /session/stop and /session/sleep.
	Control Controller
	// Interval paces /state/stream. Zero means DefaultInterval.
	Interval time.Duration
	Logger   *gemlive.Logger
}

// Server is the renderer bridge.
type Server struct {
	src  Source
	opts Options
	log  *gemlive.Logger
	mux  *http.ServeMux
}

// New builds a server for src.
func New(src Source, opts Options) *Server {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	s := &Server{src: src, opts: opts, log: opts.Logger, mux: http.NewServeMux()}

	s.mux.Handle("/state", s.cors(s.auth(http.HandlerFunc(s.handleState))))
	s.mux.Handle("/state/stream", s.auth(http.HandlerFunc(s.handleStream)))
	if opts.Control != nil {
		s.mux.Handle("/session/start", s.cors(s.auth(s.control(func(ctx context.Context) error { return opts.Control.Start(ctx) }))))
		s.mux.Handle("/session/stop", s.cors(s.auth(s.control(func(context.Context) error { return opts.Control.Stop() }))))
		s.mux.Handle("/session/sleep", s.cors(s.auth(s.control(func(context.Context) error { return opts.Control.Sleep() }))))
	}
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			s.log.Debug("healthz_write_failed", map[string]any{"err": err.Error()})
		}
	})
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("observer_listening", map[string]any{"addr": addr})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.src.Snapshot())
}

// handleStream pushes the current snapshot on connect, then every published
// change plus live volume updates at most once per interval.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: s.opts.AllowedOrigins}
	if len(s.opts.AllowedOrigins) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.Warn("observer_accept_failed", map[string]any{"err": err.Error()})
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := conn.CloseRead(r.Context())
	updates, unsubscribe := s.src.Subscribe(16)
	defer unsubscribe()

	s.log.Debug("observer_stream_opened", map[string]any{"remote": r.RemoteAddr})
	tk := time.NewTicker(s.opts.Interval)
	defer tk.Stop()

	var last gemlive.Snapshot
	sent := false
	push := func(snap gemlive.Snapshot) error {
		if sent && snap == last {
			return nil
		}
		data, err := sonic.Marshal(snap)
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
			return err
		}
		last, sent = snap, true
		return nil
	}

	if err := push(s.src.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case _, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "engine closed")
				return
			}
			// The published snapshot lacks live levels; read a fresh one.
			if err := push(s.src.Snapshot()); err != nil {
				s.log.Debug("observer_stream_write_failed", map[string]any{"err": err.Error()})
				return
			}
		case <-tk.C:
			if err := push(s.src.Snapshot()); err != nil {
				s.log.Debug("observer_stream_write_failed", map[string]any{"err": err.Error()})
				return
			}
		}
	}
}

type controlResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
}

func (s *Server) control(fn func(ctx context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := fn(r.Context()); err != nil {
			s.log.Warn("observer_control_failed", map[string]any{"path": r.URL.Path, "err": err.Error()})
			writeJSON(w, controlStatus(err), controlResponse{Status: gemlive.StatusText(err)})
			return
		}
		writeJSON(w, http.StatusOK, controlResponse{OK: true, Status: s.src.Snapshot().Status})
	})
}

func controlStatus(err error) int {
	switch {
	case errors.Is(err, gemlive.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, gemlive.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, gemlive.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, gemlive.ErrConnectionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
