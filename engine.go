package gemlive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

// Conn is the engine's view of an open transport.
type Conn interface {
	Send(ctx context.Context, msg *genai.LiveClientMessage) error
	Close() error
}

// DialFunc opens a transport. The default is Dial.
type DialFunc func(ctx context.Context, cfg Config, setup Setup, h Handler) (Conn, error)

func dialTransport(ctx context.Context, cfg Config, setup Setup, h Handler) (Conn, error) {
	t, err := Dial(ctx, cfg, setup, h)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Options configures an Engine.
type Options struct {
	// Transport configures the connection to the Live service.
	Transport Config

	// Setup is sent as the first message of every session.
	Setup Setup

	// Microphone provides the input stream.
	// Required: Yes
	Microphone Microphone

	// Output plays agent speech.
	// Required: Yes
	Output OutputDevice

	// Camera enables toggle_camera. Nil leaves the camera unavailable.
	Camera Camera

	// WakePhrase, when set, starts every session asleep until the phrase is
	// heard in the input transcription. Matching is a case-insensitive
	// substring check.
	WakePhrase string

	// SleepAfter puts an awake session back to sleep after this long without
	// activity. Zero disables it; it needs a WakePhrase.
	SleepAfter time.Duration

	// Logger receives engine events. Nil disables logging.
	Logger *Logger

	// Dial replaces the transport dialer, mainly for tests.
	Dial DialFunc

	// DialRetry retries a failed connection attempt while the session is
	// starting. The zero value makes one attempt. An established transport
	// that fails is never reopened.
	DialRetry RetryConfig

	// OnAgentAudio, if set, receives every inbound PCM payload on the engine
	// loop. It must not block.
	OnAgentAudio func(pcm []byte, sampleRate int)
}

// Engine runs voice sessions: it owns the session state machine and
// serializes every state change onto a single loop goroutine. Device
// callbacks, transport events and timers post closures to the loop;
// closures for a session that is no longer current are discarded.
//
// An Engine is safe for concurrent use. At most one session is active.
type Engine struct {
	opts     Options
	log      *Logger
	url      string
	wake     string
	analyzer *Analyzer

	inbox     chan func()
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// loop-owned
	cur    *Session
	state  LifecycleState
	status string
	app    AppState

	snap    atomic.Pointer[Snapshot]
	subsMu  sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// NewEngine validates opts and starts the engine loop. Call Close to release it.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Microphone == nil {
		return nil, NewConfigError("Microphone", "", "cannot be nil")
	}
	if opts.Output == nil {
		return nil, NewConfigError("Output", "", "cannot be nil")
	}
	if opts.SleepAfter < 0 {
		return nil, NewConfigError("SleepAfter", opts.SleepAfter.String(), "cannot be negative")
	}
	if opts.SleepAfter > 0 && strings.TrimSpace(opts.WakePhrase) == "" {
		return nil, NewConfigError("SleepAfter", opts.SleepAfter.String(), "requires a wake phrase")
	}
	if opts.Dial == nil {
		if err := ValidateConfig(opts.Transport); err != nil {
			return nil, err
		}
		opts.Dial = dialTransport
	}
	if err := ValidateSetup(opts.Setup); err != nil {
		return nil, err
	}
	if opts.WakePhrase != "" {
		opts.Setup.InputTranscription = true
	}
	if opts.Transport.Logger == nil {
		opts.Transport.Logger = opts.Logger
	}
	u, _ := liveURL(opts.Transport)

	e := &Engine{
		opts:     opts,
		log:      opts.Logger,
		url:      u,
		wake:     strings.ToLower(strings.TrimSpace(opts.WakePhrase)),
		analyzer: NewAnalyzer(0.8),
		inbox:    make(chan func(), 256),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		state:    StateIdle,
		status:   "Idle",
		app:      DefaultAppState(),
		subs:     make(map[int]chan Snapshot),
	}
	e.publish()
	go e.run()
	return e, nil
}

func (e *Engine) run() {
	defer close(e.loopDone)
	for {
		select {
		case fn := <-e.inbox:
			fn()
		case <-e.done:
			return
		}
	}
}

// post queues fn on the loop. It reports false once the engine is closed.
func (e *Engine) post(fn func()) bool {
	select {
	case e.inbox <- fn:
		return true
	case <-e.done:
		return false
	}
}

// call runs fn on the loop and waits for it. Never call it from the loop.
func (e *Engine) call(fn func()) error {
	ran := make(chan struct{})
	if !e.post(func() { defer close(ran); fn() }) {
		return ErrEngineClosed
	}
	select {
	case <-ran:
		return nil
	case <-e.done:
		return ErrEngineClosed
	}
}

// postSession queues fn for s, dropping it if s has ended by the time it runs.
func (e *Engine) postSession(s *Session, fn func()) {
	e.post(func() {
		if e.live(s) {
			fn()
		}
	})
}

func (e *Engine) live(s *Session) bool { return s != nil && s == e.cur && !s.closed }

// Start opens a new session, tearing down any current one first. It returns
// once the session is listening, or with the error that ended it: an
// *AccessError when the microphone cannot be opened (nothing is dialed) or
// a *ConnectionError when the transport fails.
func (e *Engine) Start(ctx context.Context) error {
	var s *Session
	if err := e.call(func() {
		if e.cur != nil {
			e.cleanup(e.cur)
		}
		s = newSession(e.log)
		s.sched = NewScheduler(e.opts.Output, func(fn func()) { e.postSession(s, fn) })
		s.sched.OnChange(e.publish)
		s.dispatcher = NewDispatcher(&e.app, func(active bool) { e.toggleCamera(s, active) }, s.log)
		e.cur = s
		e.state = StateConnecting
		e.status = "Connecting"
		e.publish()
		s.log.Info("session_starting", nil)
	}); err != nil {
		return err
	}

	mic, err := e.opts.Microphone.Open(ctx)
	if err != nil {
		aerr := NewAccessError("microphone", err)
		_ = e.call(func() { e.fail(s, aerr) })
		return aerr
	}
	attached := false
	if err := e.call(func() {
		if e.live(s) {
			s.mic = mic
			attached = true
		}
	}); err != nil || !attached {
		_ = mic.Close()
		if err != nil {
			return err
		}
		return ErrSuperseded
	}

	var conn Conn
	attempt := 0
	err = WithRetry(ctx, e.opts.DialRetry, func() error {
		attempt++
		if attempt > 1 {
			live := false
			if err := e.call(func() { live = e.live(s) }); err != nil {
				return err
			}
			if !live {
				return ErrSuperseded
			}
			s.log.Warn("dial_retry", map[string]any{"attempt": attempt})
		}
		c, err := e.opts.Dial(ctx, e.opts.Transport, e.opts.Setup, &sessionHandler{e: e, s: s})
		if err != nil {
			var cerr *ConnectionError
			if !errors.As(err, &cerr) && !errors.Is(err, ErrInvalidConfig) {
				err = NewConnectionError(e.url, "dial", err)
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		_ = e.call(func() { e.fail(s, err) })
		return err
	}

	var openErr error
	if err := e.call(func() { openErr = e.open(s, conn) }); err != nil {
		_ = conn.Close()
		return err
	}
	if openErr != nil {
		_ = conn.Close()
	}
	return openErr
}

// open resolves the transport into s and makes it active.
func (e *Engine) open(s *Session, conn Conn) error {
	if !e.live(s) {
		if s.err != nil {
			return s.err
		}
		return ErrSuperseded
	}
	s.conn = conn
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.sleeping = e.wake != ""
	e.state = StateListening
	e.startWorkers(ctx, s)
	s.log.Info("session_opened", map[string]any{"sleeping": s.sleeping})

	pending := s.pending
	s.pending = nil
	for _, in := range pending {
		e.handleInbound(s, in)
		if !e.live(s) {
			return s.err
		}
	}
	e.armSleepTimer(s)
	e.publish()
	return nil
}

func (e *Engine) startWorkers(ctx context.Context, s *Session) {
	conn := s.conn
	g, gctx := errgroup.WithContext(ctx)

	capture := NewCapture(s.mic, func(ctx context.Context, c AudioChunk) error {
		return conn.Send(ctx, mediaMessage(c.PCM, c.MIMEType))
	}, e.analyzer, s.log)
	g.Go(func() error { return capture.Run(gctx) })

	if e.opts.Camera != nil {
		s.camera = NewCameraFeed(e.opts.Camera, func(ctx context.Context, frame []byte) error {
			return conn.Send(ctx, mediaMessage(frame, FrameMIMEType))
		}, func(err error) {
			e.postSession(s, func() { e.cameraFailed(s, err) })
		}, s.log)
		g.Go(func() error { return s.camera.Run(gctx) })
	}

	go func() {
		err := g.Wait()
		if err == nil {
			return
		}
		var se *SendError
		if errors.As(err, &se) {
			err = NewConnectionError(e.url, "write", err)
		}
		e.postSession(s, func() { e.fail(s, err) })
	}()
}

// handleInbound applies one server message. Tool calls are acknowledged in a
// single toolResponse before anything else in the message is handled.
func (e *Engine) handleInbound(s *Session, in Inbound) {
	if s.conn == nil {
		s.pending = append(s.pending, in)
		return
	}

	if len(in.ToolCalls) > 0 {
		resps := s.dispatcher.Dispatch(in.ToolCalls)
		if err := s.conn.Send(context.Background(), toolResponseMessage(resps)); err != nil {
			s.log.Warn("tool_response_send_failed", map[string]any{"count": len(resps), "err": err.Error()})
		}
		e.touch(s)
	}

	if in.Interrupted {
		n := s.sched.Interrupt()
		s.log.Debug("playback_interrupted", map[string]any{"stopped": n})
	}

	for _, a := range in.Audio {
		u := DecodeUnit(a.Data, a.MIMEType)
		if _, err := s.sched.Enqueue(u); err != nil {
			s.log.Warn("playback_schedule_failed", map[string]any{"err": err.Error()})
			continue
		}
		if e.opts.OnAgentAudio != nil {
			e.opts.OnAgentAudio(a.Data, u.SampleRate)
		}
		e.touch(s)
	}

	if in.Transcript != "" {
		e.hear(s, in.Transcript)
	}
	if in.TurnComplete {
		s.heard = ""
	}

	if in.GoAway {
		s.log.Warn("go_away", nil)
		e.fail(s, NewConnectionError(e.url, "go_away", ErrClosed))
		return
	}
	e.publish()
}

// hear feeds transcribed user speech to the wake-phrase check.
func (e *Engine) hear(s *Session, text string) {
	if !s.sleeping {
		e.touch(s)
		return
	}
	if strings.Contains(strings.ToLower(s.appendHeard(text)), e.wake) {
		s.sleeping = false
		s.heard = ""
		s.log.Info("session_woke", nil)
		e.armSleepTimer(s)
	}
}

// touch records activity on an awake session.
func (e *Engine) touch(s *Session) {
	if !s.sleeping {
		e.armSleepTimer(s)
	}
}

func (e *Engine) armSleepTimer(s *Session) {
	if e.opts.SleepAfter <= 0 || s.sleeping || s.closed {
		return
	}
	if s.sleepTimer != nil {
		s.sleepTimer.Stop()
	}
	s.sleepGen++
	gen := s.sleepGen
	s.sleepTimer = time.AfterFunc(e.opts.SleepAfter, func() {
		e.postSession(s, func() {
			if s.sleepGen == gen {
				e.doze(s, "idle")
			}
		})
	})
}

func (e *Engine) doze(s *Session, reason string) {
	if s.sleeping {
		return
	}
	s.sleeping = true
	s.heard = ""
	if s.sleepTimer != nil {
		s.sleepTimer.Stop()
	}
	s.sleepGen++
	s.log.Info("session_sleeping", map[string]any{"reason": reason})
	e.publish()
}

func (e *Engine) toggleCamera(s *Session, active bool) {
	s.notice = ""
	if s.camera == nil {
		if active {
			e.app.CameraActive = false
			s.notice = StatusText(NewAccessError("camera", nil))
		}
		return
	}
	s.camera.Toggle(active)
}

func (e *Engine) cameraFailed(s *Session, err error) {
	e.app.CameraActive = false
	s.notice = StatusText(err)
	e.publish()
}

// fail moves s through the error state: cleanup runs once, the status keeps
// a short description and the engine returns to idle.
func (e *Engine) fail(s *Session, err error) {
	if !e.live(s) {
		return
	}
	s.err = err
	s.log.Error("session_failed", map[string]any{"err": err.Error()})
	e.state = StateError
	e.status = StatusText(err)
	e.publish()
	e.cleanup(s)
	e.state = StateIdle
	e.publish()
}

// cleanup releases everything s holds. It is idempotent. Playback stops
// before the devices and transport are released.
func (e *Engine) cleanup(s *Session) {
	if s == nil || s.closed {
		return
	}
	s.closed = true
	if s.sleepTimer != nil {
		s.sleepTimer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.sched.Interrupt()
	if s.mic != nil {
		_ = s.mic.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.pending = nil
	s.heard = ""
	e.app = DefaultAppState()
	e.analyzer.Reset()
	if e.cur == s {
		e.cur = nil
	}
	s.log.Info("session_closed", nil)
}

// Stop ends the current session, if any, and returns to idle. It is safe to
// call at any time and any number of times.
func (e *Engine) Stop() error {
	return e.call(func() {
		s := e.cur
		if s == nil {
			return
		}
		e.state = StateClosing
		e.status = "Closing"
		e.publish()
		e.cleanup(s)
		e.state = StateIdle
		e.status = "Stopped"
		e.publish()
	})
}

// Sleep puts the active session into the dormant state until the wake
// phrase is heard again.
func (e *Engine) Sleep() error {
	if e.wake == "" {
		return NewConfigError("WakePhrase", "", "required to sleep")
	}
	return e.call(func() {
		if s := e.cur; s != nil && s.conn != nil {
			e.doze(s, "requested")
		}
	})
}

// Close stops any session and shuts the engine loop down.
func (e *Engine) Close() error {
	if err := e.Stop(); err != nil && !errors.Is(err, ErrEngineClosed) {
		return err
	}
	e.closeOnce.Do(func() { close(e.done) })
	<-e.loopDone

	e.subsMu.Lock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.subsMu.Unlock()
	return nil
}

// publish derives the listening/speaking sub-state and stores a new snapshot.
func (e *Engine) publish() {
	snap := Snapshot{
		Mood:         e.app.Mood,
		Color:        MoodColor(e.app.Mood),
		Environment:  e.app.Environment,
		Replicas:     e.app.Replicas,
		Ghost:        e.app.Ghost,
		CameraActive: e.app.CameraActive,
	}
	if s := e.cur; s != nil && s.conn != nil && e.state.Active() {
		if s.sched.Speaking() {
			e.state = StateSpeaking
		} else {
			e.state = StateListening
		}
		switch {
		case s.notice != "":
			e.status = s.notice
		case s.sleeping:
			e.status = "Sleeping"
		case e.state == StateSpeaking:
			e.status = "Speaking"
		default:
			e.status = "Listening"
		}
		snap.Session = s.ID
		snap.Sleeping = s.sleeping
	}
	snap.State = e.state
	snap.Listening = e.state == StateListening
	snap.Speaking = e.state == StateSpeaking
	snap.Status = e.status
	snap.Volume = e.opts.Output.Level()
	snap.InputVolume = e.analyzer.Level()
	e.snap.Store(&snap)

	e.subsMu.Lock()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	e.subsMu.Unlock()
}

// Snapshot returns the latest published state with live volume levels.
func (e *Engine) Snapshot() Snapshot {
	snap := *e.snap.Load()
	snap.Volume = e.opts.Output.Level()
	snap.InputVolume = e.analyzer.Level()
	return snap
}

// Subscribe returns a channel receiving every published snapshot. Slow
// subscribers miss snapshots rather than blocking the engine. The returned
// function unsubscribes and closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			defer e.subsMu.Unlock()
			if _, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(ch)
			}
		})
	}
}

// sessionHandler routes transport callbacks for one session onto the loop.
// Decoding happens on the transport's read goroutine.
type sessionHandler struct {
	e *Engine
	s *Session
}

func (h *sessionHandler) HandleMessage(raw []byte) {
	in, err := DecodeInbound(raw)
	if err != nil {
		h.s.log.Warn("inbound_malformed", map[string]any{"err": err.Error(), "bytes": len(raw)})
		return
	}
	if in.Empty() {
		return
	}
	h.e.postSession(h.s, func() { h.e.handleInbound(h.s, in) })
}

func (h *sessionHandler) HandleError(err error) {
	h.e.postSession(h.s, func() { h.e.fail(h.s, err) })
}

func (h *sessionHandler) HandleClosed() {
	h.e.postSession(h.s, func() {
		h.e.fail(h.s, NewConnectionError(h.e.url, "closed", ErrClosed))
	})
}
