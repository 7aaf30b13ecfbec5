package gemlive

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is one activation: everything opened by Start and released by the
// cleanup that ends it. Every callback that can outlive the session carries
// its pointer and is dropped once the session is no longer current.
//
// All fields are owned by the engine loop.
type Session struct {
	ID  string
	log *Logger

	conn       Conn
	mic        MicStream
	sched      *Scheduler
	dispatcher *Dispatcher
	camera     *CameraFeed

	sleeping   bool
	heard      string // rolling input transcript while sleeping
	notice     string // non-fatal status override, e.g. camera unavailable
	pending    []Inbound
	cancel     context.CancelFunc
	sleepTimer *time.Timer
	sleepGen   uint64
	err        error
	closed     bool
}

func newSession(log *Logger) *Session {
	id := uuid.NewString()
	return &Session{ID: id, log: log.With(map[string]any{"session": id})}
}

// heardLimit bounds the rolling transcript used for wake-phrase matching.
const heardLimit = 256

func (s *Session) appendHeard(text string) string {
	s.heard += text
	if len(s.heard) > heardLimit {
		s.heard = s.heard[len(s.heard)-heardLimit:]
	}
	return s.heard
}
