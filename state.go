package gemlive

import "fmt"

// LifecycleState is the session state machine position.
type LifecycleState int

const (
	StateIdle LifecycleState = iota
	StateConnecting
	StateListening
	StateSpeaking
	StateClosing
	StateError
)

func (s LifecycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s LifecycleState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name written by MarshalText.
func (s *LifecycleState) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateError; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("gemlive: unknown lifecycle state %q", text)
}

// Active reports whether a session is open (listening or speaking).
func (s LifecycleState) Active() bool { return s == StateListening || s == StateSpeaking }

// AppState is the application state the remote agent drives through tool calls.
type AppState struct {
	Mood         Mood
	Environment  Environment
	Replicas     int
	Ghost        bool
	CameraActive bool
}

// DefaultAppState is the state every session starts from and cleanup restores.
func DefaultAppState() AppState {
	return AppState{
		Mood:        DefaultMood,
		Environment: DefaultEnvironment,
		Replicas:    1,
	}
}

// Snapshot is an immutable view of the engine for renderers.
type Snapshot struct {
	Session      string         `json:"session,omitempty"`
	State        LifecycleState `json:"state"`
	Listening    bool           `json:"listening"`
	Speaking     bool           `json:"speaking"`
	Sleeping     bool           `json:"sleeping"`
	Mood         Mood           `json:"mood"`
	Color        string         `json:"color"`
	Environment  Environment    `json:"environment"`
	Replicas     int            `json:"replicas"`
	Ghost        bool           `json:"ghost"`
	CameraActive bool           `json:"cameraActive"`
	Volume       float64        `json:"volume"`
	InputVolume  float64        `json:"inputVolume"`
	Status       string         `json:"status"`
}
