package gemlive

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// Mood is the agent's displayed emotional state.
type Mood string

const (
	MoodHappy   Mood = "happy"
	MoodAngry   Mood = "angry"
	MoodCurious Mood = "curious"
	MoodExcited Mood = "excited"
	MoodCool    Mood = "cool"
	MoodDisco   Mood = "disco"
	MoodRelaxed Mood = "relaxed"

	DefaultMood = MoodHappy
)

// Moods lists every accepted mood in declaration order.
var Moods = []Mood{MoodHappy, MoodAngry, MoodCurious, MoodExcited, MoodCool, MoodDisco, MoodRelaxed}

var moodColors = map[Mood]string{
	MoodHappy:   "warm",
	MoodAngry:   "hot",
	MoodCurious: "teal",
	MoodExcited: "vivid",
	MoodCool:    "cold",
	MoodDisco:   "spectrum",
	MoodRelaxed: "soft",
}

// MoodColor maps a mood to its display color category.
func MoodColor(m Mood) string {
	if c, ok := moodColors[m]; ok {
		return c
	}
	return moodColors[DefaultMood]
}

// Environment is the scene the agent is rendered in. Values outside the
// declared set are passed through untouched.
type Environment string

const (
	EnvAurora Environment = "aurora"
	EnvSpace  Environment = "space"
	EnvMatrix Environment = "matrix"
	EnvVoid   Environment = "void"

	DefaultEnvironment = EnvAurora
)

// Environments lists the declared environments.
var Environments = []Environment{EnvAurora, EnvSpace, EnvMatrix, EnvVoid}

// Tool names.
const (
	ToolSetMood        = "set_mood"
	ToolSetEnvironment = "set_environment"
	ToolMultiplySelf   = "multiply_self"
	ToolToggleCamera   = "toggle_camera"
	ToolSetGhostMode   = "set_ghost_mode"
)

// Replica count bounds for multiply_self.
const (
	MinReplicas = 1
	MaxReplicas = 6
)

// ToolDeclarations returns the function declarations announced in the setup message.
func ToolDeclarations() []*genai.Tool {
	moods := make([]string, len(Moods))
	for i, m := range Moods {
		moods[i] = string(m)
	}
	envs := make([]string, len(Environments))
	for i, e := range Environments {
		envs[i] = string(e)
	}
	object := func(prop string, s *genai.Schema) *genai.Schema {
		return &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{prop: s},
			Required:   []string{prop},
		}
	}

	return []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        ToolSetMood,
				Description: "Change your mood and the color you glow with.",
				Parameters:  object("mood", &genai.Schema{Type: genai.TypeString, Enum: moods}),
			},
			{
				Name:        ToolSetEnvironment,
				Description: "Change the scene around you.",
				Parameters:  object("env", &genai.Schema{Type: genai.TypeString, Enum: envs}),
			},
			{
				Name:        ToolMultiplySelf,
				Description: "Split into several copies of yourself, between 1 and 6.",
				Parameters:  object("count", &genai.Schema{Type: genai.TypeNumber}),
			},
			{
				Name:        ToolToggleCamera,
				Description: "Turn the user's camera on or off so you can see them.",
				Parameters:  object("active", &genai.Schema{Type: genai.TypeBoolean}),
			},
			{
				Name:        ToolSetGhostMode,
				Description: "Become translucent like a ghost, or solid again.",
				Parameters:  object("active", &genai.Schema{Type: genai.TypeBoolean}),
			},
		},
	}}
}

// ValidateMood returns v as a Mood when it names a known mood and DefaultMood otherwise.
func ValidateMood(v any) Mood {
	s, ok := v.(string)
	if !ok {
		return DefaultMood
	}
	m := Mood(strings.ToLower(strings.TrimSpace(s)))
	if _, known := moodColors[m]; known {
		return m
	}
	return DefaultMood
}

// ValidateEnvironment passes string values through. Anything else keeps current.
func ValidateEnvironment(v any, current Environment) Environment {
	if s, ok := v.(string); ok {
		return Environment(s)
	}
	return current
}

// ClampReplicas truncates a numeric argument and clamps it to
// [MinReplicas, MaxReplicas]. Missing or non-numeric input counts as 1.
func ClampReplicas(v any) int {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) {
		return MinReplicas
	}
	f = math.Trunc(f)
	switch {
	case f < MinReplicas:
		return MinReplicas
	case f > MaxReplicas:
		return MaxReplicas
	default:
		return int(f)
	}
}

// CoerceBool interprets loosely typed boolean arguments.
func CoerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "on":
			return true
		}
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Dispatcher applies tool calls to an AppState and produces their acknowledgements.
// Like Scheduler it is owned by the engine loop.
type Dispatcher struct {
	state  *AppState
	camera func(active bool)
	log    *Logger
	acked  uint64
}

// NewDispatcher creates a dispatcher mutating state. camera is invoked after
// CameraActive changes through toggle_camera; it may be nil.
func NewDispatcher(state *AppState, camera func(bool), log *Logger) *Dispatcher {
	return &Dispatcher{state: state, camera: camera, log: log}
}

// Dispatch handles every call in order and returns exactly one "ok"
// response per call, matching ids. Failures never reach the remote side:
// invalid arguments are clamped or defaulted and unknown names are logged.
func (d *Dispatcher) Dispatch(calls []ToolCallRequest) []ToolCallResponse {
	resps := make([]ToolCallResponse, 0, len(calls))
	for _, c := range calls {
		d.apply(c)
		d.acked++
		resps = append(resps, ToolCallResponse{ID: c.ID, Name: c.Name, Result: map[string]any{"result": "ok"}})
	}
	return resps
}

// Acked returns the number of acknowledgements produced so far.
func (d *Dispatcher) Acked() uint64 { return d.acked }

func (d *Dispatcher) apply(c ToolCallRequest) {
	st := d.state
	switch c.Name {
	case ToolSetMood:
		st.Mood = ValidateMood(c.Args["mood"])
	case ToolSetEnvironment:
		st.Environment = ValidateEnvironment(c.Args["env"], st.Environment)
	case ToolMultiplySelf:
		st.Replicas = ClampReplicas(c.Args["count"])
	case ToolToggleCamera:
		st.CameraActive = CoerceBool(c.Args["active"])
		if d.camera != nil {
			d.camera(st.CameraActive)
		}
	case ToolSetGhostMode:
		st.Ghost = CoerceBool(c.Args["active"])
	default:
		d.log.Warn("unknown_tool_call", map[string]any{"id": c.ID, "name": c.Name})
		return
	}
	d.log.Debug("tool_call_applied", map[string]any{"id": c.ID, "name": c.Name, "args": c.Args})
}
