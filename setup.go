package gemlive

import (
	"strings"

	"google.golang.org/genai"
)

const (
	// DefaultModel is used when Setup.Model is empty.
	DefaultModel = "gemini-2.0-flash-live-001"

	// DefaultVoice is used when Setup.Voice is empty.
	DefaultVoice = "Puck"
)

// Voices lists the prebuilt voice names accepted by the Live service.
var Voices = []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede", "Leda", "Orus", "Zephyr"}

// Setup is the session-open configuration sent as the first message on a new
// connection. The response modality is always audio.
type Setup struct {
	// Model is the target model id, with or without the "models/" prefix.
	Model string

	// Instructions is the persona / system instruction text.
	Instructions string

	// Voice selects a prebuilt voice, one of Voices.
	Voice string

	// Tools overrides the function declarations. Nil means ToolDeclarations().
	Tools []*genai.Tool

	// InputTranscription asks the service to transcribe the user's speech,
	// required for wake-phrase detection.
	InputTranscription bool
}

// ValidateSetup checks the fields the service would otherwise reject after the handshake.
func ValidateSetup(s Setup) error {
	if strings.ContainsAny(s.Model, " \t\n") {
		return NewConfigError("Model", s.Model, "must not contain whitespace")
	}
	if s.Voice != "" && !validVoice(s.Voice) {
		return NewConfigError("Voice", s.Voice, "must be one of "+strings.Join(Voices, ", "))
	}
	return nil
}

func validVoice(v string) bool {
	for _, known := range Voices {
		if strings.EqualFold(known, v) {
			return true
		}
	}
	return false
}

// modelName returns the fully qualified model resource name.
func (s Setup) modelName() string {
	m := s.Model
	if m == "" {
		m = DefaultModel
	}
	if !strings.HasPrefix(m, "models/") && !strings.HasPrefix(m, "projects/") {
		m = "models/" + m
	}
	return m
}

// message builds the outbound setup message.
func (s Setup) message() *genai.LiveClientMessage {
	voice := s.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	tools := s.Tools
	if tools == nil {
		tools = ToolDeclarations()
	}

	setup := &genai.LiveClientSetup{
		Model: s.modelName(),
		GenerationConfig: &genai.GenerationConfig{
			ResponseModalities: []genai.Modality{genai.ModalityAudio},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
		Tools: tools,
	}
	if s.Instructions != "" {
		setup.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: s.Instructions}},
		}
	}
	if s.InputTranscription {
		setup.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return &genai.LiveClientMessage{Setup: setup}
}
