package gemlive

import (
	"fmt"

	"github.com/bytedance/sonic"
	"google.golang.org/genai"
)

// ToolCallRequest is one function call issued by the remote agent.
type ToolCallRequest struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolCallResponse acknowledges a ToolCallRequest. ID and Name echo the request.
type ToolCallResponse struct {
	ID     string
	Name   string
	Result map[string]any
}

// AudioPayload is one inline audio part of a model turn.
type AudioPayload struct {
	Data     []byte // raw PCM, already base64-decoded
	MIMEType string
}

// Inbound is the classified form of one server message. A single message
// can carry several of these at once; handlers process them in field order.
type Inbound struct {
	SetupComplete bool
	ToolCalls     []ToolCallRequest
	Interrupted   bool
	Audio         []AudioPayload
	Transcript    string // input transcription fragment, if any
	TurnComplete  bool
	GoAway        bool
}

// Empty reports whether the message carried nothing the engine acts on.
func (in Inbound) Empty() bool {
	return !in.SetupComplete && len(in.ToolCalls) == 0 && !in.Interrupted &&
		len(in.Audio) == 0 && in.Transcript == "" && !in.TurnComplete && !in.GoAway
}

// DecodeInbound parses a raw server frame. Unknown fields are ignored;
// malformed JSON yields a *ProtocolError.
func DecodeInbound(raw []byte) (Inbound, error) {
	var msg genai.LiveServerMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return Inbound{}, NewProtocolError(raw, err)
	}
	return classify(&msg), nil
}

func classify(msg *genai.LiveServerMessage) Inbound {
	var in Inbound
	in.SetupComplete = msg.SetupComplete != nil
	in.GoAway = msg.GoAway != nil

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			in.ToolCalls = append(in.ToolCalls, ToolCallRequest{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}

	sc := msg.ServerContent
	if sc == nil {
		return in
	}
	in.Interrupted = sc.Interrupted
	in.TurnComplete = sc.TurnComplete
	if sc.InputTranscription != nil {
		in.Transcript = sc.InputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			if !IsPCMAudio(p.InlineData.MIMEType) {
				continue
			}
			in.Audio = append(in.Audio, AudioPayload{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
		}
	}
	return in
}

// mediaMessage wraps one realtime media chunk (audio window or camera frame).
func mediaMessage(data []byte, mimeType string) *genai.LiveClientMessage {
	return &genai.LiveClientMessage{
		RealtimeInput: &genai.LiveClientRealtimeInput{
			MediaChunks: []*genai.Blob{{Data: data, MIMEType: mimeType}},
		},
	}
}

// toolResponseMessage batches every acknowledgement of one tool call message.
func toolResponseMessage(resps []ToolCallResponse) *genai.LiveClientMessage {
	out := make([]*genai.FunctionResponse, 0, len(resps))
	for _, r := range resps {
		out = append(out, &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Result})
	}
	return &genai.LiveClientMessage{
		ToolResponse: &genai.LiveClientToolResponse{FunctionResponses: out},
	}
}

// messageKind names the populated branch of an outbound message for errors and logs.
func messageKind(msg *genai.LiveClientMessage) string {
	switch {
	case msg == nil:
		return "empty"
	case msg.Setup != nil:
		return "setup"
	case msg.RealtimeInput != nil:
		return "realtimeInput"
	case msg.ToolResponse != nil:
		return "toolResponse"
	case msg.ClientContent != nil:
		return "clientContent"
	default:
		return "unknown"
	}
}

func encodeOutbound(msg *genai.LiveClientMessage) ([]byte, error) {
	b, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", messageKind(msg), err)
	}
	return b, nil
}
