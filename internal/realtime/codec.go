package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/sashabaranov/go-openai"
)

// Error definitions
var (
	ErrMalformedMessage = errors.New("malformed realtime message")
	ErrUnsupportedEvent = errors.New("event cannot be encoded")
)

// PreviewLength is how many characters of a payload are kept in log previews.
const PreviewLength = 100

const turnDetectionServerVAD = "server_vad"

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions"`
	Voice                   Voice               `json:"voice"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription transcriptionConfig `json:"input_audio_transcription"`
	TurnDetection           turnDetection       `json:"turn_detection"`
	Tools                   []json.RawMessage   `json:"tools"`
	ToolChoice              string              `json:"tool_choice"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string      `json:"type"`
	Threshold         json.Number `json:"threshold"`
	PrefixPaddingMs   int         `json:"prefix_padding_ms"`
	SilenceDurationMs int         `json:"silence_duration_ms"`
}

type responseCreateMessage struct {
	Type     string         `json:"type"`
	Response responseConfig `json:"response"`
}

type responseConfig struct {
	Instructions string   `json:"instructions"`
	Modalities   []string `json:"modalities"`
}

type inputAudioAppendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func modalities() []string {
	return []string{string(openairt.ModalityText), string(openairt.ModalityAudio)}
}

// Encode serializes an outbound event.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case SessionUpdate:
		return json.Marshal(sessionUpdateMessage{
			Type: TypeSessionUpdate,
			Session: sessionConfig{
				Modalities:              modalities(),
				Instructions:            e.Instructions,
				Voice:                   e.Voice,
				InputAudioFormat:        string(openairt.AudioFormatPcm16),
				OutputAudioFormat:       string(openairt.AudioFormatPcm16),
				InputAudioTranscription: transcriptionConfig{Model: openai.Whisper1},
				TurnDetection: turnDetection{
					Type:              turnDetectionServerVAD,
					Threshold:         json.Number(strconv.FormatFloat(e.VADThreshold, 'f', 6, 64)),
					PrefixPaddingMs:   e.PrefixPaddingMs,
					SilenceDurationMs: e.SilenceDurationMs,
				},
				Tools:      []json.RawMessage{},
				ToolChoice: "auto",
			},
		})
	case ResponseCreate:
		return json.Marshal(responseCreateMessage{
			Type: TypeResponseCreate,
			Response: responseConfig{
				Instructions: e.Instructions,
				Modalities:   modalities(),
			},
		})
	case InputAudioAppend:
		if e.Audio == "" {
			return nil, fmt.Errorf("%w: empty audio", ErrUnsupportedEvent)
		}
		return json.Marshal(inputAudioAppendMessage{
			Type:  TypeInputAudioBufferAppend,
			Audio: e.Audio,
		})
	case nil:
		return nil, fmt.Errorf("%w: nil event", ErrUnsupportedEvent)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.EventType())
	}
}

// Decode parses an inbound message. Only a message that is not a JSON object
// or carries no type is rejected; unrecognized types decode to Unknown, and
// absent or mistyped fields decode to their zero value.
func Decode(data []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	eventType := stringField(fields, "type")
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch eventType {
	case TypeResponseTextDelta:
		text := stringField(fields, "text")
		if text == "" {
			text = stringField(fields, "delta")
		}
		return ResponseTextDelta{Text: text}, nil
	case TypeResponseAudioDelta:
		return ResponseAudioDelta{Delta: stringField(fields, "delta")}, nil
	case TypeResponseAudioTranscriptDelta:
		return ResponseAudioTranscriptDelta{Delta: stringField(fields, "delta")}, nil
	case TypeSpeechStarted:
		return SpeechStarted{}, nil
	case TypeResponseDone:
		return decodeResponseDone(fields["response"])
	case TypeError:
		var body map[string]json.RawMessage
		if raw, ok := fields["error"]; ok {
			_ = json.Unmarshal(raw, &body)
		}
		return ErrorEvent{Message: stringField(body, "message")}, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Type: eventType, Raw: raw}, nil
	}
}

// decodeResponseDone reads the response body of response.done. Missing or
// mistyped fields, including the usage object itself, read as zero.
func decodeResponseDone(raw json.RawMessage) (Event, error) {
	resp := objectField(raw)
	done := ResponseDone{
		ResponseID: stringField(resp, "id"),
		Status:     stringField(resp, "status"),
	}

	usage := objectField(resp["usage"])
	if usage == nil {
		return done, nil
	}

	input := objectField(usage["input_token_details"])
	cached := objectField(input["cached_tokens_details"])
	output := objectField(usage["output_token_details"])

	done.Usage = Usage{
		TotalTokens:       intField(usage, "total_tokens"),
		InputTokens:       intField(usage, "input_tokens"),
		OutputTokens:      intField(usage, "output_tokens"),
		InputTextTokens:   intField(input, "text_tokens"),
		InputAudioTokens:  intField(input, "audio_tokens"),
		CachedTokens:      intField(input, "cached_tokens"),
		CachedTextTokens:  intField(cached, "text_tokens"),
		CachedAudioTokens: intField(cached, "audio_tokens"),
		OutputTextTokens:  intField(output, "text_tokens"),
		OutputAudioTokens: intField(output, "audio_tokens"),
	}
	return done, nil
}

// objectField decodes raw as a JSON object. Anything else yields nil.
func objectField(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

func intField(fields map[string]json.RawMessage, key string) int {
	raw, ok := fields[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Preview shortens s to at most n characters for logging, marking the cut
// with "...".
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
