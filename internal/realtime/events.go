// Package realtime holds the wire vocabulary of the realtime conversation API:
// typed events, their JSON codec and the WebSocket transport that carries them.
package realtime

import (
	openairt "github.com/WqyJh/go-openai-realtime"

	"github.com/Raikerian/go-realtime-voice/pkg/audio"
)

// Event type names as they appear in the "type" field.
const (
	TypeSessionUpdate                = string(openairt.ClientEventTypeSessionUpdate)
	TypeResponseCreate               = string(openairt.ClientEventTypeResponseCreate)
	TypeInputAudioBufferAppend       = string(openairt.ClientEventTypeInputAudioBufferAppend)
	TypeResponseTextDelta            = string(openairt.ServerEventTypeResponseTextDelta)
	TypeResponseAudioDelta           = string(openairt.ServerEventTypeResponseAudioDelta)
	TypeResponseAudioTranscriptDelta = string(openairt.ServerEventTypeResponseAudioTranscriptDelta)
	TypeSpeechStarted                = string(openairt.ServerEventTypeInputAudioBufferSpeechStarted)
	TypeResponseDone                 = string(openairt.ServerEventTypeResponseDone)
	TypeError                        = string(openairt.ServerEventTypeError)
)

// Voice is a synthesized voice name accepted by session.update.
type Voice string

const (
	VoiceAlloy   Voice = "alloy"
	VoiceEcho    Voice = "echo"
	VoiceShimmer Voice = "shimmer"
	VoiceBallad  Voice = "ballad"
	VoiceAsh     Voice = "ash"
	VoiceCoral   Voice = "coral"
	VoiceSage    Voice = "sage"
	VoiceVerse   Voice = "verse"
)

var voices = map[Voice]struct{}{
	VoiceAlloy: {}, VoiceEcho: {}, VoiceShimmer: {}, VoiceBallad: {},
	VoiceAsh: {}, VoiceCoral: {}, VoiceSage: {}, VoiceVerse: {},
}

// Valid reports whether v is a known voice.
func (v Voice) Valid() bool {
	_, ok := voices[v]
	return ok
}

// Event is one message of the realtime protocol.
type Event interface {
	EventType() string
}

// SessionUpdate configures voice, instructions and server-side turn detection.
type SessionUpdate struct {
	Instructions      string
	Voice             Voice
	VADThreshold      float64
	PrefixPaddingMs   int
	SilenceDurationMs int
}

// ResponseCreate asks the server to produce a response immediately.
type ResponseCreate struct {
	Instructions string
}

// InputAudioAppend carries base64 PCM16 mono 24 kHz audio.
type InputAudioAppend struct {
	Audio string
}

// ResponseTextDelta is a fragment of the assistant's text response.
type ResponseTextDelta struct {
	Text string
}

// ResponseAudioDelta is a fragment of synthesized audio, base64 PCM16.
type ResponseAudioDelta struct {
	Delta string
}

// ResponseAudioTranscriptDelta is a fragment of the transcript of the
// synthesized audio.
type ResponseAudioTranscriptDelta struct {
	Delta string
}

// SpeechStarted means the server detected user speech.
type SpeechStarted struct{}

// Usage is the token accounting attached to a finished response.
type Usage struct {
	TotalTokens  int
	InputTokens  int
	OutputTokens int

	InputTextTokens   int
	InputAudioTokens  int
	CachedTokens      int
	CachedTextTokens  int
	CachedAudioTokens int
	OutputTextTokens  int
	OutputAudioTokens int
}

// ResponseDone marks the end of one response.
type ResponseDone struct {
	ResponseID string
	Status     string
	Usage      Usage
}

// ErrorEvent is an error reported by the server.
type ErrorEvent struct {
	Message string
}

// Unknown is any event type this package does not model.
type Unknown struct {
	Type string
	Raw  []byte
}

func (SessionUpdate) EventType() string                { return TypeSessionUpdate }
func (ResponseCreate) EventType() string               { return TypeResponseCreate }
func (InputAudioAppend) EventType() string             { return TypeInputAudioBufferAppend }
func (ResponseTextDelta) EventType() string            { return TypeResponseTextDelta }
func (ResponseAudioDelta) EventType() string           { return TypeResponseAudioDelta }
func (ResponseAudioTranscriptDelta) EventType() string { return TypeResponseAudioTranscriptDelta }
func (SpeechStarted) EventType() string                { return TypeSpeechStarted }
func (ResponseDone) EventType() string                 { return TypeResponseDone }
func (ErrorEvent) EventType() string                   { return TypeError }
func (u Unknown) EventType() string                    { return u.Type }

// NewInputAudioAppend encodes samples as an append event. It returns false
// when there is nothing to send.
func NewInputAudioAppend(samples []float32) (InputAudioAppend, bool) {
	if len(samples) == 0 {
		return InputAudioAppend{}, false
	}
	encoded, err := audio.PCMToBase64(audio.FloatToPCM16LE(samples))
	if err != nil {
		return InputAudioAppend{}, false
	}
	return InputAudioAppend{Audio: encoded}, true
}
