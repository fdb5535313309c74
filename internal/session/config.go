package session

import (
	"fmt"

	"github.com/Raikerian/go-realtime-voice/internal/realtime"
)

// Voice session defaults.
const (
	DefaultVoice             = realtime.VoiceAlloy
	DefaultVADThreshold      = 0.5
	DefaultPrefixPaddingMs   = 300
	DefaultSilenceDurationMs = 500
)

// VoiceConfig is what a single session asks of the remote side.
type VoiceConfig struct {
	Instructions string

	// InitialResponsePrompt, when set, makes the assistant speak first.
	InitialResponsePrompt string

	Voice             realtime.Voice
	VADThreshold      float64
	SilenceDurationMs int
	PrefixPaddingMs   int
}

// DefaultVoiceConfig returns a config with the server's usual VAD tuning.
func DefaultVoiceConfig() VoiceConfig {
	return VoiceConfig{
		Voice:             DefaultVoice,
		VADThreshold:      DefaultVADThreshold,
		SilenceDurationMs: DefaultSilenceDurationMs,
		PrefixPaddingMs:   DefaultPrefixPaddingMs,
	}
}

// Validate checks ranges and the voice name.
func (c VoiceConfig) Validate() error {
	if !c.Voice.Valid() {
		return fmt.Errorf("%w: unknown voice %q", ErrInvalidConfig, c.Voice)
	}
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return fmt.Errorf("%w: vad threshold %v outside [0,1]", ErrInvalidConfig, c.VADThreshold)
	}
	if c.SilenceDurationMs < 0 {
		return fmt.Errorf("%w: negative silence duration", ErrInvalidConfig)
	}
	if c.PrefixPaddingMs < 0 {
		return fmt.Errorf("%w: negative prefix padding", ErrInvalidConfig)
	}
	return nil
}

func (c VoiceConfig) sessionUpdate() realtime.SessionUpdate {
	return realtime.SessionUpdate{
		Instructions:      c.Instructions,
		Voice:             c.Voice,
		VADThreshold:      c.VADThreshold,
		PrefixPaddingMs:   c.PrefixPaddingMs,
		SilenceDurationMs: c.SilenceDurationMs,
	}
}

// CapturePolicy decides what happens when the microphone cannot be opened
// after the connection is up.
type CapturePolicy string

const (
	// CapturePolicyAbort reports the failure and stops the session.
	CapturePolicyAbort CapturePolicy = "abort"
	// CapturePolicyReceiveOnly reports the failure and keeps the session
	// Active without sending audio.
	CapturePolicyReceiveOnly CapturePolicy = "receive_only"
)
