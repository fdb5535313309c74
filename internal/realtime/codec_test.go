package realtime_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/go-realtime-voice/internal/realtime"
	"github.com/Raikerian/go-realtime-voice/pkg/audio"
)

func TestEncode_SessionUpdate(t *testing.T) {
	data, err := realtime.Encode(realtime.SessionUpdate{
		Instructions:      "Be brief.",
		Voice:             realtime.VoiceCoral,
		VADThreshold:      0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 200,
	})
	require.NoError(t, err)

	expected := `{
		"type": "session.update",
		"session": {
			"modalities": ["text", "audio"],
			"instructions": "Be brief.",
			"voice": "coral",
			"input_audio_format": "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": {"model": "whisper-1"},
			"turn_detection": {
				"type": "server_vad",
				"threshold": 0.5,
				"prefix_padding_ms": 300,
				"silence_duration_ms": 200
			},
			"tools": [],
			"tool_choice": "auto"
		}
	}`
	assert.JSONEq(t, expected, string(data))
	assert.Contains(t, string(data), `"threshold":0.500000`)
}

func TestEncode_ThresholdSixDecimals(t *testing.T) {
	tests := map[string]struct {
		threshold float64
		want      string
	}{
		"zero":      {threshold: 0, want: `"threshold":0.000000`},
		"one":       {threshold: 1, want: `"threshold":1.000000`},
		"rounds":    {threshold: 0.1234567, want: `"threshold":0.123457`},
		"small_vad": {threshold: 0.05, want: `"threshold":0.050000`},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			data, err := realtime.Encode(realtime.SessionUpdate{Voice: realtime.VoiceAlloy, VADThreshold: tt.threshold})
			require.NoError(t, err)
			assert.Contains(t, string(data), tt.want)
		})
	}
}

func TestEncode_ResponseCreate(t *testing.T) {
	data, err := realtime.Encode(realtime.ResponseCreate{Instructions: "Say hello."})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "response.create",
		"response": {"instructions": "Say hello.", "modalities": ["text", "audio"]}
	}`, string(data))
}

func TestEncode_InputAudioAppend(t *testing.T) {
	ev, ok := realtime.NewInputAudioAppend([]float32{0, 1, -1})
	require.True(t, ok)

	data, err := realtime.Encode(ev)
	require.NoError(t, err)

	var msg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "input_audio_buffer.append", msg.Type)

	pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 32767, -32767}, audio.LEToPCMInt16(pcm))
}

func TestNewInputAudioAppend_EmptyIsNotSent(t *testing.T) {
	_, ok := realtime.NewInputAudioAppend(nil)
	assert.False(t, ok)

	_, ok = realtime.NewInputAudioAppend([]float32{})
	assert.False(t, ok)
}

func TestEncode_Rejects(t *testing.T) {
	_, err := realtime.Encode(realtime.SpeechStarted{})
	assert.ErrorIs(t, err, realtime.ErrUnsupportedEvent)

	_, err = realtime.Encode(realtime.InputAudioAppend{})
	assert.ErrorIs(t, err, realtime.ErrUnsupportedEvent)

	_, err = realtime.Encode(nil)
	assert.ErrorIs(t, err, realtime.ErrUnsupportedEvent)
}

func TestDecode(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected realtime.Event
	}{
		"text_delta": {
			input:    `{"type":"response.text.delta","text":"Hel"}`,
			expected: realtime.ResponseTextDelta{Text: "Hel"},
		},
		"text_delta_from_delta_field": {
			input:    `{"type":"response.text.delta","delta":"lo"}`,
			expected: realtime.ResponseTextDelta{Text: "lo"},
		},
		"audio_delta": {
			input:    `{"type":"response.audio.delta","delta":"AAAA"}`,
			expected: realtime.ResponseAudioDelta{Delta: "AAAA"},
		},
		"audio_delta_missing_field": {
			input:    `{"type":"response.audio.delta"}`,
			expected: realtime.ResponseAudioDelta{},
		},
		"transcript_delta": {
			input:    `{"type":"response.audio_transcript.delta","delta":"hi"}`,
			expected: realtime.ResponseAudioTranscriptDelta{Delta: "hi"},
		},
		"speech_started": {
			input:    `{"type":"input_audio_buffer.speech_started","audio_start_ms":120}`,
			expected: realtime.SpeechStarted{},
		},
		"error": {
			input:    `{"type":"error","error":{"type":"invalid_request_error","message":"bad voice"}}`,
			expected: realtime.ErrorEvent{Message: "bad voice"},
		},
		"error_without_body": {
			input:    `{"type":"error"}`,
			expected: realtime.ErrorEvent{},
		},
		"error_with_mistyped_body": {
			input:    `{"type":"error","error":"boom"}`,
			expected: realtime.ErrorEvent{},
		},
		"response_done": {
			input: `{"type":"response.done","response":{"id":"resp_1","status":"completed","usage":{` +
				`"total_tokens":300,"input_tokens":120,"output_tokens":180,` +
				`"input_token_details":{"cached_tokens":20,"text_tokens":40,"audio_tokens":80,` +
				`"cached_tokens_details":{"text_tokens":15,"audio_tokens":5}},` +
				`"output_token_details":{"text_tokens":30,"audio_tokens":150}}}}`,
			expected: realtime.ResponseDone{
				ResponseID: "resp_1",
				Status:     "completed",
				Usage: realtime.Usage{
					TotalTokens:       300,
					InputTokens:       120,
					OutputTokens:      180,
					InputTextTokens:   40,
					InputAudioTokens:  80,
					CachedTokens:      20,
					CachedTextTokens:  15,
					CachedAudioTokens: 5,
					OutputTextTokens:  30,
					OutputAudioTokens: 150,
				},
			},
		},
		"response_done_without_usage": {
			input:    `{"type":"response.done","response":{"id":"resp_2","status":"cancelled","usage":null}}`,
			expected: realtime.ResponseDone{ResponseID: "resp_2", Status: "cancelled"},
		},
		"response_done_without_response": {
			input:    `{"type":"response.done"}`,
			expected: realtime.ResponseDone{},
		},
		"response_done_mistyped_usage_field": {
			input: `{"type":"response.done","response":{"id":"resp_3","status":"completed","usage":{` +
				`"total_tokens":"12","input_tokens":7,"output_token_details":{"audio_tokens":5}}}}`,
			expected: realtime.ResponseDone{
				ResponseID: "resp_3",
				Status:     "completed",
				Usage:      realtime.Usage{InputTokens: 7, OutputAudioTokens: 5},
			},
		},
		"response_done_mistyped_details": {
			input: `{"type":"response.done","response":{"id":7,"usage":{` +
				`"output_tokens":4,"input_token_details":[1,2]}}}`,
			expected: realtime.ResponseDone{Usage: realtime.Usage{OutputTokens: 4}},
		},
		"response_done_response_not_object": {
			input:    `{"type":"response.done","response":"oops"}`,
			expected: realtime.ResponseDone{},
		},
		"mistyped_text_field": {
			input:    `{"type":"response.text.delta","text":42}`,
			expected: realtime.ResponseTextDelta{},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ev, err := realtime.Decode([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ev)
		})
	}
}

func TestDecode_Unknown(t *testing.T) {
	input := []byte(`{"type":"session.created","session":{"id":"sess_1"}}`)

	ev, err := realtime.Decode(input)
	require.NoError(t, err)

	unknown, ok := ev.(realtime.Unknown)
	require.True(t, ok)
	assert.Equal(t, "session.created", unknown.Type)
	assert.Equal(t, "session.created", unknown.EventType())
	assert.Equal(t, input, unknown.Raw)
}

func TestDecode_Malformed(t *testing.T) {
	tests := map[string]string{
		"not_json":      `{not json`,
		"empty":         ``,
		"array":         `["response.text.delta"]`,
		"missing_type":  `{"text":"orphan"}`,
		"empty_type":    `{"type":""}`,
		"numeric_type":  `{"type":7}`,
		"null_document": `null`,
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			ev, err := realtime.Decode([]byte(input))
			assert.ErrorIs(t, err, realtime.ErrMalformedMessage)
			assert.Nil(t, ev)
		})
	}
}

func TestPreview(t *testing.T) {
	short := "short payload"
	assert.Equal(t, short, realtime.Preview(short, realtime.PreviewLength))

	long := strings.Repeat("a", 150)
	got := realtime.Preview(long, realtime.PreviewLength)
	assert.Equal(t, strings.Repeat("a", 100)+"...", got)

	multibyte := strings.Repeat("é", 5)
	assert.Equal(t, "éé...", realtime.Preview(multibyte, 2))
}
