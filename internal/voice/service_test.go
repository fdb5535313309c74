package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-realtime-voice/internal/config"
	"github.com/Raikerian/go-realtime-voice/internal/playback"
	"github.com/Raikerian/go-realtime-voice/internal/realtime"
	"github.com/Raikerian/go-realtime-voice/internal/session"
	"github.com/Raikerian/go-realtime-voice/pkg/audio"
	"github.com/Raikerian/go-realtime-voice/pkg/pricing"
)

const waitFor = 2 * time.Second

type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}

	mu        sync.Mutex
	sent      [][]byte
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.closed:
		return nil, realtime.ErrConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	types := make([]string, 0, len(c.sent))
	for _, msg := range c.sent {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(msg, &env)
		types = append(types, env.Type)
	}
	return types
}

type fakeDialer struct {
	conn *fakeConn
}

func (d *fakeDialer) Dial(context.Context, http.Header) (realtime.Conn, error) {
	return d.conn, nil
}

type fakeShutdowner struct {
	calls chan struct{}
}

func (s *fakeShutdowner) Shutdown(...fx.ShutdownOption) error {
	s.calls <- struct{}{}
	return nil
}

type frameSink struct {
	mu     sync.Mutex
	frames int
}

func (s *frameSink) Write([]int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return nil
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

type harness struct {
	svc        *Service
	conn       *fakeConn
	sink       *frameSink
	shutdowner *fakeShutdowner
	out        *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	h := &harness{
		conn:       newFakeConn(),
		sink:       &frameSink{},
		shutdowner: &fakeShutdowner{calls: make(chan struct{}, 1)},
		out:        &syncBuffer{},
	}

	player := playback.NewPlayer(h.sink, 8, logger)
	t.Cleanup(func() { _ = player.Close() })

	h.svc = newService(NewServiceParams{
		Cfg:        cfg,
		Logger:     logger,
		Dialer:     &fakeDialer{conn: h.conn},
		Player:     player,
		Shutdowner: h.shutdowner,
		Pricing:    pricing.NewService(""),
	}, h.out)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.svc.Stop(ctx)
	})

	return h
}

func testConfig() *config.Config {
	return &config.Config{
		OpenAI:   config.OpenAIConfig{APIKey: "sk-test", BetaHeader: config.DefaultBetaHeader, URL: config.DefaultURL},
		Voice:    config.VoiceConfig{InitialPrompt: "Say hello."},
		Capture:  config.CaptureConfig{OnUnavailable: "abort"},
		Playback: config.PlaybackConfig{QueueSize: 8},
	}
}

func (h *harness) waitActive(t *testing.T) *session.Controller {
	t.Helper()

	var ctrl *session.Controller
	require.Eventually(t, func() bool {
		ctrl = h.svc.Current()
		return ctrl != nil && ctrl.State() == session.StateActive
	}, waitFor, 5*time.Millisecond)
	return ctrl
}

func TestVoiceConfig(t *testing.T) {
	zero := 0.0
	padding, silence, noWait := 100, 800, 0

	tests := map[string]struct {
		in   config.VoiceConfig
		want session.VoiceConfig
	}{
		"empty section keeps session defaults": {
			in:   config.VoiceConfig{},
			want: session.DefaultVoiceConfig(),
		},
		"explicit values": {
			in: config.VoiceConfig{
				Instructions:      "Be brief.",
				InitialPrompt:     "Greet.",
				Voice:             "verse",
				VADThreshold:      &zero,
				PrefixPaddingMs:   &padding,
				SilenceDurationMs: &silence,
			},
			want: session.VoiceConfig{
				Instructions:          "Be brief.",
				InitialResponsePrompt: "Greet.",
				Voice:                 realtime.VoiceVerse,
				VADThreshold:          0,
				PrefixPaddingMs:       100,
				SilenceDurationMs:     800,
			},
		},
		"explicit zero timings are kept": {
			in: config.VoiceConfig{
				PrefixPaddingMs:   &noWait,
				SilenceDurationMs: &noWait,
			},
			want: func() session.VoiceConfig {
				vc := session.DefaultVoiceConfig()
				vc.PrefixPaddingMs = 0
				vc.SilenceDurationMs = 0
				return vc
			}(),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, VoiceConfig(tt.in))
		})
	}
}

func TestService_StartOpensSession(t *testing.T) {
	h := newHarness(t, testConfig())

	require.NoError(t, h.svc.Start(context.Background()))
	h.waitActive(t)

	assert.Equal(t, []string{realtime.TypeSessionUpdate, realtime.TypeResponseCreate}, h.conn.sentTypes())
}

func TestService_RoutesSessionOutput(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.svc.Start(context.Background()))
	h.waitActive(t)

	encoded, err := audio.PCMToBase64(audio.PCMInt16ToLE(make([]int16, 2*audio.WireFrameSize)))
	require.NoError(t, err)

	h.conn.incoming <- []byte(`{"type":"response.audio.delta","delta":"` + encoded + `"}`)
	h.conn.incoming <- []byte(`{"type":"response.text.delta","text":"Hello"}`)
	h.conn.incoming <- []byte(`{"type":"response.audio_transcript.delta","delta":" there"}`)

	require.Eventually(t, func() bool { return h.sink.count() == 2 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.out.String() == "Hello there" }, waitFor, 5*time.Millisecond)
}

func TestService_SessionEndRequestsShutdown(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.svc.Start(context.Background()))
	h.waitActive(t)

	// Server closes the connection.
	require.NoError(t, h.conn.Close())

	select {
	case <-h.shutdowner.calls:
	case <-time.After(waitFor):
		t.Fatal("service did not request shutdown after the session ended")
	}
}

func TestService_StopDoesNotRequestShutdown(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.svc.Start(context.Background()))
	ctrl := h.waitActive(t)

	require.NoError(t, h.svc.Stop(context.Background()))
	assert.Equal(t, session.StateStopped, ctrl.State())

	select {
	case <-h.shutdowner.calls:
		t.Fatal("explicit stop must not request shutdown")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_CloseAfter(t *testing.T) {
	cfg := testConfig()
	cfg.Voice.CloseAfter = 20 * time.Millisecond
	h := newHarness(t, cfg)

	require.NoError(t, h.svc.Start(context.Background()))

	select {
	case <-h.shutdowner.calls:
	case <-time.After(waitFor):
		t.Fatal("session was not closed by the deferred close")
	}
	assert.Equal(t, session.StateStopped, h.svc.Current().State())
}

func TestService_MissingCredential(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAI.APIKey = ""
	h := newHarness(t, cfg)

	err := h.svc.Start(context.Background())
	require.ErrorIs(t, err, session.ErrCredentialMissing)
}

func TestService_TracksCost(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.svc.Start(context.Background()))
	h.waitActive(t)

	h.conn.incoming <- []byte(`{"type":"response.done","response":{"id":"resp_1","status":"completed",` +
		`"usage":{"total_tokens":10500,"input_tokens":500,"output_tokens":10000,` +
		`"input_token_details":{"audio_tokens":500},"output_token_details":{"audio_tokens":10000}}}}`)

	// 500 audio in at $100/M plus 10000 audio out at $200/M.
	require.Eventually(t, func() bool { return h.svc.Cost() > 0 }, waitFor, 5*time.Millisecond)
	assert.InDelta(t, 0.05+2.0, h.svc.Cost(), 1e-9)
}

func TestModelFromURL(t *testing.T) {
	tests := map[string]struct {
		endpoint string
		want     string
	}{
		"default endpoint": {endpoint: config.DefaultURL, want: "gpt-4o-realtime-preview-2024-10-01"},
		"no model":         {endpoint: "wss://example.test/v1/realtime", want: ""},
		"unparsable":       {endpoint: "://bad", want: ""},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, modelFromURL(tt.endpoint))
		})
	}
}

func TestNewMeter_UnknownModelDisablesCost(t *testing.T) {
	logger := zaptest.NewLogger(t)

	assert.Nil(t, newMeter(pricing.NewService(""), "wss://example.test/v1/realtime?model=unpriced", logger))
	assert.Nil(t, newMeter(nil, config.DefaultURL, logger))
	assert.NotNil(t, newMeter(pricing.NewService(""), config.DefaultURL, logger))
}
