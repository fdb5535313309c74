package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Raikerian/go-realtime-voice/internal/capture"
	"github.com/Raikerian/go-realtime-voice/internal/metrics"
	"github.com/Raikerian/go-realtime-voice/internal/realtime"
	"github.com/Raikerian/go-realtime-voice/pkg/audio"
	"github.com/Raikerian/go-realtime-voice/pkg/util"
)

const (
	defaultAudioQueue   = 64
	defaultInboundQueue = 64
	readerExitTimeout   = 2 * time.Second
)

// Session outcomes reported to metrics.
const (
	outcomeStopped   = "stopped"
	outcomeCancelled = "cancelled"
	outcomeError     = "error"
)

// Handlers receive session output. Every handler runs on the session's
// control goroutine, one at a time. Stop or Cancel on a session that was
// never started has no control goroutine, so OnCancelSignal and
// OnStateChange run on the caller's goroutine before the call returns. Nil
// handlers are skipped.
type Handlers struct {
	OnTextDelta func(text string)

	// OnAudioData receives decoded PCM16 LE mono 24 kHz audio.
	OnAudioData func(pcm []byte)

	// OnCancelSignal is called with false when the server detects user speech
	// (interrupt playback, keep the session) and with true when the session
	// is cancelled.
	OnCancelSignal func(cancelled bool)

	OnError           func(message string)
	OnTranscriptDelta func(text string)

	// OnAudioCaptured receives every flushed capture buffer while Active.
	OnAudioCaptured func(samples []float32)

	OnStateChange func(state State)

	// OnUsage receives the token usage of every finished response.
	OnUsage func(usage realtime.Usage)
}

// DeviceFactory opens a fresh capture device for a session.
type DeviceFactory func() (capture.Device, error)

// Options configure a Controller.
type Options struct {
	APIKey     string
	BetaHeader string
	Dialer     realtime.Dialer

	// NewDevice is nil for sessions that never capture.
	NewDevice     DeviceFactory
	Capture       capture.Config
	CapturePolicy CapturePolicy

	Handlers Handlers
	Logger   *zap.Logger

	// AudioQueue bounds flushed buffers waiting for the control goroutine.
	AudioQueue int
}

type dialResult struct {
	conn realtime.Conn
	err  error
}

// Controller runs one realtime session. Stop, Cancel and CloseAfter may be
// called from any goroutine; the work they request is carried out by the
// control goroutine, which is the only writer of the state, the connection
// and the capture pipeline.
type Controller struct {
	id     string
	cfg    VoiceConfig
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex // guards the Idle transitions in Start and Stop
	state atomic.Int32

	stopOnce   sync.Once
	cancelOnce sync.Once
	stopReq    chan struct{}
	cancelReq  chan struct{}
	closeAfter chan time.Duration
	audio      chan []float32
	inbound    chan realtime.Event
	readErr    chan error
	done       chan struct{}

	// Owned by the control goroutine.
	conn       realtime.Conn
	pipeline   *capture.Pipeline
	closer     *util.Debouncer
	readerDone chan struct{}
	wasActive  bool
	unhandled  *eventTypeSet
}

// New validates cfg and returns an Idle controller.
func New(cfg VoiceConfig, opts Options) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Dialer == nil {
		return nil, ErrNoDialer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AudioQueue <= 0 {
		opts.AudioQueue = defaultAudioQueue
	}
	if opts.CapturePolicy == "" {
		opts.CapturePolicy = CapturePolicyAbort
	}
	if opts.Capture.TargetSampleRate == 0 {
		opts.Capture = capture.DefaultConfig()
	}

	id := uuid.NewString()

	return &Controller{
		id:         id,
		cfg:        cfg,
		opts:       opts,
		logger:     opts.Logger.With(zap.String("session_id", id)),
		stopReq:    make(chan struct{}),
		cancelReq:  make(chan struct{}),
		closeAfter: make(chan time.Duration, 1),
		audio:      make(chan []float32, opts.AudioQueue),
		inbound:    make(chan realtime.Event, defaultInboundQueue),
		readErr:    make(chan error, 1),
		done:       make(chan struct{}),
		closer:     util.NewDebouncer(),
		unhandled:  newEventTypeSet(unhandledTypesTracked),
	}, nil
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Done is closed once the session reaches Stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start moves the session to Connecting and dials in the background. The
// session outlives ctx; only its values are kept.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateIdle {
		return ErrAlreadyStarted
	}

	if c.opts.APIKey == "" {
		c.logger.Error("Cannot start session without an API key")
		c.emitError(ErrCredentialMissing.Error())
		c.finish(outcomeError)
		return ErrCredentialMissing
	}

	c.setState(StateConnecting)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go c.run(loopCtx, cancel)

	return nil
}

// Stop requests teardown. It does not block; wait on Done for completion.
// Calling it more than once, or after the session ended, does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateIdle {
		c.logger.Info("Session stopped before it was started")
		c.finish(outcomeStopped)
		return
	}
	c.stopOnce.Do(func() { close(c.stopReq) })
}

// Cancel notifies consumers with OnCancelSignal(true) and then tears the
// session down like Stop.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateIdle {
		c.emitCancel(true)
		c.finish(outcomeCancelled)
		return
	}
	c.cancelOnce.Do(func() { close(c.cancelReq) })
}

// CloseAfter arms a timer that stops the session after d. Arming again
// replaces the previous timer.
func (c *Controller) CloseAfter(d time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case c.closeAfter <- d:
			return
		default:
		}
		// Drop a request the control goroutine has not picked up yet.
		select {
		case <-c.closeAfter:
		default:
		}
	}
}

// finish is used by the Idle transitions only. c.mu must be held.
func (c *Controller) finish(outcome string) {
	c.closer.Stop()
	c.setState(StateStopped)
	metrics.RecordSessionEnd(outcome, false)
	close(c.done)
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(c.done)
	defer cancel()

	c.logger.Info("Connecting to realtime endpoint")

	dialed := make(chan dialResult, 1)
	go func() {
		conn, err := c.opts.Dialer.Dial(ctx, realtime.AuthHeader(c.opts.APIKey, c.opts.BetaHeader))
		dialed <- dialResult{conn: conn, err: err}
	}()

	var outcome string
	for outcome == "" {
		select {
		case res := <-dialed:
			dialed = nil
			if res.err != nil {
				c.logger.Error("Failed to connect", zap.Error(res.err))
				c.emitError(fmt.Sprintf("connection failed: %v", res.err))
				outcome = outcomeError
				break
			}
			if err := c.onConnected(ctx, res.conn); err != nil {
				outcome = outcomeError
			}

		case <-c.stopReq:
			c.logger.Info("Stop requested")
			outcome = outcomeStopped

		case <-c.cancelReq:
			c.logger.Info("Session cancelled")
			c.emitCancel(true)
			outcome = outcomeCancelled

		case d := <-c.closeAfter:
			c.logger.Info("Deferred close armed", zap.Duration("delay", d))
			c.closer.ResetTo(d)

		case <-c.closer.C():
			c.logger.Info("Deferred close fired")
			outcome = outcomeStopped

		case samples := <-c.audio:
			if c.State() == StateActive {
				c.forwardAudio(samples)
			}

		case ev := <-c.inbound:
			c.handleEvent(ev)

		case err := <-c.readErr:
			if errors.Is(err, realtime.ErrConnClosed) {
				c.logger.Info("Connection closed by server", zap.Error(err))
				outcome = outcomeStopped
				break
			}
			c.logger.Error("Connection read failed", zap.Error(err))
			c.emitError(fmt.Sprintf("connection lost: %v", err))
			outcome = outcomeError
		}
	}

	c.teardown(outcome, cancel, dialed)
}

func (c *Controller) onConnected(ctx context.Context, conn realtime.Conn) error {
	c.conn = conn
	c.logger.Info("Connected to realtime endpoint")

	if err := c.send(c.cfg.sessionUpdate()); err != nil {
		c.logger.Error("Failed to send session update", zap.Error(err))
		c.emitError(fmt.Sprintf("session update failed: %v", err))
		return err
	}

	if c.cfg.InitialResponsePrompt != "" {
		if err := c.send(realtime.ResponseCreate{Instructions: c.cfg.InitialResponsePrompt}); err != nil {
			c.logger.Error("Failed to request initial response", zap.Error(err))
			c.emitError(fmt.Sprintf("response create failed: %v", err))
			return err
		}
	}

	if err := c.startCapture(); err != nil {
		c.logger.Error("Audio capture unavailable",
			zap.Error(err),
			zap.String("policy", string(c.opts.CapturePolicy)))
		c.emitError(err.Error())
		if c.opts.CapturePolicy != CapturePolicyReceiveOnly {
			return err
		}
	}

	c.setState(StateActive)
	c.wasActive = true
	metrics.RecordSessionActive()

	c.readerDone = make(chan struct{})
	go c.readLoop(ctx, conn, c.readerDone)

	return nil
}

func (c *Controller) startCapture() error {
	if c.opts.NewDevice == nil {
		c.logger.Info("No capture device configured, session is receive-only")
		return nil
	}

	dev, err := c.opts.NewDevice()
	if err != nil {
		return fmt.Errorf("%w: %w", capture.ErrDeviceUnavailable, err)
	}

	p := capture.NewPipeline(c.opts.Capture, dev, c.submitAudio, c.logger)
	if err := p.Start(); err != nil {
		return err
	}
	c.pipeline = p

	return nil
}

// submitAudio runs on the pipeline's delivery goroutine.
func (c *Controller) submitAudio(samples []float32) {
	select {
	case c.audio <- samples:
	default:
		metrics.RecordCaptureDrop(len(samples))
		c.logger.Warn("Session audio queue full, dropping captured buffer",
			zap.Int("samples", len(samples)))
	}
}

func (c *Controller) forwardAudio(samples []float32) {
	if c.opts.Handlers.OnAudioCaptured != nil {
		c.opts.Handlers.OnAudioCaptured(samples)
	}

	ev, ok := realtime.NewInputAudioAppend(samples)
	if !ok {
		return
	}
	if err := c.send(ev); err != nil {
		c.logger.Warn("Failed to send captured audio", zap.Error(err), zap.Int("samples", len(samples)))
	}
}

func (c *Controller) send(ev realtime.Event) error {
	data, err := realtime.Encode(ev)
	if err != nil {
		return err
	}

	if ev.EventType() != realtime.TypeInputAudioBufferAppend {
		c.logger.Debug("Sending event",
			zap.String("event_type", ev.EventType()),
			zap.String("payload", realtime.Preview(string(data), realtime.PreviewLength)))
	}
	metrics.RecordWireEvent(metrics.DirectionOutbound, ev.EventType())

	return c.conn.Send(data)
}

func (c *Controller) readLoop(ctx context.Context, conn realtime.Conn, done chan<- struct{}) {
	defer close(done)

	for {
		data, err := conn.Read()
		if err != nil {
			select {
			case c.readErr <- err:
			case <-ctx.Done():
			}
			return
		}

		ev, err := realtime.Decode(data)
		if err != nil {
			metrics.RecordMalformedMessage()
			c.logger.Warn("Dropping malformed message",
				zap.Error(err),
				zap.String("payload", realtime.Preview(string(data), realtime.PreviewLength)))
			continue
		}
		metrics.RecordWireEvent(metrics.DirectionInbound, ev.EventType())

		select {
		case c.inbound <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) handleEvent(ev realtime.Event) {
	h := c.opts.Handlers

	switch e := ev.(type) {
	case realtime.ResponseTextDelta:
		if h.OnTextDelta != nil {
			h.OnTextDelta(e.Text)
		}

	case realtime.ResponseAudioDelta:
		if e.Delta == "" {
			return
		}
		pcm, err := audio.Base64ToPCM(e.Delta)
		if err != nil {
			c.logger.Warn("Failed to decode audio delta", zap.Error(err))
			return
		}
		if h.OnAudioData != nil {
			h.OnAudioData(pcm)
		}

	case realtime.ResponseAudioTranscriptDelta:
		if h.OnTranscriptDelta != nil {
			h.OnTranscriptDelta(e.Delta)
		}

	case realtime.SpeechStarted:
		c.logger.Debug("User speech detected, interrupting playback")
		c.emitCancel(false)

	case realtime.ErrorEvent:
		c.logger.Warn("Server reported an error", zap.String("message", e.Message))
		c.emitError(e.Message)

	case realtime.ResponseDone:
		metrics.RecordResponseUsage(e.Usage.InputTokens, e.Usage.OutputTokens)
		c.logger.Debug("Response finished",
			zap.String("response_id", e.ResponseID),
			zap.String("status", e.Status),
			zap.Int("total_tokens", e.Usage.TotalTokens))
		if h.OnUsage != nil {
			h.OnUsage(e.Usage)
		}

	default:
		if c.unhandled.add(ev.EventType()) {
			c.logger.Info("Ignoring unhandled event type", zap.String("event_type", ev.EventType()))
			return
		}
		c.logger.Debug("Ignoring event", zap.String("event_type", ev.EventType()))
	}
}

// teardown runs on the control goroutine exactly once.
func (c *Controller) teardown(outcome string, cancel context.CancelFunc, pendingDial <-chan dialResult) {
	c.setState(StateStopping)

	if c.pipeline != nil {
		if err := c.pipeline.Stop(); err != nil {
			c.logger.Warn("Error stopping audio capture", zap.Error(err))
		}
		c.pipeline = nil
	}

	// The pipeline's final flush is already queued; send what is left while
	// the connection is still open.
	for drained := false; !drained; {
		select {
		case samples := <-c.audio:
			if c.conn != nil {
				c.forwardAudio(samples)
			}
		default:
			drained = true
		}
	}

	// Unblock the reader before closing the connection under it.
	cancel()

	if pendingDial != nil {
		go func() {
			if res := <-pendingDial; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("Error closing connection", zap.Error(err))
		}
		if c.readerDone != nil {
			select {
			case <-c.readerDone:
			case <-time.After(readerExitTimeout):
				c.logger.Warn("Connection reader did not exit in time")
			}
		}
		c.conn = nil
	}

	c.closer.Stop()

	metrics.RecordSessionEnd(outcome, c.wasActive)
	c.setState(StateStopped)
	c.logger.Info("Session stopped", zap.String("outcome", outcome))
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.logger.Debug("Session state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", s))
	if c.opts.Handlers.OnStateChange != nil {
		c.opts.Handlers.OnStateChange(s)
	}
}

func (c *Controller) emitError(message string) {
	if c.opts.Handlers.OnError != nil {
		c.opts.Handlers.OnError(message)
	}
}

func (c *Controller) emitCancel(cancelled bool) {
	if c.opts.Handlers.OnCancelSignal != nil {
		c.opts.Handlers.OnCancelSignal(cancelled)
	}
}
