package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-realtime-voice/internal/metrics"
	"github.com/Raikerian/go-realtime-voice/pkg/audio"
)

// Error definitions
var (
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrAlreadyCapturing  = errors.New("capture already running")
)

// Defaults for the wire format and flush thresholds.
const (
	DefaultMaxBufferDuration = 400 * time.Millisecond
	DefaultMaxBufferSamples  = 12000
	DefaultDeliveryQueue     = 32
)

// Config controls resampling and flushing. It is copied into the pipeline and
// never changes for the pipeline's lifetime.
type Config struct {
	TargetSampleRate  int
	TargetChannels    int
	MaxBufferDuration time.Duration
	MaxBufferSamples  int

	// DeliveryQueue bounds how many flushed chunks may wait for the consumer.
	DeliveryQueue int
}

// DefaultConfig returns the 24 kHz mono configuration expected by the wire.
func DefaultConfig() Config {
	return Config{
		TargetSampleRate:  audio.WireSampleRate,
		TargetChannels:    audio.WireChannels,
		MaxBufferDuration: DefaultMaxBufferDuration,
		MaxBufferSamples:  DefaultMaxBufferSamples,
		DeliveryQueue:     DefaultDeliveryQueue,
	}
}

// ShouldFlush reports whether a buffer holding buffered samples, last flushed
// sinceLastFlush ago, must be flushed now.
func (c Config) ShouldFlush(buffered int, sinceLastFlush time.Duration) bool {
	if buffered == 0 {
		return false
	}
	return buffered >= c.MaxBufferSamples || sinceLastFlush >= c.MaxBufferDuration
}

// State is the pipeline's capture state.
type State int32

const (
	StateInactive State = iota
	StateCapturing
)

func (s State) String() string {
	if s == StateCapturing {
		return "capturing"
	}
	return "inactive"
}

// Consumer receives flushed buffers. Each slice is a snapshot owned by the
// consumer. It runs on the pipeline's delivery goroutine, never on the
// capture thread.
type Consumer func(samples []float32)

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now for flush timing.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline turns raw device frames into flushed 24 kHz mono buffers.
type Pipeline struct {
	cfg      Config
	device   Device
	consumer Consumer
	logger   *zap.Logger
	now      func() time.Time

	lifecycleMu sync.Mutex // serializes Start and Stop
	state       atomic.Int32

	// mu guards the frame buffer between the capture callback and Stop.
	mu        sync.Mutex
	resampler *audio.Resampler
	buf       []float32
	lastFlush time.Time

	deliveries chan []float32
	deliverWG  sync.WaitGroup
}

// NewPipeline creates an inactive pipeline reading from device.
func NewPipeline(cfg Config, device Device, consumer Consumer, logger *zap.Logger, opts ...Option) *Pipeline {
	if cfg.DeliveryQueue <= 0 {
		cfg.DeliveryQueue = DefaultDeliveryQueue
	}
	if consumer == nil {
		consumer = func([]float32) {}
	}

	p := &Pipeline{
		cfg:      cfg,
		device:   device,
		consumer: consumer,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// State returns the current capture state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Start opens the device and begins capturing.
func (p *Pipeline) Start() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.State() == StateCapturing {
		return ErrAlreadyCapturing
	}

	format, err := p.device.Open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	resampler, err := audio.NewResampler(format.SampleRate, format.Channels, p.cfg.TargetSampleRate)
	if err != nil {
		_ = p.device.Close()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if format.SampleRate%p.cfg.TargetSampleRate != 0 {
		p.logger.Warn("Capture rate is not a multiple of the target rate, audio will be off-pitch",
			zap.Int("sample_rate", format.SampleRate),
			zap.Int("target_sample_rate", p.cfg.TargetSampleRate),
			zap.Int("decimation_factor", resampler.Factor()))
	}

	p.mu.Lock()
	p.resampler = resampler
	p.buf = make([]float32, 0, p.cfg.MaxBufferSamples)
	p.lastFlush = p.now()
	p.mu.Unlock()

	p.deliveries = make(chan []float32, p.cfg.DeliveryQueue)
	p.deliverWG.Add(1)
	go p.deliverLoop(p.deliveries)

	p.state.Store(int32(StateCapturing))

	if err := p.device.StartCapture(p.onFrame); err != nil {
		p.state.Store(int32(StateInactive))
		close(p.deliveries)
		p.deliverWG.Wait()
		_ = p.device.Close()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	p.logger.Info("Audio capture started",
		zap.Int("device_sample_rate", format.SampleRate),
		zap.Int("device_channels", format.Channels),
		zap.Int("decimation_factor", resampler.Factor()),
		zap.Duration("max_buffer_duration", p.cfg.MaxBufferDuration),
		zap.Int("max_buffer_samples", p.cfg.MaxBufferSamples))

	return nil
}

// Stop stops the device, flushes whatever is still buffered and waits until
// the consumer has received every flushed chunk. Calling Stop on an inactive
// pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.state.CompareAndSwap(int32(StateCapturing), int32(StateInactive)) {
		return nil
	}

	stopErr := p.device.StopCapture()
	closeErr := p.device.Close()

	p.mu.Lock()
	var final []float32
	if len(p.buf) > 0 {
		final = p.takeLocked(p.now())
	}
	p.buf = nil
	p.mu.Unlock()

	if final != nil {
		metrics.RecordCaptureFlush(len(final), metrics.FlushReasonFinal)
		p.deliveries <- final
	}
	close(p.deliveries)
	p.deliverWG.Wait()

	p.logger.Info("Audio capture stopped", zap.Int("final_flush_samples", len(final)))

	return errors.Join(stopErr, closeErr)
}

// onFrame runs on the device's capture thread.
func (p *Pipeline) onFrame(frame []float32) {
	if p.State() != StateCapturing {
		return
	}

	now := p.now()

	p.mu.Lock()
	if p.resampler == nil {
		p.mu.Unlock()
		return
	}
	p.buf = p.resampler.Process(p.buf, frame)

	var chunk []float32
	reason := metrics.FlushReasonTime
	if p.cfg.ShouldFlush(len(p.buf), now.Sub(p.lastFlush)) {
		if len(p.buf) >= p.cfg.MaxBufferSamples {
			reason = metrics.FlushReasonSize
		}
		chunk = p.takeLocked(now)
	}
	p.mu.Unlock()

	if chunk == nil {
		return
	}

	metrics.RecordCaptureFlush(len(chunk), reason)

	select {
	case p.deliveries <- chunk:
	default:
		metrics.RecordCaptureDrop(len(chunk))
		p.logger.Warn("Capture delivery queue full, dropping chunk",
			zap.Int("samples", len(chunk)),
			zap.Int("queue_length", len(p.deliveries)))
	}
}

// takeLocked copies and clears the buffer. p.mu must be held.
func (p *Pipeline) takeLocked(now time.Time) []float32 {
	chunk := make([]float32, len(p.buf))
	copy(chunk, p.buf)
	p.buf = p.buf[:0]
	p.lastFlush = now
	return chunk
}

func (p *Pipeline) deliverLoop(deliveries <-chan []float32) {
	defer p.deliverWG.Done()

	for chunk := range deliveries {
		p.consumer(chunk)
	}
}
