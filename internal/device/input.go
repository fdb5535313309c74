// Package device binds the capture pipeline and the playback player to the
// host's default audio devices through PortAudio.
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/Raikerian/go-realtime-voice/internal/capture"
	"github.com/Raikerian/go-realtime-voice/pkg/audio"
)

var errNoInputChannels = errors.New("default input device has no input channels")

// InputConfig selects the capture stream parameters. Zero values use the
// device defaults.
type InputConfig struct {
	SampleRate      float64
	FramesPerBuffer int
}

// Input is a capture.Device backed by the default PortAudio input device.
type Input struct {
	cfg    InputConfig
	logger *zap.Logger

	mu     sync.Mutex
	params portaudio.StreamParameters
	opened bool
	stream *portaudio.Stream
}

var _ capture.Device = (*Input)(nil)

// NewInput creates an unopened input device. PortAudio must be initialized
// before Open is called.
func NewInput(cfg InputConfig, logger *zap.Logger) *Input {
	return &Input{cfg: cfg, logger: logger}
}

// Open resolves the default input device and its native format.
func (in *Input) Open() (capture.Format, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return capture.Format{}, fmt.Errorf("failed to find default input device: %w", err)
	}

	channels := captureChannels(dev.MaxInputChannels)
	if channels == 0 {
		return capture.Format{}, fmt.Errorf("%s: %w", dev.Name, errNoInputChannels)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.SampleRate = sampleRate(in.cfg.SampleRate, dev.DefaultSampleRate, func(rate float64) bool {
		candidate := params
		candidate.SampleRate = rate
		return portaudio.IsFormatSupported(candidate, func([]float32) {}) == nil
	})
	if in.cfg.FramesPerBuffer > 0 {
		params.FramesPerBuffer = in.cfg.FramesPerBuffer
	}

	in.params = params
	in.opened = true

	in.logger.Info("Opened input device",
		zap.String("device", dev.Name),
		zap.Float64("sample_rate", params.SampleRate),
		zap.Int("channels", channels))

	return capture.Format{
		SampleRate: int(params.SampleRate),
		Channels:   channels,
	}, nil
}

// StartCapture opens a callback stream that hands every interleaved buffer to
// cb on PortAudio's audio thread.
func (in *Input) StartCapture(cb capture.FrameCallback) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.opened {
		return errors.New("input device not opened")
	}
	if in.stream != nil {
		return capture.ErrAlreadyCapturing
	}

	stream, err := portaudio.OpenStream(in.params, func(buf []float32) {
		cb(buf)
	})
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	in.stream = stream
	return nil
}

// StopCapture stops and closes the stream. PortAudio does not invoke the
// callback again once Stop returns.
func (in *Input) StopCapture() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.stream == nil {
		return nil
	}

	stream := in.stream
	in.stream = nil

	stopErr := stream.Stop()
	closeErr := stream.Close()
	if stopErr != nil {
		return fmt.Errorf("failed to stop input stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close input stream: %w", closeErr)
	}
	return nil
}

// Close releases the device. Close after StopCapture is a no-op.
func (in *Input) Close() error {
	err := in.StopCapture()

	in.mu.Lock()
	in.opened = false
	in.mu.Unlock()

	return err
}

// captureChannels caps the input channel count; the pipeline downmixes
// stereo and mono only.
func captureChannels(maxInput int) int {
	if maxInput <= 0 {
		return 0
	}
	return min(maxInput, audio.DeviceChannels)
}

// sampleRate picks the capture rate: the configured one, else the usual
// hardware rate when the device accepts it, else the device default.
func sampleRate(configured, deviceDefault float64, supported func(float64) bool) float64 {
	if configured > 0 {
		return configured
	}
	if supported(audio.DeviceSampleRate) {
		return audio.DeviceSampleRate
	}
	return deviceDefault
}
