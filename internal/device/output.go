package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/Raikerian/go-realtime-voice/internal/playback"
	"github.com/Raikerian/go-realtime-voice/pkg/audio"
)

var errOutputClosed = errors.New("output stream closed")

// Output is a playback.Sink writing 24 kHz mono frames to the default output
// device through a blocking PortAudio stream.
type Output struct {
	logger *zap.Logger

	mu     sync.Mutex
	buf    []int16
	stream *portaudio.Stream
}

var _ playback.Sink = (*Output)(nil)

// OpenOutput opens and starts the default output stream. PortAudio must be
// initialized.
func OpenOutput(logger *zap.Logger) (*Output, error) {
	buf := make([]int16, audio.WireFrameSize)

	stream, err := portaudio.OpenDefaultStream(0, audio.WireChannels, float64(audio.WireSampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	logger.Info("Opened output device",
		zap.Int("sample_rate", audio.WireSampleRate),
		zap.Int("frames_per_buffer", len(buf)))

	return &Output{
		logger: logger,
		buf:    buf,
		stream: stream,
	}, nil
}

// Write blocks until the frame has been handed to the device. Short frames are
// padded with silence, long ones truncated.
func (o *Output) Write(frame []int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stream == nil {
		return errOutputClosed
	}

	n := copy(o.buf, frame)
	clear(o.buf[n:])

	if err := o.stream.Write(); err != nil {
		if errors.Is(err, portaudio.OutputUnderflowed) {
			o.logger.Debug("Output underflowed")
			return nil
		}
		return fmt.Errorf("failed to write output frame: %w", err)
	}
	return nil
}

// Close stops the stream. It is safe to call more than once.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stream == nil {
		return nil
	}

	stream := o.stream
	o.stream = nil

	if err := stream.Stop(); err != nil {
		o.logger.Warn("Failed to stop output stream", zap.Error(err))
	}
	return stream.Close()
}

// discardSink drops every frame. It stands in for the output device when
// playback is disabled.
type discardSink struct{}

func (discardSink) Write([]int16) error { return nil }
