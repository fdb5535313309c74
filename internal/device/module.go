package device

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-realtime-voice/internal/capture"
	"github.com/Raikerian/go-realtime-voice/internal/config"
	"github.com/Raikerian/go-realtime-voice/internal/playback"
	"github.com/Raikerian/go-realtime-voice/internal/session"
)

// Module provides the PortAudio-backed playback sink and capture device
// factory.
var Module = fx.Module("device",
	fx.Provide(
		NewHost,
		NewSink,
		NewDeviceFactory,
	),
)

// Host marks PortAudio as initialized. Every stream is opened after it is
// constructed and closed before it is terminated.
type Host struct{}

// NewHost initializes PortAudio and terminates it when the app stops.
func NewHost(lc fx.Lifecycle, logger *zap.Logger) (*Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	logger.Debug("PortAudio initialized", zap.String("version", portaudio.VersionText()))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return portaudio.Terminate()
		},
	})

	return &Host{}, nil
}

// NewSinkParams holds dependencies for NewSink.
type NewSinkParams struct {
	fx.In
	Host   *Host
	Cfg    *config.Config
	LC     fx.Lifecycle
	Logger *zap.Logger
}

// NewSink opens the default output device, or a sink that drops everything
// when playback is disabled.
func NewSink(params NewSinkParams) (playback.Sink, error) {
	if params.Cfg.Playback.Disabled {
		params.Logger.Info("Playback disabled")
		return discardSink{}, nil
	}

	out, err := OpenOutput(params.Logger)
	if err != nil {
		return nil, err
	}

	params.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return out.Close()
		},
	})

	return out, nil
}

// NewDeviceFactory returns a factory opening a fresh input per session, or
// nil when capture is disabled.
func NewDeviceFactory(_ *Host, cfg *config.Config, logger *zap.Logger) session.DeviceFactory {
	if cfg.Capture.Disabled {
		logger.Info("Capture disabled, sessions are receive-only")
		return nil
	}

	inputCfg := InputConfig{
		SampleRate:      cfg.Capture.SampleRate,
		FramesPerBuffer: cfg.Capture.FramesPerBuffer,
	}

	return func() (capture.Device, error) {
		return NewInput(inputCfg, logger), nil
	}
}
