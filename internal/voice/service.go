package voice

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-realtime-voice/internal/capture"
	"github.com/Raikerian/go-realtime-voice/internal/config"
	"github.com/Raikerian/go-realtime-voice/internal/playback"
	"github.com/Raikerian/go-realtime-voice/internal/realtime"
	"github.com/Raikerian/go-realtime-voice/internal/session"
	"github.com/Raikerian/go-realtime-voice/pkg/pricing"
)

// Service runs one conversation: it owns the session registry and routes the
// session's output to the console and the player.
type Service struct {
	logger     *zap.Logger
	cfg        *config.Config
	player     *playback.Player
	registry   *session.Registry
	shutdowner fx.Shutdowner
	out        io.Writer
	meter      *pricing.Meter

	outMu    sync.Mutex
	stopping chan struct{}
	stopOnce sync.Once
}

// NewServiceParams holds dependencies for NewService.
type NewServiceParams struct {
	fx.In
	Cfg        *config.Config
	Logger     *zap.Logger
	Dialer     realtime.Dialer
	Player     *playback.Player
	Shutdowner fx.Shutdowner
	Pricing    pricing.Service
	NewDevice  session.DeviceFactory `optional:"true"`
}

// NewService creates an idle service.
func NewService(params NewServiceParams) *Service {
	return newService(params, os.Stdout)
}

func newService(params NewServiceParams, out io.Writer) *Service {
	s := &Service{
		logger:     params.Logger,
		cfg:        params.Cfg,
		player:     params.Player,
		shutdowner: params.Shutdowner,
		out:        out,
		stopping:   make(chan struct{}),
		meter:      newMeter(params.Pricing, params.Cfg.OpenAI.URL, params.Logger),
	}

	captureCfg := capture.DefaultConfig()
	if d := params.Cfg.Capture.MaxBufferDuration; d > 0 {
		captureCfg.MaxBufferDuration = d
	}
	if n := params.Cfg.Capture.MaxBufferSamples; n > 0 {
		captureCfg.MaxBufferSamples = n
	}

	opts := session.Options{
		APIKey:        params.Cfg.OpenAI.APIKey,
		BetaHeader:    params.Cfg.OpenAI.BetaHeader,
		Dialer:        params.Dialer,
		NewDevice:     params.NewDevice,
		Capture:       captureCfg,
		CapturePolicy: session.CapturePolicy(params.Cfg.Capture.OnUnavailable),
		Handlers:      s.handlers(),
		Logger:        params.Logger,
	}

	s.registry = session.NewRegistry(func(vc session.VoiceConfig) (*session.Controller, error) {
		return session.New(vc, opts)
	}, params.Logger)

	return s
}

// VoiceConfig converts the voice section into a session config.
func VoiceConfig(cfg config.VoiceConfig) session.VoiceConfig {
	vc := session.DefaultVoiceConfig()
	vc.Instructions = cfg.Instructions
	vc.InitialResponsePrompt = cfg.InitialPrompt
	if cfg.Voice != "" {
		vc.Voice = realtime.Voice(cfg.Voice)
	}
	if cfg.VADThreshold != nil {
		vc.VADThreshold = *cfg.VADThreshold
	}
	if cfg.PrefixPaddingMs != nil {
		vc.PrefixPaddingMs = *cfg.PrefixPaddingMs
	}
	if cfg.SilenceDurationMs != nil {
		vc.SilenceDurationMs = *cfg.SilenceDurationMs
	}
	return vc
}

// Start opens the session. When the session ends on its own the app is asked
// to shut down.
func (s *Service) Start(ctx context.Context) error {
	ctrl, err := s.registry.Start(ctx, VoiceConfig(s.cfg.Voice))
	if err != nil {
		return fmt.Errorf("failed to start voice session: %w", err)
	}

	if d := s.cfg.Voice.CloseAfter; d > 0 {
		ctrl.CloseAfter(d)
	}

	go s.watch(ctrl)

	return nil
}

// Stop ends the session and waits for it, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopping) })
	return s.registry.StopAll(ctx)
}

// Current returns the running session, or nil before Start.
func (s *Service) Current() *session.Controller {
	return s.registry.Current()
}

func (s *Service) watch(ctrl *session.Controller) {
	<-ctrl.Done()

	select {
	case <-s.stopping:
		return
	default:
	}

	s.logger.Info("Voice session ended, shutting down", zap.String("session_id", ctrl.ID()))
	if err := s.shutdowner.Shutdown(); err != nil {
		s.logger.Warn("Failed to request shutdown", zap.Error(err))
	}
}

func (s *Service) handlers() session.Handlers {
	return session.Handlers{
		OnTextDelta:       s.print,
		OnTranscriptDelta: s.print,
		OnAudioData: func(pcm []byte) {
			s.player.Enqueue(pcm)
		},
		OnCancelSignal: func(cancelled bool) {
			s.player.Interrupt()
			if cancelled {
				s.logger.Info("Voice session cancelled")
			}
		},
		OnError: func(message string) {
			s.logger.Error("Voice session error", zap.String("message", message))
		},
		OnUsage: s.recordUsage,
		OnStateChange: func(state session.State) {
			s.logger.Debug("Voice session state changed", zap.Stringer("state", state))
			if state == session.StateStopped {
				s.print("\n")
			}
		},
	}
}

func (s *Service) print(text string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	_, _ = io.WriteString(s.out, text)
}

// newMeter prices usage for the model named in the endpoint URL. It returns
// nil when the model has no known price.
func newMeter(service pricing.Service, endpoint string, logger *zap.Logger) *pricing.Meter {
	if service == nil {
		return nil
	}

	model := modelFromURL(endpoint)
	info, err := service.GetModelPricing(model)
	if err != nil {
		logger.Warn("Cost tracking disabled", zap.String("model", model), zap.Error(err))
		return nil
	}
	return pricing.NewMeter(info.Pricing)
}

func modelFromURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Query().Get("model")
}

func (s *Service) recordUsage(u realtime.Usage) {
	if s.meter == nil {
		return
	}

	cost, total := s.meter.Add(pricing.Usage{
		TextInput:        u.InputTextTokens,
		CachedTextInput:  u.CachedTextTokens,
		AudioInput:       u.InputAudioTokens,
		CachedAudioInput: u.CachedAudioTokens,
		TextOutput:       u.OutputTextTokens,
		AudioOutput:      u.OutputAudioTokens,
	})

	s.logger.Info("Response usage",
		zap.Int("input_audio_tokens", u.InputAudioTokens),
		zap.Int("output_audio_tokens", u.OutputAudioTokens),
		zap.Int("total_tokens", u.TotalTokens),
		zap.Float64("response_cost_usd", cost),
		zap.Float64("session_cost_usd", total))
}

// Cost returns the estimated spend so far, or zero when cost tracking is off.
func (s *Service) Cost() float64 {
	if s.meter == nil {
		return 0
	}
	_, total := s.meter.Total()
	return total
}
