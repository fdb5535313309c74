// Package voice wires a realtime session to the console and the speakers.
package voice

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-realtime-voice/internal/config"
	"github.com/Raikerian/go-realtime-voice/internal/playback"
	"github.com/Raikerian/go-realtime-voice/internal/realtime"
	"github.com/Raikerian/go-realtime-voice/pkg/pricing"
)

// Module provides the dialer, the player and the voice service.
var Module = fx.Module("voice",
	fx.Provide(
		NewDialer,
		NewPlayer,
		NewPricingService,
		NewService,
	),
)

// NewDialer builds the WebSocket dialer from the openai section.
func NewDialer(cfg *config.Config, logger *zap.Logger) realtime.Dialer {
	return realtime.NewWSDialer(realtime.DialConfig{
		URL:              cfg.OpenAI.URL,
		HandshakeTimeout: cfg.OpenAI.HandshakeTimeout,
	}, logger)
}

// NewPricingService loads prices from openai.pricing_file or the built-in
// table.
func NewPricingService(cfg *config.Config) pricing.Service {
	return pricing.NewService(cfg.OpenAI.PricingFile)
}

// NewPlayerParams holds dependencies for NewPlayer.
type NewPlayerParams struct {
	fx.In
	Sink   playback.Sink
	Cfg    *config.Config
	LC     fx.Lifecycle
	Logger *zap.Logger
}

// NewPlayer starts the playback worker and closes it before the sink.
func NewPlayer(params NewPlayerParams) *playback.Player {
	player := playback.NewPlayer(params.Sink, params.Cfg.Playback.QueueSize, params.Logger)

	params.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return player.Close()
		},
	})

	return player
}
