package metrics

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-realtime-voice/internal/config"
)

// Module serves /metrics for the lifetime of the app when metrics.address is
// set.
var Module = fx.Module("metrics",
	fx.Invoke(registerExporter),
)

func registerExporter(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Metrics.Address == "" {
		logger.Debug("Metrics exporter disabled")
		return nil
	}

	exporter, err := NewExporter(cfg.Metrics.Address, logger)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return exporter.Start()
		},
		OnStop: func(ctx context.Context) error {
			return exporter.Shutdown(ctx)
		},
	})
	return nil
}
