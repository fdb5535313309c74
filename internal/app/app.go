// Package app provides the main application structure and lifecycle management.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-realtime-voice/internal/voice"
)

// Application represents the main application with its lifecycle.
type Application struct {
	app *fx.App
}

// New creates a new Application with the provided modules and options.
func New(modules ...fx.Option) *Application {
	options := append(modules, fx.Invoke(registerLifecycleHooks))

	return &Application{
		app: fx.New(options...),
	}
}

// Err reports a wiring error from New.
func (a *Application) Err() error {
	return a.app.Err()
}

// Start runs every OnStart hook, which opens the voice session.
func (a *Application) Start(ctx context.Context) error {
	return a.app.Start(ctx)
}

// Wait returns a channel that receives when the app is asked to stop, by a
// signal or by the session ending.
func (a *Application) Wait() <-chan fx.ShutdownSignal {
	return a.app.Wait()
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

// registerLifecycleHooks starts the voice session with the app and stops it
// before the devices are released.
func registerLifecycleHooks(lc fx.Lifecycle, svc *voice.Service, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting application: opening voice session")

			if err := svc.Start(ctx); err != nil {
				logger.Error("Failed to start voice session", zap.Error(err))

				return err
			}

			logger.Info("Application started successfully")

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping application: closing voice session")

			if err := svc.Stop(ctx); err != nil {
				logger.Error("Failed to stop voice session", zap.Error(err))

				return err
			}

			logger.Info("Application stopped successfully")

			return nil
		},
	})
}
