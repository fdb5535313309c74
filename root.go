package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Raikerian/go-realtime-voice/internal/app"
	"github.com/Raikerian/go-realtime-voice/internal/config"
	"github.com/Raikerian/go-realtime-voice/internal/device"
	"github.com/Raikerian/go-realtime-voice/internal/infrastructure"
	"github.com/Raikerian/go-realtime-voice/internal/metrics"
	"github.com/Raikerian/go-realtime-voice/internal/voice"
	pkginfra "github.com/Raikerian/go-realtime-voice/pkg/infrastructure"
)

const (
	startTimeout    = 15 * time.Second
	shutdownTimeout = 30 * time.Second
)

// overrides holds the command line values that replace config file settings.
type overrides struct {
	instructions string
	voice        string
	prompt       string
	closeAfter   time.Duration
	receiveOnly  bool
	logLevel     string
}

// apply copies every flag the user set onto cfg.
func (o overrides) apply(cmd *cobra.Command, cfg *config.Config) *config.Config {
	flags := cmd.Flags()

	if flags.Changed("instructions") {
		cfg.Voice.Instructions = o.instructions
	}
	if flags.Changed("voice") {
		cfg.Voice.Voice = o.voice
	}
	if flags.Changed("prompt") {
		cfg.Voice.InitialPrompt = o.prompt
	}
	if flags.Changed("close-after") {
		cfg.Voice.CloseAfter = o.closeAfter
	}
	if flags.Changed("receive-only") {
		cfg.Capture.Disabled = o.receiveOnly
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	return cfg
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		flagValues overrides
	)

	cmd := &cobra.Command{
		Use:          "realtime-voice",
		Short:        "Talk to the OpenAI Realtime API through the default microphone and speakers",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, configPath, flagValues)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	flags.StringVar(&flagValues.instructions, "instructions", "", "system instructions for the assistant")
	flags.StringVar(&flagValues.voice, "voice", "", "assistant voice (alloy, echo, shimmer, ballad, ash, coral, sage, verse)")
	flags.StringVar(&flagValues.prompt, "prompt", "", "instructions for an opening response so the assistant speaks first")
	flags.DurationVar(&flagValues.closeAfter, "close-after", 0, "close the session after this long")
	flags.BoolVar(&flagValues.receiveOnly, "receive-only", false, "do not open the microphone")
	flags.StringVar(&flagValues.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	return cmd
}

func run(cmd *cobra.Command, configPath string, flagValues overrides) error {
	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,
		metrics.Module,

		// Audio and session modules
		device.Module,
		voice.Module,

		fx.Supply(configPath),
		fx.Decorate(func(cfg *config.Config) *config.Config {
			return flagValues.apply(cmd, cfg)
		}),

		fx.WithLogger(pkginfra.NewFxLoggerAdapter),
	)
	if err := application.Err(); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(cmd.Context(), startTimeout)
	err := application.Start(startCtx)
	cancelStart()
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	sig := <-application.Wait()
	fmt.Fprintf(cmd.ErrOrStderr(), "Received %s, initiating shutdown.\n", sig.Signal)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Application has shut down gracefully.")
	return nil
}
