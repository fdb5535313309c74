package infrastructure_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Raikerian/go-realtime-voice/pkg/infrastructure"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestFxLogger_Levels(t *testing.T) {
	failure := errors.New("boom")

	tests := map[string]struct {
		event fxevent.Event
		level zapcore.Level
		msg   string
	}{
		"started": {
			event: &fxevent.Started{},
			level: zapcore.InfoLevel,
			msg:   "Started",
		},
		"start failed": {
			event: &fxevent.Started{Err: failure},
			level: zapcore.ErrorLevel,
			msg:   "Started with error",
		},
		"hook executed": {
			event: &fxevent.OnStartExecuted{FunctionName: "start", CallerName: "app"},
			level: zapcore.DebugLevel,
			msg:   "OnStart hook executed",
		},
		"stop hook failed": {
			event: &fxevent.OnStopExecuted{FunctionName: "stop", CallerName: "app", Err: failure},
			level: zapcore.ErrorLevel,
			msg:   "OnStop hook failed",
		},
		"provided": {
			event: &fxevent.Provided{OutputTypeNames: []string{"*zap.Logger"}},
			level: zapcore.DebugLevel,
			msg:   "Provided",
		},
		"invoke failed": {
			event: &fxevent.Invoked{FunctionName: "run", Err: failure},
			level: zapcore.ErrorLevel,
			msg:   "Invoked with error",
		},
		"signal": {
			event: &fxevent.Stopping{Signal: os.Interrupt},
			level: zapcore.InfoLevel,
			msg:   "Received signal",
		},
		"rolling back": {
			event: &fxevent.RollingBack{StartErr: failure},
			level: zapcore.ErrorLevel,
			msg:   "Start failed, rolling back",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			logger, logs := observed()
			infrastructure.NewFxLoggerAdapter(logger).LogEvent(tt.event)

			entries := logs.AllUntimed()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			assert.Equal(t, tt.msg, entries[0].Message)
			assert.Equal(t, "fx", entries[0].LoggerName)
		})
	}
}

func TestFxLogger_ErrorFieldAttached(t *testing.T) {
	logger, logs := observed()
	infrastructure.NewFxLoggerAdapter(logger).LogEvent(&fxevent.Invoked{FunctionName: "run", Err: errors.New("boom")})

	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
	assert.Equal(t, "run", entries[0].ContextMap()["function"])
}

func TestFxPrinter_Printf(t *testing.T) {
	logger, logs := observed()
	infrastructure.NewFxPrinter(logger).Printf("listening on %s", ":9102")

	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "listening on :9102", entries[0].Message)
}

func TestFxIntegration(t *testing.T) {
	logger, logs := observed()

	app := fx.New(
		fx.WithLogger(func() fxevent.Logger { return infrastructure.NewFxLoggerAdapter(logger) }),
		fx.Invoke(func() {}),
	)
	require.NoError(t, app.Err())

	assert.NotZero(t, logs.FilterMessage("Invoked").Len())
}
