// Package infrastructure routes Fx's own event stream into zap.
package infrastructure

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// FxLogger writes Fx lifecycle events as structured zap entries. Successful
// wiring steps go to debug so an info-level run only shows start, stop and
// failures.
type FxLogger struct {
	logger *zap.Logger
}

var (
	_ fxevent.Logger = (*FxLogger)(nil)
	_ fx.Printer     = (*FxLogger)(nil)
)

// NewFxLoggerAdapter returns an fxevent.Logger for fx.WithLogger.
func NewFxLoggerAdapter(logger *zap.Logger) fxevent.Logger {
	return &FxLogger{logger: logger.Named("fx")}
}

// NewFxPrinter returns an fx.Printer backed by logger.
func NewFxPrinter(logger *zap.Logger) fx.Printer {
	return &FxLogger{logger: logger.Named("fx")}
}

// LogEvent implements fxevent.Logger.
func (l *FxLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		l.logger.Debug("OnStart hook executing",
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName))
	case *fxevent.OnStartExecuted:
		l.hookResult("OnStart", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuting:
		l.logger.Debug("OnStop hook executing",
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName))
	case *fxevent.OnStopExecuted:
		l.hookResult("OnStop", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.Supplied:
		l.result("Supplied", e.Err, zap.String("type", e.TypeName), zap.String("module", e.ModuleName))
	case *fxevent.Provided:
		l.result("Provided", e.Err,
			zap.Strings("types", e.OutputTypeNames),
			zap.String("constructor", e.ConstructorName),
			zap.String("module", e.ModuleName))
	case *fxevent.Decorated:
		l.result("Decorated", e.Err,
			zap.Strings("types", e.OutputTypeNames),
			zap.String("decorator", e.DecoratorName),
			zap.String("module", e.ModuleName))
	case *fxevent.Invoking:
		l.logger.Debug("Invoking", zap.String("function", e.FunctionName), zap.String("module", e.ModuleName))
	case *fxevent.Invoked:
		l.result("Invoked", e.Err, zap.String("function", e.FunctionName), zap.String("module", e.ModuleName))
	case *fxevent.Stopping:
		l.logger.Info("Received signal", zap.String("signal", e.Signal.String()))
	case *fxevent.Stopped:
		l.lifecycle("Stopped", e.Err)
	case *fxevent.RollingBack:
		l.logger.Error("Start failed, rolling back", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		l.lifecycle("Rolled back", e.Err)
	case *fxevent.Started:
		l.lifecycle("Started", e.Err)
	case *fxevent.LoggerInitialized:
		l.result("Logger initialized", e.Err, zap.String("constructor", e.ConstructorName))
	default:
		l.logger.Debug("Unhandled Fx event", zap.Any("event", event))
	}
}

// Printf implements fx.Printer.
func (l *FxLogger) Printf(format string, args ...any) {
	l.logger.Sugar().Infof(format, args...)
}

func (l *FxLogger) hookResult(hook, callee, caller, runtime string, err error) {
	fields := []zap.Field{zap.String("callee", callee), zap.String("caller", caller)}
	if err != nil {
		l.logger.Error(hook+" hook failed", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Debug(hook+" hook executed", append(fields, zap.String("runtime", runtime))...)
}

func (l *FxLogger) result(msg string, err error, fields ...zap.Field) {
	if err != nil {
		l.logger.Error(msg+" with error", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Debug(msg, fields...)
}

func (l *FxLogger) lifecycle(msg string, err error) {
	if err != nil {
		l.logger.Error(msg+" with error", zap.Error(err))
		return
	}
	l.logger.Info(msg)
}
