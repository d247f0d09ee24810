// Package logging provides the runtime's structured logging (C13): a
// colorized zap console encoder tagged per component, adapted from
// pkg/logging/logger.go.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes.
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"

	BrightRed    = "\033[91m"
	BrightGreen  = "\033[92m"
	BrightYellow = "\033[93m"
	BrightBlue   = "\033[94m"
	BrightCyan   = "\033[96m"
	BrightWhite  = "\033[97m"
)

// ColoredLogger wraps zap.Logger with colored, per-component output.
type ColoredLogger struct {
	*zap.Logger
	enableColors bool
}

// Component tags which runtime subsystem emitted a log line.
type Component string

const (
	ComponentGateway  Component = "GATEWAY"
	ComponentEngine   Component = "ENGINE"
	ComponentStore    Component = "STORE"
	ComponentBytecode Component = "BYTECODE"
	ComponentSQL      Component = "SQL"
)

func getComponentColor(component Component) string {
	switch component {
	case ComponentGateway:
		return BrightBlue
	case ComponentEngine:
		return BrightCyan
	case ComponentStore:
		return BrightYellow
	case ComponentBytecode:
		return Green
	case ComponentSQL:
		return Magenta
	default:
		return White
	}
}

func getLevelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return Gray
	case zapcore.InfoLevel:
		return BrightWhite
	case zapcore.WarnLevel:
		return BrightYellow
	case zapcore.ErrorLevel:
		return BrightRed
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return Red
	default:
		return White
	}
}

func coloredConsoleEncoder(enableColors bool) zapcore.Encoder {
	config := zap.NewDevelopmentEncoderConfig()
	config.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		timeStr := t.Format("2006-01-02T15:04:05.000Z0700")
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s", Dim, timeStr, Reset))
		} else {
			enc.AppendString(timeStr)
		}
	}
	config.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		levelStr := strings.ToUpper(level.String())
		if enableColors {
			color := getLevelColor(level)
			enc.AppendString(fmt.Sprintf("%s%s%-5s%s", color, Bold, levelStr, Reset))
		} else {
			enc.AppendString(fmt.Sprintf("%-5s", levelStr))
		}
	}
	config.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s", Dim, caller.TrimmedPath(), Reset))
		} else {
			enc.AppendString(caller.TrimmedPath())
		}
	}
	return zapcore.NewConsoleEncoder(config)
}

// NewColoredLogger constructs a ColoredLogger writing to stdout at debug
// level, with colors enabled or disabled explicitly.
func NewColoredLogger(enableColors bool) (*ColoredLogger, error) {
	encoder := coloredConsoleEncoder(enableColors)
	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapcore.DebugLevel)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &ColoredLogger{Logger: logger, enableColors: enableColors}, nil
}

// NewDefaultLogger constructs a ColoredLogger with colors enabled.
func NewDefaultLogger() (*ColoredLogger, error) {
	return NewColoredLogger(true)
}

func (l *ColoredLogger) tag(component Component, msg string) string {
	if l.enableColors {
		color := getComponentColor(component)
		return fmt.Sprintf("%s[%s]%s %s", color, component, Reset, msg)
	}
	return fmt.Sprintf("[%s] %s", component, msg)
}

// ComponentInfo logs at info level, tagged with component.
func (l *ColoredLogger) ComponentInfo(component Component, msg string, fields ...zap.Field) {
	l.Info(l.tag(component, msg), fields...)
}

// ComponentWarn logs at warn level, tagged with component.
func (l *ColoredLogger) ComponentWarn(component Component, msg string, fields ...zap.Field) {
	l.Warn(l.tag(component, msg), fields...)
}

// ComponentError logs at error level, tagged with component.
func (l *ColoredLogger) ComponentError(component Component, msg string, fields ...zap.Field) {
	l.Error(l.tag(component, msg), fields...)
}

// ComponentDebug logs at debug level, tagged with component.
func (l *ColoredLogger) ComponentDebug(component Component, msg string, fields ...zap.Field) {
	l.Debug(l.tag(component, msg), fields...)
}
