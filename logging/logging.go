// Package logging wraps go.uber.org/zap behind a small interface, matching
// the corpus's convention of a package-level GetLogger() plus a
// NewWithDest constructor for tests that want to capture output to a
// string builder instead of stderr.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging surface every module depends on. It mirrors
// zap.SugaredLogger's most-used methods rather than exposing zap types
// directly, so that call sites stay agnostic of the backend.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Panic(args ...any)
	Panicf(format string, args ...any)
	Named(name string) Logger
	Sync() error
}

type zapLogger struct {
	*zap.SugaredLogger
}

func (l zapLogger) Named(name string) Logger {
	return zapLogger{l.SugaredLogger.Named(name)}
}

var (
	defaultOnce   sync.Once
	defaultLogger Logger
)

// GetLogger returns the process-wide default logger: a colorized console
// encoder when stderr is a terminal, a plain JSON encoder otherwise
// (matching the corpus's practice of dialing up machine-readable logs
// under supervision and human-readable logs in a dev terminal).
func GetLogger() Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(os.Stderr)
	})
	return defaultLogger
}

// New builds a Logger writing to dest, auto-detecting whether dest is a
// terminal (via isatty) to decide between a colorized console encoder and
// a plain JSON encoder.
func New(dest *os.File) Logger {
	useColor := isatty.IsTerminal(dest.Fd()) || isatty.IsCygwinTerminal(dest.Fd())
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if useColor {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(dest), zap.DebugLevel)
	return zapLogger{zap.New(core).Sugar()}
}

// NewWithDest builds a Logger writing to an arbitrary io.Writer (not
// necessarily a terminal), tagged with name, matching the corpus's
// logging.NewWithDest(&node.log, "network") used by the in-memory network
// test harness to capture each simulated node's log separately.
func NewWithDest(dest io.Writer, name string) Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)
	core := zapcore.NewCore(encoder, zapcore.AddSync(dest), zap.DebugLevel)
	l := zapLogger{zap.New(core).Sugar()}
	return l.Named(name)
}

// NewNop returns a Logger that discards everything, for tests that don't
// care about log output but still need to satisfy the Logger dependency.
func NewNop() Logger {
	return zapLogger{zap.NewNop().Sugar()}
}
