package log

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger and installs it as the zap global.
// format is "json" or "console".
func NewLogger(debug bool, format string) *zap.Logger {
	return newLogger(debug, format, nil)
}

func newLogger(debug bool, format string, out io.Writer) *zap.Logger {
	pe := zap.NewProductionEncoderConfig()
	pe.EncodeTime = zapcore.ISO8601TimeEncoder
	pe.MessageKey = "message"
	pe.TimeKey = "time"

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(pe)
		if out == nil {
			out = os.Stdout
		}
	} else {
		pe.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(pe)
		if out == nil {
			out = colorable.NewColorableStdout()
		}
	}

	logger := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(out), level))
	zap.ReplaceGlobals(logger)

	return logger
}
