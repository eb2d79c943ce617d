// Package logging builds the tool's zap logger and adapts it to the
// bootloader's key/value Logger.
package logging

import (
	"io"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/moffa90/go-blflash/bootloader"
)

// New returns a console logger writing to w at level. Info messages have no
// level prefix; other levels are colored unless color output is disabled.
func New(w io.Writer, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	ec := zapcore.EncoderConfig{
		LevelKey:         "l",
		MessageKey:       "m",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
		EncodeLevel: func(l zapcore.Level, pae zapcore.PrimitiveArrayEncoder) {
			if l == zap.InfoLevel {
				return
			}

			if color.NoColor {
				zapcore.CapitalLevelEncoder(l, pae)
			} else {
				zapcore.CapitalColorLevelEncoder(l, pae)
			}
		},
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.AddSync(w), lvl)

	return zap.New(core), nil
}

type bootloaderLogger struct {
	s *zap.SugaredLogger
}

// Bootloader adapts l to bootloader.Logger.
func Bootloader(l *zap.Logger) bootloader.Logger {
	return bootloaderLogger{s: l.Named("bootloader").Sugar()}
}

func (b bootloaderLogger) Debug(msg string, keysAndValues ...interface{}) {
	b.s.Debugw(msg, keysAndValues...)
}

func (b bootloaderLogger) Info(msg string, keysAndValues ...interface{}) {
	b.s.Infow(msg, keysAndValues...)
}

func (b bootloaderLogger) Error(msg string, keysAndValues ...interface{}) {
	b.s.Errorw(msg, keysAndValues...)
}
