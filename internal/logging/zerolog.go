// zerolog.go: zerolog-backed Logger, wired only at the composition root
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements Logger on top of github.com/rs/zerolog,
// treating the variadic keyvals as alternating key/value pairs the way
// the teacher's Logger interface documents.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter builds a console-friendly zerolog logger writing to
// stderr at the given level ("debug", "info", "warn", "error"). An
// unrecognized level falls back to "info".
func NewZerologAdapter(level string) *ZerologAdapter {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	base := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()
	return &ZerologAdapter{logger: base}
}

func (z *ZerologAdapter) with(keyvals []interface{}) zerolog.Context {
	ctx := z.logger.With()
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, keyvals[i+1])
	}
	return ctx
}

func (z *ZerologAdapter) Debug(msg string, keyvals ...interface{}) {
	z.with(keyvals).Logger().Debug().Msg(msg)
}

func (z *ZerologAdapter) Info(msg string, keyvals ...interface{}) {
	z.with(keyvals).Logger().Info().Msg(msg)
}

func (z *ZerologAdapter) Warn(msg string, keyvals ...interface{}) {
	z.with(keyvals).Logger().Warn().Msg(msg)
}

func (z *ZerologAdapter) Error(msg string, keyvals ...interface{}) {
	z.with(keyvals).Logger().Error().Msg(msg)
}
