package temporal

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// Logger routes SDK, workflow and activity logs into zerolog. It implements
// log.WithLogger, so fields the SDK or our activities attach with log.With
// stay on every later line.
type Logger struct {
	zl zerolog.Logger
}

var (
	_ log.Logger     = (*Logger)(nil)
	_ log.WithLogger = (*Logger)(nil)
)

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{zl: logger.With().Str("component", "temporal").Logger()}
}

func (l *Logger) With(keyvals ...interface{}) log.Logger {
	if len(keyvals) == 0 {
		return l
	}
	return &Logger{zl: l.zl.With().Fields(fields(keyvals)).Logger()}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { emit(l.zl.Debug(), msg, keyvals) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { emit(l.zl.Info(), msg, keyvals) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { emit(l.zl.Warn(), msg, keyvals) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { emit(l.zl.Error(), msg, keyvals) }

func emit(e *zerolog.Event, msg string, keyvals []interface{}) {
	if len(keyvals) > 0 {
		e = e.Fields(fields(keyvals))
	}
	e.Msg(msg)
}

// fields pairs up the SDK's alternating key/value list. Keys that are not
// strings are formatted; a trailing key without a value maps to nil.
func fields(keyvals []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		var val interface{}
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		m[key] = val
	}
	return m
}
