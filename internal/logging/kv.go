package logging

import "github.com/rs/zerolog"

// KV adapts a zerolog.Logger to loggers called with alternating key/value
// pairs, such as the command dispatcher's. Pairs with a non-string key and
// a trailing odd value are dropped.
type KV struct {
	logger zerolog.Logger
}

// NewKV wraps logger, tagging events with component when it is set.
func NewKV(logger zerolog.Logger, component string) *KV {
	if component != "" {
		logger = logger.With().Str("component", component).Logger()
	}
	return &KV{logger: logger}
}

func (l *KV) Debug(msg string, keysAndValues ...any) { emit(l.logger.Debug(), msg, keysAndValues) }
func (l *KV) Info(msg string, keysAndValues ...any)  { emit(l.logger.Info(), msg, keysAndValues) }
func (l *KV) Warn(msg string, keysAndValues ...any)  { emit(l.logger.Warn(), msg, keysAndValues) }
func (l *KV) Error(msg string, keysAndValues ...any) { emit(l.logger.Error(), msg, keysAndValues) }

func emit(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr {
			e = e.AnErr(key, err)
		} else {
			e = e.Interface(key, kv[i+1])
		}
	}
	e.Msg(msg)
}
