package logging

import "github.com/rs/zerolog"

// CommandLogger satisfies the dispatcher's logging surface on top of a
// zerolog.Logger. Key-value pairs are passed straight through; zerolog
// ignores a dangling key.
type CommandLogger struct {
	zl zerolog.Logger
}

// NewCommandLogger wraps a zerolog.Logger for the command dispatcher.
func NewCommandLogger(zl zerolog.Logger) *CommandLogger {
	return &CommandLogger{zl: zl}
}

func (l *CommandLogger) Debug(msg string, keysAndValues ...any) {
	l.zl.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *CommandLogger) Info(msg string, keysAndValues ...any) {
	l.zl.Info().Fields(keysAndValues).Msg(msg)
}

func (l *CommandLogger) Error(msg string, keysAndValues ...any) {
	l.zl.Error().Fields(keysAndValues).Msg(msg)
}
