// Package obs wires up the process-wide structured logger used across
// every umicp package.
package obs

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the global zerolog logger for a component named
// component and returns it. Callers that want a sub-logger for a
// narrower scope should call .With()... on the result rather than
// calling Init again.
func Init(component string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("component", component).Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}

// Named returns a child logger scoped to a sub-component, e.g.
// Named(base, "transport.websocket").
func Named(base zerolog.Logger, sub string) zerolog.Logger {
	return base.With().Str("subcomponent", sub).Logger()
}
