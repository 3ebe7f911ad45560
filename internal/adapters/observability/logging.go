package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a zerolog Logger tagged with the component name.
// APP_ENV=dev (or development) uses a human-friendly console writer.
func NewLogger(env, component string) zerolog.Logger {
	return newLogger(os.Stdout, env, component)
}

func newLogger(out io.Writer, env, component string) zerolog.Logger {
	if env == "dev" || env == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Str("component", component).Logger()
}
