package app

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// NewLogger builds the daemon logger from c.
func NewLogger(c LogConfig) zerolog.Logger {
	var writer io.Writer = os.Stderr
	if c.Output == "stdout" {
		writer = os.Stdout
	}

	return newLogger(c, writer)
}

func newLogger(c LogConfig, writer io.Writer) zerolog.Logger {
	if c.Format != "json" {
		console := &zerolog.ConsoleWriter{Out: writer}

		switch c.Format {
		case "text":
			console.NoColor = true
		case "color":
			console.NoColor = false
		default:
			// Autodetect whether the output supports color.
			f, ok := writer.(*os.File)
			console.NoColor = !ok || !isatty.IsTerminal(f.Fd())
		}

		if c.Time != "" {
			console.TimeFormat = "15:04:05.000"
		} else {
			console.PartsOrder = []string{
				zerolog.LevelFieldName,
				zerolog.CallerFieldName,
				zerolog.MessageFieldName,
			}
		}

		writer = console
	}

	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(writer).Level(lvl)

	if c.Time != "" {
		zerolog.TimeFieldFormat = c.Time
		logger = logger.With().Timestamp().Logger()
	}

	if err != nil {
		logger.Warn().Err(err).Str("level", c.Level).Msg("unknown log level, using info")
	}

	return logger
}
