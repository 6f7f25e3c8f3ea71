package main

import (
	"github.com/rs/zerolog"

	"github.com/gen2brain/oss"
	"github.com/gen2brain/oss/backend/alsa"
	"github.com/gen2brain/oss/backend/null"
	"github.com/gen2brain/oss/backend/pulse"
	"github.com/gen2brain/oss/cmd/internal/app"
)

// newTransport opens the configured audio output.
func newTransport(c app.BackendConfig, streams int, log zerolog.Logger) (oss.Transport, error) {
	log = log.With().Str("backend", c.Type).Logger()

	switch c.Type {
	case "null":
		return null.New(null.Config{Streams: streams, Logger: &log}), nil

	case "pulse":
		t, err := pulse.New(pulse.Config{Streams: streams, Logger: &log})
		if err != nil {
			return nil, err
		}

		return t, nil

	default:
		t, err := alsa.New(alsa.Options{
			Card:   c.Card,
			Device: c.PCMDevice,
			OnVolumeChange: func(v oss.VolumeInfo) {
				log.Info().Int("volume", int(v.Current)).Int("min", int(v.Min)).Int("max", int(v.Max)).Msg("hardware volume changed")
			},
			Logger: &log,
		})
		if err != nil {
			return nil, err
		}

		return t, nil
	}
}
