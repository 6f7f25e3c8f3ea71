package app

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	return fs
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cuse-ossd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	return path
}

func TestParseDefaults(t *testing.T) {
	// Point at an empty file so a system-wide configuration does not interfere.
	cfg, err := Parse(newFlagSet(), []string{"-c", writeConfig(t, "")})
	require.NoError(t, err)

	assert.Equal(t, "maru", cfg.Device.Name)
	assert.Equal(t, uint32(48000), cfg.Device.Rate)
	assert.Equal(t, uint32(16384), cfg.Device.FragSize)
	assert.Equal(t, uint32(4), cfg.Device.Frags)
	assert.Equal(t, "alsa", cfg.Backend.Type)
	assert.Equal(t, -1, cfg.Backend.Card)
	assert.False(t, cfg.Daemon.Enabled)
}

func TestParseFlags(t *testing.T) {
	cfg, err := Parse(newFlagSet(), []string{
		"-c", writeConfig(t, ""),
		"-M", "14", "--min", "3", "-n", "dsp", "--hw-rate", "44100", "-D", "--backend", "null", "--card", "2",
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(14), cfg.Device.Major)
	assert.Equal(t, uint32(3), cfg.Device.Minor)
	assert.Equal(t, "dsp", cfg.Device.Name)
	assert.Equal(t, uint32(44100), cfg.Device.Rate)
	assert.True(t, cfg.Daemon.Enabled)
	assert.Equal(t, "null", cfg.Backend.Type)
	assert.Equal(t, 2, cfg.Backend.Card)
}

func TestParseFileAndFlags(t *testing.T) {
	path := writeConfig(t, `
device:
  name: usbdsp
  fragsize: 4096
backend:
  type: pulse
log:
  level: debug
`)

	cfg, err := Parse(newFlagSet(), []string{"--config", path, "--hw-fragsize", "8192"})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "usbdsp", cfg.Device.Name)
	assert.Equal(t, "pulse", cfg.Backend.Type)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Flags given on the command line win over the file.
	assert.Equal(t, uint32(8192), cfg.Device.FragSize)

	// Values in neither keep their defaults.
	assert.Equal(t, uint32(48000), cfg.Device.Rate)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(newFlagSet(), []string{"-c", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	_, err = Parse(newFlagSet(), []string{"-c", writeConfig(t, "device: [")})
	assert.Error(t, err)

	_, err = Parse(newFlagSet(), []string{"-c", writeConfig(t, ""), "--backend", "oss"})
	assert.Error(t, err)

	_, err = Parse(newFlagSet(), []string{"-c", writeConfig(t, ""), "--hw-rate", "-1"})
	assert.Error(t, err)

	_, err = Parse(newFlagSet(), []string{"-c", writeConfig(t, ""), "-n", "a/b"})
	assert.Error(t, err)

	_, err = Parse(newFlagSet(), []string{"-c", writeConfig(t, ""), "--profile", "trace"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	log := newLogger(LogConfig{Format: "json", Level: "warn"}, &buf)
	log.Info().Msg("hidden")
	log.Warn().Int("slot", 1).Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, float64(1), entry["slot"])

	buf.Reset()

	log = newLogger(LogConfig{Level: "nonsense"}, &buf)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
	assert.Contains(t, buf.String(), "unknown log level")
}
