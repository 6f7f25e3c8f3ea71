// Package app holds the configuration and logging setup of the daemon.
package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when no configuration file is given. It may be missing.
const DefaultConfigPath = "/etc/cuse-ossd.yaml"

// DeviceConfig describes the emulated device node.
type DeviceConfig struct {
	Name     string `yaml:"name"`
	Major    uint32 `yaml:"major"`
	Minor    uint32 `yaml:"minor"`
	Rate     uint32 `yaml:"rate"`
	FragSize uint32 `yaml:"fragsize"`
	Frags    uint32 `yaml:"frags"`
	Streams  int    `yaml:"streams"`
	Workers  int    `yaml:"workers"`
}

// BackendConfig selects the audio output.
type BackendConfig struct {
	Type      string `yaml:"type"` // alsa, pulse or null.
	Card      int    `yaml:"card"` // ALSA card, -1 picks the first USB audio card.
	PCMDevice uint   `yaml:"pcm_device"`
}

// LogConfig controls the logger.
//   - output: stderr, stdout
//   - format: empty (autodetect color support), color, json, text
//   - time:   empty (no timestamp) or a zerolog time format
//   - level:  disabled, trace, debug, info, warn, error
type LogConfig struct {
	Output string `yaml:"output"`
	Format string `yaml:"format"`
	Time   string `yaml:"time"`
	Level  string `yaml:"level"`
}

// DaemonConfig controls detaching from the terminal.
type DaemonConfig struct {
	Enabled bool   `yaml:"enabled"`
	PidFile string `yaml:"pid_file"`
	LogFile string `yaml:"log_file"`
}

// Config is the complete daemon configuration.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Backend BackendConfig `yaml:"backend"`
	Log     LogConfig     `yaml:"log"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Profile string        `yaml:"profile"` // cpu, mem or block.

	// Path is the configuration file that was read, if any.
	Path string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:     "maru",
			Rate:     48000,
			FragSize: 16 * 1024,
			Frags:    4,
			Streams:  8,
			Workers:  16,
		},
		Backend: BackendConfig{
			Type: "alsa",
			Card: -1,
		},
		Log: LogConfig{
			Output: "stderr",
			Level:  "info",
		},
	}
}

// Load overlays the YAML file at path on c. A missing default file is not an error.
func (c *Config) Load(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	c.Path = path

	return nil
}

// Validate checks the values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case "alsa", "pulse", "null":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend.Type)
	}

	switch c.Profile {
	case "", "cpu", "mem", "block":
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}

	if c.Device.Name == "" || strings.ContainsRune(c.Device.Name, '/') {
		return fmt.Errorf("invalid device name %q", c.Device.Name)
	}

	if c.Device.Rate == 0 || c.Device.FragSize == 0 || c.Device.Frags == 0 {
		return fmt.Errorf("rate, fragment size and fragment count must be positive")
	}

	return nil
}

// Parse builds the configuration from the command line: defaults, then the configuration file,
// then the options given on the command line.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	def := Default()

	var (
		path string
		cli  Config
	)

	fs.StringVar(&path, "c", "", "Configuration file (default "+DefaultConfigPath+")")
	fs.StringVar(&path, "config", "", "Configuration file (default "+DefaultConfigPath+")")

	uint32Var(fs, &cli.Device.Major, def.Device.Major, "Device major number, 0 lets the kernel pick", "M", "maj")
	uint32Var(fs, &cli.Device.Minor, def.Device.Minor, "Device minor number", "m", "min")
	stringVar(fs, &cli.Device.Name, def.Device.Name, "Device name, the node is /dev/<name>", "n", "name")
	uint32Var(fs, &cli.Device.Frags, def.Device.Frags, "Default fragment count", "hw-frags")
	uint32Var(fs, &cli.Device.FragSize, def.Device.FragSize, "Default fragment size in bytes", "hw-fragsize")
	uint32Var(fs, &cli.Device.Rate, def.Device.Rate, "Default sample rate", "hw-rate")
	fs.IntVar(&cli.Device.Streams, "streams", def.Device.Streams, "Concurrently open files")
	fs.IntVar(&cli.Device.Workers, "workers", def.Device.Workers, "Requests handled concurrently")

	stringVar(fs, &cli.Backend.Type, def.Backend.Type, "Audio output: alsa, pulse or null", "backend")
	fs.IntVar(&cli.Backend.Card, "card", def.Backend.Card, "ALSA card number, -1 picks the first USB audio card")
	fs.UintVar(&cli.Backend.PCMDevice, "pcm-device", def.Backend.PCMDevice, "ALSA playback device of the card")

	boolVar(fs, &cli.Daemon.Enabled, false, "Run in the background", "D", "daemon")
	stringVar(fs, &cli.Daemon.PidFile, "", "PID file when running in the background", "pid-file")
	stringVar(fs, &cli.Log.Level, def.Log.Level, "Log level: trace, debug, info, warn, error", "log-level")
	stringVar(fs, &cli.Log.Format, def.Log.Format, "Log format: color, text or json", "log-format")
	stringVar(fs, &cli.Profile, "", "Write a profile on exit: cpu, mem or block", "profile")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	if err := cfg.Load(path); err != nil {
		return nil, err
	}

	set := map[string]func(){
		"M":           func() { cfg.Device.Major = cli.Device.Major },
		"maj":         func() { cfg.Device.Major = cli.Device.Major },
		"m":           func() { cfg.Device.Minor = cli.Device.Minor },
		"min":         func() { cfg.Device.Minor = cli.Device.Minor },
		"n":           func() { cfg.Device.Name = cli.Device.Name },
		"name":        func() { cfg.Device.Name = cli.Device.Name },
		"hw-frags":    func() { cfg.Device.Frags = cli.Device.Frags },
		"hw-fragsize": func() { cfg.Device.FragSize = cli.Device.FragSize },
		"hw-rate":     func() { cfg.Device.Rate = cli.Device.Rate },
		"streams":     func() { cfg.Device.Streams = cli.Device.Streams },
		"workers":     func() { cfg.Device.Workers = cli.Device.Workers },
		"backend":     func() { cfg.Backend.Type = cli.Backend.Type },
		"card":        func() { cfg.Backend.Card = cli.Backend.Card },
		"pcm-device":  func() { cfg.Backend.PCMDevice = cli.Backend.PCMDevice },
		"D":           func() { cfg.Daemon.Enabled = cli.Daemon.Enabled },
		"daemon":      func() { cfg.Daemon.Enabled = cli.Daemon.Enabled },
		"pid-file":    func() { cfg.Daemon.PidFile = cli.Daemon.PidFile },
		"log-level":   func() { cfg.Log.Level = cli.Log.Level },
		"log-format":  func() { cfg.Log.Format = cli.Log.Format },
		"profile":     func() { cfg.Profile = cli.Profile },
	}

	fs.Visit(func(f *flag.Flag) {
		if fn, ok := set[f.Name]; ok {
			fn()
		}
	})

	return cfg, cfg.Validate()
}

func stringVar(fs *flag.FlagSet, p *string, value, usage string, names ...string) {
	for _, name := range names {
		fs.StringVar(p, name, value, usage)
	}
}

func boolVar(fs *flag.FlagSet, p *bool, value bool, usage string, names ...string) {
	for _, name := range names {
		fs.BoolVar(p, name, value, usage)
	}
}

// uint32Var registers a uint32 option; flag has no such type.
func uint32Var(fs *flag.FlagSet, p *uint32, value uint32, usage string, names ...string) {
	*p = value

	for _, name := range names {
		fs.Func(name, fmt.Sprintf("%s (default %d)", usage, value), func(s string) error {
			v, err := strconv.ParseUint(s, 0, 32)
			if err != nil {
				return fmt.Errorf("invalid value %q", s)
			}

			*p = uint32(v)

			return nil
		})
	}
}
