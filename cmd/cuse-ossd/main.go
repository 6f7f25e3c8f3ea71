// Command cuse-ossd emulates an OSS /dev/dsp device in userspace and plays everything written to
// it on one audio output, normally a USB audio card.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	daemon "github.com/sevlyar/go-daemon"

	"github.com/gen2brain/oss"
	"github.com/gen2brain/oss/cmd/internal/app"
	"github.com/gen2brain/oss/cuse"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Creates an OSS DSP device node backed by a USB audio card.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	cfg, err := app.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	log := app.NewLogger(cfg.Log)

	if cfg.Path != "" {
		log.Debug().Str("path", cfg.Path).Msg("configuration loaded")
	}

	if cfg.Daemon.Enabled {
		cntxt := &daemon.Context{
			PidFileName: cfg.Daemon.PidFile,
			PidFilePerm: 0644,
			LogFileName: cfg.Daemon.LogFile,
			LogFilePerm: 0640,
		}

		d, err := cntxt.Reborn()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start daemon")
		}

		if d != nil {
			log.Info().Int("pid", d.Pid).Msg("daemon started")

			return
		}

		defer cntxt.Release()
	}

	if cfg.Profile != "" {
		defer startProfile(cfg.Profile).Stop()
	}

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Send()
		os.Exit(1)
	}
}

func run(cfg *app.Config, log zerolog.Logger) error {
	transport, err := newTransport(cfg.Backend, cfg.Device.Streams, log)
	if err != nil {
		return err
	}

	dev, err := oss.NewDevice(transport, oss.Config{
		SampleRate:    cfg.Device.Rate,
		FragmentSize:  cfg.Device.FragSize,
		FragmentCount: cfg.Device.Frags,
		MaxStreams:    cfg.Device.Streams,
		Logger:        &log,
	})
	if err != nil {
		_ = transport.Close()

		return err
	}

	defer func() {
		if err := dev.Close(); err != nil {
			log.Warn().Err(err).Msg("device teardown")
		}
	}()

	srv, err := cuse.Mount("", cuse.Config{
		Name:    cfg.Device.Name,
		Major:   cfg.Device.Major,
		Minor:   cfg.Device.Minor,
		Workers: cfg.Device.Workers,
		Logger:  &log,
	}, &ops{dev: dev})
	if err != nil {
		return err
	}

	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go dumpStreams(ctx, dev, log)

	dc := dev.Config()

	log.Info().
		Str("device", "/dev/"+cfg.Device.Name).
		Str("backend", cfg.Backend.Type).
		Uint32("rate", dc.SampleRate).
		Uint32("fragsize", dc.FragmentSize).
		Uint32("frags", dc.FragmentCount).
		Msg("serving")

	if err := srv.Serve(ctx); err != nil {
		return err
	}

	log.Info().Msg("shutting down")

	return nil
}

// dumpStreams logs the open streams whenever SIGUSR1 arrives.
func dumpStreams(ctx context.Context, dev *oss.Device, log zerolog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
		}

		streams := dev.Streams()
		log.Info().Int("open", len(streams)).Msg("streams")

		for _, s := range streams {
			log.Info().
				Int("slot", s.Slot).
				Uint32("pid", s.PID).
				Str("process", s.ProcessName).
				Bool("bound", s.Bound).
				Bool("failed", s.Failed).
				Uint32("rate", s.SampleRate).
				Uint32("channels", s.Channels).
				Uint32("bits", s.Bits).
				Uint32("fragsize", s.FragSize).
				Uint32("frags", s.Frags).
				Uint64("written", s.Written).
				Send()
		}
	}
}
