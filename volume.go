package oss

import (
	"time"
)

const volumeTimeout = 50 * time.Millisecond

// percentToVolume maps a 0..100 level onto the native range [lo, hi]. Zero mutes.
func percentToVolume(percent int, lo, hi Volume) Volume {
	if percent == 0 {
		return VolumeMute
	}

	vol := (int(hi)*percent + int(lo)*(100-percent)) / 100

	if vol < int(lo) && percent > 0 {
		vol = int(lo)
	} else if vol > int(hi) {
		vol = int(hi)
	}

	return Volume(vol)
}

// volumeToPercent maps a native level onto 0..100.
func volumeToPercent(cur, lo, hi Volume) int {
	if lo >= hi {
		return 100
	}

	if cur < lo {
		return 0
	}

	if cur > hi {
		return 100
	}

	return 100 * int(cur-lo) / int(hi-lo)
}

// setVolume sets the level of the stream of s, or the master level if unbound. d.mu is held.
func (d *Device) setVolume(s *Stream, percent int) error {
	vol := percentToVolume(percent, d.minVol, d.maxVol)

	if err := d.transport.SetVolume(s.stream(), vol, volumeTimeout); err != nil {
		d.log.Warn().Err(err).Int("slot", s.index).Int("volume", int(vol)).Msg("failed to set volume")

		return ErrIO
	}

	s.volume = percent

	return nil
}

// readVolume refreshes the cached level of s. d.mu is held.
func (d *Device) readVolume(s *Stream) error {
	info, err := d.transport.Volume(s.stream(), volumeTimeout)
	if err != nil {
		d.log.Warn().Err(err).Int("slot", s.index).Msg("failed to read volume")

		return ErrIO
	}

	s.volume = volumeToPercent(info.Current, d.minVol, d.maxVol)

	return nil
}
