package alsa

import (
	"context"
	"time"

	"github.com/gen2brain/oss"
)

// How often the watcher checks for cancellation while no mixer event arrives.
const watchInterval = 200 * time.Millisecond

// Software levels used when the card has no volume control.
const (
	softMinVolume oss.Volume = fallbackMinDB * 256 / 100
	softMaxVolume oss.Volume = 0
)

// dbToVolume converts 1/100 dB to 1/256 dB.
func dbToVolume(db int) oss.Volume {
	return oss.Volume(db * 256 / 100)
}

// rawToVolume maps a control value onto the dB scale of the control.
func rawToVolume(v, rmin, rmax int, scale DBScale) oss.Volume {
	if rmax <= rmin {
		return dbToVolume(scale.Max)
	}

	v = min(max(v, rmin), rmax)

	return dbToVolume(scale.Min + (v-rmin)*(scale.Max-scale.Min)/(rmax-rmin))
}

// volumeToRaw maps a level onto the nearest control value.
func volumeToRaw(vol oss.Volume, rmin, rmax int, scale DBScale) int {
	lo, hi := dbToVolume(scale.Min), dbToVolume(scale.Max)

	switch {
	case rmax <= rmin || hi <= lo:
		return rmax
	case vol <= lo:
		return rmin
	case vol >= hi:
		return rmax
	}

	span := int(hi - lo)

	return rmin + (int(vol-lo)*(rmax-rmin)+span/2)/span
}

// masterVolume reads the level of the card. t.volMu is held.
func (t *Transport) masterVolume() (oss.VolumeInfo, error) {
	if t.volCtl == nil {
		return oss.VolumeInfo{Current: t.softMaster, Min: softMinVolume, Max: softMaxVolume}, nil
	}

	rmin, err := t.volCtl.RangeMin()
	if err != nil {
		return oss.VolumeInfo{}, err
	}

	rmax, _ := t.volCtl.RangeMax()

	v, err := t.volCtl.Value(0)
	if err != nil {
		return oss.VolumeInfo{}, err
	}

	return oss.VolumeInfo{
		Current: rawToVolume(v, rmin, rmax, t.scale),
		Min:     dbToVolume(t.scale.Min),
		Max:     dbToVolume(t.scale.Max),
	}, nil
}

// Volume implements oss.Transport. Stream levels are applied in software on top of the master
// level, so they share its range. Control requests are synchronous and ignore the timeout.
func (t *Transport) Volume(id oss.StreamID, _ time.Duration) (oss.VolumeInfo, error) {
	t.volMu.Lock()
	defer t.volMu.Unlock()

	info, err := t.masterVolume()
	if err != nil {
		return oss.VolumeInfo{}, err
	}

	if id != oss.StreamMaster {
		s, err := t.lookup(id)
		if err != nil {
			return oss.VolumeInfo{}, err
		}

		info.Current = s.volume + info.Max
	}

	return info, nil
}

// SetVolume implements oss.Transport.
func (t *Transport) SetVolume(id oss.StreamID, vol oss.Volume, _ time.Duration) error {
	t.volMu.Lock()
	defer t.volMu.Unlock()

	if id != oss.StreamMaster {
		s, err := t.lookup(id)
		if err != nil {
			return err
		}

		// Stored relative to the top of the range; 0 plays at full scale.
		top := softMaxVolume
		if t.volCtl != nil {
			top = dbToVolume(t.scale.Max)
		}

		if vol <= oss.VolumeMute {
			s.volume = oss.VolumeMute
		} else {
			s.volume = min(vol-top, 0)
		}

		return nil
	}

	if t.volCtl == nil {
		t.softMaster = min(max(vol, oss.VolumeMute), softMaxVolume)

		return nil
	}

	rmin, err := t.volCtl.RangeMin()
	if err != nil {
		return err
	}

	rmax, _ := t.volCtl.RangeMax()

	return t.volCtl.SetAll(volumeToRaw(vol, rmin, rmax, t.scale))
}

// watch reports changes of the playback volume control until ctx is done. It uses its own
// control handle so that event reads do not race with volume requests.
func (t *Transport) watch(ctx context.Context) error {
	mixer, err := MixerOpen(t.card)
	if err != nil {
		t.log.Warn().Err(err).Msg("mixer watcher disabled")

		return nil
	}
	defer mixer.Close()

	if err := mixer.SubscribeEvents(true); err != nil {
		t.log.Warn().Err(err).Msg("mixer watcher disabled")

		return nil
	}

	id := t.volCtl.ID()

	for ctx.Err() == nil {
		ready, err := mixer.WaitEvent(int(watchInterval / time.Millisecond))
		if err != nil {
			t.log.Warn().Err(err).Msg("mixer watcher stopped")

			return nil
		}

		if !ready {
			continue
		}

		ev, err := mixer.ReadEvent()
		if err != nil {
			t.log.Debug().Err(err).Msg("mixer event")

			continue
		}

		if ev.ControlID != id || ev.Type == SNDRV_CTL_EVENT_MASK_REMOVE {
			continue
		}

		if ev.Type&SNDRV_CTL_EVENT_MASK_INFO != 0 {
			t.volMu.Lock()
			if err := t.volCtl.Update(); err != nil {
				t.log.Debug().Err(err).Msg("failed to update volume control")
			}
			t.volMu.Unlock()
		}

		if ev.Type&SNDRV_CTL_EVENT_MASK_VALUE == 0 {
			continue
		}

		info, err := t.Volume(oss.StreamMaster, 0)
		if err != nil {
			t.log.Warn().Err(err).Msg("failed to read changed volume")

			continue
		}

		t.log.Debug().Int("volume", int(info.Current)).Msg("hardware volume changed")
		t.options.OnVolumeChange(info)
	}

	return nil
}
