package alsa_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/oss/backend/alsa"
)

// To run the hardware tests, the 'snd-dummy' kernel module must be loaded:
//
// sudo modprobe snd-dummy
//
// This creates a virtual sound card with a playback PCM of 8 subdevices and volume controls.

func TestMixerInvalidParameters(t *testing.T) {
	var nilMixer *alsa.Mixer
	var nilCtl *alsa.MixerCtl

	assert.NotPanics(t, func() {
		assert.NoError(t, nilMixer.Close())
	})

	assert.Equal(t, "", nilMixer.Name())
	assert.Equal(t, 0, nilMixer.NumCtls())

	_, err := nilMixer.Ctl(0)
	assert.Error(t, err)

	_, err = nilMixer.CtlByName("test")
	assert.Error(t, err)

	_, err = nilMixer.PlaybackVolume()
	assert.Error(t, err)

	_, err = nilMixer.PcmInfo(0)
	assert.Error(t, err)

	assert.Error(t, nilMixer.PreferSubdevice(0))
	assert.Error(t, nilMixer.SubscribeEvents(true))

	_, err = nilMixer.WaitEvent(0)
	assert.Error(t, err)

	_, err = nilMixer.ReadEvent()
	assert.Error(t, err)

	assert.Equal(t, "", nilCtl.Name())
	assert.NotEqual(t, uint32(0), nilCtl.ID())
	assert.Equal(t, alsa.SNDRV_CTL_ELEM_TYPE_UNKNOWN, nilCtl.Type())
	assert.Equal(t, uint32(0), nilCtl.NumValues())

	_, err = nilCtl.Value(0)
	assert.Error(t, err)

	assert.Error(t, nilCtl.SetValue(0, 0))
	assert.Error(t, nilCtl.SetAll(0))

	_, err = nilCtl.DBScale()
	assert.Error(t, err)

	_, err = nilCtl.RangeMin()
	assert.Error(t, err)
}

func TestMixerOpenInvalidCard(t *testing.T) {
	_, err := alsa.MixerOpen(999)
	assert.Error(t, err)
}

// TestMixerHardware runs all hardware-related tests sequentially to avoid races on the shared controls.
func TestMixerHardware(t *testing.T) {
	card := requireDummy(t)

	mixer, err := alsa.MixerOpen(card)
	require.NoError(t, err)

	defer mixer.Close()

	t.Run("Info", func(t *testing.T) {
		assert.Equal(t, card, mixer.Card())
		assert.NotEmpty(t, mixer.Name())
		assert.Greater(t, mixer.NumCtls(), 0)

		info, err := mixer.PcmInfo(0)
		require.NoError(t, err)
		assert.Greater(t, info.Subdevices, uint32(0))
		assert.NoError(t, mixer.PreferSubdevice(0))
	})

	t.Run("PlaybackVolume", func(t *testing.T) {
		ctl, err := mixer.PlaybackVolume()
		require.NoError(t, err)
		assert.Equal(t, alsa.SNDRV_CTL_ELEM_TYPE_INTEGER, ctl.Type())

		same, err := mixer.Ctl(ctl.ID())
		require.NoError(t, err)
		assert.Equal(t, ctl.Name(), same.Name())
	})

	t.Run("DBScale", func(t *testing.T) {
		ctl, err := mixer.PlaybackVolume()
		require.NoError(t, err)

		scale, err := ctl.DBScale()
		require.NoError(t, err)
		assert.Less(t, scale.Min, scale.Max)
	})

	t.Run("SetValue", func(t *testing.T) {
		ctl, err := mixer.PlaybackVolume()
		require.NoError(t, err)

		orig, err := ctl.Value(0)
		require.NoError(t, err)

		defer ctl.SetAll(orig)

		rmin, _ := ctl.RangeMin()
		rmax, _ := ctl.RangeMax()

		require.NoError(t, ctl.SetAll(rmin))
		for i := uint(0); i < uint(ctl.NumValues()); i++ {
			v, err := ctl.Value(i)
			require.NoError(t, err)
			assert.Equal(t, rmin, v)
		}

		// Out of range values are clamped.
		require.NoError(t, ctl.SetValue(0, rmax+1000))
		v, err := ctl.Value(0)
		require.NoError(t, err)
		assert.Equal(t, rmax, v)

		_, err = ctl.Value(uint(ctl.NumValues()))
		assert.Error(t, err)
	})

	t.Run("Events", func(t *testing.T) {
		watcher, err := alsa.MixerOpen(card)
		require.NoError(t, err)

		defer watcher.Close()

		require.NoError(t, watcher.SubscribeEvents(true))

		ctl, err := mixer.PlaybackVolume()
		require.NoError(t, err)

		orig, err := ctl.Value(0)
		require.NoError(t, err)

		defer ctl.SetAll(orig)

		rmin, _ := ctl.RangeMin()
		rmax, _ := ctl.RangeMax()

		next := rmin
		if orig == rmin {
			next = rmax
		}

		require.NoError(t, ctl.SetAll(next))

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			ready, err := watcher.WaitEvent(100)
			require.NoError(t, err)

			if !ready {
				continue
			}

			ev, err := watcher.ReadEvent()
			require.NoError(t, err)

			if ev.ControlID == ctl.ID() && ev.Type&alsa.SNDRV_CTL_EVENT_MASK_VALUE != 0 {
				return
			}
		}

		t.Fatal("no value event for the volume control")
	})

	t.Run("Refresh", func(t *testing.T) {
		n := mixer.NumCtls()
		require.NoError(t, mixer.Refresh())
		assert.Equal(t, n, mixer.NumCtls())
	})
}
