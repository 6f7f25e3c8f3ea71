package alsa_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/oss/backend/alsa"
)

var defaultConfig = alsa.Config{
	Channels:    2,
	Rate:        48000,
	PeriodSize:  1024,
	PeriodCount: 4,
	Format:      alsa.SNDRV_PCM_FORMAT_S16_LE,
}

func TestPcmOpenInvalidDevice(t *testing.T) {
	config := defaultConfig

	_, err := alsa.PcmOpen(999, 0, 0, &config)
	assert.Error(t, err)

	_, err = alsa.PcmOpenByName("default", 0, &config)
	assert.Error(t, err)
}

func TestPcmParams(t *testing.T) {
	card := requireDummy(t)

	params, err := alsa.PcmParamsGetRefined(card, 0)
	require.NoError(t, err)

	assert.True(t, params.FormatIsSupported(alsa.SNDRV_PCM_FORMAT_S16_LE))
	assert.NotEmpty(t, params.String())

	rmin, err := params.RangeMin(alsa.SNDRV_PCM_HW_PARAM_RATE)
	require.NoError(t, err)
	rmax, err := params.RangeMax(alsa.SNDRV_PCM_HW_PARAM_RATE)
	require.NoError(t, err)
	assert.LessOrEqual(t, rmin, rmax)

	_, err = params.RangeMin(alsa.SNDRV_PCM_HW_PARAM_FORMAT)
	assert.Error(t, err)

	descs := params.Descs(alsa.SNDRV_PCM_FORMAT_S16_LE)
	require.NotEmpty(t, descs)
	assert.Equal(t, uint32(16), descs[0].Bits)
}

func TestPcmPlayback(t *testing.T) {
	card := requireDummy(t)

	config := defaultConfig

	pcm, err := alsa.PcmOpen(card, 0, 0, &config)
	require.NoError(t, err)

	defer pcm.Close()

	assert.True(t, pcm.IsReady())
	assert.Equal(t, uint32(4), pcm.FrameSize())
	assert.Equal(t, alsa.SNDRV_PCM_STATE_SETUP, pcm.State())
	assert.Equal(t, pcm.Config().PeriodSize*pcm.Config().PeriodCount, pcm.BufferSize())
	assert.Equal(t, pcm.FramesToDuration(pcm.Config().PeriodSize), pcm.PeriodTime())

	st, err := pcm.Status()
	require.NoError(t, err)
	assert.Equal(t, pcm.BufferSize(), st.Avail)

	// One period starts the stream.
	data := make([]byte, alsa.PcmFramesToBytes(pcm, pcm.Config().PeriodSize))

	n, err := pcm.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, alsa.SNDRV_PCM_STATE_RUNNING, pcm.State())

	delay, err := pcm.Delay()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, delay, 0)

	// A partial frame is not written.
	n, err = pcm.Write(make([]byte, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ready, err := pcm.Wait(int(time.Second / time.Millisecond))
	require.NoError(t, err)
	assert.True(t, ready)

	require.NoError(t, pcm.Stop())
	assert.Equal(t, alsa.SNDRV_PCM_STATE_SETUP, pcm.State())

	// Writing after a stop prepares the stream again.
	n, err = pcm.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	require.NoError(t, pcm.Close())
	assert.False(t, pcm.IsReady())
}

func TestPcmNonBlocking(t *testing.T) {
	card := requireDummy(t)

	config := defaultConfig
	config.StartThreshold = ^uint32(0) >> 1 // Never start, so the buffer fills up.

	pcm, err := alsa.PcmOpen(card, 0, alsa.PCM_NONBLOCK, &config)
	require.NoError(t, err)

	defer pcm.Close()

	data := make([]byte, alsa.PcmFramesToBytes(pcm, pcm.BufferSize()))

	n, err := pcm.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	st, err := pcm.Status()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), st.Avail)

	_, err = pcm.Write(data[:pcm.FrameSize()])
	assert.Error(t, err)
}

func TestPcmFrameConversion(t *testing.T) {
	assert.Equal(t, uint32(0), alsa.PcmFramesToBytes(nil, 10))
	assert.Equal(t, uint32(0), alsa.PcmBytesToFrames(nil, 10))
}
