package alsa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/oss"
)

const procCards = ` 0 [PCH            ]: HDA-Intel - HDA Intel PCH
                      HDA Intel PCH at 0xf7f10000 irq 130
 1 [Device         ]: USB-Audio - USB Audio Device
                      C-Media Electronics Inc. USB Audio Device at usb-0000:00:14.0-2, full speed
 2 [Dummy          ]: Dummy - Dummy 1
                      Dummy 1
`

const procPcm = `00-00: ALC3232 Analog : ALC3232 Analog : playback 1 : capture 1
00-03: HDMI 0 : HDMI 0 : playback 1
01-00: USB Audio : USB Audio : playback 1 : capture 1
02-00: Dummy PCM : Dummy PCM : playback 8 : capture 8
02-01: Dummy Capture : Dummy Capture : capture 2
`

func TestParseCards(t *testing.T) {
	cards := parseCards(procCards, procPcm)
	require.Len(t, cards, 3)

	assert.Equal(t, 0, cards[0].ID)
	assert.Equal(t, "PCH", cards[0].Name)
	assert.Equal(t, "HDA-Intel", cards[0].Driver)
	assert.Len(t, cards[0].Devices, 2)
	assert.False(t, cards[0].IsUSB())

	assert.Equal(t, "Device", cards[1].Name)
	assert.True(t, cards[1].IsUSB())
	require.Len(t, cards[1].Devices, 1)
	assert.Equal(t, "USB Audio", cards[1].Devices[0].Description)

	// Capture-only devices are not listed.
	require.Len(t, cards[2].Devices, 1)
	assert.Equal(t, 8, cards[2].Devices[0].Subdevices)
	assert.Equal(t, "pcm0p", cards[2].Devices[0].Name)
}

func TestParseCardsEmpty(t *testing.T) {
	assert.Empty(t, parseCards("", ""))
	assert.Empty(t, parseCards("--- no soundcards ---\n", ""))
}

func TestFindUSBCard(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, procCards, procPcm)

	card, err := FindUSBCard()
	require.NoError(t, err)
	assert.Equal(t, 1, card.ID)

	writeProc(t, dir, " 2 [Dummy          ]: Dummy - Dummy 1\n", procPcm)

	_, err = FindUSBCard()
	assert.Error(t, err)
}

func TestParseDBScale(t *testing.T) {
	t.Run("Scale", func(t *testing.T) {
		// snd-dummy: -45 dB in 0.3 dB steps over -50..100.
		lo := int32(-4500)
		scale, err := parseDBScale([]uint32{SNDRV_CTL_TLVT_DB_SCALE, 8, uint32(lo), 30}, -50, 100)
		require.NoError(t, err)
		assert.Equal(t, DBScale{Min: -4500, Max: 0}, scale)
	})

	t.Run("ScaleMute", func(t *testing.T) {
		lo := int32(-6000)
		scale, err := parseDBScale([]uint32{SNDRV_CTL_TLVT_DB_SCALE, 8, uint32(lo), 100 | tlvDBScaleMute}, 0, 60)
		require.NoError(t, err)
		assert.Equal(t, DBScale{Min: -6000, Max: 0, Mute: true}, scale)
	})

	t.Run("MinMax", func(t *testing.T) {
		lo, hi := int32(-12750), int32(600)
		scale, err := parseDBScale([]uint32{SNDRV_CTL_TLVT_DB_MINMAX_MUTE, 8, uint32(lo), uint32(hi)}, 0, 255)
		require.NoError(t, err)
		assert.Equal(t, DBScale{Min: -12750, Max: 600, Mute: true}, scale)
	})

	t.Run("Range", func(t *testing.T) {
		lo, mid := int32(-5000), int32(-2000)
		tlv := []uint32{
			SNDRV_CTL_TLVT_DB_RANGE, 4 * 12,
			0, 9, SNDRV_CTL_TLVT_DB_SCALE, 8, uint32(lo), 300,
			10, 29, SNDRV_CTL_TLVT_DB_SCALE, 8, uint32(mid), 100,
		}

		scale, err := parseDBScale(tlv, 0, 29)
		require.NoError(t, err)
		assert.Equal(t, -5000, scale.Min)
		assert.Equal(t, -100, scale.Max)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := parseDBScale([]uint32{SNDRV_CTL_TLVT_DB_SCALE}, 0, 1)
		assert.Error(t, err)

		_, err = parseDBScale([]uint32{SNDRV_CTL_TLVT_DB_SCALE, 64, 0}, 0, 1)
		assert.Error(t, err)

		_, err = parseDBScale([]uint32{SNDRV_CTL_TLVT_DB_LINEAR, 8, 0, 0}, 0, 1)
		assert.Error(t, err)
	})
}

func TestVolumeMapping(t *testing.T) {
	scale := DBScale{Min: -4500, Max: 0}

	assert.Equal(t, oss.Volume(-11520), rawToVolume(-50, -50, 100, scale))
	assert.Equal(t, oss.Volume(0), rawToVolume(100, -50, 100, scale))
	assert.Equal(t, oss.Volume(0), rawToVolume(500, -50, 100, scale))
	assert.Equal(t, oss.Volume(-5760), rawToVolume(25, -50, 100, scale))

	assert.Equal(t, -50, volumeToRaw(oss.VolumeMute, -50, 100, scale))
	assert.Equal(t, 100, volumeToRaw(256, -50, 100, scale))
	assert.Equal(t, 25, volumeToRaw(-5760, -50, 100, scale))

	for raw := -50; raw <= 100; raw++ {
		assert.Equal(t, raw, volumeToRaw(rawToVolume(raw, -50, 100, scale), -50, 100, scale))
	}

	// A fixed control has no range to map.
	assert.Equal(t, oss.Volume(0), rawToVolume(3, 3, 3, scale))
	assert.Equal(t, 3, volumeToRaw(-100, 3, 3, scale))
}

func TestParseName(t *testing.T) {
	card, device, err := ParseName("hw:1,0")
	require.NoError(t, err)
	assert.Equal(t, uint(1), card)
	assert.Equal(t, uint(0), device)

	for _, name := range []string{"default", "hw:1", "hw:a,0", "hw:1,b", "plughw:1,0"} {
		_, _, err := ParseName(name)
		assert.Error(t, err, name)
	}
}

func TestFormatForBits(t *testing.T) {
	for bits, format := range map[uint32]PcmFormat{
		8:  SNDRV_PCM_FORMAT_U8,
		16: SNDRV_PCM_FORMAT_S16_LE,
		24: SNDRV_PCM_FORMAT_S24_3LE,
		32: SNDRV_PCM_FORMAT_S32_LE,
		12: SNDRV_PCM_FORMAT_INVALID,
	} {
		assert.Equal(t, format, FormatForBits(bits))

		if format != SNDRV_PCM_FORMAT_INVALID {
			assert.Equal(t, bits, PcmFormatToBits(format))
		}
	}

	assert.Equal(t, uint32(32), PcmFormatToBits(SNDRV_PCM_FORMAT_S24_LE))
	assert.Equal(t, "S16_LE", SNDRV_PCM_FORMAT_S16_LE.String())
	assert.Equal(t, "FORMAT(99)", PcmFormat(99).String())
}

func TestPcmParamMask(t *testing.T) {
	var m PcmParamMask
	m.bits[0] = 1<<SNDRV_PCM_FORMAT_U8 | 1<<SNDRV_PCM_FORMAT_S16_LE
	m.bits[1] = 1

	assert.True(t, m.Test(uint(SNDRV_PCM_FORMAT_U8)))
	assert.True(t, m.Test(uint(SNDRV_PCM_FORMAT_S16_LE)))
	assert.False(t, m.Test(uint(SNDRV_PCM_FORMAT_S8)))
	assert.True(t, m.Test(32))
	assert.False(t, m.Test(256))
}

func TestDescs(t *testing.T) {
	var hw sndPcmHwParams
	paramInit(&hw)
	paramSetMask(&hw, SNDRV_PCM_HW_PARAM_FORMAT, uint32(SNDRV_PCM_FORMAT_S16_LE))
	paramSetInt(&hw, SNDRV_PCM_HW_PARAM_RATE, 48000)

	ch := &hw.Intervals[SNDRV_PCM_HW_PARAM_CHANNELS-firstIntervalParam]
	ch.MinVal, ch.MaxVal = 1, 8

	descs := (&PcmParams{params: &hw}).Descs(SNDRV_PCM_FORMAT_S16_LE, SNDRV_PCM_FORMAT_U8)
	require.Len(t, descs, 2)

	assert.Equal(t, uint32(1), descs[0].Channels)
	assert.Equal(t, uint32(2), descs[1].Channels)

	for _, d := range descs {
		assert.Equal(t, uint32(16), d.Bits)
		assert.Equal(t, uint32(48000), d.SampleRate)
	}
}

func writeProc(t *testing.T, dir, cards, pcm string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cards"), []byte(cards), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pcm"), []byte(pcm), 0o644))

	old := procAsound
	procAsound = dir

	t.Cleanup(func() { procAsound = old })
}

func TestFrameCarry(t *testing.T) {
	const frame = 4

	whole := func(data []byte) int {
		return len(data) / frame * frame
	}

	t.Run("HoldsTail", func(t *testing.T) {
		var c frameCarry

		data := c.join(make([]byte, 4097))
		require.Len(t, data, 4097)
		assert.Equal(t, 4097, c.advance(data, whole(data), 4096))
		assert.Len(t, c.pending, 1)

		data = c.join([]byte{1, 2, 3})
		require.Equal(t, []byte{0, 1, 2, 3}, data)
		assert.Equal(t, 3, c.advance(data, whole(data), 4))
		assert.Empty(t, c.pending)
	})

	t.Run("LessThanFrame", func(t *testing.T) {
		var c frameCarry

		data := c.join([]byte{1, 2})
		assert.Equal(t, 0, whole(data))
		assert.Equal(t, 2, c.advance(data, 0, 0))
		assert.Equal(t, []byte{1, 2}, c.pending)

		data = c.join([]byte{3})
		assert.Equal(t, 1, c.advance(data, whole(data), 0))
		assert.Equal(t, []byte{1, 2, 3}, c.pending)

		c.reset()
		assert.Empty(t, c.pending)
	})

	t.Run("ShortWrite", func(t *testing.T) {
		var c frameCarry

		data := c.join([]byte{1, 2, 3})
		c.advance(data, 0, 0)

		// Nothing written: the held bytes stay, none of the new input is consumed.
		data = c.join([]byte{4, 5, 6, 7, 8, 9, 10, 11, 12})
		assert.Equal(t, 0, c.advance(data, whole(data), 0))
		assert.Equal(t, []byte{1, 2, 3}, c.pending)

		// One frame written: the held bytes and one new byte went out.
		data = c.join([]byte{4, 5, 6, 7, 8, 9, 10, 11, 12})
		assert.Equal(t, 1, c.advance(data, whole(data), 4))
		assert.Empty(t, c.pending)
	})

	t.Run("PartialHeld", func(t *testing.T) {
		c := frameCarry{pending: []byte{1, 2, 3}}

		// Less than the held bytes went out: the remainder is held again.
		data := c.join([]byte{4, 5, 6, 7, 8})
		assert.Equal(t, 0, c.advance(data, whole(data), 2))
		assert.Equal(t, []byte{3}, c.pending)
	})
}
