package ioc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncoders(t *testing.T) {
	// Values from <sys/soundcard.h> and <sound/asound.h> on x86_64.
	assert.Equal(t, uintptr(0x00005000), IO('P', 0), "SNDCTL_DSP_RESET")
	assert.Equal(t, uintptr(0xc0045002), IOWR('P', 2, 4), "SNDCTL_DSP_SPEED")
	assert.Equal(t, uintptr(0x8010500c), IOR('P', 12, 16), "SNDCTL_DSP_GETOSPACE")
	assert.Equal(t, uintptr(0x40045010), IOW('P', 16, 4), "SNDCTL_DSP_SETTRIGGER")
	assert.Equal(t, uintptr(0x80044d76), IOR('M', 118, 4), "OSS_GETVERSION")
}

func TestDecoders(t *testing.T) {
	req := IOWR('P', 10, 4)
	assert.Equal(t, uintptr(4), Size(req))
	assert.True(t, Reads(req))
	assert.True(t, Writes(req))

	req = IOR('P', 18, 12)
	assert.Equal(t, uintptr(12), Size(req))
	assert.True(t, Reads(req))
	assert.False(t, Writes(req))

	req = IO('P', 14)
	assert.Equal(t, uintptr(0), Size(req))
	assert.False(t, Reads(req))
	assert.False(t, Writes(req))
}
