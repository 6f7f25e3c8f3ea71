package alsa

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mixer represents an open ALSA control device handle.
type Mixer struct {
	file     *os.File
	card     uint
	cardInfo sndCtlCardInfo
	Ctls     []*MixerCtl
	ctlMap   map[string][]*MixerCtl // Maps a name to one or more controls
	ctlIdMap map[uint32]*MixerCtl   // Maps a numid to its control
}

// MixerOpen opens the control device of a sound card and enumerates its controls.
func MixerOpen(card uint) (*Mixer, error) {
	path := fmt.Sprintf("/dev/snd/controlC%d", card)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open mixer device %s: %w", path, err)
	}

	mixer := &Mixer{
		file: file,
		card: card,
	}

	if err := ioctl(mixer.file.Fd(), SNDRV_CTL_IOCTL_CARD_INFO, uintptr(unsafe.Pointer(&mixer.cardInfo))); err != nil {
		_ = mixer.Close()

		return nil, fmt.Errorf("ioctl CARD_INFO failed: %w", err)
	}

	if err := mixer.enumerate(); err != nil {
		_ = mixer.Close()

		return nil, fmt.Errorf("failed to enumerate controls: %w", err)
	}

	return mixer, nil
}

// Close closes the mixer device handle.
func (m *Mixer) Close() error {
	if m == nil || m.file == nil {
		return nil
	}

	err := m.file.Close()
	m.file = nil

	return err
}

// Card returns the card number the mixer was opened on.
func (m *Mixer) Card() uint {
	return m.card
}

// Name returns the name of the sound card.
func (m *Mixer) Name() string {
	if m == nil {
		return ""
	}

	return cString(m.cardInfo.Name[:])
}

// Driver returns the name of the driver of the sound card.
func (m *Mixer) Driver() string {
	if m == nil {
		return ""
	}

	return cString(m.cardInfo.Driver[:])
}

// NumCtls returns the total number of controls found on the mixer.
func (m *Mixer) NumCtls() int {
	if m == nil {
		return 0
	}

	return len(m.Ctls)
}

// Ctl returns a mixer control by its numeric ID.
func (m *Mixer) Ctl(id uint32) (*MixerCtl, error) {
	if m == nil {
		return nil, fmt.Errorf("mixer is nil")
	}

	ctl, ok := m.ctlIdMap[id]
	if !ok {
		return nil, fmt.Errorf("control with id %d not found", id)
	}

	return ctl, nil
}

// CtlByName returns the first mixer control found with the given name.
func (m *Mixer) CtlByName(name string) (*MixerCtl, error) {
	if m == nil {
		return nil, fmt.Errorf("mixer is nil")
	}

	ctls, ok := m.ctlMap[name]
	if !ok || len(ctls) == 0 {
		return nil, fmt.Errorf("control not found: %s", name)
	}

	return ctls[0], nil
}

// PlaybackVolume returns the control that sets the output level of the card.
// Well-known names are tried first, then any integer control whose name ends in "Playback Volume".
func (m *Mixer) PlaybackVolume() (*MixerCtl, error) {
	if m == nil {
		return nil, fmt.Errorf("mixer is nil")
	}

	for _, name := range []string{"Master Playback Volume", "PCM Playback Volume", "Speaker Playback Volume", "Headphone Playback Volume", "Master Volume"} {
		if ctl, err := m.CtlByName(name); err == nil && ctl.Type() == SNDRV_CTL_ELEM_TYPE_INTEGER {
			return ctl, nil
		}
	}

	for _, ctl := range m.Ctls {
		if ctl.Type() == SNDRV_CTL_ELEM_TYPE_INTEGER && strings.HasSuffix(ctl.Name(), "Playback Volume") {
			return ctl, nil
		}
	}

	return nil, fmt.Errorf("card %s has no playback volume control", m.Name())
}

// PcmInfo returns information about the playback side of a PCM device of the card.
func (m *Mixer) PcmInfo(device uint) (PcmInfo, error) {
	if m == nil {
		return PcmInfo{}, fmt.Errorf("mixer is nil")
	}

	info := sndPcmInfo{Device: uint32(device), Stream: 0} // SNDRV_PCM_STREAM_PLAYBACK
	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_PCM_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		return PcmInfo{}, fmt.Errorf("ioctl PCM_INFO failed: %w", err)
	}

	return PcmInfo{
		ID:              cString(info.Id[:]),
		Name:            cString(info.Name[:]),
		Subdevices:      info.SubdevicesCount,
		SubdevicesAvail: info.SubdevicesAvail,
	}, nil
}

// PcmInfo describes a playback PCM device.
type PcmInfo struct {
	ID              string
	Name            string
	Subdevices      uint32
	SubdevicesAvail uint32
}

// PreferSubdevice makes the next PCM opened by this process on the card use the given subdevice.
// A negative value lets the kernel choose.
func (m *Mixer) PreferSubdevice(subdevice int) error {
	if m == nil {
		return fmt.Errorf("mixer is nil")
	}

	val := int32(subdevice)
	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_PCM_PREFER_SUBDEVICE, uintptr(unsafe.Pointer(&val))); err != nil {
		return fmt.Errorf("ioctl PCM_PREFER_SUBDEVICE failed: %w", err)
	}

	return nil
}

// SubscribeEvents enables or disables event generation for this mixer handle.
func (m *Mixer) SubscribeEvents(enable bool) error {
	if m == nil {
		return fmt.Errorf("mixer is nil")
	}

	var val int32
	if enable {
		val = 1
	}

	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_SUBSCRIBE_EVENTS, uintptr(unsafe.Pointer(&val))); err != nil {
		return fmt.Errorf("ioctl SUBSCRIBE_EVENTS failed: %w", err)
	}

	return nil
}

// WaitEvent waits for a mixer event to occur.
// It returns true if an event is pending, false on timeout.
func (m *Mixer) WaitEvent(timeoutMs int) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("mixer is nil")
	}

	pfd := []unix.PollFd{
		{Fd: int32(m.file.Fd()), Events: unix.POLLIN},
	}

	n, err := unix.Poll(pfd, timeoutMs)
	if err != nil {
		if errors.Is(err, syscall.EINTR) {
			return false, nil
		}

		return false, err
	}

	if n == 0 {
		return false, nil
	}

	if (pfd[0].Revents & unix.POLLIN) != 0 {
		return true, nil
	}

	return false, fmt.Errorf("poll returned with unexpected revents: %d", pfd[0].Revents)
}

// ReadEvent reads a pending mixer event from the device.
func (m *Mixer) ReadEvent() (*MixerEvent, error) {
	if m == nil {
		return nil, fmt.Errorf("mixer is nil")
	}

	var ev sndCtlEvent

	n, err := unix.Read(int(m.file.Fd()), unsafe.Slice((*byte)(unsafe.Pointer(&ev)), unsafe.Sizeof(ev)))
	if err != nil {
		return nil, err
	}

	if n < int(unsafe.Sizeof(ev)) {
		return nil, fmt.Errorf("short read for event: got %d bytes, want %d", n, unsafe.Sizeof(ev))
	}

	if ev.Typ != SNDRV_CTL_EVENT_ELEM {
		return nil, fmt.Errorf("received non-element event type: %d", ev.Typ)
	}

	return &MixerEvent{
		Type:      MixerEventType(ev.Elem.Mask),
		ControlID: ev.Elem.Id.Numid,
	}, nil
}

// Fd returns the underlying file descriptor for the mixer device.
func (m *Mixer) Fd() uintptr {
	if m == nil || m.file == nil {
		return ^uintptr(0) // Invalid FD
	}

	return m.file.Fd()
}

// enumerate gets the information for every control on the mixer.
func (m *Mixer) enumerate() error {
	m.Ctls = nil
	m.ctlMap = make(map[string][]*MixerCtl)
	m.ctlIdMap = make(map[uint32]*MixerCtl)

	list := &sndCtlElemList{}

	// First call: get the count of controls
	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_LIST, uintptr(unsafe.Pointer(list))); err != nil {
		return fmt.Errorf("ioctl ELEM_LIST (get count) failed: %w", err)
	}

	count := list.Count
	if count == 0 {
		return nil
	}

	ids := make([]sndCtlElemId, count)

	// Second call: get the actual control IDs
	list.Space = count
	list.Pids = uintptr(unsafe.Pointer(&ids[0]))

	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_LIST, uintptr(unsafe.Pointer(list))); err != nil {
		return fmt.Errorf("ioctl ELEM_LIST (get ids) failed: %w", err)
	}

	m.Ctls = make([]*MixerCtl, 0, list.Used)

	for i := uint32(0); i < list.Used; i++ {
		info := sndCtlElemInfo{Id: ids[i]}

		if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
			// Skip controls that we can't read info for
			continue
		}

		ctl := &MixerCtl{
			mixer: m,
			info:  info,
		}

		name := ctl.Name()
		m.Ctls = append(m.Ctls, ctl)
		m.ctlMap[name] = append(m.ctlMap[name], ctl)
		m.ctlIdMap[ctl.ID()] = ctl
	}

	return nil
}

// Refresh enumerates the controls again, after controls were added or removed.
func (m *Mixer) Refresh() error {
	if m == nil {
		return fmt.Errorf("mixer is nil")
	}

	return m.enumerate()
}

// cString converts a C-style null-terminated byte array to a Go string.
func cString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		return string(b)
	}

	return string(b[:i])
}
