package alsa

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// MixerCtl represents an individual mixer control handle.
type MixerCtl struct {
	mixer *Mixer
	info  sndCtlElemInfo
}

// Name returns the name of the control.
func (c *MixerCtl) Name() string {
	if c == nil {
		return ""
	}

	return cString(c.info.Id.Name[:])
}

// ID returns the numeric ID of the control.
func (c *MixerCtl) ID() uint32 {
	if c == nil {
		return ^uint32(0)
	}

	return c.info.Id.Numid
}

// Device returns the device number the control is associated with.
func (c *MixerCtl) Device() uint32 {
	if c == nil {
		return 0
	}

	return c.info.Id.Device
}

// Type returns the value type of the control.
func (c *MixerCtl) Type() MixerCtlType {
	if c == nil {
		return SNDRV_CTL_ELEM_TYPE_UNKNOWN
	}

	return c.info.Typ
}

// Access returns the access flags of the control.
func (c *MixerCtl) Access() uint32 {
	if c == nil {
		return 0
	}

	return c.info.Access
}

// NumValues returns the number of values (channels) of the control.
func (c *MixerCtl) NumValues() uint32 {
	if c == nil {
		return 0
	}

	return c.info.Count
}

func (c *MixerCtl) integer() (*ctlInteger, error) {
	if c == nil {
		return nil, fmt.Errorf("control is nil")
	}

	if c.info.Typ != SNDRV_CTL_ELEM_TYPE_INTEGER {
		return nil, fmt.Errorf("control %s is not an integer control", c.Name())
	}

	return (*ctlInteger)(unsafe.Pointer(&c.info.Value[0])), nil
}

// RangeMin returns the minimum value of an integer control.
func (c *MixerCtl) RangeMin() (int, error) {
	i, err := c.integer()
	if err != nil {
		return 0, err
	}

	return int(i.Min), nil
}

// RangeMax returns the maximum value of an integer control.
func (c *MixerCtl) RangeMax() (int, error) {
	i, err := c.integer()
	if err != nil {
		return 0, err
	}

	return int(i.Max), nil
}

func (c *MixerCtl) read() (*sndCtlElemValue, error) {
	if c == nil || c.mixer == nil || c.mixer.file == nil {
		return nil, fmt.Errorf("control is not valid")
	}

	ev := &sndCtlElemValue{Id: c.info.Id}
	if err := ioctl(c.mixer.file.Fd(), SNDRV_CTL_IOCTL_ELEM_READ, uintptr(unsafe.Pointer(ev))); err != nil {
		return nil, fmt.Errorf("ioctl ELEM_READ failed: %w", err)
	}

	return ev, nil
}

// valueOffset returns the byte offset of value index in the value union.
func (c *MixerCtl) valueOffset(index uint) (int, error) {
	if index >= uint(c.NumValues()) {
		return 0, fmt.Errorf("index %d out of range for control %s", index, c.Name())
	}

	switch c.info.Typ {
	case SNDRV_CTL_ELEM_TYPE_BOOLEAN, SNDRV_CTL_ELEM_TYPE_INTEGER:
		return int(index) * int(unsafe.Sizeof(clong(0))), nil
	case SNDRV_CTL_ELEM_TYPE_INTEGER64:
		return int(index) * 8, nil
	case SNDRV_CTL_ELEM_TYPE_ENUMERATED:
		return int(index) * 4, nil
	default:
		return 0, fmt.Errorf("control %s has unsupported type %s", c.Name(), c.info.Typ)
	}
}

// Value returns the value at index of a boolean, integer or enumerated control.
func (c *MixerCtl) Value(index uint) (int, error) {
	if c == nil {
		return 0, fmt.Errorf("control is nil")
	}

	off, err := c.valueOffset(index)
	if err != nil {
		return 0, err
	}

	ev, err := c.read()
	if err != nil {
		return 0, err
	}

	return c.decode(ev.Value[off:]), nil
}

func (c *MixerCtl) decode(b []byte) int {
	switch {
	case c.info.Typ == SNDRV_CTL_ELEM_TYPE_ENUMERATED:
		return int(binary.NativeEndian.Uint32(b))
	case c.info.Typ == SNDRV_CTL_ELEM_TYPE_INTEGER64 || unsafe.Sizeof(clong(0)) == 8:
		return int(int64(binary.NativeEndian.Uint64(b)))
	default:
		return int(int32(binary.NativeEndian.Uint32(b)))
	}
}

func (c *MixerCtl) encode(b []byte, v int) {
	switch {
	case c.info.Typ == SNDRV_CTL_ELEM_TYPE_ENUMERATED:
		binary.NativeEndian.PutUint32(b, uint32(v))
	case c.info.Typ == SNDRV_CTL_ELEM_TYPE_INTEGER64 || unsafe.Sizeof(clong(0)) == 8:
		binary.NativeEndian.PutUint64(b, uint64(int64(v)))
	default:
		binary.NativeEndian.PutUint32(b, uint32(int32(v)))
	}
}

// SetValue sets the value at index. Integer values are clamped to the control's range.
func (c *MixerCtl) SetValue(index uint, v int) error {
	return c.setValues(v, index)
}

// SetAll sets every value (channel) of the control to v.
func (c *MixerCtl) SetAll(v int) error {
	if c == nil {
		return fmt.Errorf("control is nil")
	}

	indexes := make([]uint, c.NumValues())
	for i := range indexes {
		indexes[i] = uint(i)
	}

	return c.setValues(v, indexes...)
}

func (c *MixerCtl) setValues(v int, indexes ...uint) error {
	if c == nil {
		return fmt.Errorf("control is nil")
	}

	if (CtlAccessFlag(c.info.Access) & SNDRV_CTL_ELEM_ACCESS_WRITE) == 0 {
		return fmt.Errorf("control %s is read-only", c.Name())
	}

	if i, err := c.integer(); err == nil {
		v = min(max(v, int(i.Min)), int(i.Max))
	}

	// Read first so that values not being set are written back unchanged.
	ev, err := c.read()
	if err != nil {
		return err
	}

	for _, index := range indexes {
		off, err := c.valueOffset(index)
		if err != nil {
			return err
		}

		c.encode(ev.Value[off:], v)
	}

	if err := ioctl(c.mixer.file.Fd(), SNDRV_CTL_IOCTL_ELEM_WRITE, uintptr(unsafe.Pointer(ev))); err != nil {
		return fmt.Errorf("ioctl ELEM_WRITE failed: %w", err)
	}

	return nil
}

// Update reads the control's metadata again, for example after an INFO event.
func (c *MixerCtl) Update() error {
	if c == nil || c.mixer == nil || c.mixer.file == nil {
		return fmt.Errorf("control is not valid")
	}

	info := sndCtlElemInfo{Id: c.info.Id}
	if err := ioctl(c.mixer.file.Fd(), SNDRV_CTL_IOCTL_ELEM_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		return fmt.Errorf("ioctl ELEM_INFO failed: %w", err)
	}

	c.info = info

	return nil
}

// DBScale maps the integer range of a control onto decibels.
type DBScale struct {
	Min  int // In 1/100 dB, at the control's minimum.
	Max  int // In 1/100 dB, at the control's maximum.
	Mute bool
}

// DBScale reads the dB scale of the control from its TLV metadata.
func (c *MixerCtl) DBScale() (DBScale, error) {
	if c == nil || c.mixer == nil || c.mixer.file == nil {
		return DBScale{}, fmt.Errorf("control is not valid")
	}

	if (CtlAccessFlag(c.info.Access) & SNDRV_CTL_ELEM_ACCESS_TLV_READ) == 0 {
		return DBScale{}, fmt.Errorf("control %s has no dB information", c.Name())
	}

	rmin, err := c.RangeMin()
	if err != nil {
		return DBScale{}, err
	}

	rmax, _ := c.RangeMax()

	const words = 64

	buf := make([]uint32, 2+words)
	hdr := (*sndCtlTlv)(unsafe.Pointer(&buf[0]))
	hdr.Numid = c.info.Id.Numid
	hdr.Length = words * 4

	if err := ioctl(c.mixer.file.Fd(), SNDRV_CTL_IOCTL_TLV_READ, uintptr(unsafe.Pointer(&buf[0]))); err != nil {
		return DBScale{}, fmt.Errorf("ioctl TLV_READ failed: %w", err)
	}

	return parseDBScale(buf[2:], rmin, rmax)
}

// parseDBScale decodes a dB TLV for a control with the integer range [rmin, rmax].
// For a dB range container the bounds come from its first and last entries.
func parseDBScale(tlv []uint32, rmin, rmax int) (DBScale, error) {
	if len(tlv) < 2 {
		return DBScale{}, fmt.Errorf("TLV too short")
	}

	typ, size := tlv[0], int(tlv[1]/4)
	if 2+size > len(tlv) {
		return DBScale{}, fmt.Errorf("TLV length %d exceeds buffer", tlv[1])
	}

	data := tlv[2 : 2+size]

	switch typ {
	case SNDRV_CTL_TLVT_DB_SCALE:
		if size < 2 {
			return DBScale{}, fmt.Errorf("short DB_SCALE TLV")
		}

		minDB := int(int32(data[0]))
		step := int(data[1] & 0xffff)

		return DBScale{
			Min:  minDB,
			Max:  minDB + step*(rmax-rmin),
			Mute: data[1]&tlvDBScaleMute != 0,
		}, nil

	case SNDRV_CTL_TLVT_DB_MINMAX, SNDRV_CTL_TLVT_DB_MINMAX_MUTE:
		if size < 2 {
			return DBScale{}, fmt.Errorf("short DB_MINMAX TLV")
		}

		return DBScale{
			Min:  int(int32(data[0])),
			Max:  int(int32(data[1])),
			Mute: typ == SNDRV_CTL_TLVT_DB_MINMAX_MUTE,
		}, nil

	case SNDRV_CTL_TLVT_DB_RANGE:
		// Entries are (min, max, tlv...) triples; take the scale of the whole control from the
		// first and last entries.
		if size < 4 {
			return DBScale{}, fmt.Errorf("short DB_RANGE TLV")
		}

		first, err := parseDBScale(data[2:], int(data[0]), int(data[1]))
		if err != nil {
			return DBScale{}, err
		}

		last := first
		for off := 2 + 2 + int(data[3]/4); off+4 <= len(data); off += 2 + 2 + int(data[off+3]/4) {
			entry, err := parseDBScale(data[off+2:], int(data[off]), int(data[off+1]))
			if err != nil {
				break
			}

			last = entry
		}

		return DBScale{Min: first.Min, Max: last.Max, Mute: first.Mute}, nil

	default:
		return DBScale{}, fmt.Errorf("unsupported TLV type %d", typ)
	}
}
