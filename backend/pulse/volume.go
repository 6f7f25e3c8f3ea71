package pulse

import (
	"fmt"
	"math"
	"time"

	"github.com/jfreymuth/pulse/proto"

	"github.com/gen2brain/oss"
)

// Volume range reported for the sink and the streams.
const (
	MinVolume oss.Volume = -90 * 256
	MaxVolume oss.Volume = 0
)

const (
	defaultSink = "@DEFAULT_SINK@"
	volumeNorm  = 0x10000
)

// toVolume converts a server volume to 1/256 dB. Server volumes are cubic in amplitude.
func toVolume(v uint32) oss.Volume {
	if v == 0 {
		return MinVolume
	}

	db := 60 * math.Log10(float64(v)/volumeNorm)

	return min(max(oss.Volume(math.Round(db*256)), MinVolume), MaxVolume)
}

// fromVolume converts 1/256 dB to a server volume.
func fromVolume(vol oss.Volume) uint32 {
	if vol <= MinVolume {
		return 0
	}

	vol = min(vol, MaxVolume)

	return uint32(math.Round(volumeNorm * math.Pow(10, float64(vol)/256/60)))
}

// average returns the mean of the channel volumes.
func average(cv proto.ChannelVolumes) uint32 {
	if len(cv) == 0 {
		return 0
	}

	var sum uint64
	for _, v := range cv {
		sum += uint64(v)
	}

	return uint32(sum / uint64(len(cv)))
}

// request runs a server request, giving up after timeout. A zero timeout waits for the reply.
func (t *Transport) request(req proto.RequestArgs, rpl proto.Reply, timeout time.Duration) error {
	if timeout <= 0 {
		return t.client.RawRequest(req, rpl)
	}

	errc := make(chan error, 1)

	go func() {
		errc <- t.client.RawRequest(req, rpl)
	}()

	select {
	case err := <-errc:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("request timed out after %s", timeout)
	}
}

func (t *Transport) sinkInfo(timeout time.Duration) (*proto.GetSinkInfoReply, error) {
	var info proto.GetSinkInfoReply

	if err := t.request(&proto.GetSinkInfo{SinkIndex: proto.Undefined, SinkName: defaultSink}, &info, timeout); err != nil {
		return nil, fmt.Errorf("failed to query sink: %w", err)
	}

	return &info, nil
}

// Volume implements oss.Transport. The master level is the default sink's volume, stream
// levels are applied in software.
func (t *Transport) Volume(id oss.StreamID, timeout time.Duration) (oss.VolumeInfo, error) {
	info := oss.VolumeInfo{Min: MinVolume, Max: MaxVolume}

	if id != oss.StreamMaster {
		s, err := t.lookup(id)
		if err != nil {
			return oss.VolumeInfo{}, err
		}

		t.mu.Lock()
		info.Current = s.volume
		t.mu.Unlock()

		return info, nil
	}

	sink, err := t.sinkInfo(timeout)
	if err != nil {
		return oss.VolumeInfo{}, err
	}

	info.Current = toVolume(average(sink.ChannelVolumes))
	if sink.Mute {
		info.Current = MinVolume
	}

	return info, nil
}

// SetVolume implements oss.Transport.
func (t *Transport) SetVolume(id oss.StreamID, vol oss.Volume, timeout time.Duration) error {
	if id != oss.StreamMaster {
		s, err := t.lookup(id)
		if err != nil {
			return err
		}

		t.mu.Lock()
		if vol <= oss.VolumeMute {
			s.volume = oss.VolumeMute
		} else {
			s.volume = min(vol, MaxVolume)
		}
		t.mu.Unlock()

		return nil
	}

	sink, err := t.sinkInfo(timeout)
	if err != nil {
		return err
	}

	cv := make(proto.ChannelVolumes, max(len(sink.ChannelVolumes), 1))
	for i := range cv {
		cv[i] = fromVolume(vol)
	}

	if err := t.request(&proto.SetSinkVolume{SinkIndex: sink.SinkIndex, ChannelVolumes: cv}, nil, timeout); err != nil {
		return fmt.Errorf("failed to set sink volume: %w", err)
	}

	return nil
}
