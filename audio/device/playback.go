package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/lanbeam/lanbeam/audio"
)

// playbackBufferFrames sizes the Push→callback ring buffer. Push blocks
// when it is full, which is what paces the playback pump to the device.
const playbackBufferFrames = 8

// PlaybackSink implements audio.Sink on top of a malgo playback device.
type PlaybackSink struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	rb     *ringbuffer.RingBuffer

	closeOnce sync.Once
	closeErr  error
}

// OpenPlayback opens a playback device by name or ID (empty string
// selects the default).
func OpenPlayback(deviceID string) (*PlaybackSink, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, err
	}

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		teardownContext(ctx)
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	info, err := findDevice(infos, deviceID)
	if err != nil {
		teardownContext(ctx)
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = audio.Channels
	cfg.Playback.DeviceID = info.ID.Pointer()
	cfg.SampleRate = audio.SampleRate
	cfg.Alsa.NoMMap = 1

	rb := ringbuffer.New(playbackBufferFrames * audio.FrameBytes).SetBlocking(true)

	s := &PlaybackSink{ctx: ctx, rb: rb}

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			s.onPlayback(output)
		},
	}
	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		teardownContext(ctx)
		return nil, fmt.Errorf("open playback device %q: %w", info.Name(), err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		teardownContext(ctx)
		return nil, fmt.Errorf("start playback device: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenPlayback",
		"device":   info.Name(),
	}).Info("Playback device started")
	return s, nil
}

// onPlayback runs on the device's audio thread. Whatever the buffer
// cannot supply is zero-filled: a dry spell plays as silence, never as a
// blocked audio thread.
func (s *PlaybackSink) onPlayback(output []byte) {
	n, _ := s.rb.TryRead(output)
	for i := n; i < len(output); i++ {
		output[i] = 0
	}
}

// Push blocks until the device has buffer room for the block, pacing the
// caller to playback speed. It fails once the sink is closed.
func (s *PlaybackSink) Push(pcm []byte) error {
	if _, err := s.rb.Write(pcm); err != nil {
		return fmt.Errorf("playback write: %w", err)
	}
	return nil
}

// Close stops the device and unblocks any pending Push. Idempotent.
func (s *PlaybackSink) Close() error {
	s.closeOnce.Do(func() {
		s.device.Uninit()
		s.rb.CloseWriter()
		s.closeErr = teardownContext(s.ctx)
	})
	return s.closeErr
}
