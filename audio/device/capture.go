package device

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/lanbeam/lanbeam/audio"
)

// captureBufferFrames sizes the callback→Pull ring buffer. A handful of
// frames of slack absorbs scheduling hiccups; beyond that the newest
// callback data is dropped so capture never stalls.
const captureBufferFrames = 8

// CaptureSource implements audio.Source on top of a malgo capture device.
type CaptureSource struct {
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	rb       *ringbuffer.RingBuffer
	channels int

	closeOnce sync.Once
	closeErr  error
}

// OpenCapture opens a capture device by name or ID (empty string selects
// the default). RoleLoopback records system output: natively on WASAPI,
// via a monitor/virtual input elsewhere.
func OpenCapture(deviceID string, role Role) (*CaptureSource, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, err
	}

	channels := captureChannels(role)
	deviceType := malgo.Capture
	enumType := malgo.Capture
	if role == RoleLoopback && runtime.GOOS == "windows" {
		// WASAPI loopback opens an *output* device for capture.
		deviceType = malgo.Loopback
		enumType = malgo.Playback
	}

	infos, err := ctx.Devices(enumType)
	if err != nil {
		teardownContext(ctx)
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	info, err := findDevice(infos, deviceID)
	if err != nil {
		teardownContext(ctx)
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(deviceType)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.Capture.DeviceID = info.ID.Pointer()
	cfg.SampleRate = audio.SampleRate
	cfg.Alsa.NoMMap = 1

	rb := ringbuffer.New(captureBufferFrames * audio.FrameBytes).SetBlocking(true)

	s := &CaptureSource{ctx: ctx, rb: rb, channels: channels}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.onCapture(input)
		},
	}
	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		teardownContext(ctx)
		return nil, fmt.Errorf("open capture device %q: %w", info.Name(), err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		teardownContext(ctx)
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenCapture",
		"device":   info.Name(),
		"role":     role,
		"channels": channels,
	}).Info("Capture device started")
	return s, nil
}

// onCapture runs on the device's audio thread. It must never block, so a
// full ring buffer costs the newest data, not a capture stall.
func (s *CaptureSource) onCapture(input []byte) {
	pcm := input
	if s.channels > audio.Channels {
		pcm = audio.DownmixToMono(input, s.channels)
		if pcm == nil {
			return
		}
	}
	if s.rb.Free() < len(pcm) {
		return
	}
	_, _ = s.rb.TryWrite(pcm)
}

// Pull blocks until one full frame of PCM has been captured. It returns
// io.EOF once the source is closed and drained.
func (s *CaptureSource) Pull(buf []byte) error {
	if _, err := io.ReadFull(s.rb, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return fmt.Errorf("capture read: %w", err)
	}
	return nil
}

// Close stops the device and unblocks any pending Pull. Idempotent.
func (s *CaptureSource) Close() error {
	s.closeOnce.Do(func() {
		s.device.Uninit()
		s.rb.CloseWriter()
		s.closeErr = teardownContext(s.ctx)
	})
	return s.closeErr
}

func teardownContext(ctx *malgo.AllocatedContext) error {
	err := ctx.Uninit()
	ctx.Free()
	return err
}
