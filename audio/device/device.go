// Package device adapts OS audio devices to the core's blocking
// Source/Sink contracts using malgo (miniaudio). The device callbacks run
// on audio threads owned by the OS; ring buffers translate that cadence
// into blocking pulls and pushes so the core never reasons about callback
// threading.
package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/lanbeam/lanbeam/audio"
)

// Role selects what a capture source records.
type Role int

const (
	// RoleMicrophone captures a normal input device.
	RoleMicrophone Role = iota
	// RoleLoopback captures the system output. Native loopback exists on
	// Windows (WASAPI); elsewhere a monitor/virtual input device must be
	// selected (see SystemAudioNote).
	RoleLoopback
)

// Info describes one audio device for pickers and the CLI.
type Info struct {
	Index   int
	Name    string
	ID      string
	Default bool
}

// backendForOS mirrors the platform support matrix: ALSA on Linux,
// WASAPI on Windows, CoreAudio on macOS.
func backendForOS(goos string) (malgo.Backend, error) {
	switch goos {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, fmt.Errorf("unsupported operating system: %s", goos)
	}
}

func newContext() (*malgo.AllocatedContext, error) {
	backend, err := backendForOS(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(message string) {
		logrus.WithField("function", "malgo").Trace(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return ctx, nil
}

// Devices lists capture and playback devices.
func Devices() (inputs, outputs []Info, err error) {
	ctx, err := newContext()
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	capture, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	playback, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate playback devices: %w", err)
	}

	return infoList(capture), infoList(playback), nil
}

func infoList(infos []malgo.DeviceInfo) []Info {
	out := make([]Info, 0, len(infos))
	for i := range infos {
		name := infos[i].Name()
		// miniaudio's null/discard device is not a real endpoint.
		if strings.Contains(name, "Discard all samples") {
			continue
		}
		out = append(out, Info{
			Index:   i,
			Name:    name,
			ID:      infos[i].ID.String(),
			Default: infos[i].IsDefault != 0,
		})
	}
	return out
}

// findDevice selects a device by name or ID; the empty string selects the
// system default (a nil device ID).
func findDevice(infos []malgo.DeviceInfo, deviceID string) (*malgo.DeviceInfo, error) {
	if deviceID == "" || deviceID == "default" {
		for i := range infos {
			if infos[i].IsDefault != 0 {
				return &infos[i], nil
			}
		}
		if len(infos) > 0 {
			return &infos[0], nil
		}
		return nil, fmt.Errorf("no audio devices available")
	}
	for i := range infos {
		if infos[i].Name() == deviceID || infos[i].ID.String() == deviceID {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("audio device not found: %s", deviceID)
}

// SystemAudioNote explains how system-audio capture works on an OS, for
// display next to device pickers.
func SystemAudioNote(goos string) string {
	switch goos {
	case "windows":
		return "Windows loopback capture records the selected output device directly."
	case "darwin":
		return "macOS needs a virtual input device like BlackHole or Loopback."
	case "linux":
		return "Select a monitor input from PulseAudio/PipeWire."
	default:
		return "System audio may require a virtual input device."
	}
}

// captureChannels returns how many channels a capture opens natively for
// a role. System output is stereo on effectively every machine; capturing
// both sides and downmixing keeps content from a one-sided mix.
func captureChannels(role Role) int {
	if role == RoleLoopback {
		return 2
	}
	return audio.Channels
}
