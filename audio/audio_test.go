package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatConstants(t *testing.T) {
	assert.Equal(t, 2048, FrameBytes)
	// 1024 samples at 44.1 kHz is a little over 23ms.
	assert.InDelta(t, 23.2, float64(FrameDuration.Microseconds())/1000.0, 0.1)
}

func TestSilence(t *testing.T) {
	s := Silence()
	require.Len(t, s, FrameBytes)
	for _, b := range s {
		if b != 0 {
			t.Fatal("silence frame must be zeroed")
		}
	}
}

func TestDownmixToMono(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		samples  []int16
		want     []int16
	}{
		{
			name:     "stereo average",
			channels: 2,
			samples:  []int16{100, 300, -200, -400},
			want:     []int16{200, -300},
		},
		{
			name:     "mono passthrough",
			channels: 1,
			samples:  []int16{1, 2, 3},
			want:     []int16{1, 2, 3},
		},
		{
			name:     "quad average",
			channels: 4,
			samples:  []int16{4, 8, 12, 16},
			want:     []int16{10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := make([]byte, len(tt.samples)*2)
			for i, s := range tt.samples {
				binary.LittleEndian.PutUint16(src[i*2:], uint16(s))
			}

			out := DownmixToMono(src, tt.channels)
			require.NotNil(t, out)
			require.Len(t, out, len(tt.want)*2)
			for i, want := range tt.want {
				got := int16(binary.LittleEndian.Uint16(out[i*2:]))
				assert.Equal(t, want, got, "sample %d", i)
			}
		})
	}
}

func TestDownmixToMonoRejectsRaggedInput(t *testing.T) {
	// Three bytes cannot be a whole stereo sample group.
	assert.Nil(t, DownmixToMono([]byte{1, 2, 3}, 2))
}
