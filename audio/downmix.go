package audio

import "encoding/binary"

// DownmixToMono averages interleaved 16-bit little-endian samples across
// channels, producing a mono block. Capture devices frequently expose more
// channels than the wire format carries; the capture adapter downmixes
// before frames enter the pipeline.
//
// Returns nil if src is not a whole number of sample groups.
func DownmixToMono(src []byte, channels int) []byte {
	if channels <= 1 {
		return src
	}
	groupBytes := channels * BytesPerSample
	if len(src)%groupBytes != 0 {
		return nil
	}
	groups := len(src) / groupBytes
	out := make([]byte, groups*BytesPerSample)
	for g := 0; g < groups; g++ {
		var sum int32
		base := g * groupBytes
		for c := 0; c < channels; c++ {
			s := int16(binary.LittleEndian.Uint16(src[base+c*BytesPerSample:]))
			sum += int32(s)
		}
		binary.LittleEndian.PutUint16(out[g*BytesPerSample:], uint16(int16(sum/int32(channels))))
	}
	return out
}
