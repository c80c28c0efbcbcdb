// Package pcm converts native capture formats into interleaved signed
// 16-bit samples and provides the mixing primitives built on top of them.
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Format identifies a native sample representation delivered by a device.
type Format int

const (
	FormatUnknown Format = iota
	FormatS16            // signed 16-bit, passed through
	FormatU8             // unsigned 8-bit, midpoint-shifted then widened
	FormatU16            // unsigned 16-bit, midpoint-shifted
	FormatF32            // 32-bit float in [-1, 1]
)

func (f Format) String() string {
	switch f {
	case FormatS16:
		return "s16"
	case FormatU8:
		return "u8"
	case FormatU16:
		return "u16"
	case FormatF32:
		return "f32"
	default:
		return "unknown"
	}
}

// SampleSize returns the width of one sample in bytes.
func (f Format) SampleSize() int {
	switch f {
	case FormatU8:
		return 1
	case FormatS16, FormatU16:
		return 2
	case FormatF32:
		return 4
	default:
		return 0
	}
}

const (
	// MaxSample and MinSample bound the common representation.
	MaxSample = 32767
	MinSample = -32768
)

// F32ToS16 clamps to [-1, 1], scales to full range and rounds half away
// from zero, so 0.5 maps deterministically to 16384.
func F32ToS16(s float32) int16 {
	c := float64(s)
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return int16(math.Round(c * MaxSample))
}

// U16ToS16 shifts an unsigned sample by the representation midpoint.
func U16ToS16(s uint16) int16 {
	return int16(int32(s) - 32768)
}

// U8ToS16 shifts by the 8-bit midpoint and widens to 16 bits.
func U8ToS16(s uint8) int16 {
	return int16(int16(s)-128) << 8
}

// Decode converts a raw device buffer into signed 16-bit samples. The
// buffer uses the host's native byte order, which is what audio callbacks
// deliver. Trailing bytes that do not form a whole sample are ignored.
func Decode(format Format, data []byte) ([]int16, error) {
	switch format {
	case FormatS16:
		out := make([]int16, len(data)/2)
		for i := range out {
			out[i] = int16(binary.NativeEndian.Uint16(data[i*2:]))
		}
		return out, nil
	case FormatU16:
		out := make([]int16, len(data)/2)
		for i := range out {
			out[i] = U16ToS16(binary.NativeEndian.Uint16(data[i*2:]))
		}
		return out, nil
	case FormatU8:
		out := make([]int16, len(data))
		for i := range out {
			out[i] = U8ToS16(data[i])
		}
		return out, nil
	case FormatF32:
		out := make([]int16, len(data)/4)
		for i := range out {
			out[i] = F32ToS16(math.Float32frombits(binary.NativeEndian.Uint32(data[i*4:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported sample format %v", format)
	}
}

// Bytes renders samples in the host's native byte order, matching the
// boundary contract for emitted chunks.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.NativeEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ApplyGain scales samples in place, clamping to the representable range.
func ApplyGain(samples []int16, gain float64) {
	for i, s := range samples {
		v := math.Round(float64(s) * gain)
		if v > MaxSample {
			v = MaxSample
		} else if v < MinSample {
			v = MinSample
		}
		samples[i] = int16(v)
	}
}

// Accumulate adds up to frames frames of src into dst, remapping channel
// layouts: mono to stereo duplicates, equal counts copy, stereo to mono
// averages, anything else maps dest channel modulo source channels.
// Addition saturates rather than wrapping.
func Accumulate(dst []int32, src []int16, srcChannels, dstChannels, frames int) {
	if len(src) == 0 || len(dst) == 0 || srcChannels <= 0 || dstChannels <= 0 {
		return
	}
	if n := len(dst) / dstChannels; frames > n {
		frames = n
	}
	if n := len(src) / srcChannels; frames > n {
		frames = n
	}

	switch {
	case srcChannels == 1 && dstChannels == 2:
		for i := 0; i < frames; i++ {
			s := int32(src[i])
			dst[i*2] = satAdd32(dst[i*2], s)
			dst[i*2+1] = satAdd32(dst[i*2+1], s)
		}
	case srcChannels == dstChannels:
		n := frames * srcChannels
		for i := 0; i < n; i++ {
			dst[i] = satAdd32(dst[i], int32(src[i]))
		}
	case srcChannels == 2 && dstChannels == 1:
		for i := 0; i < frames; i++ {
			avg := (int32(src[i*2]) + int32(src[i*2+1])) / 2
			dst[i] = satAdd32(dst[i], avg)
		}
	default:
		for i := 0; i < frames; i++ {
			for ch := 0; ch < dstChannels; ch++ {
				s := src[i*srcChannels+ch%srcChannels]
				dst[i*dstChannels+ch] = satAdd32(dst[i*dstChannels+ch], int32(s))
			}
		}
	}
}

// Normalize narrows an accumulated buffer back to 16 bits. When the peak
// magnitude exceeds the representable maximum every sample is scaled by
// the same factor, preserving ratios between samples instead of clipping.
func Normalize(acc []int32) []int16 {
	peak := Peak(acc)
	out := make([]int16, len(acc))
	if peak > MaxSample {
		gain := float64(MaxSample) / float64(peak)
		for i, s := range acc {
			out[i] = clamp16(int32(math.Round(float64(s) * gain)))
		}
		return out
	}
	for i, s := range acc {
		out[i] = clamp16(s)
	}
	return out
}

// Peak returns the largest sample magnitude in acc.
func Peak(acc []int32) int32 {
	var peak int32
	for _, s := range acc {
		if s == math.MinInt32 {
			return math.MaxInt32
		}
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

func clamp16(v int32) int16 {
	if v > MaxSample {
		return MaxSample
	}
	if v < MinSample {
		return MinSample
	}
	return int16(v)
}

func satAdd32(a, b int32) int32 {
	s := int64(a) + int64(b)
	if s > math.MaxInt32 {
		return math.MaxInt32
	}
	if s < math.MinInt32 {
		return math.MinInt32
	}
	return int32(s)
}
