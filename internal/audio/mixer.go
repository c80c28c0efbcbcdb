package audio

import (
	"audiotap/internal/pcm"
)

// runMixer drains the primary producer one chunk per cycle, folds in
// whatever the other producers have ready right now, normalizes the
// result against clipping and emits it. The first producer paces the
// output; secondary data that misses its cycle is dropped rather than
// buffered, trading completeness for bounded latency.
func runMixer(producers []*producer, stop <-chan struct{}, secondaryGain float64, emit ChunkHandler) {
	if len(producers) == 0 {
		return
	}
	primary := producers[0]
	srcChannels := primary.channels
	if srcChannels < 1 {
		srcChannels = 1
	}

	for {
		// Stop always wins over pending data.
		select {
		case <-stop:
			return
		default:
		}

		var frame []int16
		select {
		case <-stop:
			return
		case f, ok := <-primary.frames:
			if !ok {
				return
			}
			frame = f
		}

		frames := len(frame) / srcChannels
		acc := make([]int32, frames*OutputChannels)
		pcm.Accumulate(acc, frame, srcChannels, OutputChannels, frames)

		for _, sec := range producers[1:] {
			select {
			case f := <-sec.frames:
				pcm.ApplyGain(f, secondaryGain)
				pcm.Accumulate(acc, f, sec.channels, OutputChannels, frames)
			default:
			}
		}

		if emit != nil {
			emit(Chunk{
				SampleRate: primary.sampleRate,
				Channels:   OutputChannels,
				Samples:    pcm.Normalize(acc),
			})
		}
	}
}
