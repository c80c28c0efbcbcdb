package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"audiotap/internal/pcm"
)

// openStream starts one capture producer for a device, requesting its
// negotiated native representation and converting each delivery to s16.
// The chunk size is whatever granularity the backend's callback uses;
// this layer does not reblock.
func openStream(ctx *malgo.AllocatedContext, log zerolog.Logger, dev Device) (*producer, error) {
	malgoFormat, err := requestFormat(dev.format)
	if err != nil {
		return nil, err
	}

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.Capture.DeviceID = dev.nativeID.Pointer()
	config.Capture.Format = malgoFormat
	config.Capture.Channels = uint32(dev.Channels)
	config.SampleRate = dev.SampleRate

	p := &producer{
		name:       dev.Name,
		frames:     make(chan []int16, producerQueueCap),
		channels:   dev.Channels,
		sampleRate: dev.SampleRate,
	}

	format := dev.format
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			if len(input) == 0 {
				return
			}
			samples, err := pcm.Decode(format, input)
			if err != nil {
				// Decode only fails on a format mismatch, which would be
				// a driver bug; drop the delivery and keep capturing.
				return
			}
			p.push(samples)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, config, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init capture device %q: %w", dev.Name, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device %q: %w", dev.Name, err)
	}

	p.stop = func() {
		_ = device.Stop()
		device.Uninit()
	}

	log.Info().
		Str("device", dev.Name).
		Stringer("format", format).
		Int("channels", dev.Channels).
		Uint32("sample_rate", dev.SampleRate).
		Msg("Capture stream started")

	return p, nil
}

func requestFormat(f pcm.Format) (malgo.FormatType, error) {
	switch f {
	case pcm.FormatS16:
		return malgo.FormatS16, nil
	case pcm.FormatU8:
		return malgo.FormatU8, nil
	case pcm.FormatF32:
		return malgo.FormatF32, nil
	default:
		return malgo.FormatUnknown, ErrFormatUnsupported
	}
}
