//go:build windows

package audio

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"audiotap/internal/pcm"
)

// loopbackIdleSleep is how long the forwarding loop waits when the
// render endpoint has produced no frames, instead of busy-spinning.
const loopbackIdleSleep = 10 * time.Millisecond

func loopbackSupported() bool { return true }

// startLoopback captures the system output mix through WASAPI loopback.
// The backend owns its own context pinned to WASAPI, reads the default
// render endpoint's native mix format, and forwards converted frames
// until the cancellation flag is observed. Every init failure aborts
// only this backend; the session falls back to the portable search.
func startLoopback(log zerolog.Logger) (*producer, error) {
	ctx, err := malgo.InitContext([]malgo.Backend{malgo.BackendWasapi}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init wasapi context: %w", err)
	}

	render, format, channels, rate, err := defaultRenderFormat(ctx)
	if err != nil {
		freeContext(ctx)
		return nil, err
	}

	malgoFormat, err := requestFormat(format)
	if err != nil {
		freeContext(ctx)
		return nil, err
	}

	config := malgo.DefaultDeviceConfig(malgo.Loopback)
	// Loopback devices are opened against a render endpoint through the
	// capture side of the config.
	config.Capture.DeviceID = render.Pointer()
	config.Capture.Format = malgoFormat
	config.Capture.Channels = uint32(channels)
	config.SampleRate = rate

	raw := make(chan []byte, producerQueueCap)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			if len(input) == 0 {
				return
			}
			buf := make([]byte, len(input))
			copy(buf, input)
			select {
			case raw <- buf:
			default:
				// Never block the WASAPI capture thread.
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, config, callbacks)
	if err != nil {
		freeContext(ctx)
		return nil, fmt.Errorf("activate loopback client: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return nil, fmt.Errorf("start loopback capture: %w", err)
	}

	p := &producer{
		name:       "system loopback",
		frames:     make(chan []int16, producerQueueCap),
		channels:   channels,
		sampleRate: rate,
	}

	var cancelled atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !cancelled.Load() {
			select {
			case buf := <-raw:
				samples, err := pcm.Decode(format, buf)
				if err != nil {
					continue
				}
				p.push(samples)
			default:
				time.Sleep(loopbackIdleSleep)
			}
		}
	}()

	p.stop = func() {
		cancelled.Store(true)
		<-done
		_ = device.Stop()
		device.Uninit()
		freeContext(ctx)
	}

	log.Info().
		Stringer("format", format).
		Int("channels", channels).
		Uint32("sample_rate", rate).
		Msg("WASAPI loopback capture started")

	return p, nil
}

// defaultRenderFormat reads the default render endpoint and its native
// mix format. Only s16 and f32 mix formats are trusted as reported;
// anything else falls back to requesting s16 and letting the backend
// convert, since the advertised bit depth is unreliable on some drivers.
func defaultRenderFormat(ctx *malgo.AllocatedContext) (deviceID, pcm.Format, int, uint32, error) {
	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return deviceID{}, pcm.FormatUnknown, 0, 0, fmt.Errorf("enumerate render endpoints: %w", err)
	}
	if len(infos) == 0 {
		return deviceID{}, pcm.FormatUnknown, 0, 0, fmt.Errorf("no render endpoint available")
	}

	chosen := infos[0]
	for _, info := range infos {
		if info.IsDefault != 0 {
			chosen = info
			break
		}
	}

	format := pcm.FormatS16
	channels := OutputChannels
	rate := uint32(defaultSampleRate)

	full, err := ctx.DeviceInfo(malgo.Playback, chosen.ID, malgo.Shared)
	if err == nil && full.FormatCount > 0 {
		mix := full.Formats[0]
		switch malgo.FormatType(mix.Format) {
		case malgo.FormatF32:
			format = pcm.FormatF32
		case malgo.FormatS16:
			format = pcm.FormatS16
		default:
			// Untrusted bit depth; keep the s16 fallback.
		}
		if mix.Channels > 0 {
			channels = int(mix.Channels)
		}
		if mix.SampleRate > 0 {
			rate = mix.SampleRate
		}
	}

	return chosen.ID, format, channels, rate, nil
}
