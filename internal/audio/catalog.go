package audio

import (
	"strings"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"audiotap/internal/pcm"
)

type deviceID = malgo.DeviceID

// Names that identify virtual loopback products across platforms.
var virtualCableNames = []string{"blackhole", "soundflower", "vb-audio", "vb-cable"}

// Names common to render endpoints, including the localized forms seen
// on Windows loopback endpoints.
var outputNamePatterns = []string{"speakers", "headphones", "headphone", "динамики", "наушники"}

// Classify derives a device kind from its name. Device naming varies by
// locale and driver, so this is best effort: a wrong answer must only
// ever cost the user a misdirected stream, never a crash.
func Classify(name string) DeviceKind {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "loopback") ||
		strings.Contains(lower, "monitor") ||
		strings.Contains(lower, "stereo mix") ||
		containsAny(lower, virtualCableNames) {
		return KindSystemLoopback
	}
	return KindMicrophone
}

// Enumerate lists every capture endpoint the OS reports, skipping any
// whose configuration cannot be read. The list is rebuilt on every call.
func Enumerate(log zerolog.Logger) ([]Device, error) {
	ctx, err := newContext(log)
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	cat, err := readCatalog(ctx, log)
	if err != nil {
		return nil, err
	}
	return cat.devices, nil
}

// catalog is one enumeration snapshot: capture devices plus the set of
// render endpoints used by the portable system-device search.
type catalog struct {
	devices       []Device
	outputs       map[string]struct{}
	defaultOutput string
}

func readCatalog(ctx *malgo.AllocatedContext, log zerolog.Logger) (catalog, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return catalog{}, err
	}

	cat := catalog{outputs: make(map[string]struct{})}
	for _, info := range infos {
		full, err := ctx.DeviceInfo(malgo.Capture, info.ID, malgo.Shared)
		if err != nil {
			log.Debug().Str("device", info.Name()).Err(err).Msg("Skipping device without readable config")
			continue
		}
		format, channels, rate, err := negotiate(full)
		if err != nil {
			log.Debug().Str("device", info.Name()).Err(err).Msg("Skipping device without usable format")
			continue
		}
		name := info.Name()
		cat.devices = append(cat.devices, Device{
			ID:         name,
			Name:       name,
			Kind:       Classify(name),
			Channels:   channels,
			SampleRate: rate,
			IsDefault:  info.IsDefault != 0,
			nativeID:   info.ID,
			format:     format,
		})
	}

	if outputs, err := ctx.Devices(malgo.Playback); err == nil {
		for _, info := range outputs {
			lower := strings.ToLower(info.Name())
			cat.outputs[lower] = struct{}{}
			if info.IsDefault != 0 {
				cat.defaultOutput = lower
			}
		}
	}

	return cat, nil
}

// negotiate picks the capture format for a device: the first advertised
// configuration with a representation we can convert, taking the highest
// sample rate offered for that representation. Devices whose every
// format is unconvertible are a hard failure for that device only.
func negotiate(info malgo.DeviceInfo) (pcm.Format, int, uint32, error) {
	formats := info.Formats[:info.FormatCount]
	for _, f := range formats {
		format, ok := convertibleFormat(malgo.FormatType(f.Format))
		if !ok {
			continue
		}
		channels := int(f.Channels)
		rate := f.SampleRate
		for _, other := range formats {
			if other.Format == f.Format && other.Channels == f.Channels && other.SampleRate > rate {
				rate = other.SampleRate
			}
		}
		if channels == 0 {
			channels = 1
		}
		if rate == 0 {
			rate = defaultSampleRate
		}
		return format, channels, rate, nil
	}
	return pcm.FormatUnknown, 0, 0, ErrFormatUnsupported
}

func convertibleFormat(f malgo.FormatType) (pcm.Format, bool) {
	switch f {
	case malgo.FormatS16:
		return pcm.FormatS16, true
	case malgo.FormatU8:
		return pcm.FormatU8, true
	case malgo.FormatF32:
		return pcm.FormatF32, true
	default:
		return pcm.FormatUnknown, false
	}
}

// resolveMicrophone matches by exact name when an id is given, else the
// OS default input, else the first enumerated capture device.
func resolveMicrophone(devices []Device, id string) (Device, bool) {
	if id != "" {
		for _, d := range devices {
			if d.ID == id {
				return d, true
			}
		}
	}
	for _, d := range devices {
		if d.IsDefault {
			return d, true
		}
	}
	if len(devices) > 0 {
		return devices[0], true
	}
	return Device{}, false
}

// systemCandidate finds the best portable system-audio device by fixed
// priority: explicit loopback > monitor > stereo mix > known virtual
// cables > devices that are also render endpoints > output-style names
// or the default render endpoint. First device wins within a tier.
func systemCandidate(cat catalog) (Device, bool) {
	const noTier = int(^uint(0) >> 1)
	best := noTier
	var bestDev Device

	for _, d := range cat.devices {
		lower := strings.ToLower(d.Name)
		tier := noTier
		switch {
		case strings.Contains(lower, "loopback"):
			tier = 0
		case strings.Contains(lower, "monitor"):
			tier = 1
		case strings.Contains(lower, "stereo mix"):
			tier = 2
		case containsAny(lower, virtualCableNames):
			tier = 3
		default:
			if isMicrophoneName(lower) {
				continue
			}
			if _, ok := cat.outputs[lower]; ok {
				tier = 4
			} else if containsAny(lower, outputNamePatterns) ||
				(cat.defaultOutput != "" && lower == cat.defaultOutput) {
				tier = 5
			}
		}
		if tier < best {
			best = tier
			bestDev = d
		}
	}

	return bestDev, best != noTier
}

func isMicrophoneName(lower string) bool {
	return strings.Contains(lower, "mic") ||
		strings.Contains(lower, "microphone") ||
		strings.Contains(lower, "headset")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func newContext(log zerolog.Logger) (*malgo.AllocatedContext, error) {
	return malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Trace().Str("component", "miniaudio").Msg(strings.TrimSpace(message))
	})
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}
