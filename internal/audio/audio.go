// Package audio implements the capture-and-mixing engine: device
// enumeration and classification, native capture streams, the WASAPI
// loopback backend on Windows, and the session manager that mixes all
// active producers into one 16-bit interleaved stream.
package audio

import (
	"time"

	"audiotap/internal/pcm"
)

// DeviceKind is the heuristic classification of an endpoint.
type DeviceKind int

const (
	KindMicrophone DeviceKind = iota
	KindSystemLoopback
	KindOther
)

func (k DeviceKind) String() string {
	switch k {
	case KindMicrophone:
		return "mic"
	case KindSystemLoopback:
		return "system"
	default:
		return "other"
	}
}

// Device describes one capture endpoint. Instances are transient: every
// enumeration rebuilds the list from the OS, so ordering and membership
// may change between calls as hardware comes and goes.
type Device struct {
	ID         string // native name, stable for the session
	Name       string
	Kind       DeviceKind
	Channels   int
	SampleRate uint32
	IsDefault  bool

	nativeID deviceID
	format   pcm.Format
}

// Source selects what a capture session records.
type Source string

const (
	SourceMic    Source = "mic"
	SourceSystem Source = "system"
	SourceMixed  Source = "mixed"
)

// Request describes one capture session. DeviceID optionally pins the
// microphone by exact name; empty means the OS default input.
type Request struct {
	Source   Source
	DeviceID string
}

// Chunk is one mixed buffer of interleaved signed 16-bit samples. It is
// the only unit that crosses the engine boundary.
type Chunk struct {
	SampleRate uint32
	Channels   int
	Samples    []int16
}

// Bytes returns the samples in the host's native byte order.
func (c Chunk) Bytes() []byte {
	return pcm.Bytes(c.Samples)
}

// ChunkHandler receives mixed chunks, one per mixer cycle. It is called
// from the mixer goroutine and must not block for long.
type ChunkHandler func(Chunk)

// State tracks the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

const (
	// OutputChannels is the fixed channel count of every emitted chunk.
	OutputChannels = 2

	// DefaultSecondaryGain attenuates non-primary sources in mixed mode.
	DefaultSecondaryGain = 0.1

	// producerQueueCap bounds each producer's frame queue. Callbacks
	// drop on a full queue instead of blocking the real-time thread.
	producerQueueCap = 8

	// readyTimeout bounds the wait for the first producer to start.
	readyTimeout = 2 * time.Second

	defaultSampleRate = 48000
)

// producer is one capture stream feeding the mixer. Frames are
// interleaved s16 at the producer's native channel count and rate.
type producer struct {
	name       string
	frames     chan []int16
	channels   int
	sampleRate uint32
	stop       func()
}

// push hands a frame to the mixer without ever blocking the caller.
func (p *producer) push(frame []int16) {
	select {
	case p.frames <- frame:
	default:
		// Queue full: dropping is cheaper than stalling the audio callback.
	}
}
