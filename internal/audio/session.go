package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns the single active capture session. Start always tears
// down any previous session before opening a new one, so at most one
// session exists at any time and no producer outlives its session.
type Manager struct {
	log           zerolog.Logger
	emit          ChunkHandler
	secondaryGain float64
	readyTimeout  time.Duration

	// open is swapped out in tests to inject synthetic producers.
	open func(req Request) (*pipeline, error)

	mu     sync.Mutex
	state  State
	active *activeSession
}

// pipeline is the set of producers opened for one session plus the
// teardown that releases their devices and context.
type pipeline struct {
	producers []*producer
	cleanup   func()
}

type activeSession struct {
	id   uuid.UUID
	stop chan struct{}
	done chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithSecondaryGain overrides the attenuation applied to non-primary
// sources in mixed mode.
func WithSecondaryGain(gain float64) Option {
	return func(m *Manager) {
		m.secondaryGain = gain
	}
}

// NewManager creates a session manager that delivers mixed chunks to
// emit. The handler runs on the mixer goroutine.
func NewManager(log zerolog.Logger, emit ChunkHandler, opts ...Option) *Manager {
	m := &Manager{
		log:           log,
		emit:          emit,
		secondaryGain: DefaultSecondaryGain,
		readyTimeout:  readyTimeout,
	}
	m.open = m.openPipeline
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start begins capturing for req, stopping any previous session first.
// It blocks until at least one producer confirms startup or the
// readiness timeout elapses, in which case no session is left running
// and ErrNoCaptureDevice is returned.
func (m *Manager) Start(req Request) error {
	switch req.Source {
	case SourceMic, SourceSystem, SourceMixed:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedSource, req.Source)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()

	m.state = StateStarting
	id := uuid.New()
	stop := make(chan struct{})
	done := make(chan struct{})
	ready := make(chan int, 1)
	gain := m.secondaryGain

	go func() {
		defer close(done)
		pipe, err := m.open(req)
		if err != nil {
			m.log.Error().Err(err).Msg("Failed to open capture pipeline")
			ready <- 0
			return
		}
		if len(pipe.producers) == 0 {
			ready <- 0
			pipe.cleanup()
			return
		}
		ready <- len(pipe.producers)
		defer pipe.cleanup()
		runMixer(pipe.producers, stop, gain, m.emit)
	}()

	select {
	case n := <-ready:
		if n == 0 {
			<-done
			m.state = StateIdle
			return ErrNoCaptureDevice
		}
	case <-time.After(m.readyTimeout):
		close(stop)
		<-done
		m.state = StateIdle
		return ErrNoCaptureDevice
	}

	m.active = &activeSession{id: id, stop: stop, done: done}
	m.state = StateRunning
	m.log.Info().
		Str("session", id.String()).
		Str("source", string(req.Source)).
		Msg("Capture session running")
	return nil
}

// Stop ends the active session and joins its goroutines. Stopping an
// idle manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.active == nil {
		m.state = StateIdle
		return
	}
	m.state = StateStopping
	close(m.active.stop)
	<-m.active.done
	m.log.Info().Str("session", m.active.id.String()).Msg("Capture session stopped")
	m.active = nil
	m.state = StateIdle
}

// openPipeline resolves devices for req and starts their producers.
// Per-producer failures are logged and skipped; the session proceeds
// with whichever producers came up.
func (m *Manager) openPipeline(req Request) (*pipeline, error) {
	ctx, err := newContext(m.log)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	cat, err := readCatalog(ctx, m.log)
	if err != nil {
		freeContext(ctx)
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	var producers []*producer

	openMic := func() {
		dev, ok := resolveMicrophone(cat.devices, req.DeviceID)
		if !ok {
			m.log.Warn().Msg("No microphone available")
			return
		}
		p, err := openStream(ctx, m.log, dev)
		if err != nil {
			m.log.Warn().Str("device", dev.Name).Err(err).Msg("Failed to open microphone stream")
			return
		}
		producers = append(producers, p)
	}

	openSystem := func() {
		if loopbackSupported() {
			p, err := startLoopback(m.log)
			if err == nil {
				producers = append(producers, p)
				return
			}
			m.log.Warn().Err(err).Msg("Loopback backend failed, trying portable system device")
		}
		dev, ok := m.resolveSystem(cat, req)
		if !ok {
			m.log.Warn().Msg("No system audio device found")
			return
		}
		p, err := openStream(ctx, m.log, dev)
		if err != nil {
			m.log.Warn().Str("device", dev.Name).Err(err).Msg("Failed to open system stream")
			return
		}
		producers = append(producers, p)
	}

	switch req.Source {
	case SourceMic:
		openMic()
	case SourceSystem:
		openSystem()
	case SourceMixed:
		// Microphone first: it paces the mixer in mixed mode.
		openMic()
		openSystem()
	}

	return &pipeline{
		producers: producers,
		cleanup: func() {
			for _, p := range producers {
				p.stop()
			}
			freeContext(ctx)
		},
	}, nil
}

// resolveSystem honors an explicit device pin for system-only capture
// when the named device actually classifies as a loopback, otherwise
// falls back to the tiered candidate search.
func (m *Manager) resolveSystem(cat catalog, req Request) (Device, bool) {
	if req.Source == SourceSystem && req.DeviceID != "" {
		for _, d := range cat.devices {
			if d.ID == req.DeviceID && d.Kind == KindSystemLoopback {
				return d, true
			}
		}
	}
	return systemCandidate(cat)
}
