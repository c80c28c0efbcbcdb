package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakePipeline builds an open func that records lifecycle events, so
// tests can assert teardown ordering across sessions.
type fakePipeline struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePipeline) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePipeline) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakePipeline) open(name string, producers ...*producer) func(Request) (*pipeline, error) {
	return func(Request) (*pipeline, error) {
		f.record("open " + name)
		return &pipeline{
			producers: producers,
			cleanup:   func() { f.record("cleanup " + name) },
		}, nil
	}
}

func TestStartTwiceLeavesOneSession(t *testing.T) {
	fake := &fakePipeline{}
	m := NewManager(zerolog.Nop(), nil)

	m.open = fake.open("first", syntheticProducer("mic", 1, 48000))
	if err := m.Start(Request{Source: SourceMic}); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if m.State() != StateRunning {
		t.Fatalf("expected running state, got %v", m.State())
	}

	m.open = fake.open("second", syntheticProducer("mic", 1, 48000))
	if err := m.Start(Request{Source: SourceMic}); err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	events := fake.snapshot()
	want := []string{"open first", "cleanup first", "open second"}
	if len(events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q (first session must be joined before the second opens)", i, want[i], events[i])
		}
	}

	m.Stop()
	events = fake.snapshot()
	if events[len(events)-1] != "cleanup second" {
		t.Fatalf("expected final cleanup of second session, got %v", events)
	}
	if m.State() != StateIdle {
		t.Errorf("expected idle after stop, got %v", m.State())
	}
}

func TestStopIdleIsNoop(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)

	m.Stop()
	m.Stop()

	if m.State() != StateIdle {
		t.Errorf("expected idle, got %v", m.State())
	}
}

func TestStartUnsupportedSource(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)

	err := m.Start(Request{Source: "video"})
	if !errors.Is(err, ErrUnsupportedSource) {
		t.Fatalf("expected ErrUnsupportedSource, got %v", err)
	}
	if m.State() != StateIdle {
		t.Errorf("expected idle, got %v", m.State())
	}
}

func TestStartNoProducers(t *testing.T) {
	fake := &fakePipeline{}
	m := NewManager(zerolog.Nop(), nil)
	m.open = fake.open("empty")

	err := m.Start(Request{Source: SourceMic})
	if !errors.Is(err, ErrNoCaptureDevice) {
		t.Fatalf("expected ErrNoCaptureDevice, got %v", err)
	}
	if m.State() != StateIdle {
		t.Errorf("expected idle, got %v", m.State())
	}

	events := fake.snapshot()
	if len(events) != 2 || events[1] != "cleanup empty" {
		t.Fatalf("expected the empty pipeline to be cleaned up, got %v", events)
	}
}

func TestStartOpenError(t *testing.T) {
	m := NewManager(zerolog.Nop(), nil)
	m.open = func(Request) (*pipeline, error) {
		return nil, errors.New("context init failed")
	}

	err := m.Start(Request{Source: SourceSystem})
	if !errors.Is(err, ErrNoCaptureDevice) {
		t.Fatalf("expected ErrNoCaptureDevice, got %v", err)
	}
}

func TestStartReadinessTimeout(t *testing.T) {
	var cleaned atomic.Bool
	m := NewManager(zerolog.Nop(), nil)
	m.readyTimeout = 50 * time.Millisecond
	m.open = func(Request) (*pipeline, error) {
		// Simulate a device that takes longer than the handshake allows.
		time.Sleep(200 * time.Millisecond)
		return &pipeline{
			producers: []*producer{syntheticProducer("mic", 1, 48000)},
			cleanup:   func() { cleaned.Store(true) },
		}, nil
	}

	start := time.Now()
	err := m.Start(Request{Source: SourceMic})
	if !errors.Is(err, ErrNoCaptureDevice) {
		t.Fatalf("expected ErrNoCaptureDevice, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("start returned before the readiness window elapsed")
	}
	if m.State() != StateIdle {
		t.Errorf("expected idle, got %v", m.State())
	}
	// Start joins the opener goroutine, so the late pipeline must have
	// been torn down already.
	if !cleaned.Load() {
		t.Error("late pipeline was not cleaned up")
	}
}

func TestMixedEndToEnd(t *testing.T) {
	mic := syntheticProducer("mic", 1, 48000)
	system := syntheticProducer("system", 2, 48000)

	// Feed constant full-scale input from both synthetic devices until
	// the session tears them down.
	var stopped atomic.Bool
	feederDone := make(chan struct{})
	stopFeed := func() { stopped.Store(true); <-feederDone }
	mic.stop = stopFeed
	system.stop = func() {}
	go func() {
		defer close(feederDone)
		for !stopped.Load() {
			mic.push(constantFrame(32767, 64))
			system.push(constantFrame(32767, 128))
			time.Sleep(time.Millisecond)
		}
	}()

	chunks := make(chan Chunk, 256)
	m := NewManager(zerolog.Nop(), func(c Chunk) {
		select {
		case chunks <- c:
		default:
		}
	})
	m.open = func(Request) (*pipeline, error) {
		return &pipeline{
			producers: []*producer{mic, system},
			cleanup: func() {
				mic.stop()
				system.stop()
			},
		}, nil
	}

	if err := m.Start(Request{Source: SourceMixed}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var got []Chunk
	deadline := time.After(2 * time.Second)
	for len(got) < 10 {
		select {
		case c := <-chunks:
			got = append(got, c)
		case <-deadline:
			t.Fatal("timed out waiting for mixed chunks")
		}
	}

	m.Stop()
	if m.State() != StateIdle {
		t.Errorf("expected idle after stop, got %v", m.State())
	}

	for _, c := range got {
		if c.Channels != OutputChannels {
			t.Fatalf("expected %d output channels, got %d", OutputChannels, c.Channels)
		}
		if c.SampleRate != 48000 {
			t.Fatalf("expected 48000 Hz, got %d", c.SampleRate)
		}
		for i, s := range c.Samples {
			v := int(s)
			if v < 0 {
				v = -v
			}
			if v > 32767 {
				t.Fatalf("sample %d clips: %d", i, s)
			}
		}
		for i := 0; i+1 < len(c.Samples); i += 2 {
			l, r := c.Samples[i], c.Samples[i+1]
			if l-r > 1 || r-l > 1 {
				t.Fatalf("frame %d asymmetric: left=%d right=%d", i/2, l, r)
			}
		}
	}
}
