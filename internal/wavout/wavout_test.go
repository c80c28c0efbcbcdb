package wavout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"audiotap/internal/audio"
)

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w := NewWriter(path)

	chunk := audio.Chunk{
		SampleRate: 48000,
		Channels:   2,
		Samples:    []int16{0, 1000, -1000, 32767},
	}
	if err := w.Write(chunk); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.Write(chunk); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if dec.SampleRate != 48000 {
		t.Errorf("expected 48000 Hz, got %d", dec.SampleRate)
	}
	if dec.NumChans != 2 {
		t.Errorf("expected 2 channels, got %d", dec.NumChans)
	}
	if len(buf.Data) != len(chunk.Samples)*2 {
		t.Fatalf("expected %d samples, got %d", len(chunk.Samples)*2, len(buf.Data))
	}
	for i := 0; i < len(chunk.Samples); i++ {
		if buf.Data[i] != int(chunk.Samples[i]) {
			t.Errorf("sample %d: expected %d, got %d", i, chunk.Samples[i], buf.Data[i])
		}
	}
}

func TestCloseWithoutChunks(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "empty.wav"))
	if err := w.Close(); err != nil {
		t.Fatalf("close of unused writer failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("double close failed: %v", err)
	}
}

func TestWriteAfterClose(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "closed.wav"))
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := w.Write(audio.Chunk{SampleRate: 48000, Channels: 2, Samples: []int16{1}}); err == nil {
		t.Fatal("expected write after close to fail")
	}
}
