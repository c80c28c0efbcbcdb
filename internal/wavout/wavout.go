// Package wavout streams mixed capture chunks into a 16-bit PCM WAV file.
package wavout

import (
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"audiotap/internal/audio"
)

// Writer appends chunks to a WAV file. The encoder is created lazily
// from the first chunk, since the session's sample rate is only known
// once capture is running.
type Writer struct {
	path string

	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	closed bool
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Write appends one chunk. Safe to call from the mixer goroutine.
func (w *Writer) Write(c audio.Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("wav writer closed")
	}

	if w.enc == nil {
		f, err := os.Create(w.path)
		if err != nil {
			return fmt.Errorf("create %s: %w", w.path, err)
		}
		w.file = f
		w.enc = wav.NewEncoder(f, int(c.SampleRate), 16, c.Channels, 1)
	}

	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: c.Channels,
			SampleRate:  int(c.SampleRate),
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav chunk: %w", err)
	}
	return nil
}

// Close finalizes the WAV header. Closing a writer that never received
// a chunk is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.enc == nil {
		return nil
	}
	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return w.file.Close()
}
