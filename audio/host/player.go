package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/bosley/noties/audio"
)

const playbackFrames = 1024

// PlayFile plays a WAV file through the default output device and returns
// when it has finished or ctx is cancelled.
func (p *PortAudio) PlayFile(ctx context.Context, path string) error {
	chunk, err := audio.ReadWAVFile(path)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	pos := 0
	done := make(chan struct{})
	var once sync.Once

	stream, err := portaudio.OpenDefaultStream(
		0,
		chunk.Channels,
		float64(chunk.SampleRate),
		playbackFrames,
		func(out []float32) {
			mu.Lock()
			defer mu.Unlock()
			n := copy(out, chunk.Samples[pos:])
			pos += n
			// Fill remaining buffer with silence
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
			if pos >= len(chunk.Samples) {
				once.Do(func() { close(done) })
			}
		},
	)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	slog.Info("Playing audio", "file", path, "duration", chunk.Duration())

	select {
	case <-done:
	case <-ctx.Done():
	}
	return stream.Stop()
}
