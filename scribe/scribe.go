// Package scribe turns captured audio chunks into text.
package scribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bosley/noties/audio"
)

const DefaultTimeout = 2 * time.Minute

var ErrTranscription = errors.New("transcription failed")

// Transcriber is a speech-to-text capability. Samples are 16 kHz mono.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, samples []float32, sampleRate int) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return f(ctx, samples, sampleRate)
}

// Result is the outcome of transcribing one chunk.
type Result struct {
	Text          string `json:"text"`
	Hallucination bool   `json:"hallucination"`
}

// Stage converts chunks to speech-model input, calls the backend and
// flags hallucinated output.
type Stage struct {
	backend Transcriber
	timeout time.Duration
}

func NewStage(backend Transcriber, timeout time.Duration) *Stage {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Stage{backend: backend, timeout: timeout}
}

// Transcribe runs one chunk through the backend. Backend failures are
// wrapped in ErrTranscription; the chunk is not retried.
func (s *Stage) Transcribe(ctx context.Context, c *audio.Chunk) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	samples := audio.ForSpeech(c)
	start := time.Now()
	text, err := s.backend.Transcribe(ctx, samples, audio.SpeechSampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("%w: chunk %d: %w", ErrTranscription, c.Seq, err)
	}

	text = strings.TrimSpace(text)
	res := Result{Text: text, Hallucination: IsHallucination(text)}
	slog.Debug("Chunk transcribed",
		"seq", c.Seq,
		"took", time.Since(start),
		"chars", len(text),
		"hallucination", res.Hallucination)
	return res, nil
}
