package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bosley/noties/audio"
	"github.com/bosley/noties/summary"
)

// consume pulls chunks in order and runs each through transcription and
// summarization. A failed chunk is reported and dropped; a stream failure
// ends the loop.
func (c *Coordinator) consume(ctx context.Context, done chan struct{}) {
	failed := false
	defer func() {
		// The sentinel stays in flight until the loop has exited.
		close(done)
		if failed {
			c.queue.Done()
		}
	}()
	slog.Debug("Consumer loop starting")
	defer slog.Debug("Consumer loop stopped")

	for ctx.Err() == nil {
		chunk, err := c.queue.Pop(c.popTimeout)
		if err != nil {
			failed = true
			c.streamFailed(err)
			return
		}
		if chunk == nil {
			continue
		}
		c.process(ctx, chunk)
		c.queue.Done()
	}
}

func (c *Coordinator) streamFailed(err error) {
	slog.Error("Audio stream failed", "error", err)
	c.mu.Lock()
	if c.state == Monitoring || c.state == Capturing {
		c.state = Stopped
	}
	c.mu.Unlock()
	c.fail(err)
}

func (c *Coordinator) process(ctx context.Context, chunk *audio.Chunk) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic while processing chunk", "seq", chunk.Seq, "panic", r)
			c.fail(fmt.Errorf("processing chunk %d: %v", chunk.Seq, r))
		}
	}()

	c.setStatus(StatusTranscribing, SeverityActive)
	res, err := c.stage.Transcribe(ctx, chunk)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Error("Failed to transcribe chunk", "seq", chunk.Seq, "source", chunk.Source, "error", err)
		c.fail(err)
		return
	}
	if res.Hallucination {
		slog.Info("Skipping hallucination", "seq", chunk.Seq, "text", truncate(res.Text, 50))
		c.setStatus(StatusSkipping, SeverityActive)
		return
	}

	c.mu.Lock()
	c.transcript = append(c.transcript, res.Text)
	c.mu.Unlock()
	c.each(func(o Observer) { o.TranscriptAppended(res.Text) })

	c.setStatus(StatusSummarizing, SeverityActive)
	reply, err := c.summarizer.ProcessTranscript(ctx, res.Text)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if errors.Is(err, summary.ErrEmptyTranscript) {
			return
		}
		slog.Error("Failed to summarize transcript", "seq", chunk.Seq, "error", err)
		c.fail(err)
		return
	}
	if reply.UpdatedSummary != "" {
		c.each(func(o Observer) { o.SummaryUpdated(reply.UpdatedSummary) })
	}

	c.setStatus(c.idleStatus())
	slog.Info("Chunk processed", "seq", chunk.Seq, "source", chunk.Source)
}

// idleStatus is the status shown between chunks for the current state.
func (c *Coordinator) idleStatus() (string, Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Capturing:
		return StatusRecording, SeverityActive
	case Monitoring:
		return StatusMonitoring, SeverityInfo
	default:
		return StatusIdle, SeverityInfo
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
