package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/noties/audio"
	"github.com/bosley/noties/audio/audiotest"
	"github.com/bosley/noties/scribe"
	"github.com/bosley/noties/summary"
)

type statusEvent struct {
	text     string
	severity Severity
}

type recorder struct {
	mu          sync.Mutex
	statuses    []statusEvent
	transcripts []string
	summaries   []string
}

func (r *recorder) StatusChanged(text string, sev Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, statusEvent{text, sev})
}

func (r *recorder) TranscriptAppended(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, text)
}

func (r *recorder) SummaryUpdated(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, text)
}

func (r *recorder) errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.statuses {
		if s.severity == SeverityError {
			out = append(out, s.text)
		}
	}
	return out
}

func (r *recorder) hasStatus(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if s.text == text {
			return true
		}
	}
	return false
}

func (r *recorder) counts() (transcripts, summaries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transcripts), len(r.summaries)
}

// countingChat answers every call with a JSON summary naming the call.
type countingChat struct {
	mu    sync.Mutex
	calls int
}

func (c *countingChat) Complete(_ context.Context, _ string, history []summary.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	last := history[len(history)-1].Content
	return fmt.Sprintf(`{"new_transcript":%q,"updated_summary":"summary %d"}`, last, c.calls), nil
}

func (c *countingChat) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func staticTranscriber(text string) scribe.TranscriberFunc {
	return func(context.Context, []float32, int) (string, error) { return text, nil }
}

func newTestCoordinator(t *testing.T, host audio.Host, tr scribe.Transcriber, chat summary.ChatCompleter, stream audio.StreamOptions) (*Coordinator, *recorder) {
	t.Helper()
	c := New(host,
		scribe.NewStage(tr, 100*time.Millisecond),
		summary.New(chat, "test-model", time.Second),
		Options{Stream: stream, PopTimeout: 10 * time.Millisecond})
	rec := &recorder{}
	c.Subscribe(rec)
	t.Cleanup(c.Close)
	return c, rec
}

func rig() []audio.Device {
	return []audio.Device{
		{Index: 0, Name: "Microphone", HostAPI: "Core Audio", Channels: 1, SampleRate: 48000},
		{Index: 1, Name: "Speakers", HostAPI: "WASAPI", OutputChannels: 2, SampleRate: 48000},
	}
}

func TestEndToEndFallbackChunkingAndTransientFailure(t *testing.T) {
	host := audiotest.NewHost(rig()...)
	host.Reject = func(cfg audio.StreamConfig) bool { return cfg.Device != nil }

	texts := []string{
		"first we reviewed the quarterly budget",
		"this one never comes back",
		"finally we assigned the launch tasks",
	}
	var mu sync.Mutex
	var order []int
	tr := scribe.TranscriberFunc(func(ctx context.Context, samples []float32, _ int) (string, error) {
		idx := int(math.Round(float64(samples[0])*10)) - 1
		mu.Lock()
		order = append(order, idx)
		mu.Unlock()
		if idx == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return texts[idx], nil
	})
	chat := &countingChat{}
	c, rec := newTestCoordinator(t, host, tr, chat, audio.StreamOptions{
		ChunkDuration:   15 * time.Second,
		FramesPerBuffer: 4410,
		Backlog:         1024,
	})

	cfg, err := c.StartMonitoring(1)
	require.NoError(t, err)
	assert.Nil(t, cfg.Device, "only the system default fallback opens")
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 2, cfg.Channels)
	assert.Len(t, host.Attempts(), 5)

	require.NoError(t, c.StartCapturing())
	hs := host.Last()
	// 45 seconds of audio in 100 ms blocks; each 15 s chunk has its own value.
	for i := 0; i < 450; i++ {
		hs.Feed(audiotest.Tone(4410, 2, float32(i/150+1)/10))
	}
	require.NoError(t, c.StopCapturing())

	require.Eventually(t, func() bool {
		_, s := rec.counts()
		return s == 2
	}, 10*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2}, order)
	mu.Unlock()
	assert.Equal(t, 2, chat.Calls())

	rec.mu.Lock()
	assert.Equal(t, []string{texts[0], texts[2]}, rec.transcripts)
	assert.Equal(t, []string{"summary 1", "summary 2"}, rec.summaries)
	rec.mu.Unlock()

	errs := rec.errors()
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "Error: "))
	assert.Contains(t, errs[0], "deadline exceeded")

	snap := c.Snapshot()
	assert.Equal(t, Monitoring, snap.State)
	assert.NotNil(t, snap.Config)
	assert.Equal(t, "summary 2", snap.Summary)
	assert.Equal(t, []string{texts[0], texts[2]}, snap.Transcript)
}

func TestStateTransitions(t *testing.T) {
	host := audiotest.NewHost(rig()...)
	c, rec := newTestCoordinator(t, host, staticTranscriber("unused text here"), &countingChat{}, audio.StreamOptions{})

	assert.ErrorIs(t, c.StartCapturing(), ErrInvalidState)
	assert.Equal(t, Idle, c.State())

	_, err := c.StartMonitoring(audio.DefaultDevice)
	require.NoError(t, err)
	assert.Equal(t, Monitoring, c.State())

	require.NoError(t, c.StartCapturing())
	require.NoError(t, c.StartCapturing())
	assert.Equal(t, Capturing, c.State())
	assert.True(t, rec.hasStatus(StatusRecording))

	require.NoError(t, c.StopCapturing())
	assert.Equal(t, Monitoring, c.State())
	assert.True(t, rec.hasStatus(StatusMonitoring))

	c.StopStream()
	assert.Equal(t, Idle, c.State())
	assert.Zero(t, c.Level())
	require.NoError(t, c.StopCapturing())
}

func TestDeviceFailureIsTerminalUntilRestart(t *testing.T) {
	host := audiotest.NewHost(rig()...)
	host.Reject = func(audio.StreamConfig) bool { return true }
	c, rec := newTestCoordinator(t, host, staticTranscriber("unused text here"), &countingChat{}, audio.StreamOptions{})

	_, err := c.StartMonitoring(0)
	require.ErrorIs(t, err, audio.ErrNoStreamConfig)
	assert.Equal(t, Stopped, c.State())
	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.StartCapturing(), ErrInvalidState)

	first := c.Snapshot().SessionID
	host.Reject = nil
	_, err = c.StartMonitoring(0)
	require.NoError(t, err)
	assert.Equal(t, Monitoring, c.State())
	assert.NotEqual(t, first, c.Snapshot().SessionID)
}

func TestStallStopsSession(t *testing.T) {
	host := audiotest.NewHost(rig()...)
	c, rec := newTestCoordinator(t, host, staticTranscriber("unused text here"), &countingChat{}, audio.StreamOptions{
		StallTimeout: 30 * time.Millisecond,
	})

	_, err := c.StartMonitoring(0)
	require.NoError(t, err)
	require.NoError(t, c.StartCapturing())

	require.Eventually(t, func() bool { return c.State() == Stopped }, 2*time.Second, 5*time.Millisecond)
	errs := rec.errors()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "stopped delivering data")
}

func TestRepeatedStartMonitoringKeepsSession(t *testing.T) {
	host := audiotest.NewHost(rig()...)
	chat := &countingChat{}
	c, rec := newTestCoordinator(t, host, staticTranscriber("the roadmap is agreed"), chat, audio.StreamOptions{})

	_, err := c.StartMonitoring(0)
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(&audio.Chunk{Samples: make([]float32, 1600), SampleRate: 16000, Channels: 1}))
	require.Eventually(t, func() bool { _, s := rec.counts(); return s == 1 }, time.Second, 5*time.Millisecond)
	before := c.Snapshot()

	_, err = c.StartMonitoring(audio.DefaultDevice)
	require.NoError(t, err)

	after := c.Snapshot()
	assert.Equal(t, before.SessionID, after.SessionID)
	assert.Equal(t, before.Transcript, after.Transcript)
	assert.Equal(t, "summary 1", after.Summary)
}

func TestHallucinationsAreSkipped(t *testing.T) {
	chat := &countingChat{}
	c, rec := newTestCoordinator(t, audiotest.NewHost(), staticTranscriber("1.5%"), chat, audio.StreamOptions{})

	require.NoError(t, c.Enqueue(&audio.Chunk{Samples: make([]float32, 160), SampleRate: 16000, Channels: 1}))

	require.Eventually(t, func() bool { return rec.hasStatus(StatusSkipping) }, time.Second, 5*time.Millisecond)
	tr, _ := rec.counts()
	assert.Zero(t, tr)
	assert.Zero(t, chat.Calls())
}

func TestPanickingStageDoesNotStopLoop(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	tr := scribe.TranscriberFunc(func(context.Context, []float32, int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("decoder exploded")
		}
		return "second chunk made it through", nil
	})
	c, rec := newTestCoordinator(t, audiotest.NewHost(), tr, &countingChat{}, audio.StreamOptions{})

	chunk := func() *audio.Chunk { return &audio.Chunk{Samples: make([]float32, 160), SampleRate: 16000, Channels: 1} }
	require.NoError(t, c.Enqueue(chunk()))
	require.NoError(t, c.Enqueue(chunk()))

	require.Eventually(t, func() bool { _, s := rec.counts(); return s == 1 }, time.Second, 5*time.Millisecond)
	errs := rec.errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "decoder exploded")
}

func TestSummarizationFailureKeepsTranscript(t *testing.T) {
	chat := chatFunc(func(context.Context, string, []summary.Message) (string, error) {
		return "", errors.New("upstream unavailable")
	})
	c, rec := newTestCoordinator(t, audiotest.NewHost(), staticTranscriber("pricing stays the same"), chat, audio.StreamOptions{})

	require.NoError(t, c.Enqueue(&audio.Chunk{Samples: make([]float32, 160), SampleRate: 16000, Channels: 1}))

	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"pricing stays the same"}, c.Snapshot().Transcript)
	_, s := rec.counts()
	assert.Zero(t, s)
}

func TestSwitchModel(t *testing.T) {
	c, _ := newTestCoordinator(t, audiotest.NewHost(), staticTranscriber("x"), &countingChat{}, audio.StreamOptions{})

	assert.ErrorIs(t, c.SwitchModel(""), ErrInvalidState)
	require.NoError(t, c.SwitchModel("google/gemini-flash"))
	assert.Equal(t, "google/gemini-flash", c.Snapshot().Model)
}

func TestClosedCoordinatorRejectsCommands(t *testing.T) {
	c, _ := newTestCoordinator(t, audiotest.NewHost(rig()...), staticTranscriber("x"), &countingChat{}, audio.StreamOptions{})
	c.Close()

	_, err := c.StartMonitoring(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Enqueue(&audio.Chunk{}), ErrClosed)
}

type chatFunc func(ctx context.Context, model string, history []summary.Message) (string, error)

func (f chatFunc) Complete(ctx context.Context, model string, history []summary.Message) (string, error) {
	return f(ctx, model, history)
}

func TestDrainWaitsForQueuedChunks(t *testing.T) {
	release := make(chan struct{})
	tr := scribe.TranscriberFunc(func(ctx context.Context, _ []float32, _ int) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "the roadmap was approved", nil
	})
	chat := &countingChat{}
	c := New(audiotest.NewHost(rig()...),
		scribe.NewStage(tr, 5*time.Second),
		summary.New(chat, "test-model", time.Second),
		Options{PopTimeout: 10 * time.Millisecond})
	t.Cleanup(c.Close)

	require.NoError(t, c.Enqueue(&audio.Chunk{Samples: audiotest.Tone(100, 1, 0.2), SampleRate: 1000, Channels: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Drain(ctx), context.DeadlineExceeded)

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.NoError(t, c.Drain(ctx2))
	assert.Equal(t, 1, chat.Calls())
	assert.Equal(t, []string{"the roadmap was approved"}, c.Snapshot().Transcript)
}

// gatedTranscriber blocks every call until released and records whether the
// call was cancelled.
type gatedTranscriber struct {
	started   chan struct{}
	release   chan struct{}
	text      string
	mu        sync.Mutex
	cancelled int
}

func newGatedTranscriber(text string) *gatedTranscriber {
	return &gatedTranscriber{started: make(chan struct{}, 16), release: make(chan struct{}), text: text}
}

func (g *gatedTranscriber) Transcribe(ctx context.Context, _ []float32, _ int) (string, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return g.text, nil
	case <-ctx.Done():
		g.mu.Lock()
		g.cancelled++
		g.mu.Unlock()
		return "", ctx.Err()
	}
}

func (g *gatedTranscriber) Cancelled() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

func TestRestartLetsPreviousTailFinish(t *testing.T) {
	host := audiotest.NewHost(audio.Device{Index: 0, Name: "Microphone", HostAPI: "Core Audio", Channels: 1, SampleRate: 1000})
	tr := newGatedTranscriber("we agreed to ship on friday")
	chat := &countingChat{}
	c := New(host,
		scribe.NewStage(tr, 5*time.Second),
		summary.New(chat, "test-model", 5*time.Second),
		Options{Stream: audio.StreamOptions{ChunkDuration: time.Second}, PopTimeout: 10 * time.Millisecond})
	t.Cleanup(c.Close)
	rec := &recorder{}
	c.Subscribe(rec)

	_, err := c.StartMonitoring(0)
	require.NoError(t, err)
	require.NoError(t, c.StartCapturing())
	first := c.Snapshot().SessionID
	for i := 0; i < 5; i++ {
		host.Last().Feed(audiotest.Tone(100, 1, 0.2))
	}
	require.NoError(t, c.StopCapturing())
	c.StopStream()

	select {
	case <-tr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("tail chunk was never transcribed")
	}

	restarted := make(chan error, 1)
	go func() {
		_, err := c.StartMonitoring(0)
		restarted <- err
	}()

	select {
	case <-restarted:
		t.Fatal("new session started before the previous tail finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(tr.release)
	select {
	case err := <-restarted:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("restart never completed")
	}

	assert.Zero(t, tr.Cancelled())
	assert.Equal(t, 1, chat.Calls())
	rec.mu.Lock()
	assert.Equal(t, []string{"we agreed to ship on friday"}, rec.transcripts)
	assert.Equal(t, []string{"summary 1"}, rec.summaries)
	rec.mu.Unlock()

	snap := c.Snapshot()
	assert.NotEqual(t, first, snap.SessionID)
	assert.Empty(t, snap.Transcript)
	assert.Empty(t, snap.Summary)
	assert.Equal(t, Monitoring, snap.State)
}

func TestRestartStillReportsQueuedStreamFailure(t *testing.T) {
	host := audiotest.NewHost(rig()...)
	tr := newGatedTranscriber("budget review is done")
	c := New(host,
		scribe.NewStage(tr, 5*time.Second),
		summary.New(&countingChat{}, "test-model", 5*time.Second),
		Options{PopTimeout: 10 * time.Millisecond})
	t.Cleanup(c.Close)
	rec := &recorder{}
	c.Subscribe(rec)

	_, err := c.StartMonitoring(0)
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(&audio.Chunk{Samples: audiotest.Tone(100, 1, 0.2), SampleRate: 1000, Channels: 1}))
	<-tr.started

	// Switching to a device that cannot open queues the failure behind the
	// chunk still being transcribed.
	host.Reject = func(audio.StreamConfig) bool { return true }
	_, err = c.StartMonitoring(0)
	require.ErrorIs(t, err, audio.ErrNoStreamConfig)
	assert.Equal(t, Stopped, c.State())
	host.Reject = nil

	restarted := make(chan error, 1)
	go func() {
		_, err := c.StartMonitoring(0)
		restarted <- err
	}()
	close(tr.release)
	require.NoError(t, <-restarted)

	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, rec.errors()[0], "no stream configuration")
	assert.Equal(t, Monitoring, c.State())
}
