// Package pipeline drives a capture session: it owns the audio stream and
// the consumer loop that transcribes and summarizes chunks in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bosley/noties/audio"
	"github.com/bosley/noties/scribe"
	"github.com/bosley/noties/summary"
)

const (
	DefaultPopTimeout = time.Second
	maxStatusRunes    = 80
	drainPoll         = 20 * time.Millisecond
)

var (
	ErrInvalidState = errors.New("invalid state for this command")
	ErrClosed       = errors.New("coordinator is closed")
)

type Options struct {
	Stream audio.StreamOptions
	// PopTimeout bounds each wait on the chunk queue, which is how often
	// the consumer loop notices shutdown.
	PopTimeout time.Duration
}

// Snapshot is the published session state.
type Snapshot struct {
	State      State               `json:"state"`
	SessionID  uuid.UUID           `json:"sessionId"`
	Level      int                 `json:"level"`
	Device     string              `json:"device,omitempty"`
	Config     *audio.StreamConfig `json:"config,omitempty"`
	Model      string              `json:"model"`
	Status     string              `json:"status"`
	Severity   Severity            `json:"severity"`
	Transcript []string            `json:"transcript"`
	Summary    string              `json:"summary"`
}

// Coordinator is the session object handed to front ends. Commands may be
// issued from any goroutine.
type Coordinator struct {
	stream     *audio.Stream
	queue      *audio.Queue
	stage      *scribe.Stage
	summarizer *summary.Summarizer
	popTimeout time.Duration

	// cmd serializes commands. The consumer loop never takes it, so a
	// command may wait for the loop to exit while holding it.
	cmd sync.Mutex

	mu         sync.Mutex
	state      State
	sessionID  uuid.UUID
	transcript []string
	status     string
	severity   Severity
	closed     bool

	// life ends on Close; it is the only cancellation an in-flight call sees.
	life       context.Context
	shutdown   context.CancelFunc
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	obsMu     sync.RWMutex
	observers map[uuid.UUID]Observer
}

func New(host audio.Host, stage *scribe.Stage, summarizer *summary.Summarizer, opts Options) *Coordinator {
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = DefaultPopTimeout
	}
	queue := audio.NewQueue()
	life, shutdown := context.WithCancel(context.Background())
	c := &Coordinator{
		life:       life,
		shutdown:   shutdown,
		stream:     audio.NewStream(host, queue, opts.Stream),
		queue:      queue,
		stage:      stage,
		summarizer: summarizer,
		popTimeout: opts.PopTimeout,
		state:      Idle,
		sessionID:  uuid.New(),
		status:     StatusIdle,
		observers:  make(map[uuid.UUID]Observer),
	}
	c.startLoop()
	return c
}

// Subscribe registers an observer and returns a function removing it.
func (c *Coordinator) Subscribe(o Observer) func() {
	id := uuid.New()
	c.obsMu.Lock()
	c.observers[id] = o
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Coordinator) each(fn func(Observer)) {
	c.obsMu.RLock()
	list := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		list = append(list, o)
	}
	c.obsMu.RUnlock()
	for _, o := range list {
		fn(o)
	}
}

func (c *Coordinator) setStatus(text string, sev Severity) {
	c.mu.Lock()
	c.status, c.severity = text, sev
	c.mu.Unlock()
	c.each(func(o Observer) { o.StatusChanged(text, sev) })
}

func (c *Coordinator) fail(err error) {
	c.setStatus(truncate("Error: "+err.Error(), maxStatusRunes), SeverityError)
}

// ListDevices returns the ranked capture candidates.
func (c *Coordinator) ListDevices() []audio.Device {
	return c.stream.Catalog().ListInputCandidates()
}

// StartMonitoring opens the stream on a device (audio.DefaultDevice for the
// system default). From Idle or Stopped this begins a new session once the
// previous one has processed its queued chunks; while a stream is open it
// switches devices and keeps the session.
func (c *Coordinator) StartMonitoring(device int) (audio.StreamConfig, error) {
	c.cmd.Lock()
	defer c.cmd.Unlock()

	c.mu.Lock()
	closed, state := c.closed, c.state
	c.mu.Unlock()
	if closed {
		return audio.StreamConfig{}, ErrClosed
	}
	if state == Idle || state == Stopped {
		c.newSession()
	}

	cfg, err := c.stream.Start(device)

	c.mu.Lock()
	if err != nil {
		// The consumer loop reports the failure when it reaches the sentinel.
		c.state = Stopped
		c.mu.Unlock()
		return audio.StreamConfig{}, err
	}
	c.state = Monitoring
	c.mu.Unlock()

	c.setStatus(StatusMonitoring, SeverityInfo)
	return cfg, nil
}

// newSession lets the previous session finish its queued chunks, then
// starts a fresh conversation.
func (c *Coordinator) newSession() {
	c.finishSession()
	c.discardPending()

	id := uuid.New()
	c.mu.Lock()
	c.sessionID = id
	c.transcript = nil
	c.mu.Unlock()
	c.summarizer.Reset()
	if !c.loopRunning() {
		c.startLoop()
	}
	slog.Info("Session started", "session", id)
}

// finishSession waits while the consumer loop works through the previous
// session's tail, so it is transcribed and summarized against that
// session's history.
func (c *Coordinator) finishSession() {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for !c.queue.Idle() && c.loopRunning() {
		select {
		case <-c.life.Done():
			return
		case <-ticker.C:
		}
	}
}

// discardPending drops what a stopped loop left behind. Stream errors are
// still published.
func (c *Coordinator) discardPending() {
	for n := c.queue.Len(); n > 0; n-- {
		chunk, err := c.queue.Pop(0)
		if err != nil {
			slog.Error("Audio stream failed", "error", err)
			c.fail(err)
		}
		if chunk != nil {
			slog.Warn("Discarding chunk from previous session", "seq", chunk.Seq, "source", chunk.Source)
		}
		if chunk != nil || err != nil {
			c.queue.Done()
		}
	}
}

// StartCapturing begins producing chunks on the open stream.
func (c *Coordinator) StartCapturing() error {
	c.cmd.Lock()
	defer c.cmd.Unlock()

	c.mu.Lock()
	switch c.state {
	case Capturing:
		c.mu.Unlock()
		return nil
	case Monitoring:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot capture while %s", ErrInvalidState, state)
	}
	if err := c.stream.StartCapture(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = Capturing
	c.mu.Unlock()

	c.setStatus(StatusRecording, SeverityActive)
	return nil
}

// StopCapturing stops producing chunks; the partial tail is flushed.
func (c *Coordinator) StopCapturing() error {
	c.cmd.Lock()
	defer c.cmd.Unlock()

	c.mu.Lock()
	capturing := c.state == Capturing
	c.mu.Unlock()
	if !capturing {
		return nil
	}
	c.stream.StopCapture()
	c.mu.Lock()
	if c.state == Capturing {
		c.state = Monitoring
	}
	c.mu.Unlock()

	c.setStatus(StatusMonitoring, SeverityInfo)
	return nil
}

// StopStream tears the stream down. Chunks already queued, including the
// final flush, are still processed.
func (c *Coordinator) StopStream() {
	c.cmd.Lock()
	defer c.cmd.Unlock()

	c.stream.StopStream()
	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()

	c.setStatus(StatusIdle, SeverityInfo)
}

// Level is the live input level, 0-100.
func (c *Coordinator) Level() int {
	return c.stream.Level()
}

// NextChunk pops the next queued chunk, waiting up to timeout. It returns
// the stream's error when the stream has failed and (nil, nil) on timeout.
// Callers compete with the consumer loop and own what they take.
func (c *Coordinator) NextChunk(timeout time.Duration) (*audio.Chunk, error) {
	chunk, err := c.queue.Pop(timeout)
	if chunk != nil || err != nil {
		c.queue.Done()
	}
	return chunk, err
}

// Drain waits until every queued chunk has been transcribed and summarized.
func (c *Coordinator) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for !c.queue.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Enqueue adds externally produced audio, such as an ingested file, to the
// queue behind any captured chunks.
func (c *Coordinator) Enqueue(chunk *audio.Chunk) error {
	c.cmd.Lock()
	defer c.cmd.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.queue.Push(chunk)
	if !c.loopRunning() {
		c.startLoop()
	}
	return nil
}

// SwitchModel changes the summarization model without resetting the
// conversation.
func (c *Coordinator) SwitchModel(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty model name", ErrInvalidState)
	}
	c.summarizer.SwitchModel(name)
	return nil
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		State:      c.state,
		SessionID:  c.sessionID,
		Status:     c.status,
		Severity:   c.severity,
		Transcript: append([]string(nil), c.transcript...),
	}
	c.mu.Unlock()

	if cfg, ok := c.stream.Config(); ok {
		snap.Config = &cfg
	}
	snap.Device = c.stream.Device()
	snap.Level = c.stream.Level()
	snap.Model = c.summarizer.Model()
	snap.Summary = c.summarizer.Summary()
	return snap
}

// Close stops the stream and the consumer loop. An in-flight transcription
// or summarization call is cancelled.
func (c *Coordinator) Close() {
	c.shutdown()
	c.cmd.Lock()
	defer c.cmd.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.stream.StopStream()
	c.stopLoop()
	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
}

// The loop fields are only touched with cmd held.

func (c *Coordinator) startLoop() {
	ctx, cancel := context.WithCancel(c.life)
	done := make(chan struct{})
	c.loopCancel = cancel
	c.loopDone = done
	go c.consume(ctx, done)
}

func (c *Coordinator) stopLoop() {
	if c.loopDone == nil {
		return
	}
	c.loopCancel()
	<-c.loopDone
	c.loopCancel = nil
	c.loopDone = nil
}

func (c *Coordinator) loopRunning() bool {
	if c.loopDone == nil {
		return false
	}
	select {
	case <-c.loopDone:
		return false
	default:
		return true
	}
}
