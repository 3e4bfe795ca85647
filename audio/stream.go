package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultChunkDuration   = 30 * time.Second
	defaultFramesPerBuffer = 1024
	defaultBacklog         = 256
	defaultStallTimeout    = 3 * time.Second

	fallbackRate     = 44100
	standardRate     = 48000
	standardChannels = 2
)

var ErrNotRunning = errors.New("audio stream is not running")

// StreamOptions tune the capture stream.
type StreamOptions struct {
	ChunkDuration   time.Duration
	FramesPerBuffer int
	// Backlog is how many blocks may wait between the audio callback and
	// the accumulator before new blocks are dropped.
	Backlog int
	// StallTimeout tears the stream down when no block arrives for this
	// long. Zero disables the watchdog.
	StallTimeout time.Duration
}

func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		ChunkDuration:   defaultChunkDuration,
		FramesPerBuffer: defaultFramesPerBuffer,
		Backlog:         defaultBacklog,
		StallTimeout:    defaultStallTimeout,
	}
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.ChunkDuration <= 0 {
		o.ChunkDuration = defaultChunkDuration
	}
	if o.FramesPerBuffer <= 0 {
		o.FramesPerBuffer = defaultFramesPerBuffer
	}
	if o.Backlog <= 0 {
		o.Backlog = defaultBacklog
	}
	if o.StallTimeout < 0 {
		o.StallTimeout = 0
	}
	return o
}

type ctrlOp int

const (
	opFlush ctrlOp = iota
	opReset
)

type ctrlRequest struct {
	op   ctrlOp
	done chan struct{}
}

// Stream owns the single live input stream of a session. It stays open
// across capture start/stop cycles; while open it always meters the level,
// and while capturing it feeds a ChunkBuffer that emits into the queue.
type Stream struct {
	host    Host
	catalog *Catalog
	queue   *Queue
	opts    StreamOptions

	mu     sync.Mutex
	hs     HostStream
	cfg    StreamConfig
	device string
	gen    uint64
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
	ctrl   chan ctrlRequest

	// gate orders the capturing flag against block hand-off, so nothing
	// is sent after StopCapture has flipped the flag.
	gate sync.Mutex

	running   atomic.Bool
	capturing atomic.Bool
	level     atomic.Int32
	lastBlock atomic.Int64
	dropped   atomic.Int64
}

func NewStream(host Host, queue *Queue, opts StreamOptions) *Stream {
	return &Stream{
		host:    host,
		catalog: NewCatalog(host),
		queue:   queue,
		opts:    opts.withDefaults(),
	}
}

// Candidates builds the ordered list of configurations to try for a
// device. A nil device only gets the system default fallback.
func Candidates(dev *Device, framesPerBuffer int) []StreamConfig {
	var out []StreamConfig
	if dev != nil {
		rate := int(dev.SampleRate)
		if rate <= 0 {
			rate = standardRate
		}
		channels := dev.Channels
		if channels < 1 {
			channels = 1
		}
		if dev.Loopback {
			out = append(out, StreamConfig{Device: dev, SampleRate: rate, Channels: standardChannels, Loopback: true})
		}
		out = append(out,
			StreamConfig{Device: dev, SampleRate: rate, Channels: channels},
			StreamConfig{Device: dev, SampleRate: standardRate, Channels: standardChannels},
			StreamConfig{Device: dev, SampleRate: fallbackRate, Channels: standardChannels},
		)
	}
	out = append(out, StreamConfig{SampleRate: fallbackRate, Channels: standardChannels})
	for i := range out {
		out[i].FramesPerBuffer = framesPerBuffer
	}
	return out
}

// Start stops any open stream, resolves the device (DefaultDevice for the
// system default) and opens the first candidate configuration that works.
// If none does, the error is also published on the queue as a sentinel.
func (s *Stream) Start(index int) (StreamConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.level.Store(0)

	var dev *Device
	if index != DefaultDevice {
		if d, ok := s.catalog.Lookup(index); ok {
			dev = &d
		} else {
			slog.Warn("Selected audio device not found, using default", "device", index)
		}
	}

	s.gen++
	blocks := make(chan []float32, s.opts.Backlog)
	hs, cfg, err := s.negotiate(Candidates(dev, s.opts.FramesPerBuffer), func(in []float32) {
		s.onBlock(blocks, in)
	})
	if err != nil {
		s.running.Store(false)
		derr := &DeviceError{Op: "open", Device: s.endpoint(dev), Err: err}
		s.queue.Fail(derr)
		return StreamConfig{}, derr
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.hs = hs
	s.cfg = cfg
	s.device = s.endpoint(cfg.Device)
	s.ctx = ctx
	s.cancel = cancel
	s.ctrl = make(chan ctrlRequest)
	s.dropped.Store(0)
	s.capturing.Store(false)
	s.lastBlock.Store(time.Now().UnixNano())
	s.running.Store(true)

	buf := NewChunkBuffer(cfg.SampleRate, cfg.Channels, s.opts.ChunkDuration, s.queue)
	s.wg.Add(1)
	go s.accumulate(ctx, buf, blocks, s.ctrl)
	if s.opts.StallTimeout > 0 {
		s.wg.Add(1)
		go s.watch(ctx, s.gen)
	}

	slog.Info("Audio stream running", "config", cfg.String(), "device", s.device)
	return cfg, nil
}

// endpoint names the device a configuration targets; nil is the host
// default input.
func (s *Stream) endpoint(dev *Device) string {
	if dev != nil {
		return dev.Name
	}
	if d, ok := s.catalog.DefaultInput(); ok && d.Name != "" {
		return d.Name
	}
	return "default"
}

func (s *Stream) negotiate(candidates []StreamConfig, onBlock BlockFunc) (HostStream, StreamConfig, error) {
	for _, cfg := range candidates {
		slog.Debug("Attempting stream", "config", cfg.String())
		hs, err := s.host.Open(cfg, onBlock)
		if err != nil {
			slog.Debug("Stream config rejected", "config", cfg.String(), "error", err)
			continue
		}
		if err := hs.Start(); err != nil {
			slog.Debug("Stream config failed to start", "config", cfg.String(), "error", err)
			hs.Close()
			continue
		}
		return hs, cfg, nil
	}
	return nil, StreamConfig{}, ErrNoStreamConfig
}

// onBlock runs on the audio subsystem's thread. It must not block.
func (s *Stream) onBlock(blocks chan<- []float32, in []float32) {
	if !s.running.Load() {
		return
	}
	s.lastBlock.Store(time.Now().UnixNano())
	s.level.Store(int32(Level(in)))

	s.gate.Lock()
	defer s.gate.Unlock()
	if !s.capturing.Load() {
		return
	}
	blk := make([]float32, len(in))
	copy(blk, in)
	select {
	case blocks <- blk:
	default:
		s.dropped.Add(1)
	}
}

func (s *Stream) accumulate(ctx context.Context, buf *ChunkBuffer, blocks <-chan []float32, ctrl <-chan ctrlRequest) {
	defer s.wg.Done()

	add := func(blk []float32) {
		buf.Append(blk)
		for buf.ShouldFlush() {
			emit(buf)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case blk := <-blocks:
			add(blk)
		case req := <-ctrl:
		drain:
			for {
				select {
				case blk := <-blocks:
					if req.op == opFlush {
						add(blk)
					}
				default:
					break drain
				}
			}
			switch req.op {
			case opFlush:
				for emit(buf) {
				}
			case opReset:
				buf.Reset()
			}
			close(req.done)
		}
	}
}

func emit(buf *ChunkBuffer) bool {
	c := buf.Flush()
	if c == nil {
		return false
	}
	slog.Info("Chunk created", "seq", c.Seq, "id", c.ID, "duration", c.Duration())
	return true
}

func (s *Stream) request(op ctrlOp) {
	if s.ctrl == nil {
		return
	}
	req := ctrlRequest{op: op, done: make(chan struct{})}
	select {
	case s.ctrl <- req:
		<-req.done
	case <-s.ctx.Done():
	}
}

func (s *Stream) watch(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	interval := s.opts.StallTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := time.Since(time.Unix(0, s.lastBlock.Load()))
			if since < s.opts.StallTimeout {
				continue
			}
			slog.Error("Audio stream stalled", "since", since)
			go s.fail(gen, ErrStreamStalled)
			return
		}
	}
}

// fail tears down the stream of generation gen and publishes err.
func (s *Stream) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.hs == nil {
		return
	}
	name := s.device
	s.stopLocked()
	s.queue.Fail(&DeviceError{Op: "read", Device: name, Err: err})
}

// StartCapture begins producing chunks from a fresh buffer.
func (s *Stream) StartCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return ErrNotRunning
	}
	if s.capturing.Load() {
		return nil
	}
	s.request(opReset)
	s.gate.Lock()
	s.capturing.Store(true)
	s.gate.Unlock()
	slog.Info("Capture started")
	return nil
}

// StopCapture stops producing chunks and flushes the partial tail.
func (s *Stream) StopCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCaptureLocked()
}

func (s *Stream) stopCaptureLocked() {
	s.gate.Lock()
	was := s.capturing.Swap(false)
	s.gate.Unlock()
	if was {
		s.request(opFlush)
		slog.Info("Capture stopped")
	}
}

// StopStream flushes any capture in progress and releases the device.
func (s *Stream) StopStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Stream) stopLocked() {
	if s.hs == nil {
		s.running.Store(false)
		s.capturing.Store(false)
		return
	}
	if err := s.hs.Stop(); err != nil {
		slog.Warn("Failed to stop audio stream", "error", err)
	}
	s.stopCaptureLocked()
	s.running.Store(false)
	if err := s.hs.Close(); err != nil {
		slog.Warn("Failed to close audio stream", "error", err)
	}
	s.cancel()
	s.wg.Wait()

	if n := s.dropped.Load(); n > 0 {
		slog.Warn("Audio blocks dropped during session", "blocks", n)
	}
	s.hs = nil
	s.ctrl = nil
	s.cfg = StreamConfig{}
	s.device = ""
	s.level.Store(0)
	slog.Info("Audio stream stopped")
}

// Level is the most recent block loudness, 0-100.
func (s *Stream) Level() int { return int(s.level.Load()) }

func (s *Stream) Running() bool { return s.running.Load() }

func (s *Stream) Capturing() bool { return s.capturing.Load() }

// Config returns the active configuration, if a stream is open.
func (s *Stream) Config() (StreamConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.hs != nil
}

// Device names the endpoint of the open stream, or "" when none is open.
func (s *Stream) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Catalog exposes the device catalog the stream resolves against.
func (s *Stream) Catalog() *Catalog { return s.catalog }
