package audio

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink receives completed chunks.
type Sink interface {
	Push(c *Chunk)
}

// ChunkBuffer accumulates blocks until the configured duration of audio has
// been captured, then materializes them as one Chunk.
type ChunkBuffer struct {
	mu          sync.Mutex
	sampleRate  int
	channels    int
	limit       time.Duration
	limitFrames int
	blocks      [][]float32
	samples     int
	start       time.Time
	seq         int
	sink        Sink
}

// NewChunkBuffer creates a buffer for a stream of the given format. sink may
// be nil, in which case Flush only returns the chunk.
func NewChunkBuffer(sampleRate, channels int, limit time.Duration, sink Sink) *ChunkBuffer {
	if channels <= 0 {
		channels = 1
	}
	return &ChunkBuffer{
		sampleRate:  sampleRate,
		channels:    channels,
		limit:       limit,
		limitFrames: int(math.Ceil(limit.Seconds() * float64(sampleRate))),
		sink:        sink,
	}
}

// Append adds a block. The buffer keeps the slice, so callers pass a copy.
func (b *ChunkBuffer) Append(block []float32) {
	if len(block) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		b.start = time.Now()
	}
	b.blocks = append(b.blocks, block)
	b.samples += len(block)
}

// Elapsed is the amount of audio held, measured in captured time.
func (b *ChunkBuffer) Elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.elapsedLocked()
}

func (b *ChunkBuffer) elapsedLocked() time.Duration {
	if b.sampleRate <= 0 {
		return 0
	}
	frames := b.samples / b.channels
	return time.Duration(float64(frames) / float64(b.sampleRate) * float64(time.Second))
}

// ShouldFlush reports whether the chunk duration has been reached.
func (b *ChunkBuffer) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.samples > 0 && b.samples/b.channels >= b.limitFrames
}

// Flush emits the next chunk and hands it to the sink. A buffer holding more
// than the chunk duration emits exactly that much and keeps the rest, so
// chunk boundaries do not drift with the block size. It returns nil when
// nothing is buffered.
func (b *ChunkBuffer) Flush() *Chunk {
	b.mu.Lock()
	if b.samples == 0 {
		b.mu.Unlock()
		return nil
	}
	samples := make([]float32, 0, b.samples)
	for _, blk := range b.blocks {
		samples = append(samples, blk...)
	}
	chunk := &Chunk{
		ID:         uuid.New(),
		Seq:        b.seq,
		SampleRate: b.sampleRate,
		Channels:   b.channels,
		CapturedAt: b.start,
		Source:     "capture",
	}
	b.seq++

	cut := b.limitFrames * b.channels
	if b.limitFrames > 0 && len(samples) > cut {
		chunk.Samples = samples[:cut:cut]
		rest := samples[cut:]
		b.blocks = [][]float32{rest}
		b.samples = len(rest)
		b.start = b.start.Add(b.limit)
	} else {
		chunk.Samples = samples
		b.resetLocked()
	}
	sink := b.sink
	b.mu.Unlock()

	if sink != nil {
		sink.Push(chunk)
	}
	return chunk
}

// Reset drops anything buffered without emitting it.
func (b *ChunkBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *ChunkBuffer) resetLocked() {
	b.blocks = nil
	b.samples = 0
	b.start = time.Time{}
}
