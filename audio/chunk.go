package audio

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Chunk is a contiguous segment of captured audio, the unit of
// transcription work.
type Chunk struct {
	ID         uuid.UUID
	Seq        int
	Samples    []float32 // interleaved
	SampleRate int
	Channels   int
	CapturedAt time.Time
	Source     string // "capture" or the ingested file path
}

// Frames is the number of sample frames (samples per channel).
func (c *Chunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

func (c *Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.Frames()) / float64(c.SampleRate) * float64(time.Second))
}

// levelScale maps RMS amplitude onto the 0-100 meter.
const levelScale = 1000

// Level returns the loudness of a block on a 0-100 scale.
func Level(block []float32) int {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(block)))
	level := int(rms * levelScale)
	if level > 100 {
		return 100
	}
	if level < 0 {
		return 0
	}
	return level
}

// Peak returns the largest absolute sample value in a block.
func Peak(block []float32) float64 {
	var peak float64
	for _, s := range block {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return peak
}
