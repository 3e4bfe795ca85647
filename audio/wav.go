package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/youpy/go-wav"
)

const (
	bitsPerSample = 16 // PCM written for speech backends
	maxWAVChannel = 2  // go-wav samples carry at most two channels
	readBlock     = 4096
	formatPCM     = 1
)

// EncodeWAV writes interleaved float32 samples as 16-bit PCM.
func EncodeWAV(w io.Writer, samples []float32, sampleRate, channels int) error {
	if channels < 1 || channels > maxWAVChannel {
		return fmt.Errorf("unsupported channel count %d", channels)
	}
	frames := len(samples) / channels
	out := make([]wav.Sample, frames)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			out[i].Values[ch] = toPCM16(samples[i*channels+ch])
		}
	}

	writer := wav.NewWriter(w, uint32(frames), uint16(channels), uint32(sampleRate), bitsPerSample)
	if err := writer.WriteSamples(out); err != nil {
		return fmt.Errorf("failed to write WAV samples: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to a new WAV file at path.
func WriteWAVFile(path string, samples []float32, sampleRate, channels int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	if err := EncodeWAV(file, samples, sampleRate, channels); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}

// WriteTempWAV materializes samples in a temporary WAV file and returns its
// path. The caller removes it.
func WriteTempWAV(dir string, samples []float32, sampleRate, channels int) (string, error) {
	file, err := os.CreateTemp(dir, "chunk-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create temp WAV: %w", err)
	}
	path := file.Name()
	if err := EncodeWAV(file, samples, sampleRate, channels); err != nil {
		file.Close()
		os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close temp WAV: %w", err)
	}
	return path, nil
}

// DecodeWAV reads a PCM WAV stream into a Chunk.
func DecodeWAV(r interface {
	io.Reader
	io.ReaderAt
}) (*Chunk, error) {
	reader := wav.NewReader(r)
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.AudioFormat != formatPCM {
		return nil, fmt.Errorf("unsupported WAV encoding %d, want PCM", format.AudioFormat)
	}
	channels := int(format.NumChannels)
	if channels < 1 || channels > maxWAVChannel {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	bits := int(format.BitsPerSample)
	if bits < 8 || bits > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", bits)
	}

	var samples []float32
	for {
		block, err := reader.ReadSamples(readBlock)
		for _, s := range block {
			for ch := 0; ch < channels; ch++ {
				samples = append(samples, fromPCM(s.Values[ch], bits))
			}
		}
		if errors.Is(err, io.EOF) || (err == nil && len(block) == 0) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read WAV samples: %w", err)
		}
	}

	return &Chunk{
		ID:         uuid.New(),
		Samples:    samples,
		SampleRate: int(format.SampleRate),
		Channels:   channels,
		CapturedAt: time.Now(),
	}, nil
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) (*Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	chunk, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	chunk.Source = path
	return chunk, nil
}

// fromPCM normalizes a PCM value to [-1, 1]. 8-bit PCM is unsigned.
func fromPCM(v, bits int) float32 {
	if bits == 8 {
		return float32(v-128) / 128
	}
	return float32(float64(v) / float64(int64(1)<<(bits-1)))
}

func toPCM16(s float32) int {
	v := math.Round(float64(s) * math.MaxInt16)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int(v)
}
