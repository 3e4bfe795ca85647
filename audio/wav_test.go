package audio_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/noties/audio"
)

func TestWAVRoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 0.25, 1, -1}

	var buf bytes.Buffer
	require.NoError(t, audio.EncodeWAV(&buf, samples, 16000, 2))

	c, err := audio.DecodeWAV(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, 16000, c.SampleRate)
	assert.Equal(t, 2, c.Channels)
	require.Len(t, c.Samples, len(samples))
	for i := range samples {
		assert.InDelta(t, samples[i], c.Samples[i], 1.0/32767)
	}
}

func TestEncodeWAVRejectsChannelCount(t *testing.T) {
	var buf bytes.Buffer
	err := audio.EncodeWAV(&buf, make([]float32, 12), 48000, 4)
	assert.Error(t, err)
}

func TestWriteTempWAV(t *testing.T) {
	dir := t.TempDir()

	path, err := audio.WriteTempWAV(dir, []float32{0.1, 0.2, 0.3}, 16000, 1)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	c, err := audio.ReadWAVFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, c.Source)
	assert.Equal(t, 3, c.Frames())

	require.NoError(t, os.Remove(path))
}

func TestReadWAVFileMissing(t *testing.T) {
	_, err := audio.ReadWAVFile(filepath.Join(t.TempDir(), "nope.wav"))
	assert.Error(t, err)
}
