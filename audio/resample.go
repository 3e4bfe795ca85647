package audio

// SpeechSampleRate is the rate speech models expect.
const SpeechSampleRate = 16000

// Downmix averages interleaved channels into mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from one rate to another. Exact integer
// multiples of the target are decimated; anything else is linearly
// interpolated.
func Resample(mono []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(mono) == 0 {
		out := make([]float32, len(mono))
		copy(out, mono)
		return out
	}
	if from > to && from%to == 0 {
		step := from / to
		out := make([]float32, 0, (len(mono)+step-1)/step)
		for i := 0; i < len(mono); i += step {
			out = append(out, mono[i])
		}
		return out
	}

	n := int(float64(len(mono)) * float64(to) / float64(from))
	if n <= 0 {
		return []float32{}
	}
	out := make([]float32, n)
	if n == 1 {
		out[0] = mono[0]
		return out
	}
	// Output points are spread evenly across the input span, ends included.
	span := float64(len(mono) - 1)
	for i := 0; i < n; i++ {
		pos := span * float64(i) / float64(n-1)
		lo := int(pos)
		if lo >= len(mono)-1 {
			out[i] = mono[len(mono)-1]
			continue
		}
		frac := float32(pos - float64(lo))
		out[i] = mono[lo] + (mono[lo+1]-mono[lo])*frac
	}
	return out
}

// ForSpeech converts a chunk to 16 kHz mono.
func ForSpeech(c *Chunk) []float32 {
	return Resample(Downmix(c.Samples, c.Channels), c.SampleRate, SpeechSampleRate)
}
