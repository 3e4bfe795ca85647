package audio

import (
	"errors"
	"fmt"
)

// DefaultDevice selects the host's default input device.
const DefaultDevice = -1

// Direction is what a device can do on the host.
type Direction int

const (
	DirInput Direction = iota
	DirOutput
	DirBoth
)

func (d Direction) String() string {
	return [...]string{"input", "output", "both"}[d]
}

// Device is one host audio endpoint. Index is the stable identity; Label is
// for display only.
type Device struct {
	Index          int       `json:"index"`
	Name           string    `json:"name"`
	Label          string    `json:"label"`
	HostAPI        string    `json:"hostApi"`
	Direction      Direction `json:"direction"`
	Loopback       bool      `json:"loopback"`
	SampleRate     float64   `json:"sampleRate"`
	Channels       int       `json:"channels"`
	OutputChannels int       `json:"outputChannels"`
	Tier           int       `json:"tier"`
}

// StreamConfig is one attempt at opening an input stream. A nil Device
// means the system default input. Samples are always interleaved float32.
type StreamConfig struct {
	Device          *Device `json:"device,omitempty"`
	SampleRate      int     `json:"sampleRate"`
	Channels        int     `json:"channels"`
	Loopback        bool    `json:"loopback"`
	FramesPerBuffer int     `json:"framesPerBuffer"`
}

func (c StreamConfig) String() string {
	dev := "default"
	if c.Device != nil {
		dev = fmt.Sprintf("%d", c.Device.Index)
	}
	return fmt.Sprintf("dev=%s rate=%d ch=%d loopback=%t", dev, c.SampleRate, c.Channels, c.Loopback)
}

// BlockFunc receives one block of interleaved samples from the host. The
// slice is only valid for the duration of the call.
type BlockFunc func(in []float32)

// Host is the audio subsystem: enumeration and stream opening.
type Host interface {
	Devices() ([]Device, error)
	DefaultInput() (Device, error)
	Open(cfg StreamConfig, onBlock BlockFunc) (HostStream, error)
}

// HostStream is an opened, not yet started, host stream.
type HostStream interface {
	Start() error
	Stop() error
	Close() error
}

var (
	ErrNoStreamConfig = errors.New("no stream configuration could be opened")
	ErrStreamStalled  = errors.New("audio stream stopped delivering data")
)

// DeviceError reports a failure talking to the audio subsystem.
type DeviceError struct {
	Op     string
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("audio %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("audio %s %q: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
