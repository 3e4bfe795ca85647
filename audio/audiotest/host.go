// Package audiotest provides a scriptable audio.Host for tests.
package audiotest

import (
	"errors"
	"sync"

	"github.com/bosley/noties/audio"
)

var (
	ErrRejected  = errors.New("configuration rejected")
	ErrNoDefault = errors.New("no default input device")
)

// Host is a fake audio subsystem. Reject decides which configurations fail
// to open; every opened stream is recorded so tests can feed it blocks.
type Host struct {
	mu       sync.Mutex
	devices  []audio.Device
	enumErr  error
	def      audio.Device
	Reject   func(cfg audio.StreamConfig) bool
	OnStart  func(s *Stream)
	attempts []audio.StreamConfig
	streams  []*Stream
}

func NewHost(devices ...audio.Device) *Host {
	h := &Host{devices: devices}
	if len(devices) > 0 {
		h.def = devices[0]
	}
	return h
}

// SetDevices replaces the enumerated devices, as when hardware is plugged
// in or removed. The default input is left unchanged.
func (h *Host) SetDevices(devices ...audio.Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = devices
}

// FailEnumeration makes Devices return err.
func (h *Host) FailEnumeration(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enumErr = err
}

func (h *Host) Devices() ([]audio.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enumErr != nil {
		return nil, h.enumErr
	}
	out := make([]audio.Device, len(h.devices))
	copy(out, h.devices)
	return out, nil
}

func (h *Host) DefaultInput() (audio.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.def.Name == "" {
		return audio.Device{}, ErrNoDefault
	}
	return h.def, nil
}

func (h *Host) Open(cfg audio.StreamConfig, onBlock audio.BlockFunc) (audio.HostStream, error) {
	h.mu.Lock()
	h.attempts = append(h.attempts, cfg)
	reject := h.Reject
	h.mu.Unlock()

	if reject != nil && reject(cfg) {
		return nil, ErrRejected
	}
	s := &Stream{cfg: cfg, onBlock: onBlock, host: h}
	h.mu.Lock()
	h.streams = append(h.streams, s)
	h.mu.Unlock()
	return s, nil
}

// Attempts returns every configuration Open was called with, in order.
func (h *Host) Attempts() []audio.StreamConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]audio.StreamConfig, len(h.attempts))
	copy(out, h.attempts)
	return out
}

// Last returns the most recently opened stream.
func (h *Host) Last() *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.streams) == 0 {
		return nil
	}
	return h.streams[len(h.streams)-1]
}

// Stream is a fake host stream driven by Feed.
type Stream struct {
	mu      sync.Mutex
	cfg     audio.StreamConfig
	onBlock audio.BlockFunc
	host    *Host
	started bool
	closed  bool
}

func (s *Stream) Config() audio.StreamConfig { return s.cfg }

func (s *Stream) Start() error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	if s.host.OnStart != nil {
		s.host.OnStart(s)
	}
	return nil
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.closed = true
	return nil
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Feed delivers one block as the audio callback would. Blocks fed to a
// stopped stream are ignored.
func (s *Stream) Feed(block []float32) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		s.onBlock(block)
	}
}

// Tone returns frames of interleaved samples at a constant value.
func Tone(frames, channels int, value float32) []float32 {
	out := make([]float32, frames*channels)
	for i := range out {
		out[i] = value
	}
	return out
}
