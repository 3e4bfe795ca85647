// Package host binds the audio package to PortAudio.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/bosley/noties/audio"
)

var errNoInput = errors.New("device has no input channels")

// PortAudio is an audio.Host backed by the system PortAudio library.
// Create it once per process and Close it on exit.
type PortAudio struct {
	mu sync.Mutex
}

func New() (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudio{}, nil
}

func (p *PortAudio) Close() error {
	return portaudio.Terminate()
}

func (p *PortAudio) Devices() ([]audio.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, &audio.DeviceError{Op: "enumerate", Err: err}
	}
	devices := make([]audio.Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, toDevice(i, info))
	}
	return devices, nil
}

func (p *PortAudio) DefaultInput() (audio.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return audio.Device{}, &audio.DeviceError{Op: "default", Err: err}
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return audio.Device{}, &audio.DeviceError{Op: "enumerate", Err: err}
	}
	for i, d := range infos {
		if d.Name == info.Name && d.MaxInputChannels == info.MaxInputChannels {
			return toDevice(i, info), nil
		}
	}
	return toDevice(audio.DefaultDevice, info), nil
}

// Open prepares an input stream delivering interleaved float32 blocks.
// Loopback configurations open the device as an input; host APIs that do
// not expose the endpoint that way reject the configuration.
func (p *PortAudio) Open(cfg audio.StreamConfig, onBlock audio.BlockFunc) (audio.HostStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := p.resolve(cfg.Device)
	if err != nil {
		return nil, err
	}
	if info.MaxInputChannels == 0 {
		return nil, errNoInput
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		onBlock(in)
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("Opened PortAudio stream", "device", info.Name, "config", cfg.String())
	return stream, nil
}

func (p *PortAudio) resolve(dev *audio.Device) (*portaudio.DeviceInfo, error) {
	if dev == nil {
		return portaudio.DefaultInputDevice()
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if dev.Index < 0 || dev.Index >= len(infos) {
		return nil, fmt.Errorf("invalid device index %d", dev.Index)
	}
	return infos[dev.Index], nil
}

func toDevice(index int, info *portaudio.DeviceInfo) audio.Device {
	return audio.Device{
		Index:          index,
		Name:           info.Name,
		HostAPI:        hostAPIName(info.HostApi),
		SampleRate:     info.DefaultSampleRate,
		Channels:       info.MaxInputChannels,
		OutputChannels: info.MaxOutputChannels,
	}
}

func hostAPIName(api *portaudio.HostApiInfo) string {
	if api == nil {
		return ""
	}
	switch api.Type {
	case portaudio.WASAPI:
		return "WASAPI"
	case portaudio.ALSA:
		return "ALSA"
	case portaudio.CoreAudio:
		return "Core Audio"
	case portaudio.MME:
		return "MME"
	default:
		return api.Name
	}
}
