package audio

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultScanWindow = 500 * time.Millisecond
	activePeak        = 0.01
	scanChannels      = 2
)

// Activity is the result of listening to one device during a scan.
type Activity struct {
	Device Device
	Peak   float64
	Active bool
	Err    error
}

// Scan listens to each device for window and reports its peak amplitude,
// so the user can find which endpoint is carrying sound. Devices that
// cannot be opened are reported with Err set.
func Scan(host Host, devices []Device, window time.Duration) []Activity {
	if window <= 0 {
		window = DefaultScanWindow
	}
	results := make([]Activity, 0, len(devices))
	for _, dev := range devices {
		results = append(results, listen(host, dev, window))
	}
	return results
}

func listen(host Host, dev Device, window time.Duration) Activity {
	act := Activity{Device: dev}

	rate := int(dev.SampleRate)
	if rate <= 0 {
		rate = standardRate
	}
	cfg := StreamConfig{Device: &dev, SampleRate: rate, Channels: scanChannels, Loopback: dev.Loopback, FramesPerBuffer: defaultFramesPerBuffer}

	var mu sync.Mutex
	var peak float64
	hs, err := host.Open(cfg, func(in []float32) {
		p := Peak(in)
		mu.Lock()
		peak = math.Max(peak, p)
		mu.Unlock()
	})
	if err != nil {
		act.Err = &DeviceError{Op: "open", Device: dev.Name, Err: err}
		return act
	}
	defer hs.Close()

	if err := hs.Start(); err != nil {
		act.Err = &DeviceError{Op: "start", Device: dev.Name, Err: err}
		return act
	}
	time.Sleep(window)
	if err := hs.Stop(); err != nil {
		act.Err = &DeviceError{Op: "stop", Device: dev.Name, Err: err}
	}

	mu.Lock()
	act.Peak = peak
	mu.Unlock()
	act.Active = act.Peak > activePeak
	return act
}
