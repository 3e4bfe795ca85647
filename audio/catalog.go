package audio

import (
	"log/slog"
	"sort"
	"strings"
)

// Capture priority tiers, best first.
const (
	TierSystemOutput = iota
	TierStereoMix
	TierLoopbackAPI
	TierMicrophone
	tierExcluded
)

var (
	systemOutputKeywords = []string{"speakers", "headphones"}
	stereoMixKeywords    = []string{"stereo mix", "monitor", "blackhole", "vb-cable", "soundflower", "loopback"}
	micKeywords          = []string{"microphone", "mic"}
	labelNoise           = []string{"(Realtek(R) Audio)"}
)

// loopbackHostAPIs can capture what an output endpoint is playing.
var loopbackHostAPIs = map[string]bool{"WASAPI": true}

// genericCaptureHostAPIs expose loopback-style capture endpoints as inputs.
var genericCaptureHostAPIs = map[string]bool{"WASAPI": true, "ALSA": true}

// Catalog ranks host devices by how well they capture meeting audio.
type Catalog struct {
	host Host
}

func NewCatalog(host Host) *Catalog {
	return &Catalog{host: host}
}

// ListInputCandidates enumerates the host and returns the usable devices
// ordered by tier, then index. Enumeration failures yield an empty list.
func (c *Catalog) ListInputCandidates() []Device {
	devices, err := c.host.Devices()
	if err != nil {
		slog.Warn("Failed to enumerate audio devices", "error", err)
		return []Device{}
	}
	return Rank(devices)
}

// DefaultInput returns the host's default input, classified like any other
// device.
func (c *Catalog) DefaultInput() (Device, bool) {
	d, err := c.host.DefaultInput()
	if err != nil {
		slog.Debug("No default input device", "error", err)
		return Device{}, false
	}
	return classify(d), true
}

// Lookup finds a device by index in a fresh enumeration.
func (c *Catalog) Lookup(index int) (Device, bool) {
	devices, err := c.host.Devices()
	if err != nil {
		slog.Warn("Failed to enumerate audio devices", "error", err)
		return Device{}, false
	}
	for _, d := range devices {
		if d.Index == index {
			return classify(d), true
		}
	}
	return Device{}, false
}

// Rank classifies and orders devices, dropping the ones that cannot capture.
func Rank(devices []Device) []Device {
	ranked := make([]Device, 0, len(devices))
	for _, d := range devices {
		d = classify(d)
		if d.Tier == tierExcluded {
			continue
		}
		ranked = append(ranked, d)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Tier != ranked[j].Tier {
			return ranked[i].Tier < ranked[j].Tier
		}
		return ranked[i].Index < ranked[j].Index
	})
	return ranked
}

func classify(d Device) Device {
	d.Direction = direction(d)
	d.Tier = tierExcluded
	d.Loopback = false

	name := d.Name
	switch {
	case d.OutputChannels > 0 && loopbackHostAPIs[d.HostAPI] && containsAny(name, systemOutputKeywords):
		d.Tier = TierSystemOutput
		d.Loopback = true
		d.Label = "[SYSTEM AUDIO] " + name
	case d.Channels > 0 && containsAny(name, stereoMixKeywords):
		d.Tier = TierStereoMix
		d.Loopback = true
		d.Label = "[Stereo Mix] " + name
	case d.Channels > 0 && genericCaptureHostAPIs[d.HostAPI]:
		d.Tier = TierLoopbackAPI
		d.Label = "[" + d.HostAPI + "] " + name
	case d.Channels > 0 && containsAny(name, micKeywords):
		d.Tier = TierMicrophone
		d.Label = "[Mic] " + name
	}
	d.Label = cleanLabel(d.Label)
	return d
}

func direction(d Device) Direction {
	switch {
	case d.Channels > 0 && d.OutputChannels > 0:
		return DirBoth
	case d.OutputChannels > 0:
		return DirOutput
	default:
		return DirInput
	}
}

func cleanLabel(label string) string {
	for _, n := range labelNoise {
		label = strings.ReplaceAll(label, n, "")
	}
	return strings.TrimSpace(label)
}

func containsAny(s string, keywords []string) bool {
	s = strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
