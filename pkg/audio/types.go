package audio

// TargetSampleRate is the rate every capture pipeline normalises to. Both the
// voice activity detector and the speech-to-text model expect 16 kHz mono.
const TargetSampleRate = 16000

// DeviceInfo describes an audio input device as reported by a [Backend].
type DeviceInfo struct {
	// Name is the backend's human-readable device name. It is also the key
	// used to select a device by hint.
	Name string `json:"name"`

	// IsDefault reports whether this is the system default input device.
	IsDefault bool `json:"is_default"`

	// SampleRate is the device's native capture rate in Hz.
	SampleRate int `json:"sample_rate"`

	// Channels is the number of input channels the device exposes.
	Channels int `json:"channels"`
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Format returns the native stream format of the device.
func (d DeviceInfo) Format() Format {
	return Format{SampleRate: d.SampleRate, Channels: d.Channels}
}
