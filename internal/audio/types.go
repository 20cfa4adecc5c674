// Package audio implements the capture pipeline: a producer loop reading
// fixed-size PCM frames from a device, a pause gate, a streaming sink that
// writes little-endian samples to disk, and the finalizer that patches the
// WAV header once the payload length is known.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the current state of a capture session
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRecording Status = "RECORDING"
	StatusStopped   Status = "STOPPED"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
)

// Source selects the input the device should capture from.
// Values other than the named constants are treated as a device name.
type Source string

const (
	SourceMic       Source = "mic"
	SourceCamcorder Source = "camcorder"
)

// Encoding is the sample encoding requested from the device.
type Encoding int

const (
	// EncodingPCM16 is signed 16-bit linear PCM, the only supported encoding.
	EncodingPCM16 Encoding = iota + 1
)

func (e Encoding) String() string {
	switch e {
	case EncodingPCM16:
		return "pcm16"
	default:
		return "unknown"
	}
}

const (
	DefaultSampleRate    = 44100
	DefaultChannels      = 1
	BitsPerSample        = 16
	BytesPerSample       = BitsPerSample / 8
	MinSampleRate        = 8000
	MaxSampleRate        = 192000
	deviceBufferMultiple = 10
)

// CaptureConfig describes the format of a capture session. It is
// immutable once a session starts.
type CaptureConfig struct {
	SampleRate    uint32 `json:"sample_rate"`
	Channels      uint16 `json:"channels"`
	BitsPerSample uint16 `json:"bits_per_sample"`
	Source        Source `json:"source"`
}

// DefaultCaptureConfig returns 44.1kHz mono 16-bit from the microphone.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		BitsPerSample: BitsPerSample,
		Source:        SourceMic,
	}
}

// Validate checks the invariants of a capture configuration.
func (c CaptureConfig) Validate() error {
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.BitsPerSample != BitsPerSample {
		return fmt.Errorf("bits per sample must be %d, got %d", BitsPerSample, c.BitsPerSample)
	}
	if c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate {
		return fmt.Errorf("sample rate must be between %d and %d, got %d", MinSampleRate, MaxSampleRate, c.SampleRate)
	}
	if c.Source == "" {
		return errors.New("source is required")
	}
	return nil
}

// BlockAlign is the size in bytes of one sample across all channels.
func (c CaptureConfig) BlockAlign() uint16 {
	return c.Channels * BytesPerSample
}

// ByteRate is the number of payload bytes per second of audio.
func (c CaptureConfig) ByteRate() uint32 {
	return c.SampleRate * uint32(c.BlockAlign())
}

// Duration converts a payload length into playback time.
func (c CaptureConfig) Duration(dataLength int64) time.Duration {
	if c.ByteRate() == 0 {
		return 0
	}
	return time.Duration(float64(dataLength) / float64(c.ByteRate()) * float64(time.Second))
}

// SessionInfo contains information about the current capture session
type SessionInfo struct {
	ID         string        `json:"id"`
	StartTime  time.Time     `json:"start_time"`
	OutputFile string        `json:"output_file"`
	Config     CaptureConfig `json:"config"`
	Paused     bool          `json:"paused"`
	Frames     int64         `json:"frames"`
	Samples    int64         `json:"samples"`
	DataLength int64         `json:"data_length"`
}
