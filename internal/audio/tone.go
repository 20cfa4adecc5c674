package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	defaultToneFrequency = 440.0
	defaultToneAmplitude = 0.25
	toneChunkDuration    = 20 * time.Millisecond
)

// ToneSource synthesizes a sine wave in place of a capture device. It
// paces reads to the sample clock unless Unpaced is set, so a session
// produces audio at the same rate a real input would.
type ToneSource struct {
	Frequency float64
	Amplitude float64
	Unpaced   bool
}

// NewToneSource returns a 440Hz tone at a quarter of full scale.
func NewToneSource() *ToneSource {
	return &ToneSource{Frequency: defaultToneFrequency, Amplitude: defaultToneAmplitude}
}

// NegotiateBufferSize returns the byte size of 20ms of audio.
func (t *ToneSource) NegotiateBufferSize(sampleRate uint32, channels uint16, enc Encoding) (int, error) {
	if enc != EncodingPCM16 {
		return 0, fmt.Errorf("unsupported encoding %s", enc)
	}
	frames := int(float64(sampleRate) * toneChunkDuration.Seconds())
	return frames * int(channels) * BytesPerSample, nil
}

// Open returns a generator device. The source selection is ignored.
func (t *ToneSource) Open(_ Source, sampleRate uint32, channels uint16, enc Encoding, _ int) (Device, error) {
	if enc != EncodingPCM16 {
		return nil, fmt.Errorf("unsupported encoding %s", enc)
	}
	if sampleRate == 0 || channels == 0 {
		return nil, errors.New("sample rate and channels are required")
	}

	freq := t.Frequency
	if freq <= 0 {
		freq = defaultToneFrequency
	}
	amp := t.Amplitude
	if amp <= 0 || amp > 1 {
		amp = defaultToneAmplitude
	}
	return &toneDevice{
		step:     2 * math.Pi * freq / float64(sampleRate),
		amp:      amp * math.MaxInt16,
		rate:     float64(sampleRate),
		channels: int(channels),
		paced:    !t.Unpaced,
		start:    time.Now(),
	}, nil
}

type toneDevice struct {
	mu       sync.Mutex
	step     float64
	amp      float64
	rate     float64
	channels int
	paced    bool
	start    time.Time
	phase    float64
	produced int64
	released bool
}

func (d *toneDevice) Read(buf []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return 0, errors.New("device released")
	}

	frames := len(buf) / d.channels
	for i := 0; i < frames; i++ {
		v := int16(d.amp * math.Sin(d.phase))
		for c := 0; c < d.channels; c++ {
			buf[i*d.channels+c] = v
		}
		d.phase += d.step
		if d.phase > 2*math.Pi {
			d.phase -= 2 * math.Pi
		}
	}
	d.produced += int64(frames)

	if d.paced {
		due := d.start.Add(time.Duration(float64(d.produced) / d.rate * float64(time.Second)))
		time.Sleep(time.Until(due))
	}
	return frames * d.channels, nil
}

func (d *toneDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	return nil
}
