package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const minDeviceBufferBytes = 256

// PortAudioSource opens capture devices through PortAudio. Each opened
// device holds its own Initialize/Terminate pair.
type PortAudioSource struct{}

// NewPortAudioSource returns a FrameSource backed by PortAudio.
func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

// NegotiateBufferSize reports the minimum buffer in bytes the selected
// input can sustain, derived from its default low input latency.
func (p *PortAudioSource) NegotiateBufferSize(sampleRate uint32, channels uint16, enc Encoding) (int, error) {
	if enc != EncodingPCM16 {
		return 0, fmt.Errorf("unsupported encoding %s", enc)
	}
	if err := portaudio.Initialize(); err != nil {
		return 0, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return 0, fmt.Errorf("no input device: %w", err)
	}
	if dev.MaxInputChannels < int(channels) {
		return 0, fmt.Errorf("input %q supports %d channels, need %d", dev.Name, dev.MaxInputChannels, channels)
	}

	frames := int(math.Ceil(dev.DefaultLowInputLatency.Seconds() * float64(sampleRate)))
	size := frames * int(channels) * BytesPerSample
	if size < minDeviceBufferBytes {
		size = minDeviceBufferBytes
	}
	return size, nil
}

// Open starts a blocking input stream on the device selected by src.
// bufferSize is the host-side buffer in bytes; reads are served in
// chunks of a tenth of it.
func (p *PortAudioSource) Open(src Source, sampleRate uint32, channels uint16, enc Encoding, bufferSize int) (Device, error) {
	if enc != EncodingPCM16 {
		return nil, fmt.Errorf("unsupported encoding %s", enc)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	info, err := findInputDevice(src)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	chunk := bufferSize / deviceBufferMultiple / BytesPerSample
	chunk -= chunk % int(channels)
	if chunk <= 0 {
		portaudio.Terminate()
		return nil, fmt.Errorf("buffer size %d too small", bufferSize)
	}
	bytesPerSecond := float64(sampleRate) * float64(channels) * BytesPerSample

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = int(channels)
	params.Input.Latency = time.Duration(float64(bufferSize) / bytesPerSecond * float64(time.Second))
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = chunk / int(channels)

	buffer := make([]int16, chunk)
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open stream on %q: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start stream on %q: %w", info.Name, err)
	}

	slog.Debug("PortAudio input opened", "device", info.Name, "sample_rate", sampleRate, "channels", channels, "chunk", chunk)
	return &portAudioDevice{stream: stream, buffer: buffer}, nil
}

// findInputDevice maps a Source to a PortAudio input. The microphone is
// the default input; the camcorder is the first input whose name mentions
// a camera; anything else is matched against device names.
func findInputDevice(src Source) (*portaudio.DeviceInfo, error) {
	if src == SourceMic || src == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	want := strings.ToLower(string(src))
	if src == SourceCamcorder {
		want = "cam"
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device matches %q", src)
}

// ListPortAudioInputs returns the names of all devices with input channels.
func ListPortAudioInputs() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var names []string
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}

// portAudioDevice serves reads of any size from the stream's fixed buffer.
type portAudioDevice struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buffer  []int16
	pending []int16
}

func (d *portAudioDevice) Read(buf []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return 0, errors.New("device released")
	}
	if len(d.pending) == 0 {
		if err := d.stream.Read(); err != nil {
			if !errors.Is(err, portaudio.InputOverflowed) {
				return 0, err
			}
			slog.Warn("PortAudio input overflowed")
		}
		d.pending = d.buffer
	}
	n := copy(buf, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *portAudioDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}
	var err error
	if stopErr := d.stream.Stop(); stopErr != nil {
		err = stopErr
	}
	if closeErr := d.stream.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	d.stream = nil
	if termErr := portaudio.Terminate(); termErr != nil && err == nil {
		err = termErr
	}
	return err
}
