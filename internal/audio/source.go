package audio

// FrameSource is the capability of an audio backend to negotiate and open
// an input device.
type FrameSource interface {
	// NegotiateBufferSize returns the minimum device buffer size in bytes
	// for the given format.
	NegotiateBufferSize(sampleRate uint32, channels uint16, enc Encoding) (int, error)

	// Open initializes the device for capture. The returned Device is
	// exclusively owned by the caller until Release.
	Open(src Source, sampleRate uint32, channels uint16, enc Encoding, bufferSize int) (Device, error)
}

// Device is an opened input device.
type Device interface {
	// Read blocks until samples are available and fills buf, returning the
	// number of samples written. It may return fewer than len(buf).
	Read(buf []int16) (int, error)

	// Release stops capture and frees the device.
	Release() error
}

// Observer receives frames as they are captured. Both methods are called
// synchronously from the capture goroutine, so implementations must not
// block for long. The frame slice is reused between calls; copy it to
// retain it.
type Observer interface {
	OnFrame(frame []int16) error
	OnError(err error)
}

// ObserverFuncs adapts plain functions to the Observer interface. Nil
// fields are ignored.
type ObserverFuncs struct {
	Frame func(frame []int16) error
	Error func(err error)
}

func (o ObserverFuncs) OnFrame(frame []int16) error {
	if o.Frame == nil {
		return nil
	}
	return o.Frame(frame)
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

type nopObserver struct{}

func (nopObserver) OnFrame([]int16) error { return nil }
func (nopObserver) OnError(error)         {}
