package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/pcmcapture/internal/observe"
)

// FrameWriter consumes frames in the order they are captured.
type FrameWriter interface {
	WriteFrame(frame []int16) error
}

type deviceState int

const (
	deviceUnopened deviceState = iota
	deviceOpen
	deviceReleased
)

func (s deviceState) String() string {
	switch s {
	case deviceUnopened:
		return "unopened"
	case deviceOpen:
		return "open"
	case deviceReleased:
		return "released"
	default:
		return "unknown"
	}
}

// deviceHandle tracks the lifecycle of the exclusive input device.
type deviceHandle struct {
	dev   Device
	state deviceState
}

func (h *deviceHandle) release() error {
	if h.state != deviceOpen {
		return fmt.Errorf("%w: release device in state %s", ErrState, h.state)
	}
	h.state = deviceReleased
	if err := h.dev.Release(); err != nil {
		return fmt.Errorf("%w: release device: %w", ErrDevice, err)
	}
	return nil
}

// CaptureLoop owns the producer goroutine of one capture session. It moves
// IDLE -> RECORDING -> STOPPED and is not reusable.
type CaptureLoop struct {
	source   FrameSource
	cfg      CaptureConfig
	sink     FrameWriter
	observer Observer
	gate     *PauseGate
	metrics  *observe.Metrics

	mu        sync.Mutex
	status    Status
	device    deviceHandle
	recording atomic.Bool
	failed    atomic.Bool
	done      chan struct{}

	frames  atomic.Int64
	samples atomic.Int64

	errMu sync.Mutex
	err   error
}

// NewCaptureLoop wires a loop reading from source into sink. A nil
// observer discards frames and errors; a nil gate never pauses; nil
// metrics record into the default instruments.
func NewCaptureLoop(source FrameSource, cfg CaptureConfig, sink FrameWriter, observer Observer, gate *PauseGate, metrics *observe.Metrics) *CaptureLoop {
	if observer == nil {
		observer = nopObserver{}
	}
	if gate == nil {
		gate = NewPauseGate()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &CaptureLoop{
		source:   source,
		cfg:      cfg,
		sink:     sink,
		observer: observer,
		gate:     gate,
		metrics:  metrics,
		status:   StatusIdle,
	}
}

// Start negotiates the buffer size, opens the device and spawns the
// producer goroutine. It returns without waiting for the first frame.
// On error the device is left untouched.
func (l *CaptureLoop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusIdle {
		return fmt.Errorf("%w: can only start from idle state, current: %s", ErrState, l.status)
	}
	if err := l.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrState, err)
	}

	bufferSize, err := l.source.NegotiateBufferSize(l.cfg.SampleRate, l.cfg.Channels, EncodingPCM16)
	if err != nil {
		return fmt.Errorf("%w: negotiate buffer size: %w", ErrDevice, err)
	}
	frameLen := bufferSize / BytesPerSample
	frameLen -= frameLen % int(l.cfg.Channels)
	if frameLen <= 0 {
		return fmt.Errorf("%w: invalid minimum buffer size %d", ErrDevice, bufferSize)
	}

	dev, err := l.source.Open(l.cfg.Source, l.cfg.SampleRate, l.cfg.Channels, EncodingPCM16, bufferSize*deviceBufferMultiple)
	if err != nil {
		return fmt.Errorf("%w: open device: %w", ErrDevice, err)
	}
	if dev == nil {
		return fmt.Errorf("%w: device not initialized", ErrDevice)
	}

	l.device = deviceHandle{dev: dev, state: deviceOpen}
	l.gate.rearm()
	l.recording.Store(true)
	l.done = make(chan struct{})
	l.status = StatusRecording
	l.metrics.ActiveSessions.Add(context.Background(), 1)

	slog.Debug("Capture loop started", "sample_rate", l.cfg.SampleRate, "channels", l.cfg.Channels, "frame_samples", frameLen)

	go l.run(dev, frameLen, l.done)
	return nil
}

// run is the producer body: read, write to the sink, notify the observer,
// honor the pause gate, then check whether to keep going.
func (l *CaptureLoop) run(dev Device, frameLen int, done chan<- struct{}) {
	defer close(done)

	ctx := context.Background()
	buf := make([]int16, frameLen)

	for l.recording.Load() {
		n, err := dev.Read(buf)
		if err != nil {
			// the partially read frame is dropped
			l.abort(fmt.Errorf("%w: read frame: %w", ErrDevice, err))
			return
		}
		if n > len(buf) {
			n = len(buf)
		}

		if n > 0 {
			frame := buf[:n]
			if err := l.sink.WriteFrame(frame); err != nil {
				l.abort(err)
				return
			}
			l.frames.Add(1)
			l.samples.Add(int64(n))
			l.metrics.RecordFrame(ctx, n*BytesPerSample)

			if err := l.observer.OnFrame(frame); err != nil {
				l.fail(fmt.Errorf("observer: %w", err))
			}
		}

		l.gate.WaitWhilePaused()
	}
}

// abort signals an error that ended the producer. The device stays open
// until Stop.
func (l *CaptureLoop) abort(err error) {
	l.failed.Store(true)
	l.fail(err)
}

// fail records the first error of the session and signals the observer.
func (l *CaptureLoop) fail(err error) {
	l.errMu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.errMu.Unlock()

	kind := errorKind(err)
	l.metrics.RecordError(context.Background(), kind)
	slog.Error("Capture error", "kind", kind, "error", err)
	l.observer.OnError(err)
}

// Stop ends the session: it clears the recording flag, waits for the
// producer to exit after its in-flight read, then releases the device.
// Stop on a loop that is not recording fails with ErrState.
func (l *CaptureLoop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusRecording {
		return fmt.Errorf("%w: no recording in progress, current: %s", ErrState, l.status)
	}

	l.recording.Store(false)
	l.gate.release()
	<-l.done

	err := l.device.release()
	l.status = StatusStopped
	l.metrics.ActiveSessions.Add(context.Background(), -1)

	slog.Debug("Capture loop stopped", "frames", l.frames.Load(), "samples", l.samples.Load())
	return err
}

// Status returns the lifecycle state of the loop.
func (l *CaptureLoop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Err returns the first error signaled during the session, if any.
func (l *CaptureLoop) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Failed reports whether the producer exited on a device or sink error.
// A failed loop still has to be stopped to release the device.
func (l *CaptureLoop) Failed() bool { return l.failed.Load() }

// Frames returns the number of frames written so far.
func (l *CaptureLoop) Frames() int64 { return l.frames.Load() }

// Samples returns the number of samples written so far.
func (l *CaptureLoop) Samples() int64 { return l.samples.Load() }
