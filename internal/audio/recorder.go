package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/pcmcapture/internal/observe"
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithSampleRate sets the capture sample rate in Hz.
func WithSampleRate(rate uint32) Option {
	return func(r *Recorder) { r.cfg.SampleRate = rate }
}

// Mono captures a single channel.
func Mono() Option {
	return func(r *Recorder) { r.cfg.Channels = 1 }
}

// Stereo captures two interleaved channels.
func Stereo() Option {
	return func(r *Recorder) { r.cfg.Channels = 2 }
}

// WithChannels sets the channel count, 1 or 2.
func WithChannels(channels uint16) Option {
	return func(r *Recorder) { r.cfg.Channels = channels }
}

// WithSource selects the input source.
func WithSource(src Source) Option {
	return func(r *Recorder) { r.cfg.Source = src }
}

// WithObserver registers the consumer notified of every captured frame.
func WithObserver(o Observer) Option {
	return func(r *Recorder) { r.observer = o }
}

// WithMetrics records into m instead of the default instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithStoreOpener replaces how the destination is opened. The opener must
// return an empty, writable store.
func WithStoreOpener(open func(path string) (PayloadStore, error)) Option {
	return func(r *Recorder) { r.openStore = open }
}

func openFileStore(path string) (PayloadStore, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// Recorder composes the capture loop, pause gate, stream sink and
// finalizer into one session lifecycle:
//
//	Start -> (Pause/Resume)* -> Stop -> Complete
//
// Stop releases the device but leaves a headerless payload on disk;
// Complete is the only path that produces a valid WAV file.
type Recorder struct {
	path      string
	cfg       CaptureConfig
	source    FrameSource
	observer  Observer
	metrics   *observe.Metrics
	openStore func(path string) (PayloadStore, error)
	gate      *PauseGate

	mu      sync.Mutex
	status  Status
	loop    *CaptureLoop
	sink    *StreamSink
	session *SessionInfo
}

// NewRecorder returns a recorder writing to path from source. Defaults are
// 44.1kHz, mono, 16-bit, microphone.
func NewRecorder(path string, source FrameSource, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		path:      path,
		cfg:       DefaultCaptureConfig(),
		source:    source,
		openStore: openFileStore,
		gate:      NewPauseGate(),
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(r)
	}

	if path == "" {
		return nil, errors.New("destination path is required")
	}
	if source == nil {
		return nil, errors.New("frame source is required")
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// Start truncates the destination and begins capturing. It returns once
// the producer goroutine is running.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusRecording {
		return fmt.Errorf("%w: recording already in progress", ErrState)
	}

	// a previous session stopped without Complete still holds its store
	if r.sink != nil && !r.sink.Sealed() {
		slog.Warn("Discarding unfinalized recording", "path", r.path)
		if err := r.sink.Close(); err != nil {
			slog.Warn("Failed to close previous destination", "error", err)
		}
	}
	r.sink = nil

	store, err := r.openStore(r.path)
	if err != nil {
		r.status = StatusError
		return fmt.Errorf("%w: open destination %s: %w", ErrIO, r.path, err)
	}
	sink, err := NewStreamSink(store)
	if err != nil {
		store.Close()
		r.status = StatusError
		return err
	}

	loop := NewCaptureLoop(r.source, r.cfg, sink, r.observer, r.gate, r.metrics)
	if err := loop.Start(); err != nil {
		store.Close()
		r.status = StatusError
		return err
	}

	r.sink = sink
	r.loop = loop
	r.session = &SessionInfo{
		ID:         uuid.NewString(),
		StartTime:  time.Now(),
		OutputFile: r.path,
		Config:     r.cfg,
	}
	r.status = StatusRecording

	slog.Info("Recording started", "path", r.path, "sample_rate", r.cfg.SampleRate, "channels", r.cfg.Channels, "session", r.session.ID)
	return nil
}

// Pause suspends capture after the frame in flight. Pausing twice is a no-op.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRecording {
		return fmt.Errorf("%w: can only pause while recording, current: %s", ErrState, r.status)
	}
	if err := r.checkAlive(); err != nil {
		return err
	}
	if !r.gate.Paused() {
		r.metrics.Pauses.Add(context.Background(), 1)
	}
	r.gate.Pause()
	slog.Debug("Recording paused", "path", r.path)
	return nil
}

// Resume continues a paused capture. Resuming an unpaused capture is a no-op.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRecording {
		return fmt.Errorf("%w: can only resume while recording, current: %s", ErrState, r.status)
	}
	if err := r.checkAlive(); err != nil {
		return err
	}
	r.gate.Resume()
	slog.Debug("Recording resumed", "path", r.path)
	return nil
}

// checkAlive rejects control of a session whose producer has failed.
func (r *Recorder) checkAlive() error {
	if r.loop != nil && r.loop.Failed() {
		return fmt.Errorf("%w: capture failed: %w", ErrState, r.loop.Err())
	}
	return nil
}

// Stop ends capture and releases the device. The payload stays on disk
// without a valid header until Complete.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRecording {
		return fmt.Errorf("%w: no recording in progress, current: %s", ErrState, r.status)
	}

	err := r.loop.Stop()
	r.status = StatusStopped
	if err != nil {
		return err
	}
	slog.Info("Recording stopped", "path", r.path, "frames", r.loop.Frames(), "bytes", r.sink.DataLength())
	return nil
}

// Complete flushes and seals the payload, then patches the WAV header at
// the start of the file. It must follow Stop and is valid once per session.
func (r *Recorder) Complete() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusStopped || r.sink == nil {
		return fmt.Errorf("%w: can only complete a stopped recording, current: %s", ErrState, r.status)
	}

	start := time.Now()
	dataLength, err := r.sink.FlushAndSeal()
	if err == nil {
		err = Finalize(r.sink, r.cfg)
	}
	if closeErr := r.sink.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		r.status = StatusError
		return err
	}

	r.metrics.RecordFinalize(context.Background(), time.Since(start))
	r.status = StatusCompleted
	slog.Info("Recording completed", "path", r.path, "data_length", dataLength, "duration", r.cfg.Duration(dataLength))
	return nil
}

// Status returns the lifecycle state and a snapshot of the current session.
// A session whose producer failed reports StatusError until it is stopped.
func (r *Recorder) Status() (Status, *SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.status
	if status == StatusRecording && r.loop != nil && r.loop.Failed() {
		status = StatusError
	}
	if r.session == nil {
		return status, nil
	}
	info := *r.session
	info.Paused = r.gate.Paused()
	if r.loop != nil {
		info.Frames = r.loop.Frames()
		info.Samples = r.loop.Samples()
	}
	if r.sink != nil {
		info.DataLength = r.sink.DataLength()
	}
	return status, &info
}

// Err returns the first error signaled by the current session. A non-nil
// result means the stream should be treated as failed.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loop == nil {
		return nil
	}
	return r.loop.Err()
}

// Capturing reports whether the session still holds the device, including
// a failed session that has not been stopped yet.
func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == StatusRecording
}

// Discard abandons the session without writing a header: a capture still
// holding the device is stopped and an unfinalized destination is closed.
// The payload already written stays on disk.
func (r *Recorder) Discard() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.status == StatusRecording {
		if err := r.loop.Stop(); err != nil {
			errs = append(errs, err)
		}
		r.status = StatusStopped
	}
	if r.sink != nil && !r.sink.Sealed() {
		slog.Warn("Discarding unfinalized recording", "path", r.path)
		if err := r.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.sink = nil
	return errors.Join(errs...)
}

// Config returns the capture configuration.
func (r *Recorder) Config() CaptureConfig {
	return r.cfg
}

// Path returns the destination file.
func (r *Recorder) Path() string {
	return r.path
}
