package audio

import (
	"errors"
	"io"
	"sync"
	"time"
)

// fakeSource hands out a scripted fakeDevice.
type fakeSource struct {
	mu sync.Mutex

	bufferSize   int
	negotiateErr error
	openErr      error
	nilDevice    bool

	frames  [][]int16
	readErr error

	opened         int
	openSource     Source
	openBufferSize int
	dev            *fakeDevice
}

func newFakeSource(bufferSize int, frames ...[]int16) *fakeSource {
	return &fakeSource{bufferSize: bufferSize, frames: frames}
}

func (s *fakeSource) NegotiateBufferSize(uint32, uint16, Encoding) (int, error) {
	if s.negotiateErr != nil {
		return 0, s.negotiateErr
	}
	return s.bufferSize, nil
}

func (s *fakeSource) Open(src Source, _ uint32, _ uint16, _ Encoding, bufferSize int) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openErr != nil {
		return nil, s.openErr
	}
	if s.nilDevice {
		return nil, nil
	}
	s.opened++
	s.openSource = src
	s.openBufferSize = bufferSize
	s.dev = &fakeDevice{frames: s.frames, readErr: s.readErr}
	return s.dev, nil
}

func (s *fakeSource) device() *fakeDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev
}

// fakeDevice returns its scripted frames in order, then either readErr or
// empty reads until released.
type fakeDevice struct {
	mu       sync.Mutex
	frames   [][]int16
	readErr  error
	reads    int
	released int
}

func (d *fakeDevice) Read(buf []int16) (int, error) {
	d.mu.Lock()
	d.reads++
	if len(d.frames) > 0 {
		f := d.frames[0]
		d.frames = d.frames[1:]
		n := copy(buf, f)
		d.mu.Unlock()
		return n, nil
	}
	err := d.readErr
	d.mu.Unlock()

	if err != nil {
		return 0, err
	}
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (d *fakeDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
	return nil
}

func (d *fakeDevice) releaseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// memStore is an in-memory PayloadStore. Seeking past the end and writing
// zero-fills the gap, like a file.
type memStore struct {
	mu       sync.Mutex
	buf      []byte
	pos      int64
	syncs    int
	closed   bool
	writeErr error
	syncErr  error
	seekErr  error
}

func (m *memStore) grow(end int64) {
	if end > int64(len(m.buf)) {
		m.buf = append(m.buf, make([]byte, end-int64(len(m.buf)))...)
	}
}

func (m *memStore) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	end := m.pos + int64(len(p))
	m.grow(end)
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memStore) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	end := off + int64(len(p))
	m.grow(end)
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memStore) Seek(offset int64, whence int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seekErr != nil {
		return 0, m.seekErr
	}
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.buf)) + offset
	}
	if m.pos < 0 {
		return 0, errors.New("negative position")
	}
	return m.pos, nil
}

func (m *memStore) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	return m.syncErr
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *memStore) bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...)
}

// frameRecorder is a FrameWriter and Observer that keeps copies of what
// it receives.
type frameRecorder struct {
	mu       sync.Mutex
	frames   [][]int16
	errs     []error
	writeErr error
	frameErr error
}

func (r *frameRecorder) WriteFrame(frame []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.frames = append(r.frames, append([]int16(nil), frame...))
	return nil
}

func (r *frameRecorder) OnFrame(frame []int16) error {
	if err := r.WriteFrame(frame); err != nil {
		return err
	}
	return r.frameErr
}

func (r *frameRecorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *frameRecorder) snapshot() ([][]int16, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int16(nil), r.frames...), append([]error(nil), r.errs...)
}

func ramp(start, n int) []int16 {
	f := make([]int16, n)
	for i := range f {
		f[i] = int16(start + i)
	}
	return f
}
