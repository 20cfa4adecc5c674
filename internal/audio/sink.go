package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

const (
	// HeaderSize is the size of the canonical PCM WAV header.
	HeaderSize = 44

	// MaxDataLength is the largest payload a RIFF chunk size can describe.
	MaxDataLength = 0xFFFFFFFF - 36

	sinkBufferSize = 64 * 1024
)

// PayloadStore is the byte store a capture is written to. *os.File
// satisfies it.
type PayloadStore interface {
	io.Writer
	io.Seeker
	io.WriterAt
	Sync() error
	Close() error
}

// StreamSink appends frames to a PayloadStore as little-endian 16-bit
// samples. The first HeaderSize bytes of the store are left for the
// finalizer; the payload starts right after them.
//
// A sink has a single writer, the capture goroutine. Once sealed it
// rejects further writes.
type StreamSink struct {
	mu         sync.Mutex
	store      PayloadStore
	w          *bufio.Writer
	scratch    []byte
	dataLength int64
	sealed     bool
	closed     bool
}

// NewStreamSink positions store past the header region and returns a sink
// writing to it.
func NewStreamSink(store PayloadStore) (*StreamSink, error) {
	if _, err := store.Seek(HeaderSize, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek past header: %w", ErrIO, err)
	}
	return &StreamSink{
		store: store,
		w:     bufio.NewWriterSize(store, sinkBufferSize),
	}, nil
}

// WriteFrame serializes frame and appends it to the payload.
func (s *StreamSink) WriteFrame(frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return fmt.Errorf("%w: write after seal", ErrState)
	}

	n := len(frame) * BytesPerSample
	if s.dataLength+int64(n) > MaxDataLength {
		return fmt.Errorf("%w: payload would exceed %d bytes", ErrIO, int64(MaxDataLength))
	}

	if cap(s.scratch) < n {
		s.scratch = make([]byte, n)
	}
	buf := s.scratch[:n]
	for i, v := range frame {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}

	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("%w: write payload: %w", ErrIO, err)
	}
	s.dataLength += int64(n)
	return nil
}

// FlushAndSeal forces buffered bytes to stable storage, closes the sink to
// further writes and returns the payload length in bytes.
func (s *StreamSink) FlushAndSeal() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return s.dataLength, fmt.Errorf("%w: sink already sealed", ErrState)
	}
	if err := s.w.Flush(); err != nil {
		return s.dataLength, fmt.Errorf("%w: flush payload: %w", ErrIO, err)
	}
	if err := s.store.Sync(); err != nil {
		return s.dataLength, fmt.Errorf("%w: sync payload: %w", ErrIO, err)
	}
	s.sealed = true
	return s.dataLength, nil
}

// DataLength returns the number of payload bytes accepted so far.
func (s *StreamSink) DataLength() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataLength
}

// Sealed reports whether FlushAndSeal has completed.
func (s *StreamSink) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// Close releases the underlying store. Closing twice is a no-op.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("%w: close destination: %w", ErrIO, err)
	}
	return nil
}
