package audio

import (
	"encoding/binary"
	"fmt"
	"os"
)

const (
	fmtChunkSize = 16
	formatPCM    = 1
)

// ContainerHeader describes a canonical 44-byte PCM WAV header.
type ContainerHeader struct {
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataLength    uint32
}

// NewContainerHeader builds the header for a payload of dataLength bytes.
func NewContainerHeader(cfg CaptureConfig, dataLength int64) (ContainerHeader, error) {
	if err := cfg.Validate(); err != nil {
		return ContainerHeader{}, fmt.Errorf("%w: %w", ErrState, err)
	}
	if dataLength < 0 || dataLength > MaxDataLength {
		return ContainerHeader{}, fmt.Errorf("%w: payload length %d out of range", ErrState, dataLength)
	}
	return ContainerHeader{
		Channels:      cfg.Channels,
		SampleRate:    cfg.SampleRate,
		BitsPerSample: cfg.BitsPerSample,
		DataLength:    uint32(dataLength),
	}, nil
}

// ChunkSize is the RIFF chunk size: everything after the first 8 bytes.
func (h ContainerHeader) ChunkSize() uint32 {
	return 36 + h.DataLength
}

// BlockAlign is the size of one sample across all channels.
func (h ContainerHeader) BlockAlign() uint16 {
	return h.Channels * (h.BitsPerSample / 8)
}

// ByteRate is the number of payload bytes per second.
func (h ContainerHeader) ByteRate() uint32 {
	return h.SampleRate * uint32(h.BlockAlign())
}

// Bytes encodes the header in its on-disk layout.
func (h ContainerHeader) Bytes() [HeaderSize]byte {
	var hdr [HeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], h.ChunkSize())
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(hdr[20:22], formatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], h.Channels)
	binary.LittleEndian.PutUint32(hdr[24:28], h.SampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], h.ByteRate())
	binary.LittleEndian.PutUint16(hdr[32:34], h.BlockAlign())
	binary.LittleEndian.PutUint16(hdr[34:36], h.BitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], h.DataLength)
	return hdr
}

// Finalize writes the header for the sealed sink's payload over the first
// HeaderSize bytes of its store. The payload itself is not touched.
//
// Calling Finalize again is harmless only while the payload length is
// unchanged; a sealed sink guarantees that.
func Finalize(sink *StreamSink, cfg CaptureConfig) error {
	if !sink.Sealed() {
		return fmt.Errorf("%w: finalize before seal", ErrState)
	}
	h, err := NewContainerHeader(cfg, sink.DataLength())
	if err != nil {
		return err
	}
	return patchHeader(sink.store, h)
}

// FinalizeFile patches a header onto a file whose payload was written
// after a HeaderSize gap but never finalized, as left by a stop without
// complete. The payload length is taken from the file size.
func FinalizeFile(path string, cfg CaptureConfig) (ContainerHeader, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return ContainerHeader{}, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ContainerHeader{}, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	if info.Size() < HeaderSize {
		return ContainerHeader{}, fmt.Errorf("%w: %s is %d bytes, shorter than the %d byte header", ErrState, path, info.Size(), HeaderSize)
	}

	h, err := NewContainerHeader(cfg, info.Size()-HeaderSize)
	if err != nil {
		return ContainerHeader{}, err
	}
	if err := patchHeader(f, h); err != nil {
		return ContainerHeader{}, err
	}
	if err := f.Close(); err != nil {
		return ContainerHeader{}, fmt.Errorf("%w: close %s: %w", ErrIO, path, err)
	}
	return h, nil
}

type syncWriterAt interface {
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
}

func patchHeader(w syncWriterAt, h ContainerHeader) error {
	hdr := h.Bytes()
	if _, err := w.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: write header: %w", ErrIO, err)
	}
	if err := w.Sync(); err != nil {
		return fmt.Errorf("%w: sync header: %w", ErrIO, err)
	}
	return nil
}
