package audio

import (
	"fmt"
	"log/slog"
	"strings"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypePipeWire  BackendType = "pipewire"
	BackendTypeTone      BackendType = "tone"
	BackendTypeAuto      BackendType = "auto"
)

// ParseBackend converts a configuration value into a BackendType.
func ParseBackend(name string) (BackendType, error) {
	switch BackendType(strings.ToLower(strings.TrimSpace(name))) {
	case "", BackendTypeAuto:
		return BackendTypeAuto, nil
	case BackendTypePortAudio:
		return BackendTypePortAudio, nil
	case BackendTypePipeWire:
		return BackendTypePipeWire, nil
	case BackendTypeTone:
		return BackendTypeTone, nil
	default:
		return "", fmt.Errorf("unknown audio backend %q (available: auto, portaudio, pipewire, tone)", name)
	}
}

// NewFrameSource creates the FrameSource for the configured backend.
// Auto prefers PortAudio, then PipeWire, and falls back to the tone
// generator when neither has an input.
func NewFrameSource(backend string) (FrameSource, error) {
	bt, err := ParseBackend(backend)
	if err != nil {
		return nil, err
	}

	switch bt {
	case BackendTypePortAudio:
		return NewPortAudioSource(), nil
	case BackendTypePipeWire:
		return NewPipeWireSource(), nil
	case BackendTypeTone:
		return NewToneSource(), nil
	}

	names, err := ListPortAudioInputs()
	if err == nil && len(names) > 0 {
		return NewPortAudioSource(), nil
	}
	if err != nil {
		slog.Debug("PortAudio unavailable", "error", err)
	}
	if NewPipeWire().Available() {
		return NewPipeWireSource(), nil
	}
	slog.Warn("No capture backend available, using tone generator")
	return NewToneSource(), nil
}

// ListSources returns the selectable sources for the configured backend.
// The named sources come first, followed by device or port names.
func ListSources(backend string) ([]string, error) {
	bt, err := ParseBackend(backend)
	if err != nil {
		return nil, err
	}

	sources := []string{string(SourceMic), string(SourceCamcorder)}
	switch bt {
	case BackendTypeTone:
		return sources, nil
	case BackendTypePipeWire:
		ports, err := NewPipeWire().ListPorts()
		if err != nil {
			return nil, err
		}
		return append(sources, ports...), nil
	case BackendTypePortAudio:
		names, err := ListPortAudioInputs()
		if err != nil {
			return nil, err
		}
		return append(sources, names...), nil
	}

	if names, err := ListPortAudioInputs(); err == nil {
		sources = append(sources, names...)
	}
	if pw := NewPipeWire(); pw.Available() {
		if ports, err := pw.ListPorts(); err == nil {
			sources = append(sources, ports...)
		}
	}
	return sources, nil
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	var backends []BackendType
	if names, err := ListPortAudioInputs(); err == nil && len(names) > 0 {
		backends = append(backends, BackendTypePortAudio)
	}
	if NewPipeWire().Available() {
		backends = append(backends, BackendTypePipeWire)
	}
	return append(backends, BackendTypeTone)
}
