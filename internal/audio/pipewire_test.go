package audio

import (
	"strings"
	"testing"
)

func TestValidatePort_Success(t *testing.T) {
	mockPorts := []string{"alsa_input.usb-mic:capture_FL", "system:capture_1"}

	err := validatePortInList("system:capture_1", mockPorts)
	if err != nil {
		t.Errorf("Expected no error for valid single port, got: %v", err)
	}
}

func TestValidatePort_NotFound(t *testing.T) {
	mockPorts := []string{"alsa_input.usb-mic:capture_FL"}

	err := validatePortInList("nonexistent:port", mockPorts)
	if err == nil {
		t.Fatal("Expected error for nonexistent port")
	}
	if !strings.Contains(err.Error(), "port not found") {
		t.Errorf("Expected 'port not found' error, got: %v", err)
	}
}

func TestValidatePort_DuplicateDetection(t *testing.T) {
	mockPorts := []string{
		"webcam:capture_MONO",
		"webcam:capture_MONO", // same name twice
		"webcam-2:capture_MONO",
	}

	err := validatePortInList("webcam:capture_MONO", mockPorts)
	if err == nil {
		t.Fatal("Expected error for duplicate sources")
	}
	if !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected 'duplicate sources detected' error, got: %v", err)
	}
}

func TestValidatePort_Empty(t *testing.T) {
	if err := validatePortInList("", []string{}); err != nil {
		t.Errorf("Expected no error for empty string, got: %v", err)
	}
}

func TestFindPortDuplicates_NoDuplicates(t *testing.T) {
	mockPorts := []string{
		"webcam:capture_MONO",
		"system:capture_1",
		"system:capture_2",
	}

	duplicates := findPortDuplicatesInList("system:capture_1", mockPorts)
	if len(duplicates) != 1 {
		t.Fatalf("Expected 1 match (itself), got %d: %v", len(duplicates), duplicates)
	}
	if duplicates[0] != "system:capture_1" {
		t.Errorf("Expected system:capture_1, got: %s", duplicates[0])
	}
}

func TestParsePortList(t *testing.T) {
	output := "Output ports:\n  system:capture_1\n\n  system:capture_2  \nwebcam:capture_MONO\n"

	ports := parsePortList(output)
	expected := []string{"system:capture_1", "system:capture_2", "webcam:capture_MONO"}
	if len(ports) != len(expected) {
		t.Fatalf("Expected %d ports, got %d: %v", len(expected), len(ports), ports)
	}
	for i := range expected {
		if ports[i] != expected[i] {
			t.Errorf("Port %d: expected %s, got %s", i, expected[i], ports[i])
		}
	}
}

func TestPipeWireArgs(t *testing.T) {
	args := strings.Join(pipeWireArgs("", 44100, 1), " ")
	if args != "--rate 44100 --channels 1 --format s16 --latency 20ms -" {
		t.Errorf("Unexpected mic args: %s", args)
	}

	args = strings.Join(pipeWireArgs("webcam", 48000, 2), " ")
	if !strings.Contains(args, "--target webcam") {
		t.Errorf("Expected target in args, got: %s", args)
	}
	if !strings.HasSuffix(args, " -") {
		t.Errorf("Expected stdout output, got: %s", args)
	}
}

func newStubPipeWireSource(ports ...string) *PipeWireSource {
	return &PipeWireSource{pipewire: &PipeWire{
		listPorts: func() ([]string, error) { return ports, nil },
	}}
}

func TestResolveTarget(t *testing.T) {
	src := newStubPipeWireSource("system:capture_1", "USB Webcam:capture_MONO", "dup:out", "dup:out")

	testCases := []struct {
		source        Source
		expected      string
		expectedError string
	}{
		{SourceMic, "", ""},
		{"", "", ""},
		{SourceCamcorder, "USB Webcam:capture_MONO", ""},
		{"system:capture_1", "system:capture_1", ""},
		{"missing:port", "", "port not found"},
		{"dup:out", "", "duplicate sources detected"},
	}

	for _, tc := range testCases {
		target, err := src.resolveTarget(tc.source)
		if tc.expectedError != "" {
			if err == nil || !strings.Contains(err.Error(), tc.expectedError) {
				t.Errorf("resolveTarget(%q): expected error containing '%s', got: %v", tc.source, tc.expectedError, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("resolveTarget(%q): unexpected error: %v", tc.source, err)
		}
		if target != tc.expected {
			t.Errorf("resolveTarget(%q) = %q, expected %q", tc.source, target, tc.expected)
		}
	}
}

func TestResolveTarget_NoCamcorder(t *testing.T) {
	src := newStubPipeWireSource("system:capture_1")

	if _, err := src.resolveTarget(SourceCamcorder); err == nil {
		t.Error("Expected error when no camcorder port exists")
	}
}

func TestPipeWireOpen_RejectsUnknownPort(t *testing.T) {
	src := newStubPipeWireSource("system:capture_1")

	dev, err := src.Open(Source("missing:port"), 44100, 1, EncodingPCM16, 17640)
	if err == nil {
		dev.Release()
		t.Fatal("Expected Open to fail for an unknown port")
	}
	if !strings.Contains(err.Error(), "port not found") {
		t.Errorf("Expected 'port not found' error, got: %v", err)
	}
}
