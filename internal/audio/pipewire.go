package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	pipeWireLatency     = 20 * time.Millisecond
	pipeWireStopTimeout = 5 * time.Second
)

// PipeWire manages PipeWire port queries
type PipeWire struct {
	// listPorts replaces the pw-link query when set
	listPorts func() ([]string, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{}
}

// Available reports whether the pw-record and pw-link tools are installed.
func (pw *PipeWire) Available() bool {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return false
	}
	_, err := exec.LookPath("pw-link")
	return err == nil
}

// ListPorts returns all capture ports known to PipeWire
func (pw *PipeWire) ListPorts() ([]string, error) {
	if pw.listPorts != nil {
		return pw.listPorts()
	}
	cmd := exec.Command("pw-link", "-o")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(string(output)), nil
}

func parsePortList(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// ValidatePort checks if a specific port exists and has no duplicates
func (pw *PipeWire) ValidatePort(portName string) error {
	if portName == "" {
		return nil
	}

	ports, err := pw.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to check port: %w", err)
	}
	return validatePortInList(portName, ports)
}

func validatePortInList(portName string, allPorts []string) error {
	if portName == "" {
		return nil
	}

	duplicates := findPortDuplicatesInList(portName, allPorts)
	if len(duplicates) == 0 {
		return fmt.Errorf("port not found: %s", portName)
	}
	if len(duplicates) > 1 {
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}
	return nil
}

// findPortDuplicatesInList finds all ports with exactly the same name
func findPortDuplicatesInList(portName string, allPorts []string) []string {
	var duplicates []string
	for _, port := range allPorts {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

// PipeWireSource captures through pw-record, reading raw s16le PCM from
// its stdout.
type PipeWireSource struct {
	pipewire *PipeWire
}

// NewPipeWireSource returns a FrameSource backed by pw-record.
func NewPipeWireSource() *PipeWireSource {
	return &PipeWireSource{pipewire: NewPipeWire()}
}

// NegotiateBufferSize returns the byte size of the node latency pw-record
// is started with.
func (p *PipeWireSource) NegotiateBufferSize(sampleRate uint32, channels uint16, enc Encoding) (int, error) {
	if enc != EncodingPCM16 {
		return 0, fmt.Errorf("unsupported encoding %s", enc)
	}
	if !p.pipewire.Available() {
		return 0, errors.New("pw-record not found in PATH")
	}
	frames := int(float64(sampleRate) * pipeWireLatency.Seconds())
	return frames * int(channels) * BytesPerSample, nil
}

// Open starts pw-record. The microphone is the default source; the
// camcorder is the first port whose name mentions a camera; any other
// value must name exactly one PipeWire port.
func (p *PipeWireSource) Open(src Source, sampleRate uint32, channels uint16, enc Encoding, bufferSize int) (Device, error) {
	if enc != EncodingPCM16 {
		return nil, fmt.Errorf("unsupported encoding %s", enc)
	}

	target, err := p.resolveTarget(src)
	if err != nil {
		return nil, err
	}

	args := pipeWireArgs(target, sampleRate, channels)
	slog.Info("Starting pw-record", "command", "pw-record "+strings.Join(args, " "))

	cmd := exec.Command("pw-record", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pw-record: %w", err)
	}
	go logOutput(stderr, "stderr")

	return &pipeWireDevice{
		cmd:    cmd,
		reader: bufio.NewReaderSize(stdout, bufferSize),
	}, nil
}

// resolveTarget maps src to the pw-record target, empty for the default
// source.
func (p *PipeWireSource) resolveTarget(src Source) (string, error) {
	switch src {
	case SourceMic, "":
		return "", nil
	case SourceCamcorder:
		ports, err := p.pipewire.ListPorts()
		if err != nil {
			return "", err
		}
		for _, port := range ports {
			if strings.Contains(strings.ToLower(port), "cam") {
				return port, nil
			}
		}
		return "", fmt.Errorf("no camcorder port found among %d ports", len(ports))
	default:
		if err := p.pipewire.ValidatePort(string(src)); err != nil {
			return "", err
		}
		return string(src), nil
	}
}

func pipeWireArgs(target string, sampleRate uint32, channels uint16) []string {
	args := []string{
		"--rate", fmt.Sprintf("%d", sampleRate),
		"--channels", fmt.Sprintf("%d", channels),
		"--format", "s16",
		"--latency", fmt.Sprintf("%dms", pipeWireLatency.Milliseconds()),
	}
	if target != "" {
		args = append(args, "--target", target)
	}
	return append(args, "-")
}

// logOutput forwards a pipe to the debug log line by line
func logOutput(pipe io.ReadCloser, label string) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		slog.Debug("pw-record output", "stream", label, "line", scanner.Text())
	}
	pipe.Close()
}

type pipeWireDevice struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	reader *bufio.Reader
	raw    []byte
}

// Read blocks until len(buf) samples are available.
func (d *pipeWireDevice) Read(buf []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd == nil {
		return 0, errors.New("device released")
	}

	n := len(buf) * BytesPerSample
	if cap(d.raw) < n {
		d.raw = make([]byte, n)
	}
	raw := d.raw[:n]
	if _, err := io.ReadFull(d.reader, raw); err != nil {
		return 0, fmt.Errorf("pw-record stream: %w", err)
	}
	for i := range buf {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return len(buf), nil
}

// Release interrupts pw-record and waits for it to exit, killing it if it
// does not exit in time.
func (d *pipeWireDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd == nil || d.cmd.Process == nil {
		return nil
	}
	cmd := d.cmd
	d.cmd = nil

	slog.Debug("Sending SIGINT to pw-record process")
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Falling back to SIGKILL", "error", err)
		cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if err != nil && errors.As(err, &exitErr) && exitErr.ProcessState != nil {
			state := exitErr.ProcessState.String()
			if state == "signal: interrupt" || state == "signal: killed" {
				return nil
			}
		}
		if err != nil {
			return fmt.Errorf("pw-record process failed: %w", err)
		}
		return nil
	case <-time.After(pipeWireStopTimeout):
		slog.Warn("pw-record did not exit within timeout, force killing")
		cmd.Process.Kill()
		<-done
		return nil
	}
}
