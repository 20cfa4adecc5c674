package service

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/wav"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
	"github.com/audiolibrelab/pcmcapture/internal/config"
)

// Service represents the core PCMCapture service interface
type Service interface {
	// Recording operations
	StartRecording(name string) error
	PauseRecording() error
	ResumeRecording() error
	StopRecording() error
	CompleteRecording() error
	GetRecordingStatus() (audio.Status, *RecordingSession)

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// Information operations
	GetLastError() string
	RecordingPath(name string) string
	ListRecordings() ([]RecordingInfo, error)
	Inspect(filename string) (*WavInfo, error)
	FinalizeRaw(filename string) (*WavInfo, error)

	// Close stops an active session and finalizes it
	Close() error
}

// RecordingSession contains information about the current recording session
type RecordingSession struct {
	Name       string    `json:"name"`
	ID         string    `json:"id"`
	StartTime  time.Time `json:"start_time"`
	OutputFile string    `json:"output_file"`
	SampleRate uint32    `json:"sample_rate"`
	Channels   uint16    `json:"channels"`
	Source     string    `json:"source"`
	Paused     bool      `json:"paused"`
	Frames     int64     `json:"frames"`
	Samples    int64     `json:"samples"`
	DataLength int64     `json:"data_length"`
	Duration   float64   `json:"duration_seconds"`
	PeakLevel  float64   `json:"peak_level"`
}

// RecordingInfo describes a WAV file in the recordings directory
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	InfoURL      string    `json:"info_url"`
}

// WavInfo is the parsed header of a recording
type WavInfo struct {
	Path       string  `json:"path"`
	Valid      bool    `json:"valid"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	BitDepth   int     `json:"bit_depth"`
	DataLength int64   `json:"data_length"`
	Duration   float64 `json:"duration_seconds"`
}

// PCMCaptureService is the main service implementation
type PCMCaptureService struct {
	cfg        *config.Config
	configFile string
	source     audio.FrameSource

	mu       sync.Mutex
	recorder *audio.Recorder
	name     string
	meter    *levelMeter

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new PCMCapture service instance capturing from source
func New(cfg *config.Config, configFile string, source audio.FrameSource) *PCMCaptureService {
	return &PCMCaptureService{
		cfg:        cfg,
		configFile: configFile,
		source:     source,
	}
}

// StartRecording begins a new capture into <output dir>/<clean name>.wav
func (s *PCMCaptureService) StartRecording(name string) error {
	slog.Debug("Service.StartRecording called", "name", name)
	s.clearLastError()

	err := s.startRecording(name)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
	}
	return err
}

func (s *PCMCaptureService) startRecording(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recorder != nil {
		status, _ := s.recorder.Status()
		if status == audio.StatusRecording {
			return fmt.Errorf("%w: recording '%s' already in progress", audio.ErrState, s.name)
		}
		if status != audio.StatusCompleted {
			if err := s.recorder.Discard(); err != nil {
				slog.Warn("Failed to discard previous recording", "path", s.recorder.Path(), "error", err)
			}
		}
	}

	cleanName := cleanFileName(name)
	if cleanName == "" {
		return fmt.Errorf("recording name is required")
	}
	if err := os.MkdirAll(s.cfg.Output.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	meter := &levelMeter{onError: func(err error) {
		s.setLastError(fmt.Sprintf("Capture error: %v", err))
	}}
	capture := s.cfg.CaptureConfig()
	recorder, err := audio.NewRecorder(recordingPath(s.cfg, name), s.source,
		audio.WithSampleRate(capture.SampleRate),
		audio.WithChannels(capture.Channels),
		audio.WithSource(capture.Source),
		audio.WithObserver(meter),
	)
	if err != nil {
		return err
	}
	if err := recorder.Start(); err != nil {
		return err
	}

	s.recorder = recorder
	s.name = name
	s.meter = meter
	return nil
}

// PauseRecording pauses the active capture
func (s *PCMCaptureService) PauseRecording() error {
	return s.withRecorder("pause", (*audio.Recorder).Pause)
}

// ResumeRecording resumes a paused capture
func (s *PCMCaptureService) ResumeRecording() error {
	return s.withRecorder("resume", (*audio.Recorder).Resume)
}

// StopRecording stops the active capture without finalizing it
func (s *PCMCaptureService) StopRecording() error {
	return s.withRecorder("stop", (*audio.Recorder).Stop)
}

// CompleteRecording finalizes a stopped capture into a valid WAV file
func (s *PCMCaptureService) CompleteRecording() error {
	return s.withRecorder("complete", (*audio.Recorder).Complete)
}

func (s *PCMCaptureService) withRecorder(op string, fn func(*audio.Recorder) error) error {
	s.mu.Lock()
	recorder := s.recorder
	s.mu.Unlock()

	var err error
	if recorder == nil {
		err = fmt.Errorf("%w: no recording session", audio.ErrState)
	} else {
		err = fn(recorder)
	}
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to %s recording: %v", op, err))
		return err
	}
	slog.Debug("Service operation completed", "op", op)
	return nil
}

// GetRecordingStatus returns the current recording status and session info
func (s *PCMCaptureService) GetRecordingStatus() (audio.Status, *RecordingSession) {
	s.mu.Lock()
	recorder, name, meter := s.recorder, s.name, s.meter
	s.mu.Unlock()

	if recorder == nil {
		return audio.StatusIdle, nil
	}

	status, info := recorder.Status()
	if info == nil {
		return status, nil
	}

	return status, &RecordingSession{
		Name:       name,
		ID:         info.ID,
		StartTime:  info.StartTime,
		OutputFile: info.OutputFile,
		SampleRate: info.Config.SampleRate,
		Channels:   info.Config.Channels,
		Source:     string(info.Config.Source),
		Paused:     info.Paused,
		Frames:     info.Frames,
		Samples:    info.Samples,
		DataLength: info.DataLength,
		Duration:   info.Config.Duration(info.DataLength).Seconds(),
		PeakLevel:  meter.Peak(),
	}
}

// LoadProfile loads a new configuration profile
func (s *PCMCaptureService) LoadProfile(profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recorder != nil {
		if s.recorder.Capturing() {
			return fmt.Errorf("cannot switch profile while recording")
		}
	}

	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	if newCfg.Audio.Backend != s.cfg.Audio.Backend {
		source, err := audio.NewFrameSource(newCfg.Audio.Backend)
		if err != nil {
			return fmt.Errorf("failed to switch backend: %w", err)
		}
		s.source = source
	}
	s.cfg = newCfg
	return nil
}

// GetConfig returns the current configuration
func (s *PCMCaptureService) GetConfig() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// RecordingPath returns where a recording with the given name is written
func (s *PCMCaptureService) RecordingPath(name string) string {
	return recordingPath(s.GetConfig(), name)
}

func recordingPath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.Output.Directory, cleanFileName(name)+".wav")
}

// ListRecordings returns the WAV files in the recordings directory, newest first
func (s *PCMCaptureService) ListRecordings() ([]RecordingInfo, error) {
	recordingDir := s.GetConfig().Output.Directory

	files, err := os.ReadDir(recordingDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []RecordingInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	recordings := []RecordingInfo{}
	for _, file := range files {
		if file.IsDir() || strings.ToLower(filepath.Ext(file.Name())) != ".wav" {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info for recording", "file", file.Name(), "error", err)
			continue
		}

		recordings = append(recordings, RecordingInfo{
			Name:         file.Name(),
			Path:         filepath.Join(recordingDir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			InfoURL:      fmt.Sprintf("/api/recordings/%s", file.Name()),
		})
	}

	// Sort by modification time (newest first)
	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

// Inspect parses the header of a recording in the recordings directory
func (s *PCMCaptureService) Inspect(filename string) (*WavInfo, error) {
	path, err := s.resolveRecording(filename)
	if err != nil {
		return nil, err
	}
	return InspectFile(path)
}

// FinalizeRaw patches a header onto a recording that was stopped but never
// completed, using the current audio settings
func (s *PCMCaptureService) FinalizeRaw(filename string) (*WavInfo, error) {
	path, err := s.resolveRecording(filename)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.recorder != nil && s.recorder.Path() == path {
		if status, _ := s.recorder.Status(); s.recorder.Capturing() || status == audio.StatusStopped {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s belongs to the active session", audio.ErrState, filepath.Base(path))
		}
	}
	capture := s.cfg.CaptureConfig()
	s.mu.Unlock()

	if _, err := audio.FinalizeFile(path, capture); err != nil {
		s.setLastError(fmt.Sprintf("Failed to finalize %s: %v", filepath.Base(path), err))
		return nil, err
	}
	slog.Info("Finalized raw recording", "path", path)
	return InspectFile(path)
}

func (s *PCMCaptureService) resolveRecording(filename string) (string, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return "", fmt.Errorf("invalid recording name: %q", filename)
	}
	path := filepath.Join(s.GetConfig().Output.Directory, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("recording not found: %s", name)
	}
	return path, nil
}

// Close stops and completes an active session
func (s *PCMCaptureService) Close() error {
	s.mu.Lock()
	recorder := s.recorder
	s.mu.Unlock()

	if recorder == nil {
		return nil
	}

	var stopErr error
	if recorder.Capturing() {
		if stopErr = recorder.Stop(); stopErr != nil {
			stopErr = fmt.Errorf("failed to stop recording: %w", stopErr)
		}
	}
	if status, _ := recorder.Status(); status == audio.StatusStopped {
		return errors.Join(stopErr, recorder.Complete())
	}
	return stopErr
}

// InspectFile parses a WAV header with the go-audio decoder
func InspectFile(path string) (*WavInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info := &WavInfo{Path: path}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return info, nil
	}
	if err := dec.FwdToPCM(); err != nil {
		return info, nil
	}

	format := dec.Format()
	info.Valid = true
	info.SampleRate = format.SampleRate
	info.Channels = format.NumChannels
	info.BitDepth = int(dec.BitDepth)
	info.DataLength = int64(dec.PCMSize)
	if bytesPerSecond := info.SampleRate * info.Channels * info.BitDepth / 8; bytesPerSecond > 0 {
		info.Duration = float64(info.DataLength) / float64(bytesPerSecond)
	}
	return info, nil
}

// GetLastError returns the last error message (thread-safe)
func (s *PCMCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *PCMCaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	// Log all errors for debugging and monitoring
	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *PCMCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// levelMeter tracks the peak absolute sample of the most recent frame
type levelMeter struct {
	peak    atomic.Int32
	onError func(error)
}

func (m *levelMeter) OnFrame(frame []int16) error {
	var peak int32
	for _, v := range frame {
		a := int32(v)
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	m.peak.Store(peak)
	return nil
}

func (m *levelMeter) OnError(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}

// Peak returns the last frame's peak as a fraction of full scale
func (m *levelMeter) Peak() float64 {
	if m == nil {
		return 0
	}
	return float64(m.peak.Load()) / 32768
}

func cleanFileName(name string) string {
	// Remove special characters and replace spaces with underscores
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
