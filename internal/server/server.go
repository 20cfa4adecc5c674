package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
	"github.com/audiolibrelab/pcmcapture/internal/config"
	"github.com/audiolibrelab/pcmcapture/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP remote control for a capture service
type Server struct {
	service    service.Service
	configFile string
	addr       string

	mu            sync.RWMutex
	activeProfile string
}

// StatusResponse represents the current status of the recording system
type StatusResponse struct {
	Status        audio.Status              `json:"status"`
	Message       string                    `json:"message,omitempty"`
	Session       *service.RecordingSession `json:"session,omitempty"`
	Config        *AudioInfo                `json:"config,omitempty"`
	ActiveProfile string                    `json:"active_profile,omitempty"`
}

// AudioInfo is the resolved audio section of the active profile
type AudioInfo struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Source     string `json:"source"`
	Backend    string `json:"backend"`
	Directory  string `json:"directory"`
}

// SourcesResponse lists the selectable capture sources
type SourcesResponse struct {
	Backend   string              `json:"backend"`
	Sources   []string            `json:"sources"`
	Available []audio.BackendType `json:"available_backends"`
}

// RecordingsResponse lists the WAV files in the recordings directory
type RecordingsResponse struct {
	Recordings []service.RecordingInfo `json:"recordings"`
	Directory  string                  `json:"directory"`
}

// GenericResponse for simple success/error responses
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// New creates a server for svc listening on addr
func New(svc service.Service, configFile, addr string) *Server {
	return &Server{
		service:       svc,
		configFile:    configFile,
		addr:          addr,
		activeProfile: getActiveProfileName(configFile),
	}
}

// Handler returns the routes served by the remote
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/pause", s.handleLifecycle("pause", s.service.PauseRecording))
	mux.HandleFunc("/resume", s.handleLifecycle("resume", s.service.ResumeRecording))
	mux.HandleFunc("/stop", s.handleLifecycle("stop", s.service.StopRecording))
	mux.HandleFunc("/complete", s.handleLifecycle("complete", s.service.CompleteRecording))
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/config/select", s.handleSelectProfile)
	mux.HandleFunc("/recordings", s.handleRecordings)
	mux.HandleFunc("/api/recordings/", s.handleRecordingInfo)
	mux.HandleFunc("/api/finalize", s.handleFinalize)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully and
// completes any session still in progress
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	_, port, _ := net.SplitHostPort(s.addr)
	slog.Info("Starting PCMCapture Web Server",
		"addr", s.addr,
		"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", port))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := s.service.Close(); closeErr != nil {
		slog.Error("Failed to complete active recording on shutdown", "error", closeErr)
		err = errors.Join(err, closeErr)
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>PCMCapture</title><meta name="viewport" content="width=device-width, initial-scale=1"></head>
<body>
<h1>PCMCapture</h1>
<p id="status">...</p>
<input id="name" placeholder="recording name">
<button onclick="post('/start?name='+encodeURIComponent(document.getElementById('name').value))">Start</button>
<button onclick="post('/pause')">Pause</button>
<button onclick="post('/resume')">Resume</button>
<button onclick="post('/stop').then(()=>post('/complete'))">Stop</button>
<script>
function post(u){return fetch(u,{method:'POST'}).then(refresh)}
function refresh(){fetch('/status').then(r=>r.json()).then(s=>{
  document.getElementById('status').textContent=s.status+(s.message?' - '+s.message:'')})}
setInterval(refresh,1000);refresh();
</script>
</body>
</html>`

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "error", err)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Recording name is required", "operation", "start")
		return
	}

	slog.Info("Start recording request", "name", name, "client_ip", r.RemoteAddr)
	if err := s.service.StartRecording(name); err != nil {
		s.sendErrorResponse(w, errorStatus(err), fmt.Sprintf("Failed to start recording: %v", err),
			"name", name, "operation", "start")
		return
	}

	writeJSON(w, http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Recording started: %s", s.service.RecordingPath(name)),
	})
}

// handleLifecycle serves the session transitions that take no arguments
func (s *Server) handleLifecycle(op string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		slog.Info("Recording request", "operation", op, "client_ip", r.RemoteAddr)
		if err := fn(); err != nil {
			s.sendErrorResponse(w, errorStatus(err), fmt.Sprintf("Failed to %s recording: %v", op, err),
				"operation", op)
			return
		}

		writeJSON(w, http.StatusOK, GenericResponse{
			Success: true,
			Message: fmt.Sprintf("Recording %s successful", op),
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status, session := s.service.GetRecordingStatus()
	cfg := s.service.GetConfig()

	s.mu.RLock()
	activeProfile := s.activeProfile
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        status,
		Message:       s.generateStatusMessage(status, session),
		Session:       session,
		Config:        audioInfo(cfg),
		ActiveProfile: activeProfile,
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	backend := s.service.GetConfig().Audio.Backend
	sources, err := audio.ListSources(backend)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list sources: %v", err),
			"backend", backend)
		return
	}

	writeJSON(w, http.StatusOK, SourcesResponse{
		Backend:   backend,
		Sources:   sources,
		Available: audio.GetAvailableBackends(),
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	s.mu.RLock()
	activeProfile := s.activeProfile
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": s.getAvailableProfiles(),
		"active":   activeProfile,
	})
}

func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "error", err)
		return
	}

	profile := r.FormValue("profile")
	slog.Debug("Profile selection request", "profile", profile)
	if profile == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Profile name is required", "operation", "profile_selection")
		return
	}

	if status, _ := s.service.GetRecordingStatus(); status == audio.StatusRecording {
		s.sendErrorResponse(w, http.StatusConflict, "Cannot switch profile while recording",
			"profile", profile, "operation", "profile_selection")
		return
	}

	if err := s.service.LoadProfile(profile); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "profile", profile)
		return
	}

	if err := config.UpdateActiveConfig(s.configFile, profile); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to save profile selection to config file: %v", err), "profile", profile)
		return
	}

	s.mu.Lock()
	s.activeProfile = profile
	s.mu.Unlock()

	slog.Info("Profile selected", "profile", profile)
	writeJSON(w, http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Profile '%s' selected", profile),
	})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list recordings: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, RecordingsResponse{
		Recordings: recordings,
		Directory:  s.service.GetConfig().Output.Directory,
	})
}

func (s *Server) handleRecordingInfo(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/recordings/")
	if filename == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Recording name is required")
		return
	}

	info, err := s.service.Inspect(filename)
	if err != nil {
		s.sendErrorResponse(w, http.StatusNotFound, err.Error(), "file", filename)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "error", err)
		return
	}

	filename := r.FormValue("name")
	if filename == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Recording name is required", "operation", "finalize")
		return
	}

	info, err := s.service.FinalizeRaw(filename)
	if err != nil {
		s.sendErrorResponse(w, errorStatus(err), fmt.Sprintf("Failed to finalize recording: %v", err),
			"file", filename, "operation", "finalize")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// getAvailableProfiles reads the profile names from the config file
func (s *Server) getAvailableProfiles() []string {
	profiles := []string{}
	if s.configFile == "" {
		return profiles
	}
	if _, err := os.Stat(s.configFile); err != nil {
		return profiles
	}

	rootConfig, err := config.ValidateConfigurationFormat(s.configFile)
	if err != nil {
		slog.Debug("Failed to read config file for profiles", "error", err)
		return profiles
	}
	for profileName := range rootConfig.Configs {
		profiles = append(profiles, profileName)
	}
	sort.Strings(profiles)

	slog.Debug("Available profiles loaded", "profiles", profiles, "config_file", s.configFile)
	return profiles
}

func getActiveProfileName(configFile string) string {
	if configFile == "" {
		return ""
	}
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	if active := v.GetString("active_config"); active != "" {
		return active
	}
	return "default"
}

func (s *Server) generateStatusMessage(status audio.Status, session *service.RecordingSession) string {
	switch status {
	case audio.StatusRecording:
		if session == nil {
			return "Recording in progress"
		}
		if session.Paused {
			return fmt.Sprintf("Paused - %s", session.Name)
		}
		return fmt.Sprintf("Recording in progress - %s", session.Name)
	case audio.StatusStopped:
		return "Stopped - waiting to be completed"
	case audio.StatusCompleted:
		if session != nil {
			return fmt.Sprintf("Saved %s", session.OutputFile)
		}
		return "Recording saved"
	case audio.StatusError:
		if errorDetails := s.service.GetLastError(); errorDetails != "" {
			slog.Error("Displaying error status to user", "error_details", errorDetails)
			return errorDetails
		}
		return "An error occurred during the operation"
	default:
		return ""
	}
}

func audioInfo(cfg *config.Config) *AudioInfo {
	if cfg == nil {
		return nil
	}
	return &AudioInfo{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Source:     cfg.Audio.Source,
		Backend:    cfg.Audio.Backend,
		Directory:  cfg.Output.Directory,
	}
}

// errorStatus maps capture error kinds to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, audio.ErrState):
		return http.StatusConflict
	case errors.Is(err, audio.ErrDevice):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	writeJSON(w, http.StatusMethodNotAllowed, GenericResponse{
		Success: false,
		Error:   "Method not allowed",
	})
	return false
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("HTTP error response", logFields...)

	writeJSON(w, statusCode, GenericResponse{
		Success: false,
		Error:   errorMsg,
	})
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
