package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
	"github.com/audiolibrelab/pcmcapture/internal/config"
	"github.com/audiolibrelab/pcmcapture/internal/service"
)

const testConfig = `
active_config: default
configs:
    default:
        audio:
            sample_rate: 8000
            channels: 1
            source: mic
            backend: tone
        output:
            directory: %[1]s
    stereo:
        audio:
            sample_rate: 16000
            channels: 2
`

func newTestServer(t *testing.T) (*Server, *service.PCMCaptureService, string) {
	t.Helper()
	dir := t.TempDir()
	configFile := filepath.Join(dir, "pcmcapture.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(fmt.Sprintf(testConfig, dir)), 0o644))

	cfg, err := config.LoadWithProfile(configFile, "")
	require.NoError(t, err)

	svc := service.New(cfg, configFile, audio.NewToneSource())
	t.Cleanup(func() { _ = svc.Close() })
	return New(svc, configFile, "127.0.0.1:0"), svc, dir
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_RecordingRoundTrip(t *testing.T) {
	srv, svc, dir := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/start?name="+url.QueryEscape("Take One"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[GenericResponse](t, rec).Success)

	require.Eventually(t, func() bool {
		_, s := svc.GetRecordingStatus()
		return s != nil && s.Frames > 0
	}, 2*time.Second, 5*time.Millisecond)

	rec = do(t, h, http.MethodPost, "/pause")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, audio.StatusRecording, status.Status)
	assert.Equal(t, "Paused - Take One", status.Message)
	assert.Equal(t, "default", status.ActiveProfile)
	require.NotNil(t, status.Config)
	assert.Equal(t, 8000, status.Config.SampleRate)

	for _, op := range []string{"/resume", "/stop", "/complete"} {
		rec = do(t, h, http.MethodPost, op)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", op, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/status")
	assert.Equal(t, audio.StatusCompleted, decode[StatusResponse](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/recordings")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[RecordingsResponse](t, rec)
	require.Len(t, list.Recordings, 1)
	assert.Equal(t, "Take_One.wav", list.Recordings[0].Name)
	assert.Equal(t, dir, list.Directory)

	rec = do(t, h, http.MethodGet, list.Recordings[0].InfoURL)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[service.WavInfo](t, rec)
	assert.True(t, info.Valid)
	assert.Equal(t, 8000, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
}

func TestServer_LifecycleConflicts(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	for _, op := range []string{"/pause", "/resume", "/stop", "/complete"} {
		rec := do(t, h, http.MethodPost, op)
		assert.Equal(t, http.StatusConflict, rec.Code, op)
		resp := decode[GenericResponse](t, rec)
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Error)
	}

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/start?name=first").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/start?name=second").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/config/select?profile=stereo").Code)
}

func TestServer_StartRequiresName(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/start")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Recording name is required", decode[GenericResponse](t, rec).Error)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/start"},
		{http.MethodGet, "/pause"},
		{http.MethodGet, "/complete"},
		{http.MethodPost, "/status"},
		{http.MethodPost, "/recordings"},
		{http.MethodGet, "/config/select"},
		{http.MethodGet, "/api/finalize"},
	}
	for _, tt := range tests {
		rec := do(t, h, tt.method, tt.path)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tt.method, tt.path)
		assert.Equal(t, "Method not allowed", decode[GenericResponse](t, rec).Error)
	}
}

func TestServer_Profiles(t *testing.T) {
	srv, svc, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/config/profiles")
	require.Equal(t, http.StatusOK, rec.Code)
	var profiles struct {
		Profiles []string `json:"profiles"`
		Active   string   `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profiles))
	assert.Equal(t, []string{"default", "stereo"}, profiles.Profiles)
	assert.Equal(t, "default", profiles.Active)

	rec = do(t, h, http.MethodPost, "/config/select?profile=stereo")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 16000, svc.GetConfig().Audio.SampleRate)
	assert.Equal(t, 2, svc.GetConfig().Audio.Channels)

	rec = do(t, h, http.MethodGet, "/status")
	assert.Equal(t, "stereo", decode[StatusResponse](t, rec).ActiveProfile)

	rec = do(t, h, http.MethodPost, "/config/select?profile=missing")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RecordingInfoNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/recordings/nothing.wav")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Finalize(t *testing.T) {
	srv, _, dir := newTestServer(t)
	payload := append(make([]byte, audio.HeaderSize), 1, 0, 2, 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw.wav"), payload, 0o644))

	rec := do(t, srv.Handler(), http.MethodPost, "/api/finalize?name=raw.wav")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := decode[service.WavInfo](t, rec)
	assert.True(t, info.Valid)
	assert.Equal(t, int64(4), info.DataLength)
}

func TestServer_Sources(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodGet, "/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SourcesResponse](t, rec)
	assert.Equal(t, "tone", resp.Backend)
	assert.Equal(t, []string{"mic", "camcorder"}, resp.Sources)
	assert.Contains(t, resp.Available, audio.BackendTypeTone)
}

func TestServer_IndexAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PCMCapture")

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/nope").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics").Code)
}

func TestServer_RunCompletesSessionOnShutdown(t *testing.T) {
	srv, svc, dir := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.addr = ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	base := "http://" + srv.addr
	require.Eventually(t, func() bool {
		resp, err := http.Post(base+"/start?name=live", "text/plain", strings.NewReader(""))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	status, _ := svc.GetRecordingStatus()
	assert.Equal(t, audio.StatusCompleted, status)
	info, err := service.InspectFile(filepath.Join(dir, "live.wav"))
	require.NoError(t, err)
	assert.True(t, info.Valid)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, errorStatus(fmt.Errorf("x: %w", audio.ErrState)))
	assert.Equal(t, http.StatusServiceUnavailable, errorStatus(fmt.Errorf("x: %w", audio.ErrDevice)))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(fmt.Errorf("plain")))
}
