package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"jobrunner/internal/config"
	runnerErrors "jobrunner/internal/errors"
	"jobrunner/internal/runner"
	"jobrunner/internal/ui"
	"jobrunner/pkg/runtime"
)

type MockContainerRuntime struct {
	mock.Mock
}

func (m *MockContainerRuntime) PullImage(ctx context.Context, image string, progress func(line string)) error {
	return m.Called(ctx, image, progress).Error(0)
}

func (m *MockContainerRuntime) StartContainer(ctx context.Context, opts runtime.RunOptions) (runtime.Container, error) {
	args := m.Called(ctx, opts)
	c, _ := args.Get(0).(runtime.Container)
	return c, args.Error(1)
}

type stubContainer struct {
	output string
}

func (c *stubContainer) ID() string { return "stub" }

func (c *stubContainer) Logs(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(c.output)), nil
}

func (c *stubContainer) Wait(ctx context.Context) (int64, error) { return 0, nil }

func (c *stubContainer) Remove(ctx context.Context) error { return nil }

// newJobService serves a job that resolves to id 42 and the given config.
func newJobService(t *testing.T, configBody string) (*httptest.Server, func() []string) {
	t.Helper()

	var mu sync.Mutex
	var lines []string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Line string `json:"line"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		lines = append(lines, body.Line)
		mu.Unlock()
	})
	mux.HandleFunc("GET /jobs/resolve", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jobId":"42"}`))
	})
	mux.HandleFunc("GET /jobs/{id}/config", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(configBody))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

func testSettings(t *testing.T, backendURL string) *config.Settings {
	t.Helper()
	return &config.Settings{
		BackendURL:          backendURL,
		JobID:               "train-gpu-01",
		ConnectivityTimeout: time.Second,
		RequestTimeout:      time.Second,
		LogTimeout:          time.Second,
		MaxStartupLines:     config.DefaultMaxStartupLines,
		ScriptsDir:          t.TempDir(),
		ScriptSuffix:        config.DefaultScriptSuffix,
		StateFile:           filepath.Join(t.TempDir(), "state", "jobrunner.state.json"),
		Runtime:             config.DefaultRuntime,
	}
}

func TestExecute_CompletedRunWritesState(t *testing.T) {
	server, lines := newJobService(t, `{"runtime":{"docker":{"image":"alpine:latest","command":"echo hi"}}}`)
	settings := testSettings(t, server.URL)

	rt := &MockContainerRuntime{}
	rt.On("PullImage", mock.Anything, "alpine:latest", mock.Anything).Return(nil)
	rt.On("StartContainer", mock.Anything, mock.Anything).Return(&stubContainer{output: "hi\n"}, nil).Twice()

	var out bytes.Buffer
	err := Execute(context.Background(), settings, rt, ui.NewPlainConsole(&out, &out))
	require.NoError(t, err)
	rt.AssertExpectations(t)

	assert.Contains(t, lines(), "hi")
	assert.Contains(t, out.String(), "[runner] job completed")

	state, err := loadState(settings.StateFile)
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, StateSchemaVersion, state.SchemaVersion)
	assert.Equal(t, runner.PhaseCompleted, state.Phase)
	assert.Equal(t, "train-gpu-01", state.JobName)
	assert.Equal(t, "42", state.JobID)
	assert.Empty(t, state.FailureReason)
	_, err = uuid.Parse(state.RunID)
	assert.NoError(t, err)
	assert.False(t, state.LastUpdatedAt.Before(state.CreatedAt))
}

func TestExecute_FailedRunRecordsReason(t *testing.T) {
	server, lines := newJobService(t, `{"runtime":{"docker":{"command":"echo hi"}}}`)
	settings := testSettings(t, server.URL)

	rt := &MockContainerRuntime{}
	var out bytes.Buffer
	err := Execute(context.Background(), settings, rt, ui.NewPlainConsole(&out, &out))
	require.Error(t, err)
	assert.True(t, errors.Is(err, runnerErrors.ErrConfigInvalid))
	assert.Equal(t, runnerErrors.ExitFatal, runnerErrors.ExitCode(err))

	all := lines()
	assert.True(t, strings.HasPrefix(all[len(all)-1], "[runner] fatal error: invalid job config"))

	state, err := loadState(settings.StateFile)
	require.NoError(t, err)
	assert.Equal(t, runner.PhaseFailed, state.Phase)
	assert.NotEmpty(t, state.FailureReason)
	rt.AssertNotCalled(t, "PullImage", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_ReplacesEarlierState(t *testing.T) {
	server, _ := newJobService(t, `{"runtime":{"docker":{"image":"alpine:latest","command":"echo hi"}}}`)
	settings := testSettings(t, server.URL)

	earlier := newState("train-gpu-01", "earlier-run")
	earlier.Phase = runner.PhasePullingImage
	require.NoError(t, saveState(settings.StateFile, earlier))

	rt := &MockContainerRuntime{}
	rt.On("PullImage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	rt.On("StartContainer", mock.Anything, mock.Anything).Return(&stubContainer{}, nil)

	var out bytes.Buffer
	require.NoError(t, Execute(context.Background(), settings, rt, ui.NewPlainConsole(&out, &out)))

	state, err := loadState(settings.StateFile)
	require.NoError(t, err)
	assert.NotEqual(t, "earlier-run", state.RunID)
	assert.Equal(t, runner.PhaseCompleted, state.Phase)
}

func TestExecute_WithoutStateFile(t *testing.T) {
	server, _ := newJobService(t, `{"runtime":{"docker":{"image":"alpine:latest","command":"echo hi"}}}`)
	settings := testSettings(t, server.URL)
	settings.StateFile = ""

	rt := &MockContainerRuntime{}
	rt.On("PullImage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	rt.On("StartContainer", mock.Anything, mock.Anything).Return(&stubContainer{}, nil)

	var out bytes.Buffer
	require.NoError(t, Execute(context.Background(), settings, rt, ui.NewPlainConsole(&out, &out)))
}

func TestLoadState(t *testing.T) {
	dir := t.TempDir()

	state, err := loadState(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, state)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0644))
	_, err = loadState(corrupt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse state file")
}

func TestExecutionState_Record(t *testing.T) {
	state := newState("train-gpu-01", "run-1")
	assert.Equal(t, runner.PhaseBooting, state.Phase)

	state.record(runner.Transition{From: runner.PhaseResolvingIdentity, To: runner.PhaseFetchingConfig, JobID: "42"})
	assert.Equal(t, runner.PhaseFetchingConfig, state.Phase)
	assert.Equal(t, "42", state.JobID)
	assert.Equal(t, "train-gpu-01", state.JobName)

	state.record(runner.Transition{From: runner.PhaseFetchingConfig, To: runner.PhaseFailed, JobID: "42", Err: errors.New("boom")})
	assert.Equal(t, runner.PhaseFailed, state.Phase)
	assert.Equal(t, "boom", state.FailureReason)
}

func TestSaveState_UnwritablePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	err := saveState(filepath.Join(blocker, "state.json"), newState("job", "run"))
	require.Error(t, err)
}
