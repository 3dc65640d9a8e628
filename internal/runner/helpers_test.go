package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"jobrunner/internal/config"
	"jobrunner/pkg/runtime"
)

// MockContainerRuntime is a testify mock of runtime.ContainerRuntime.
type MockContainerRuntime struct {
	mock.Mock
}

func (m *MockContainerRuntime) PullImage(ctx context.Context, image string, progress func(line string)) error {
	args := m.Called(ctx, image, progress)
	return args.Error(0)
}

func (m *MockContainerRuntime) StartContainer(ctx context.Context, opts runtime.RunOptions) (runtime.Container, error) {
	args := m.Called(ctx, opts)
	c, _ := args.Get(0).(runtime.Container)
	return c, args.Error(1)
}

// fakeContainer serves canned output and an exit code.
type fakeContainer struct {
	id       string
	output   string
	exitCode int64
	logsErr  error
	waitErr  error

	logsCalls   int
	waitCalls   int
	removeCalls int
}

func (c *fakeContainer) ID() string { return c.id }

func (c *fakeContainer) Logs(ctx context.Context) (io.ReadCloser, error) {
	c.logsCalls++
	if c.logsErr != nil {
		return nil, c.logsErr
	}
	return io.NopCloser(strings.NewReader(c.output)), nil
}

func (c *fakeContainer) Wait(ctx context.Context) (int64, error) {
	c.waitCalls++
	return c.exitCode, c.waitErr
}

func (c *fakeContainer) Remove(ctx context.Context) error {
	c.removeCalls++
	return nil
}

type postedLog struct {
	JobID string
	Line  string
}

// fakeBackend is an in-process Backend Job Service.
type fakeBackend struct {
	mu          sync.Mutex
	server      *httptest.Server
	logs        []postedLog
	configPaths []string

	logStatus     int
	resolveBody   string
	resolveStatus int
	resolveHangup bool
	configBody    string
	configStatus  int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{
		logStatus:     http.StatusOK,
		resolveStatus: http.StatusOK,
		resolveBody:   `{"jobId":"42"}`,
		configStatus:  http.StatusOK,
		configBody:    `{"runtime":{"docker":{"image":"alpine:latest","command":"echo hi","gpu":false}},"bootstrap":{"scripts":[]}}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Line string `json:"line"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		b.mu.Lock()
		b.logs = append(b.logs, postedLog{JobID: r.PathValue("id"), Line: body.Line})
		status := b.logStatus
		b.mu.Unlock()

		w.WriteHeader(status)
	})
	mux.HandleFunc("GET /jobs/resolve", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		hangup, status, body := b.resolveHangup, b.resolveStatus, b.resolveBody
		b.mu.Unlock()

		if hangup {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("GET /jobs/{id}/config", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.configPaths = append(b.configPaths, r.URL.Path)
		status, body := b.configStatus, b.configBody
		b.mu.Unlock()

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) postedLogs() []postedLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]postedLog(nil), b.logs...)
}

func (b *fakeBackend) postedLines() []string {
	var lines []string
	for _, l := range b.postedLogs() {
		lines = append(lines, l.Line)
	}
	return lines
}

func testSettings(t *testing.T, backendURL string) *config.Settings {
	t.Helper()
	return &config.Settings{
		BackendURL:          backendURL,
		JobID:               "train-gpu-01",
		NetworkWait:         0,
		ConnectivityTimeout: 2 * time.Second,
		RequestTimeout:      2 * time.Second,
		LogTimeout:          2 * time.Second,
		MaxStartupLines:     config.DefaultMaxStartupLines,
		ScriptsDir:          t.TempDir(),
		ScriptSuffix:        config.DefaultScriptSuffix,
		Runtime:             config.DefaultRuntime,
	}
}

// numberedLines returns "line 1\nline 2\n..." up to n.
func numberedLines(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	return sb.String()
}
