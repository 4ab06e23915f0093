package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/config"
	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/service"
)

type staticChecker struct {
	name   string
	status Status
}

func (c *staticChecker) Name() string { return c.name }

func (c *staticChecker) Check(ctx context.Context) Check {
	return Check{Name: c.name, Status: c.status, Timestamp: time.Now()}
}

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(ctx context.Context) error { return p.err }
func (p *fakePinger) Endpoint() string              { return "http://predict.test/api/predict" }

type fakeCamera struct {
	info camera.Info
}

func (c *fakeCamera) Info() camera.Info { return c.info }

func TestManager_CheckAggregatesStatus(t *testing.T) {
	m := NewManager(logger.NewNopLogger(), nil)
	m.RegisterChecker(&staticChecker{name: "a", status: StatusHealthy})
	assert.Equal(t, StatusHealthy, m.Check(context.Background()).Status)

	m.RegisterChecker(&staticChecker{name: "b", status: StatusDegraded})
	assert.Equal(t, StatusDegraded, m.Check(context.Background()).Status)

	m.RegisterChecker(&staticChecker{name: "c", status: StatusUnhealthy})
	report := m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Len(t, report.Checks, 3)
}

func TestManager_Endpoints(t *testing.T) {
	svcMgr := service.NewManager(logger.NewNopLogger())
	m := NewManager(logger.NewNopLogger(), svcMgr)
	m.RegisterChecker(&staticChecker{name: "broken", status: StatusUnhealthy})

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusServiceUnavailable},
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusServiceUnavailable},
		{"/health/services", http.StatusOK},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.code, w.Code, tt.path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"), tt.path)
	}
}

func TestManager_StartStop(t *testing.T) {
	cfg := config.Default()
	cfg.Health.Port = 0

	m := NewManager(logger.NewNopLogger(), nil)
	require.NoError(t, m.Start(context.Background(), cfg))
	defer m.Stop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/health/live", m.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
}

func TestInferenceChecker(t *testing.T) {
	ok := NewInferenceChecker(&fakePinger{}).Check(context.Background())
	assert.Equal(t, StatusHealthy, ok.Status)
	assert.Equal(t, "http://predict.test/api/predict", ok.Details["url"])

	down := NewInferenceChecker(&fakePinger{err: errors.New("connection refused")}).Check(context.Background())
	assert.Equal(t, StatusDegraded, down.Status)
	assert.Contains(t, down.Message, "connection refused")
}

func TestCameraChecker(t *testing.T) {
	live := NewCameraChecker(&fakeCamera{info: camera.Info{
		State:   camera.StateLive,
		Target:  camera.DeviceTarget("cam0"),
		Devices: []camera.Device{{ID: "cam0"}},
	}}).Check(context.Background())
	assert.Equal(t, StatusHealthy, live.Status)
	assert.Equal(t, "device:cam0", live.Details["target"])

	failed := NewCameraChecker(&fakeCamera{info: camera.Info{
		State:     camera.StateNotStarted,
		LastError: "camera access denied",
	}}).Check(context.Background())
	assert.Equal(t, StatusDegraded, failed.Status)
	assert.Equal(t, "camera access denied", failed.Message)
}

func TestDatabaseChecker(t *testing.T) {
	missing := NewDatabaseChecker(filepath.Join(t.TempDir(), "none.db")).Check(context.Background())
	assert.Equal(t, StatusHealthy, missing.Status)
	assert.Equal(t, false, missing.Details["file_exists"])

	unset := NewDatabaseChecker("").Check(context.Background())
	assert.Equal(t, StatusDegraded, unset.Status)
}

func TestStorageChecker(t *testing.T) {
	check := NewStorageChecker(filepath.Join(t.TempDir(), "data")).Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
}
