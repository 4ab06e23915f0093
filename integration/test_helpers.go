package integration

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/config"
	"github.com/vzahanych/digit-recognizer/internal/inference"
	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/presenter"
	"github.com/vzahanych/digit-recognizer/internal/sampler"
	"github.com/vzahanych/digit-recognizer/internal/service"
	"github.com/vzahanych/digit-recognizer/internal/state"
	"github.com/vzahanych/digit-recognizer/internal/web"
)

// TestEnvironment provides a test environment for integration tests
type TestEnvironment struct {
	TempDir   string
	Config    *config.Config
	Logger    *logger.Logger
	Predictor *httptest.Server
}

// SetupTestEnvironment creates a still-image camera directory, a stub
// prediction endpoint and a configuration pointing at both
func SetupTestEnvironment(t *testing.T, predict http.HandlerFunc, cameras ...string) *TestEnvironment {
	t.Helper()
	tmpDir := t.TempDir()

	stillDir := filepath.Join(tmpDir, "cameras")
	if err := os.MkdirAll(stillDir, 0755); err != nil {
		t.Fatalf("Failed to create camera dir: %v", err)
	}
	for _, name := range cameras {
		writeGrayPNG(t, filepath.Join(stillDir, name), 64, 48)
	}

	predictor := httptest.NewServer(predict)
	t.Cleanup(predictor.Close)

	cfg := config.Default()
	cfg.Camera.Driver = "still"
	cfg.Camera.StillDir = stillDir
	cfg.Camera.FrameRate = 50
	cfg.Camera.AutoStart = true
	cfg.Sampler.Interval = 20 * time.Millisecond
	cfg.Inference.Endpoint = predictor.URL + "/api/predict"
	cfg.Inference.Timeout = 2 * time.Second
	cfg.Web.Host = "127.0.0.1"
	cfg.Web.Port = 0
	cfg.State.DataDir = filepath.Join(tmpDir, "data")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid test configuration: %v", err)
	}

	return &TestEnvironment{
		TempDir:   tmpDir,
		Config:    cfg,
		Logger:    logger.NewNopLogger(),
		Predictor: predictor,
	}
}

// Pipeline is the full service graph assembled the way main does it
type Pipeline struct {
	Services  *service.Manager
	State     *state.Manager
	Session   *camera.Session
	Sampler   *sampler.Sampler
	Presenter *presenter.Presenter
	Web       *web.Server

	cancel context.CancelFunc
}

// StartPipeline wires and starts every service
func (env *TestEnvironment) StartPipeline(t *testing.T) *Pipeline {
	t.Helper()
	cfg, log := env.Config, env.Logger

	stateMgr, err := state.NewManager(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create state manager: %v", err)
	}

	driver, err := camera.NewDriver(cfg.Camera, log)
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	session := camera.NewSession(driver, camera.SessionConfigFrom(cfg.Camera), log)
	session.SetTargetStore(stateMgr)

	client := inference.NewClient(inference.ClientConfig{
		Endpoint: cfg.Inference.Endpoint,
		Timeout:  cfg.Inference.Timeout,
	}, log)
	pres := presenter.New()

	layout := sampler.NewLayoutStore(cfg.Guide.Enabled)
	layout.SetPersister(stateMgr)
	smp := sampler.New(session, client, pres, layout, sampler.Config{
		Interval: cfg.Sampler.Interval,
	}, log)

	webServer := web.NewServer(&cfg.Web, log)
	webServer.SetDependencies(session, smp, pres)

	svcMgr := service.NewManager(log)
	svcMgr.Register(session)
	svcMgr.Register(smp)
	svcMgr.Register(state.NewRecorder(stateMgr, log))
	svcMgr.Register(webServer)

	ctx, cancel := context.WithCancel(context.Background())
	if err := svcMgr.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Failed to start services: %v", err)
	}

	return &Pipeline{
		Services:  svcMgr,
		State:     stateMgr,
		Session:   session,
		Sampler:   smp,
		Presenter: pres,
		Web:       webServer,
		cancel:    cancel,
	}
}

// URL returns the base URL of the web server
func (p *Pipeline) URL() string {
	return "http://" + p.Web.Addr()
}

// Stop shuts every service down and closes the database
func (p *Pipeline) Stop(t *testing.T) {
	t.Helper()
	ctx, cancel := ContextWithTimeout(5 * time.Second)
	defer cancel()

	if err := p.Services.Shutdown(ctx); err != nil {
		t.Errorf("Failed to shutdown services: %v", err)
	}
	p.cancel()
	if err := p.State.Close(); err != nil {
		t.Errorf("Failed to close state: %v", err)
	}
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met within timeout: %s", message)
}

// ContextWithTimeout creates a context with timeout
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func writeGrayPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = color.Gray{Y: 128}.Y
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}
