package health

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vzahanych/digit-recognizer/internal/camera"
)

// SystemChecker reports runtime resource usage
type SystemChecker struct{}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Check{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "Runtime OK",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"heap_alloc": mem.HeapAlloc,
			"num_gc":     mem.NumGC,
			"go_version": runtime.Version(),
			"num_cpu":    runtime.NumCPU(),
		},
	}
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	dbPath string
}

func NewDatabaseChecker(dbPath string) *DatabaseChecker {
	return &DatabaseChecker{dbPath: dbPath}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.dbPath == "" {
		check.Status = StatusDegraded
		check.Message = "Database path not configured"
		return check
	}

	if _, err := os.Stat(c.dbPath); os.IsNotExist(err) {
		// Created on first use
		check.Status = StatusHealthy
		check.Message = "Database file will be created on first use"
		check.Details["file_exists"] = false
		return check
	}

	db, err := sql.Open("sqlite3", c.dbPath)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to open database: %v", err)
		return check
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	check.Details["file_exists"] = true

	return check
}

// Pinger is an endpoint that can be probed for reachability
type Pinger interface {
	Ping(ctx context.Context) error
	Endpoint() string
}

// InferenceChecker checks that the prediction endpoint answers
type InferenceChecker struct {
	pinger  Pinger
	timeout time.Duration
}

func NewInferenceChecker(pinger Pinger) *InferenceChecker {
	return &InferenceChecker{pinger: pinger, timeout: 3 * time.Second}
}

func (c *InferenceChecker) Name() string {
	return "inference"
}

func (c *InferenceChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"url": c.pinger.Endpoint(),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if err := c.pinger.Ping(ctx); err != nil {
		// Predictions fail until it is back, but capture keeps working
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Prediction endpoint unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Prediction endpoint is reachable"
	check.Details["latency_ms"] = time.Since(start).Milliseconds()
	return check
}

// CameraInfo exposes the capture session state
type CameraInfo interface {
	Info() camera.Info
}

// CameraChecker reports the capture session state
type CameraChecker struct {
	session CameraInfo
}

func NewCameraChecker(session CameraInfo) *CameraChecker {
	return &CameraChecker{session: session}
}

func (c *CameraChecker) Name() string {
	return "camera"
}

func (c *CameraChecker) Check(ctx context.Context) Check {
	info := c.session.Info()

	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"state":   string(info.State),
			"devices": len(info.Devices),
			"frames":  info.Frames,
		},
	}
	if !info.Target.IsZero() {
		check.Details["target"] = info.Target.String()
	}

	switch {
	case info.LastError != "":
		check.Status = StatusDegraded
		check.Message = info.LastError
	case info.State == camera.StateLive:
		check.Status = StatusHealthy
		check.Message = "Camera is live"
	default:
		check.Status = StatusHealthy
		check.Message = "Camera idle"
	}

	return check
}

// StorageChecker checks that the data directory is writable
type StorageChecker struct {
	dataDir string
}

func NewStorageChecker(dataDir string) *StorageChecker {
	return &StorageChecker{dataDir: dataDir}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"data_dir": c.dataDir,
		},
	}

	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
		return check
	}

	f, err := os.CreateTemp(c.dataDir, ".health-*")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Data directory not writable: %v", err)
		return check
	}
	f.Close()
	os.Remove(f.Name())

	check.Status = StatusHealthy
	check.Message = "Data directory writable"
	return check
}
