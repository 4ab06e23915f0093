package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/config"
	"github.com/vzahanych/digit-recognizer/internal/geometry"
	"github.com/vzahanych/digit-recognizer/internal/inference"
	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/presenter"
	"github.com/vzahanych/digit-recognizer/internal/sampler"
)

func main() {
	var (
		configPath string
		imagePath  string
		deviceID   string
		endpoint   string
		savePath   string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&imagePath, "image", "", "Classify an image file instead of a camera frame")
	flag.StringVar(&deviceID, "device", "", "Camera device to open (default: first enumerated)")
	flag.StringVar(&endpoint, "endpoint", "", "Prediction endpoint URL (overrides config)")
	flag.StringVar(&savePath, "save", "", "Write the rasterized upload to this PNG file")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if endpoint != "" {
		cfg.Inference.Endpoint = endpoint
	}

	log, err := logger.New(logger.LogConfig{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var frame image.Image
	if imagePath != "" {
		frame, err = loadImage(imagePath)
	} else {
		frame, err = captureFrame(ctx, cfg, deviceID, log)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get frame: %v\n", err)
		os.Exit(1)
	}

	size := geometry.SizeOf(frame)
	region, err := geometry.MapLayout(size, geometry.Layout{Video: size.Full()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to map region: %v\n", err)
		os.Exit(1)
	}
	raster := sampler.Rasterize(frame, region.Pixels().Add(frame.Bounds().Min))

	if savePath != "" {
		if err := savePNG(savePath, raster); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save raster: %v\n", err)
		}
	}

	fmt.Printf("Frame:    %.0fx%.0f\n", size.W, size.H)
	fmt.Printf("Endpoint: %s\n\n", cfg.Inference.Endpoint)

	client := inference.NewClient(inference.ClientConfig{
		Endpoint: cfg.Inference.Endpoint,
		Timeout:  cfg.Inference.Timeout,
	}, log)

	pred, err := client.Submit(ctx, raster)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prediction failed: %v\n", err)
		os.Exit(1)
	}

	view := presenter.New().Update(*pred)
	fmt.Printf("Digit:      %s\n", view.Label)
	fmt.Printf("Confidence: %s (%s)\n", view.ConfidenceText, view.Tier)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// captureFrame opens a camera and waits for its first decoded frame
func captureFrame(ctx context.Context, cfg *config.Config, deviceID string, log *logger.Logger) (image.Image, error) {
	driver, err := camera.NewDriver(cfg.Camera, log)
	if err != nil {
		return nil, err
	}

	session := camera.NewSession(driver, camera.SessionConfigFrom(cfg.Camera), log)
	defer session.Close()

	if deviceID != "" {
		err = session.Select(ctx, deviceID)
	} else {
		err = session.StartCapture(ctx)
	}
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no frame received: %w", ctx.Err())
		case <-ticker.C:
			snap, err := session.Snapshot()
			if err != nil {
				return nil, err
			}
			if snap.Frame != nil {
				return snap.Frame, nil
			}
		}
	}
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
