package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/config"
	"github.com/vzahanych/digit-recognizer/internal/logger"
)

func main() {
	var configPath, driverName string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&driverName, "driver", "", "Capture driver (mediadevices, v4l2, still)")
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
	if driverName != "" {
		cfg.Camera.Driver = driverName
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

	driver, err := camera.NewDriver(cfg.Camera, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create driver: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Printf("Enumerating cameras with the %s driver...\n\n", driver.Name())

	devices, err := camera.NewEnumerator(driver, log).ListDevices(ctx)
	switch {
	case errors.Is(err, camera.ErrPlatformUnsupported):
		fmt.Println("Camera capture is not supported on this platform")
		fmt.Printf("  %v\n", err)
		os.Exit(1)
	case errors.Is(err, camera.ErrNoDeviceAvailable):
		fmt.Println("No cameras found")
		fmt.Println()
		fmt.Println("Possible reasons:")
		fmt.Println("  - No camera connected")
		fmt.Println("  - Insufficient permissions on /dev/video*")
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Enumeration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d camera(s)\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("--- Camera %d ---\n", i+1)
		fmt.Printf("  ID:     %s\n", d.ID)
		fmt.Printf("  Label:  %s\n", d.Label)
		fmt.Printf("  Kind:   %s\n", d.Kind)
		fmt.Println()
	}

	if len(devices) > 1 {
		fmt.Println("Multiple cameras: the switch control will be offered")
	}
}
