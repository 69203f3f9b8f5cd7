// camsource streams camera frames into a face detector and serves the
// results and camera controls over HTTP and websockets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-camsource/internal/config"
	"github.com/teslashibe/go-camsource/internal/log"
	"github.com/teslashibe/go-camsource/pkg/camera"
	"github.com/teslashibe/go-camsource/pkg/capture"
	"github.com/teslashibe/go-camsource/pkg/detect"
	"github.com/teslashibe/go-camsource/pkg/web"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error("camsource failed", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads the config file and applies command line overrides.
func parseFlags() (config.Service, error) {
	path := flag.String("config", os.Getenv("CAMSOURCE_CONFIG"), "Path to YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	backend := flag.String("backend", "", "Capture backend: auto, gocv, mock")
	device := flag.String("device", "", "Back camera source, e.g. 0 or rtsp://host/stream")
	preset := flag.String("preset", "", "Camera preset: "+fmt.Sprint(camera.PresetNames()))
	noStart := flag.Bool("no-start", false, "Wait for POST /api/start instead of starting immediately")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		return cfg, err
	}

	if *debug {
		cfg.LogLevel = "debug"
	}
	if *port != 0 {
		cfg.HTTPPort = *port
	}
	if *backend != "" {
		cfg.Capture.Backend = capture.Backend(*backend)
	}
	if *device != "" {
		cfg.Capture.BackDevice = *device
	}
	if *preset != "" {
		p := camera.GetPreset(*preset)
		if p == nil {
			return cfg, fmt.Errorf("unknown preset %q", *preset)
		}
		cfg.Preset, cfg.Camera = *preset, *p
	}
	if *noStart {
		cfg.AutoStart = false
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Service) error {
	logger := log.L()

	opener, err := capture.NewOpener(cfg.Capture, log.For("capture"))
	if err != nil {
		return err
	}

	// The server is built after the source, so results go through a closure.
	var server *web.Server
	handler := detect.Fanout(
		func(r detect.Result) { server.HandleResult(r) },
		logBest,
	)

	detector, err := newDetector(cfg, handler)
	if err != nil {
		return err
	}

	source, err := camera.New(cfg.Camera, opener, detector,
		camera.WithLogger(log.For("camera")),
		camera.WithMetrics(camera.NewMetrics(prometheus.DefaultRegisterer)),
	)
	if err != nil {
		detector.Release()
		return err
	}
	defer func() {
		if err := source.Release(); err != nil {
			logger.Warn("release camera", "error", err)
		}
	}()

	manager := camera.NewManager(cfg.Camera)
	manager.OnConfigChange = source.Reconfigure

	server = web.NewServer(source, manager, web.Options{
		Addr:           cfg.Addr(),
		Logger:         log.For("web"),
		PictureTimeout: cfg.PictureTimeout,
	})

	if cfg.AutoStart {
		if err := source.Start(); err != nil {
			return fmt.Errorf("start camera: %w", err)
		}
	}

	logger.Info("camsource running",
		"addr", cfg.Addr(),
		"backend", cfg.Capture.Backend,
		"preview", fmt.Sprintf("%dx%d", cfg.Camera.PreviewWidth, cfg.Camera.PreviewHeight),
		"started", source.IsStarted(),
	)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// newDetector returns the YuNet detector when its model is present and a
// passthrough detector otherwise.
func newDetector(cfg config.Service, handler detect.ResultHandler) (camera.Detector, error) {
	if !cfg.ModelAvailable() {
		log.Warn("detector model not found, running without detection", "model", cfg.Detect.ModelPath)
		return detect.NewPassthrough(handler), nil
	}
	return detect.NewYuNet(cfg.Detect, handler, log.For("detect"))
}

func logBest(r detect.Result) {
	if r.Best == nil {
		return
	}
	x, y := r.Best.Center()
	log.Debug("face",
		"frame", r.FrameID,
		"faces", len(r.Detections),
		"x", x,
		"y", y,
		"confidence", r.Best.Confidence,
		"latency", r.Latency,
	)
}
