// Package web provides the HTTP control surface for a camera source.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-camsource/pkg/camera"
	"github.com/teslashibe/go-camsource/pkg/capture"
	"github.com/teslashibe/go-camsource/pkg/detect"
	"github.com/teslashibe/go-camsource/pkg/hub"
)

// Event types published on /ws/events.
const (
	EventSession   = "session"
	EventFocusMove = "focus_move"
	EventAutoFocus = "autofocus"
	EventPicture   = "picture"
	EventZoom      = "zoom"
	EventConfig    = "config"
)

// Controller is the part of camera.Source the server drives.
type Controller interface {
	Start() error
	Stop()
	DoZoom(scale float64) int
	SetFocusMode(mode capture.FocusMode) bool
	SetFlashMode(mode capture.FlashMode) bool
	AutoFocus(cb func(success bool))
	CancelAutoFocus()
	SetAutoFocusMoveCallback(cb func(start bool)) bool
	TakePicture(shutter func(), picture func(jpeg []byte)) error

	PreviewSize() capture.Size
	PictureSize() capture.Size
	FpsRange() capture.FpsRange
	Facing() capture.Facing
	FocusMode() capture.FocusMode
	FlashMode() capture.FlashMode
	Rotation() camera.Rotation
	Stats() camera.SourceStats
}

var _ Controller = (*camera.Source)(nil)

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	Logger *slog.Logger

	// Gatherer serves /metrics. nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer

	// PictureTimeout bounds how long /api/picture waits for the JPEG.
	PictureTimeout time.Duration
}

// Server is the camera control server
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	source  Controller
	manager *camera.Manager

	pictureTimeout time.Duration

	// Hubs for websocket broadcast
	detectionHub *hub.Hub
	eventHub     *hub.Hub

	lastResult atomic.Pointer[detect.Result]
	results    atomic.Uint64
}

// NewServer creates the server and its routes. manager may be nil, which
// disables the config endpoints.
func NewServer(source Controller, manager *camera.Manager, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.PictureTimeout <= 0 {
		opts.PictureTimeout = 5 * time.Second
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	s := &Server{
		addr:           opts.Addr,
		logger:         opts.Logger,
		source:         source,
		manager:        manager,
		pictureTimeout: opts.PictureTimeout,
		detectionHub:   hub.New("detections", opts.Logger),
		eventHub:       hub.New("events", opts.Logger),
	}

	// Registered once; the source re-attaches it to every session.
	source.SetAutoFocusMoveCallback(func(start bool) {
		s.PublishEvent(EventFocusMove, fiber.Map{"start": start})
	})

	app := fiber.New(fiber.Config{
		AppName:               "camsource",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/start", s.handleStart)
	api.Post("/stop", s.handleStop)
	api.Post("/zoom", s.handleZoom)
	api.Post("/focus", s.handleFocus)
	api.Post("/flash", s.handleFlash)
	api.Post("/autofocus", s.handleAutoFocus)
	api.Post("/autofocus/cancel", s.handleCancelAutoFocus)
	api.Post("/picture", s.handlePicture)
	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.handlePutConfig)
	api.Get("/presets", s.handlePresets)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/detections", websocket.New(s.handleDetectionsWS))
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App returns the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// RunHubs runs the websocket hubs until ctx is cancelled.
func (s *Server) RunHubs(ctx context.Context) {
	go s.detectionHub.Run(ctx)
	go s.eventHub.Run(ctx)
}

// Run serves on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.RunHubs(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()
	s.logger.Info("control server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// HandleResult publishes a detection result. It satisfies detect.ResultHandler.
func (s *Server) HandleResult(r detect.Result) {
	s.lastResult.Store(&r)
	s.results.Add(1)
	if err := s.detectionHub.BroadcastJSON(r); err != nil {
		s.logger.Warn("encode detection result", "frame", r.FrameID, "error", err)
	}
}

// PublishEvent broadcasts an event to /ws/events clients.
func (s *Server) PublishEvent(eventType string, data interface{}) {
	if err := s.eventHub.BroadcastEvent(eventType, data); err != nil {
		s.logger.Warn("encode event", "type", eventType, "error", err)
	}
}

// LastResult returns the most recent detection result, if any.
func (s *Server) LastResult() *detect.Result {
	return s.lastResult.Load()
}

// EventHub returns the events hub for external publishers.
func (s *Server) EventHub() *hub.Hub {
	return s.eventHub
}

// handleError maps camera errors to HTTP status codes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, camera.ErrDeviceOpen):
		code = fiber.StatusServiceUnavailable
	case errors.Is(err, camera.ErrNoSuitableSize), errors.Is(err, camera.ErrNoSuitableFpsRange):
		code = fiber.StatusUnprocessableEntity
	case errors.Is(err, camera.ErrLifecycleViolation):
		code = fiber.StatusConflict
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
