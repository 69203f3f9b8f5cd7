package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-camsource/pkg/camera"
	"github.com/teslashibe/go-camsource/pkg/capture"
	"github.com/teslashibe/go-camsource/pkg/hub"
)

// Status is the response of GET /api/status.
type Status struct {
	Started     bool               `json:"started"`
	SessionID   string             `json:"session_id,omitempty"`
	Facing      capture.Facing     `json:"facing"`
	PreviewSize capture.Size       `json:"preview_size"`
	PictureSize capture.Size       `json:"picture_size"`
	FpsRange    capture.FpsRange   `json:"fps_range"`
	FocusMode   capture.FocusMode  `json:"focus_mode"`
	FlashMode   capture.FlashMode  `json:"flash_mode"`
	Rotation    camera.Rotation    `json:"rotation"`
	Stats       camera.SourceStats `json:"stats"`
	Results     uint64             `json:"results"`
	Clients     int                `json:"clients"`
}

func (s *Server) status() Status {
	st := s.source.Stats()
	return Status{
		Started:     st.Started,
		SessionID:   st.SessionID,
		Facing:      s.source.Facing(),
		PreviewSize: s.source.PreviewSize(),
		PictureSize: s.source.PictureSize(),
		FpsRange:    s.source.FpsRange(),
		FocusMode:   s.source.FocusMode(),
		FlashMode:   s.source.FlashMode(),
		Rotation:    s.source.Rotation(),
		Stats:       st,
		Results:     s.results.Load(),
		Clients:     s.detectionHub.ClientCount() + s.eventHub.ClientCount(),
	}
}

// handleStatus returns the current session state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleStart starts the source
func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.source.Start(); err != nil {
		return err
	}

	st := s.status()
	s.PublishEvent(EventSession, fiber.Map{"started": true, "session_id": st.SessionID})
	return c.JSON(st)
}

// handleStop stops the source
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.source.Stop()
	s.PublishEvent(EventSession, fiber.Map{"started": false})
	return c.JSON(s.status())
}

// ZoomRequest is the request body for POST /api/zoom
type ZoomRequest struct {
	Scale float64 `json:"scale"`
}

func (s *Server) handleZoom(c *fiber.Ctx) error {
	var req ZoomRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if req.Scale < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "scale must not be negative")
	}

	zoom := s.source.DoZoom(req.Scale)
	s.PublishEvent(EventZoom, fiber.Map{"zoom": zoom})
	return c.JSON(fiber.Map{"zoom": zoom})
}

// ModeRequest is the request body for POST /api/focus and /api/flash
type ModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleFocus(c *fiber.Ctx) error {
	var req ModeRequest
	if err := c.BodyParser(&req); err != nil || req.Mode == "" {
		return fiber.NewError(fiber.StatusBadRequest, "mode is required")
	}

	applied := s.source.SetFocusMode(capture.FocusMode(req.Mode))
	return c.JSON(fiber.Map{
		"applied": applied,
		"mode":    s.source.FocusMode(),
	})
}

func (s *Server) handleFlash(c *fiber.Ctx) error {
	var req ModeRequest
	if err := c.BodyParser(&req); err != nil || req.Mode == "" {
		return fiber.NewError(fiber.StatusBadRequest, "mode is required")
	}

	applied := s.source.SetFlashMode(capture.FlashMode(req.Mode))
	return c.JSON(fiber.Map{
		"applied": applied,
		"mode":    s.source.FlashMode(),
	})
}

// handleAutoFocus starts a focus sweep; the outcome arrives on /ws/events
func (s *Server) handleAutoFocus(c *fiber.Ctx) error {
	if !s.source.Stats().Started {
		return fiber.NewError(fiber.StatusConflict, "camera not started")
	}
	s.source.AutoFocus(func(success bool) {
		s.PublishEvent(EventAutoFocus, fiber.Map{"success": success})
	})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "focusing"})
}

func (s *Server) handleCancelAutoFocus(c *fiber.Ctx) error {
	s.source.CancelAutoFocus()
	return c.JSON(fiber.Map{"status": "cancelled"})
}

// handlePicture takes a still picture and returns it as image/jpeg
func (s *Server) handlePicture(c *fiber.Ctx) error {
	if !s.source.Stats().Started {
		return fiber.NewError(fiber.StatusConflict, "camera not started")
	}

	pictures := make(chan []byte, 1)
	shutter := func() {
		s.PublishEvent(EventPicture, fiber.Map{"stage": "shutter"})
	}
	err := s.source.TakePicture(shutter, func(jpeg []byte) {
		pictures <- jpeg
	})
	if err != nil {
		return err
	}

	select {
	case jpeg := <-pictures:
		if len(jpeg) == 0 {
			return fiber.NewError(fiber.StatusBadGateway, "camera returned no picture")
		}
		s.PublishEvent(EventPicture, fiber.Map{"stage": "captured", "bytes": len(jpeg)})
		c.Set(fiber.HeaderContentType, "image/jpeg")
		return c.Send(jpeg)
	case <-time.After(s.pictureTimeout):
		return fiber.NewError(fiber.StatusGatewayTimeout, "picture timed out")
	}
}

func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	if s.manager == nil {
		return fiber.NewError(fiber.StatusNotFound, "config management disabled")
	}
	return c.JSON(fiber.Map{
		"config":       s.manager.GetConfigJSON(),
		"preset":       s.manager.Preset(),
		"capabilities": camera.Capabilities(),
	})
}

// handlePutConfig applies a partial config update, optionally from a preset
func (s *Server) handlePutConfig(c *fiber.Ctx) error {
	if s.manager == nil {
		return fiber.NewError(fiber.StatusNotFound, "config management disabled")
	}

	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}

	if err := s.manager.UpdateConfig(params); err != nil {
		// Reconfigure failures carry a camera error; anything else is the caller's input.
		if errors.Is(err, camera.ErrDeviceOpen) || errors.Is(err, camera.ErrLifecycleViolation) ||
			errors.Is(err, camera.ErrNoSuitableSize) || errors.Is(err, camera.ErrNoSuitableFpsRange) {
			return err
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	cfg := s.manager.GetConfigJSON()
	s.PublishEvent(EventConfig, cfg)
	return c.JSON(fiber.Map{
		"config": cfg,
		"preset": s.manager.Preset(),
	})
}

func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"names":   camera.PresetNames(),
		"presets": camera.Presets(),
	})
}

// handleDetectionsWS streams detection results, starting with the latest one
func (s *Server) handleDetectionsWS(c *websocket.Conn) {
	if last := s.LastResult(); last != nil && !s.greet(c, last) {
		return
	}
	s.runClient(s.detectionHub, c)
}

// handleEventsWS streams session and control events, starting with the current status
func (s *Server) handleEventsWS(c *websocket.Conn) {
	if !s.greet(c, hub.NewEvent("status", s.status())) {
		return
	}
	s.runClient(s.eventHub, c)
}

type jsonWriter interface {
	WriteJSON(v interface{}) error
}

// greet sends the first message of a stream. A client that cannot take it
// is not registered with the hub.
func (s *Server) greet(c jsonWriter, v interface{}) bool {
	if err := c.WriteJSON(v); err != nil {
		s.logger.Debug("websocket greeting failed", "error", err)
		return false
	}
	return true
}

func (s *Server) runClient(h *hub.Hub, c *websocket.Conn) {
	client := hub.NewClient(h, c)
	if client == nil {
		return
	}
	client.Run()
}
