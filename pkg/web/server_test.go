package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-camsource/pkg/camera"
	"github.com/teslashibe/go-camsource/pkg/capture"
	"github.com/teslashibe/go-camsource/pkg/detect"
	"github.com/teslashibe/go-camsource/pkg/hub"
)

type testEnv struct {
	server  *Server
	source  *camera.Source
	opener  *capture.MockOpener
	manager *camera.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	opener := capture.NewMockOpener(nil,
		capture.MockSpec{
			Info:    capture.Info{Facing: capture.FacingBack, Orientation: 90},
			Options: []capture.MockOption{capture.WithManualFrames()},
		},
	)

	env := &testEnv{opener: opener}
	var srv *Server
	det := detect.NewPassthrough(func(r detect.Result) {
		if srv != nil {
			srv.HandleResult(r)
		}
	})

	src, err := camera.New(camera.DefaultConfig(), opener, det,
		camera.WithMetrics(camera.NewMetrics(reg)))
	require.NoError(t, err)
	t.Cleanup(func() { src.Release() })

	mgr := camera.NewManager(camera.DefaultConfig())
	mgr.OnConfigChange = src.Reconfigure

	srv = NewServer(src, mgr, Options{Gatherer: reg, PictureTimeout: time.Second})
	env.server, env.source, env.manager = srv, src, mgr
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func TestServer_StartStop(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, data)["started"])

	resp, data = env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	assert.True(t, st.Started)
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, capture.Size{Width: 1024, Height: 768}, st.PreviewSize)
	assert.Equal(t, capture.FpsRange{Min: 30000, Max: 30000}, st.FpsRange)

	resp, data = env.do(t, http.MethodPost, "/api/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, data)["started"])
}

func TestServer_FramesProduceResults(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.True(t, env.opener.Last().Emit())
	require.Eventually(t, func() bool { return env.server.LastResult() != nil }, time.Second, time.Millisecond)

	last := env.server.LastResult()
	assert.Equal(t, uint64(1), last.FrameID)
	// Rear sensor mounted at 90 degrees reports portrait dimensions.
	assert.Equal(t, 768, last.Width)
	assert.Equal(t, 1024, last.Height)
	assert.Empty(t, last.Detections)
}

func TestServer_StartFailure(t *testing.T) {
	env := newTestEnv(t)
	env.opener.FailOpen(assert.AnError)

	resp, data := env.do(t, http.MethodPost, "/api/start", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, decode(t, data)["error"], "open")
}

func TestServer_Zoom(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tests := []struct {
		name   string
		body   interface{}
		status int
		zoom   float64
	}{
		{"zoom in", ZoomRequest{Scale: 2}, http.StatusOK, 6},
		{"zoom out", ZoomRequest{Scale: 0.5}, http.StatusOK, 3},
		{"negative", ZoomRequest{Scale: -1}, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := env.do(t, http.MethodPost, "/api/zoom", tt.body)
			require.Equal(t, tt.status, resp.StatusCode, string(data))
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.zoom, decode(t, data)["zoom"])
			}
		})
	}
}

func TestServer_Modes(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := env.do(t, http.MethodPost, "/api/focus", ModeRequest{Mode: string(capture.FocusContinuousVideo)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, data)
	assert.Equal(t, true, out["applied"])
	assert.Equal(t, string(capture.FocusContinuousVideo), out["mode"])

	resp, data = env.do(t, http.MethodPost, "/api/flash", ModeRequest{Mode: "strobe"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, data)["applied"])

	resp, _ = env.do(t, http.MethodPost, "/api/focus", ModeRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Picture(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/picture", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "picture needs a started camera")

	resp, _ = env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := env.do(t, http.MethodPost, "/api/picture", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

	require.Eventually(t, func() bool {
		return env.opener.Last().Stats().Streaming
	}, time.Second, time.Millisecond, "streaming resumes after the picture")
}

func TestServer_AutoFocus(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/autofocus", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/autofocus", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/autofocus/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, env.opener.Last().Stats().CancelFocus)
}

func TestServer_Config(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, data)
	assert.Equal(t, "", out["preset"])
	assert.NotNil(t, out["capabilities"])

	resp, _ = env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = env.do(t, http.MethodPut, "/api/config", map[string]interface{}{"preset": "legacy"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "legacy", decode(t, data)["preset"])
	assert.Equal(t, capture.Size{Width: 640, Height: 480}, env.source.PreviewSize())
	assert.Equal(t, 2, env.opener.OpenCount(), "reconfigure reopens the device")

	resp, _ = env.do(t, http.MethodPut, "/api/config", map[string]interface{}{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/api/config", map[string]interface{}{"requested_fps": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "legacy", env.manager.Preset(), "rejected update leaves the config untouched")
}

func TestServer_ConfigDisabled(t *testing.T) {
	env := newTestEnv(t)
	srv := NewServer(env.source, nil, Options{Gatherer: prometheus.NewRegistry()})

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/api/config", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Presets(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodGet, "/api/presets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	names, ok := decode(t, data)["names"].([]interface{})
	require.True(t, ok)
	assert.Len(t, names, len(camera.PresetNames()))
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := string(data)
	assert.Contains(t, body, "camsource_sessions_started_total 1")
	assert.Contains(t, body, "camsource_active_sessions 1")
}

func TestServer_WebSocketRequiresUpgrade(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/ws/events", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestServer_WebSocketStreams(t *testing.T) {
	env := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- env.server.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-served
	})

	base := "ws://" + ln.Addr().String()
	events, _, err := websocket.DefaultDialer.Dial(base+"/ws/events", nil)
	require.NoError(t, err)
	defer events.Close()
	detections, _, err := websocket.DefaultDialer.Dial(base+"/ws/detections", nil)
	require.NoError(t, err)
	defer detections.Close()

	var ev hub.Event
	events.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, events.ReadJSON(&ev))
	assert.Equal(t, "status", ev.Type)

	require.Eventually(t, func() bool {
		return env.server.EventHub().ClientCount() == 1
	}, time.Second, time.Millisecond)

	resp, _ := env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, events.ReadJSON(&ev))
	assert.Equal(t, EventSession, ev.Type)

	require.True(t, env.opener.Last().TriggerFocusMove(true))
	require.NoError(t, events.ReadJSON(&ev))
	assert.Equal(t, EventFocusMove, ev.Type)

	require.True(t, env.opener.Last().Emit())
	var result detect.Result
	detections.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, detections.ReadJSON(&result))
	assert.Equal(t, uint64(1), result.FrameID)
}

func TestHandleError_Codes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"device open", camera.ErrDeviceOpen, http.StatusServiceUnavailable},
		{"no size", camera.ErrNoSuitableSize, http.StatusUnprocessableEntity},
		{"no fps", camera.ErrNoSuitableFpsRange, http.StatusUnprocessableEntity},
		{"lifecycle", &camera.LifecycleError{Op: "Start", State: "released"}, http.StatusConflict},
		{"other", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.server.App().Get("/boom", func(c *fiber.Ctx) error { return tt.err })

			resp, data := env.do(t, http.MethodGet, "/boom", nil)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.True(t, strings.Contains(string(data), "error"))
		})
	}
}

// readEvent reads events until one of type want arrives.
func readEvent(t *testing.T, conn *websocket.Conn, want string) hub.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev hub.Event
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s event", want)
		if ev.Type == want {
			return ev
		}
	}
}

func TestServer_FocusMoveAcrossSessions(t *testing.T) {
	env := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- env.server.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-served
	})

	events, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/events", nil)
	require.NoError(t, err)
	defer events.Close()
	readEvent(t, events, "status")
	require.Eventually(t, func() bool {
		return env.server.EventHub().ClientCount() == 1
	}, time.Second, time.Millisecond)

	// Started directly, as the binary does, without POST /api/start.
	require.NoError(t, env.source.Start())
	require.True(t, env.opener.Last().TriggerFocusMove(true))
	readEvent(t, events, EventFocusMove)

	resp, data := env.do(t, http.MethodPut, "/api/config", map[string]interface{}{"preset": "legacy"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	require.Equal(t, 2, env.opener.OpenCount())

	require.True(t, env.opener.Last().TriggerFocusMove(false), "restarted session keeps the subscription")
	ev := readEvent(t, events, EventFocusMove)
	assert.Equal(t, map[string]interface{}{"start": false}, ev.Data)
}

func TestServer_ConfigRestartFailure(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.opener.FailOpen(assert.AnError)
	resp, _ = env.do(t, http.MethodPut, "/api/config", map[string]interface{}{"width": 640, "height": 480})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	assert.Equal(t, camera.DefaultConfig(), env.manager.GetConfig())
	assert.Equal(t, env.manager.GetConfig(), env.source.Config(), "source and manager agree")

	env.opener.FailOpen(nil)
	resp, _ = env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, capture.Size{Width: 1024, Height: 768}, env.source.PreviewSize())
}

func TestServer_FocusModeDoesNotTouchConfig(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/focus", ModeRequest{Mode: string(capture.FocusFixed)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, capture.FocusFixed, env.source.FocusMode())
	assert.Equal(t, env.manager.GetConfig(), env.source.Config())
}

// emptyPictureSource delivers a picture callback with no data, as a device
// does when the still read fails.
type emptyPictureSource struct {
	*camera.Source
}

func (s emptyPictureSource) TakePicture(shutter func(), picture func(jpeg []byte)) error {
	go picture(nil)
	return nil
}

func TestServer_EmptyPicture(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.source.Start())

	srv := NewServer(emptyPictureSource{env.source}, nil, Options{Gatherer: prometheus.NewRegistry()})
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodPost, "/api/picture", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotEqual(t, "image/jpeg", resp.Header.Get("Content-Type"))
}

type failingWriter struct{ writes int }

func (w *failingWriter) WriteJSON(interface{}) error {
	w.writes++
	return websocket.ErrCloseSent
}

func TestServer_GreetFailure(t *testing.T) {
	env := newTestEnv(t)

	w := &failingWriter{}
	assert.False(t, env.server.greet(w, hub.NewEvent("status", nil)))
	assert.Equal(t, 1, w.writes)
}
