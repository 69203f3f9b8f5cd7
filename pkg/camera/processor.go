package camera

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-camsource/pkg/capture"
)

// Recycler takes back a buffer so the device can fill it again.
// capture.Device satisfies it.
type Recycler interface {
	AddBuffer(buf capture.Buffer)
}

// Session is what the processor needs from an open device.
type Session struct {
	Pool     *BufferPool
	Recycler Recycler

	// Rotation is recorded on every frame, in quarter turns.
	Rotation int
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	Logger  *slog.Logger
	Metrics *Metrics
}

// ProcessorStats is a snapshot of processor counters.
type ProcessorStats struct {
	Submitted      uint64 `json:"submitted"`
	Processed      uint64 `json:"processed"`
	Dropped        uint64 `json:"dropped"`
	Discarded      uint64 `json:"discarded"`
	DetectorErrors uint64 `json:"detector_errors"`
	LastID         uint64 `json:"last_id"`
	Active         bool   `json:"active"`
	Running        bool   `json:"running"`
	Released       bool   `json:"released"`
}

type pendingFrame struct {
	id        uint64
	timestamp time.Duration
	buf       capture.Buffer
}

// Processor hands frames to a Detector on one background goroutine.
//
// It holds at most one pending frame. A frame submitted while another is
// pending replaces it and the replaced buffer goes straight back to the
// device. The lock is never held while the detector runs.
type Processor struct {
	detector Detector
	logger   *slog.Logger
	metrics  *Metrics

	mu       sync.Mutex
	cond     *sync.Cond
	active   bool
	running  bool
	released bool
	session  *Session
	pending  *pendingFrame
	started  time.Time
	done     chan struct{}

	nextID uint64
	stats  ProcessorStats
}

// NewProcessor creates a processor that feeds detector.
func NewProcessor(detector Detector, opts ProcessorOptions) *Processor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	p := &Processor{
		detector: detector,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetActive sets the active flag and wakes the worker.
// Clearing it is the only way to make the worker exit.
func (p *Processor) SetActive(active bool) {
	p.mu.Lock()
	p.active = active
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Start binds the processor to a session and launches the worker.
// Timestamps are measured from this call.
func (p *Processor) Start(sess Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return p.violation("start", "released")
	}
	if p.running {
		return p.violation("start", "worker running")
	}
	if sess.Pool == nil || sess.Recycler == nil {
		return fmt.Errorf("camera: session needs a pool and a recycler")
	}

	p.session = &sess
	p.pending = nil
	p.active = true
	p.running = true
	p.started = time.Now()
	p.done = make(chan struct{})

	go p.run(p.done)
	return nil
}

// Stop clears the active flag and waits for the worker to exit.
// It is safe to call when the worker is not running.
func (p *Processor) Stop() {
	p.SetActive(false)

	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

// SubmitFrame is the device frame callback. It never blocks on detection.
func (p *Processor) SubmitFrame(id capture.BufferID) {
	p.mu.Lock()
	sess := p.session
	if sess == nil {
		p.stats.Discarded++
		p.mu.Unlock()
		p.metrics.FramesDiscarded.Inc()
		p.logger.Debug("frame discarded", "buffer", id, "error", fmt.Errorf("%w: no session", ErrBufferMapping))
		return
	}

	buf, err := sess.Pool.Lookup(id)
	if err != nil {
		p.stats.Discarded++
		p.mu.Unlock()
		p.metrics.FramesDiscarded.Inc()
		p.logger.Debug("frame discarded", "buffer", id, "error", err)
		return
	}

	p.nextID++
	evicted := p.pending
	p.pending = &pendingFrame{
		id:        p.nextID,
		timestamp: time.Since(p.started),
		buf:       buf,
	}
	p.stats.Submitted++
	p.stats.LastID = p.nextID
	if evicted != nil {
		p.stats.Dropped++
	}
	p.cond.Signal()
	p.mu.Unlock()

	p.metrics.FramesSubmitted.Inc()
	if evicted != nil {
		p.metrics.FramesDropped.Inc()
		sess.Recycler.AddBuffer(evicted.buf)
	}
}

// ClearBuffers detaches the session and forgets any pending frame.
// Frames submitted afterwards are discarded.
func (p *Processor) ClearBuffers() {
	p.mu.Lock()
	p.session = nil
	p.pending = nil
	p.mu.Unlock()
}

// Release frees the detector. The worker must have been stopped, and
// Release may only succeed once.
func (p *Processor) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return p.violation("release", "already released")
	}
	if p.running {
		p.mu.Unlock()
		return p.violation("release", "worker running")
	}
	p.released = true
	p.mu.Unlock()

	if err := p.detector.Release(); err != nil {
		return fmt.Errorf("camera: release detector: %w", err)
	}
	return nil
}

// Stats returns a snapshot of processor counters.
func (p *Processor) Stats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Active = p.active
	s.Running = p.running
	s.Released = p.released
	return s
}

func (p *Processor) run(done chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(done)
	}()

	for {
		p.mu.Lock()
		for p.active && p.pending == nil {
			p.cond.Wait()
		}
		if !p.active {
			p.mu.Unlock()
			return
		}
		frame := p.pending
		p.pending = nil
		sess := p.session
		p.mu.Unlock()

		p.process(frame, sess)
	}
}

func (p *Processor) process(frame *pendingFrame, sess *Session) {
	meta := FrameMetadata{
		ID:        frame.id,
		Timestamp: frame.timestamp,
		Width:     sess.Pool.Size().Width,
		Height:    sess.Pool.Size().Height,
		Format:    sess.Pool.Format(),
		Rotation:  sess.Rotation,
	}

	start := time.Now()
	err := p.invoke(meta, frame.buf.Data)
	p.metrics.DetectionLatency.Observe(time.Since(start).Seconds())
	p.metrics.FramesProcessed.Inc()

	p.mu.Lock()
	p.stats.Processed++
	if err != nil {
		p.stats.DetectorErrors++
	}
	current := p.session == sess
	p.mu.Unlock()

	if err != nil {
		p.metrics.DetectorErrors.Inc()
		p.logger.Error("detector failed", "frame", frame.id, "error", err)
	}

	// A cleared session means the pool is going away; its buffers are not requeued.
	if current {
		sess.Recycler.AddBuffer(frame.buf)
	}
}

func (p *Processor) invoke(meta FrameMetadata, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DetectorError{FrameID: meta.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := p.detector.ReceiveFrame(meta, data); err != nil {
		return &DetectorError{FrameID: meta.ID, Err: err}
	}
	return nil
}

func (p *Processor) violation(op, state string) error {
	err := &LifecycleError{Op: op, State: state}
	p.logger.Error("processor lifecycle violation", "op", op, "state", state)
	return err
}
