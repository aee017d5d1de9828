package ingestion

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/camerahealth"
)

// State is one node of the per-worker state machine in §4.8.
type State string

const (
	StateIdle      State = "IDLE"
	StateResolving State = "RESOLVING"
	StateOpen      State = "OPEN"
	StateRead      State = "READ"
	StateGate      State = "GATE"
	StateSubmit    State = "SUBMIT"
	StateBackoff   State = "BACKOFF"
	StateStopping  State = "STOPPING"
	StateStopped   State = "STOPPED"
)

// Submitter is the Query Pipeline's submission entry point, kept as a
// narrow interface so the worker's state machine depends only on
// SubmitFrame; PipelineSubmitter (submitter.go) adapts queries.Pipeline
// to it.
type Submitter interface {
	SubmitFrame(ctx context.Context, cameraID uuid.UUID, cameraName string, frame image.Image) error
}

// StreamConfig is one configured stream (§4.8 "One worker per
// configured stream").
type StreamConfig struct {
	CameraID               uuid.UUID
	CameraName             string
	RTSPURL                string
	SamplingIntervalSeconds int
	ReconnectDelay         time.Duration
	FPS                    int
	DropCriticalFrames     bool
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.SamplingIntervalSeconds <= 0 {
		c.SamplingIntervalSeconds = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 10 * time.Second
	}
	if c.FPS <= 0 {
		c.FPS = 1
	}
	return c
}

// Worker drives one stream's state machine (§4.8's table). It is
// cooperative: Stop() sets a flag observed between reads and at the
// head of each state (§4.8: "Cancellation: stopping is cooperative").
type Worker struct {
	cfg       StreamConfig
	backend   Backend
	monitor   *camerahealth.Monitor
	submitter Submitter
	logger    *slog.Logger

	state    State
	stopping chan struct{}
	stopped  chan struct{}

	lastSubmit   time.Time
	pendingFrame image.Image
}

func NewWorker(cfg StreamConfig, backend Backend, submitter Submitter, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:       cfg.withDefaults(),
		backend:   backend,
		monitor:   camerahealth.New(camerahealth.DefaultThresholds()),
		submitter: submitter,
		logger:    logger,
		state:     StateIdle,
		stopping:  make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (w *Worker) State() State {
	return w.state
}

// Stop requests cooperative shutdown and blocks until the worker has
// transitioned to STOPPED.
func (w *Worker) Stop() {
	select {
	case <-w.stopping:
	default:
		close(w.stopping)
	}
	<-w.stopped
}

func (w *Worker) isStopping() bool {
	select {
	case <-w.stopping:
		return true
	default:
		return false
	}
}

// Run drives the state machine until Stop is called. It should be
// invoked in its own goroutine by the orchestrator.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.stopped)

	w.state = StateIdle
	var reader FrameReader
	defer func() {
		if reader != nil {
			_ = reader.Close()
		}
	}()

	for {
		if w.isStopping() {
			w.state = StateStopping
			w.state = StateStopped
			return
		}

		switch w.state {
		case StateIdle:
			w.state = StateResolving

		case StateResolving:
			_, err := w.backend.Resolve(ctx, w.cfg.RTSPURL)
			if err != nil {
				w.logger.Warn("stream resolve failed", "camera_id", w.cfg.CameraID, "error", err)
				w.state = StateBackoff
				continue
			}
			w.state = StateOpen

		case StateOpen:
			r, err := w.backend.Open(ctx, w.cfg.RTSPURL, w.cfg.FPS)
			if err != nil {
				w.logger.Warn("stream open failed", "camera_id", w.cfg.CameraID, "error", err)
				w.state = StateBackoff
				continue
			}
			reader = r
			w.state = StateRead

		case StateRead:
			w.throttle()
			frame, err := reader.ReadFrame()
			if err != nil {
				w.logger.Warn("frame read failed", "camera_id", w.cfg.CameraID, "error", err)
				_ = reader.Close()
				reader = nil
				w.state = StateBackoff
				continue
			}
			w.pendingFrame = frame
			w.state = StateGate

		case StateGate:
			met := w.monitor.Assess(w.pendingFrame)
			if w.cfg.DropCriticalFrames && met.Status == "critical" {
				w.logger.Debug("dropping critical-health frame", "camera_id", w.cfg.CameraID)
				w.state = StateRead
				continue
			}
			w.state = StateSubmit

		case StateSubmit:
			if err := w.submitter.SubmitFrame(ctx, w.cfg.CameraID, w.cfg.CameraName, w.pendingFrame); err != nil {
				w.logger.Warn("frame submission failed", "camera_id", w.cfg.CameraID, "error", err)
			}
			w.lastSubmit = time.Now()
			w.pendingFrame = nil
			w.state = StateRead

		case StateBackoff:
			select {
			case <-time.After(w.cfg.ReconnectDelay):
			case <-w.stopping:
			}
			w.state = StateResolving
		}
	}
}

// throttle enforces §4.8's rate limit: "at most one submission every
// sampling_interval_seconds".
func (w *Worker) throttle() {
	min := time.Duration(w.cfg.SamplingIntervalSeconds) * time.Second
	elapsed := time.Since(w.lastSubmit)
	if elapsed < min {
		select {
		case <-time.After(min - elapsed):
		case <-w.stopping:
		}
	}
}
