package camerahealth

import (
	"context"
	"image"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/metrics"
)

// monitorCacheSize bounds the per-camera tamper/view-change Monitor
// cache so a fleet with heavy camera churn can't leak Monitors forever;
// eviction drops the least-recently-inspected camera's reference frame,
// which just means its next inspection rebuilds one (§4.9 reset_reference
// already handles a missing/stale reference).
const monitorCacheSize = 4096

// Grabber connects to a camera and samples frames for one inspection
// pass (§4.10 steps 1-3). Implementations wrap an RTSP/FFmpeg backend;
// production wiring shares the backend used by the Ingestion
// Orchestrator (C8).
type Grabber interface {
	// Connect measures connection latency and returns a handle used for
	// subsequent frame reads, or an error if the camera is unreachable.
	Connect(ctx context.Context, rtspURL string, timeout time.Duration) (Stream, time.Duration, error)
}

// Stream yields frames from a connected camera.
type Stream interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// AlertDispatcher sends a CameraAlert through configured channels
// (email, per §4.10 step 6). Best-effort: failures are logged, never
// fatal to the inspection cycle.
type AlertDispatcher interface {
	DispatchCameraAlert(ctx context.Context, alert *data.CameraAlert, camera *data.Camera) error
}

// InspectorConfig is §6.6's inspection_interval_minutes plus the
// sampling parameters §4.10 step 2 needs to compute fps.
type InspectorConfig struct {
	Interval        time.Duration
	ConnectTimeout  time.Duration
	SampleFrames    int
	WorkerPoolSize  int
	ViewChangeSSIM  float64 // threshold below which a view is "changed"
	HighLatencyMS   int
}

func DefaultInspectorConfig() InspectorConfig {
	return InspectorConfig{
		Interval:       15 * time.Minute,
		ConnectTimeout: 5 * time.Second,
		SampleFrames:   10,
		WorkerPoolSize: 20,
		ViewChangeSSIM: 0.7,
		HighLatencyMS:  2000,
	}
}

// Inspector drives the periodic full-camera cycle (C10).
type Inspector struct {
	cfg     InspectorConfig
	cameras data.CameraRepository
	health  data.HealthRepository
	grabber Grabber
	alerts  AlertDispatcher
	logger  *slog.Logger

	monitorsMu sync.Mutex
	monitors   *lru.Cache[uuid.UUID, *Monitor]

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewInspector(cfg InspectorConfig, cameras data.CameraRepository, health data.HealthRepository, grabber Grabber, alerts AlertDispatcher, logger *slog.Logger) *Inspector {
	if cfg.Interval == 0 {
		cfg = DefaultInspectorConfig()
	}
	monitors, _ := lru.New[uuid.UUID, *Monitor](monitorCacheSize)
	return &Inspector{
		cfg:      cfg,
		cameras:  cameras,
		health:   health,
		grabber:  grabber,
		alerts:   alerts,
		logger:   logger,
		monitors: monitors,
		quit:     make(chan struct{}),
	}
}

// monitorFor returns the per-camera Monitor, creating one on first use
// (§4.9: tampering metrics are keyed on a reference frame that is
// specific to one camera's view, not shared across the fleet).
func (i *Inspector) monitorFor(cameraID uuid.UUID) *Monitor {
	i.monitorsMu.Lock()
	defer i.monitorsMu.Unlock()
	m, ok := i.monitors.Get(cameraID)
	if !ok {
		m = New(DefaultThresholds())
		i.monitors.Add(cameraID, m)
	}
	return m
}

// SetBaseline resets the reference frame used for view-change and
// tampering detection on a camera, e.g. after an operator confirms a
// new baseline (§3 Camera.baseline_image_path, §4.9 reset_reference).
func (i *Inspector) SetBaseline(cameraID uuid.UUID, frame image.Image) {
	i.monitorFor(cameraID).ResetReference(frame)
}

func (i *Inspector) Start() {
	i.wg.Add(1)
	go i.run()
}

func (i *Inspector) Stop() {
	close(i.quit)
	i.wg.Wait()
}

func (i *Inspector) run() {
	defer i.wg.Done()

	ticker := time.NewTicker(i.cfg.Interval)
	defer ticker.Stop()

	i.RunCycle(context.Background())
	for {
		select {
		case <-ticker.C:
			i.RunCycle(context.Background())
		case <-i.quit:
			return
		}
	}
}

// RunCycle performs one full inspection pass over every camera,
// writing an InspectionRun at start and completing it with counts at
// the end (§4.10: "the inspector MUST write an InspectionRun at start
// and update it to completed with counts at the end").
func (i *Inspector) RunCycle(ctx context.Context) {
	run := &data.InspectionRun{StartedAt: time.Now()}
	if err := i.health.CreateInspectionRun(ctx, run); err != nil {
		i.logger.Error("failed to open inspection run", "error", err)
		return
	}

	targets, err := i.health.ListTargets(ctx)
	if err != nil {
		i.logger.Error("failed to list camera targets", "error", err)
		return
	}
	run.TotalCameras = len(targets)

	jobs := make(chan data.CameraHealthTarget, len(targets))
	for _, t := range targets {
		jobs <- t
	}
	close(jobs)

	var mu sync.Mutex
	pool := i.cfg.WorkerPoolSize
	if pool <= 0 {
		pool = 1
	}
	var workerWG sync.WaitGroup
	for w := 0; w < pool; w++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for t := range jobs {
				jitter := time.Duration(rand.Intn(500)) * time.Millisecond
				time.Sleep(jitter)
				status := i.inspectCamera(ctx, t)
				metrics.CameraHealthChecksTotal.WithLabelValues(status).Inc()
				mu.Lock()
				switch status {
				case "healthy":
					run.HealthyCount++
				case "warning":
					run.WarningCount++
				case "critical":
					run.CriticalCount++
				case "offline":
					run.OfflineCount++
				default:
					run.FailedCount++
				}
				mu.Unlock()
			}
		}()
	}
	workerWG.Wait()

	now := time.Now()
	run.CompletedAt = &now
	if err := i.health.CompleteInspectionRun(ctx, run); err != nil {
		i.logger.Error("failed to complete inspection run", "error", err)
	}
}

// inspectCamera executes §4.10 steps 1-6 for a single camera. Any
// unexpected error counts the camera as failed and the cycle
// continues (§4.10: "On unexpected error during a camera, count it as
// failed and continue").
func (i *Inspector) inspectCamera(ctx context.Context, target data.CameraHealthTarget) string {
	camera, err := i.cameras.GetByID(ctx, target.CameraID)
	if err != nil {
		i.logger.Warn("camera lookup failed during inspection", "camera_id", target.CameraID, "error", err)
		return "failed"
	}

	stream, latency, err := i.grabber.Connect(ctx, target.RTSPURL, i.cfg.ConnectTimeout)
	if err != nil {
		i.recordOffline(ctx, camera, err)
		return "offline"
	}
	defer stream.Close()

	frames, elapsed, lastFrame, err := i.sampleFrames(ctx, stream)
	if err != nil || lastFrame == nil {
		i.recordOffline(ctx, camera, err)
		return "offline"
	}

	fps := 0.0
	if elapsed > 0 {
		fps = float64(frames) / elapsed.Seconds()
	}

	monitor := i.monitorFor(camera.ID)
	met := monitor.Assess(lastFrame)

	viewChanged := false
	var ssimScore *float64
	var matchCount *int
	if camera.BaselineImagePath != "" && monitor.reference != nil {
		// Baseline comparison reuses the per-camera monitor's reference
		// frame, which callers reset to the stored baseline image via
		// ResetReference when a camera's baseline changes.
		s := ssimGray(toGray(lastFrame), monitor.reference)
		ssimScore = &s
		matchRatio := 0.0
		if met.HasReference {
			matchRatio = float64(met.MatchCount) / 36.0
		}
		viewChanged = s < i.cfg.ViewChangeSSIM || matchRatio < 0.3
		mc := met.MatchCount
		matchCount = &mc
	}

	bounds := lastFrame.Bounds()
	sample := &data.CameraHealth{
		CameraID:    camera.ID,
		Status:      met.Status,
		FPS:         fps,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Brightness:  met.Brightness,
		Sharpness:   met.BlurScore,
		LatencyMS:   int(latency.Milliseconds()),
		SSIMScore:   ssimScore,
		MatchCount:  matchCount,
		ViewChanged: viewChanged,
		OccurredAt:  time.Now(),
	}
	if err := i.health.AddSample(ctx, sample); err != nil {
		i.logger.Error("failed to record camera health sample", "camera_id", camera.ID, "error", err)
	}

	healthScore := float64(met.Score)
	if err := i.cameras.UpdateStatus(ctx, camera.ID, met.Status, healthScore); err != nil {
		i.logger.Error("failed to update camera status", "camera_id", camera.ID, "error", err)
	}
	if viewChanged && !camera.ViewChanged {
		_ = i.cameras.SetViewChanged(ctx, camera.ID, true)
	}

	i.evaluateAlerts(ctx, camera, met, sample, viewChanged)
	return met.Status
}

func (i *Inspector) sampleFrames(ctx context.Context, stream Stream) (int, time.Duration, image.Image, error) {
	start := time.Now()
	var last image.Image
	n := i.cfg.SampleFrames
	if n <= 0 {
		n = 1
	}
	count := 0
	for f := 0; f < n; f++ {
		frame, err := stream.ReadFrame(ctx)
		if err != nil {
			if count > 0 {
				break
			}
			return 0, 0, nil, err
		}
		last = frame
		count++
	}
	return count, time.Since(start), last, nil
}

func (i *Inspector) recordOffline(ctx context.Context, camera *data.Camera, cause error) {
	reason := "unreachable"
	if cause != nil {
		reason = cause.Error()
	}
	sample := &data.CameraHealth{
		CameraID:   camera.ID,
		Status:     "offline",
		OccurredAt: time.Now(),
	}
	if err := i.health.AddSample(ctx, sample); err != nil {
		i.logger.Error("failed to record offline sample", "camera_id", camera.ID, "error", err)
	}
	_ = i.cameras.UpdateStatus(ctx, camera.ID, "offline", 0)

	alert := &data.CameraAlert{
		CameraID:   camera.ID,
		Type:       "offline",
		Message:    "camera unreachable: " + reason,
		OccurredAt: time.Now(),
	}
	i.fireAlert(ctx, camera, alert)
}

// evaluateAlerts implements §4.10 step 6's alert predicates: offline is
// handled in recordOffline; this covers fps-drop, view-change, and
// high-latency.
func (i *Inspector) evaluateAlerts(ctx context.Context, camera *data.Camera, met Metrics, sample *data.CameraHealth, viewChanged bool) {
	if sample.FPS > 0 && sample.FPS < 1.0 {
		i.fireAlert(ctx, camera, &data.CameraAlert{
			CameraID: camera.ID, Type: "fps_drop",
			Message: "camera fps dropped below 1.0", OccurredAt: time.Now(),
		})
	}
	if viewChanged {
		i.fireAlert(ctx, camera, &data.CameraAlert{
			CameraID: camera.ID, Type: "view_changed",
			Message: "camera view has changed from baseline", OccurredAt: time.Now(),
		})
	}
	if sample.LatencyMS > i.cfg.HighLatencyMS {
		i.fireAlert(ctx, camera, &data.CameraAlert{
			CameraID: camera.ID, Type: "high_latency",
			Message: "camera connect latency exceeded threshold", OccurredAt: time.Now(),
		})
	}
}

func (i *Inspector) fireAlert(ctx context.Context, camera *data.Camera, alert *data.CameraAlert) {
	if err := i.health.CreateCameraAlert(ctx, alert); err != nil {
		i.logger.Error("failed to persist camera alert", "camera_id", camera.ID, "error", err)
		return
	}
	if i.alerts == nil {
		return
	}
	if err := i.alerts.DispatchCameraAlert(ctx, alert, camera); err != nil {
		// Best-effort per §7 EExternalUnavailable: logged, never fails
		// the inspection cycle.
		i.logger.Warn("camera alert dispatch failed", "camera_id", camera.ID, "type", alert.Type, "error", err)
	} else {
		alert.EmailSent = true
	}
}
