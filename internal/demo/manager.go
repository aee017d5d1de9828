// Package demo implements the Demo Session Manager (C12): supervised
// capture sessions that stream frames through the Inference Dispatcher
// at a bounded rate, grounded on demo_session_manager.py's
// DemoSessionManager (§4.12).
package demo

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/inference"
	"github.com/technosupport/intellioptics/internal/objectstore"
)

// latestFrameTTL bounds how long a demo session's buffered frame
// survives in Redis after the last capture, mirroring the session TTL
// internal/live/service.go keeps on its Redis-backed registry.
const latestFrameTTL = 30 * time.Second

// FrameSource yields frames for a session's source URL at the
// configured polling interval. mock://// and test:// URLs are expected
// to be backed by a synthetic implementation (mirroring
// demo_session_manager.py's mock frame grabber).
type FrameSource interface {
	Open(ctx context.Context, sourceURL string) (FrameStream, error)
}

type FrameStream interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Manager owns a map of session_id -> running capture worker (§4.12:
// "Owns a map session_id -> capture worker").
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*worker

	sessionRepo data.DemoSessionModel
	resultRepo  data.DemoDetectionResultModel
	queries     data.QueryModel
	detectors   data.DetectorModel
	configs     data.DetectorConfigModel
	store       *objectstore.Gateway
	dispatcher  *inference.Dispatcher
	frames      FrameSource
	logger      *slog.Logger

	// registry buffers each session's latest encoded frame in Redis
	// under demo:frame:<id>, where another process (e.g. a different
	// apiserver replica) can read it. Optional: nil disables the buffer.
	// LatestFrame always serves the in-memory frame and never reads the
	// Redis copy.
	registry *redis.Client
}

func NewManager(sessionRepo data.DemoSessionModel, resultRepo data.DemoDetectionResultModel, queries data.QueryModel,
	detectors data.DetectorModel, configs data.DetectorConfigModel, store *objectstore.Gateway,
	dispatcher *inference.Dispatcher, frames FrameSource, logger *slog.Logger) *Manager {
	return &Manager{
		sessions:    make(map[uuid.UUID]*worker),
		sessionRepo: sessionRepo,
		resultRepo:  resultRepo,
		queries:     queries,
		detectors:   detectors,
		configs:     configs,
		store:       store,
		dispatcher:  dispatcher,
		frames:      frames,
		logger:      logger,
	}
}

// WithRegistry enables the Redis-backed latest-frame buffer, returning
// the same Manager for chaining at construction time.
func (m *Manager) WithRegistry(rdb *redis.Client) *Manager {
	m.registry = rdb
	return m
}

func frameBufferKey(sessionID uuid.UUID) string {
	return "demo:frame:" + sessionID.String()
}

// Start constructs and launches a capture worker for a new session
// (§4.12 "start(config) constructs the worker").
func (m *Manager) Start(ctx context.Context, sourceURL string, detectorIDs []uuid.UUID, pollingIntervalMS int) (*data.DemoSession, error) {
	if pollingIntervalMS <= 0 {
		pollingIntervalMS = 1000
	}
	session := &data.DemoSession{
		SourceURL:         sourceURL,
		DetectorIDs:       detectorIDs,
		PollingIntervalMS: pollingIntervalMS,
		Status:            data.DemoSessionActive,
	}
	if err := m.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	stream, err := m.frames.Open(ctx, sourceURL)
	if err != nil {
		_ = m.sessionRepo.MarkFailed(ctx, session.ID)
		session.Status = data.DemoSessionFailed
		return session, err
	}

	w := &worker{
		manager: m,
		session: session,
		stream:  stream,
		quit:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[session.ID] = w
	m.mu.Unlock()

	w.wg.Add(1)
	go w.run()

	return session, nil
}

// Stop signals the worker and releases the latest-frame buffer (§4.12:
// "stop(id) signals it and releases the latest-frame buffer").
func (m *Manager) Stop(ctx context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	w, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil // Idempotent: stopping an unknown/already-stopped session is a no-op.
	}
	close(w.quit)
	w.wg.Wait()
	_ = w.stream.Close()
	if m.registry != nil {
		m.registry.Del(ctx, frameBufferKey(sessionID))
	}
	return m.sessionRepo.Stop(ctx, sessionID)
}

func (m *Manager) IsActive(sessionID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// LatestFrame returns the most recently captured frame for preview, if
// the session is active and has captured at least one frame.
func (m *Manager) LatestFrame(sessionID uuid.UUID) (image.Image, bool) {
	m.mu.Lock()
	w, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	w.frameMu.Lock()
	defer w.frameMu.Unlock()
	return w.latestFrame, w.latestFrame != nil
}

// StopAll stops every active session, used on process shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Stop(ctx, id)
	}
}

type worker struct {
	manager *Manager
	session *data.DemoSession
	stream  FrameStream

	frameMu     sync.Mutex
	latestFrame image.Image

	quit chan struct{}
	wg   sync.WaitGroup
}

func (w *worker) run() {
	defer w.wg.Done()
	interval := time.Duration(w.session.PollingIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			frame, err := w.stream.ReadFrame(context.Background())
			if err != nil {
				w.manager.logger.Warn("demo session frame read failed", "session_id", w.session.ID, "error", err)
				continue
			}
			w.frameMu.Lock()
			w.latestFrame = frame
			w.frameMu.Unlock()

			w.onFrameCaptured(frame)
		}
	}
}

// onFrameCaptured implements §4.12 steps 1-4: store the latest frame
// (done by run above), upload it, increment the session counter,
// create a PENDING Query per target detector, and spawn a
// fire-and-forget inference task per detector. DemoDetectionResult
// rows are written later, by runInference, once results arrive.
func (w *worker) onFrameCaptured(frame image.Image) {
	ctx := context.Background()
	m := w.manager

	jpegBytes, err := encodeJPEG(frame)
	if err != nil {
		m.logger.Warn("failed to encode demo frame", "session_id", w.session.ID, "error", err)
		return
	}

	blobName := fmt.Sprintf("demo-sessions/%s/%s.jpg", w.session.ID, uuid.New())
	blobPath, err := m.store.Upload(ctx, "images", blobName, jpegBytes, "image/jpeg")
	if err != nil {
		m.logger.Warn("failed to upload demo frame", "session_id", w.session.ID, "error", err)
		return
	}

	_ = m.sessionRepo.IncrementFrames(ctx, w.session.ID)

	if m.registry != nil {
		if err := m.registry.Set(ctx, frameBufferKey(w.session.ID), jpegBytes, latestFrameTTL).Err(); err != nil {
			m.logger.Warn("failed to buffer latest demo frame in redis", "session_id", w.session.ID, "error", err)
		}
	}

	for _, detectorID := range w.session.DetectorIDs {
		sessionID, detID := w.session.ID, detectorID
		cameraID := (*uuid.UUID)(nil)
		q := &data.Query{
			DetectorID: &detID,
			CameraID:   cameraID,
			BlobPath:   blobPath,
			Status:     data.QueryPending,
		}
		if err := m.queries.Create(ctx, q); err != nil {
			m.logger.Warn("failed to create demo query", "session_id", sessionID, "detector_id", detID, "error", err)
			continue
		}

		go w.runInference(sessionID, detID, q.ID, jpegBytes)
	}
}

// runInference implements §4.12 step 4's spawned per-detector task,
// grounded on demo_session_manager.py's _process_inference_local: it
// invokes C6, selects the best detection, finalizes the Query, and
// additionally persists a DemoDetectionResult row for every detection
// (not just the winner) so the demo UI can render the full candidate
// list (SPEC_FULL.md §3 supplement).
func (w *worker) runInference(sessionID, detectorID, queryID uuid.UUID, imageBytes []byte) {
	ctx := context.Background()
	m := w.manager

	detector, err := m.detectors.GetByID(ctx, detectorID)
	if err != nil {
		_ = m.queries.MarkError(ctx, queryID, err.Error())
		return
	}
	cfg, _ := m.configs.GetByDetectorID(ctx, detectorID)

	result, err := m.dispatcher.Run(ctx, detector, cfg, imageBytes)
	if err != nil {
		_ = m.queries.MarkError(ctx, queryID, err.Error())
		return
	}

	if len(result.Detections) == 0 {
		_ = m.queries.CompleteLocal(ctx, queryID, "nothing", 1.0, nil, false)
		return
	}

	best := result.Detections[0]
	dets := make([]data.Detection, len(result.Detections))
	for i, b := range result.Detections {
		dets[i] = data.Detection{Label: b.Label, Confidence: b.Confidence, ClassID: b.ClassID, X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2}
		if b.Confidence > best.Confidence {
			best = b
		}
	}
	isOODD := result.OODDResult != nil && !result.OODDResult.IsInDomain
	_ = m.queries.CompleteLocal(ctx, queryID, best.Label, best.Confidence, dets, isOODD)

	for _, b := range result.Detections {
		row := &data.DemoDetectionResult{
			SessionID:  sessionID,
			QueryID:    queryID,
			DetectorID: detectorID,
			Label:      b.Label,
			Confidence: b.Confidence,
			IsTop:      b.Label == best.Label && b.Confidence == best.Confidence,
			X1:         b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2,
		}
		if err := m.resultRepo.Create(ctx, row); err != nil {
			m.logger.Warn("failed to persist demo detection result", "session_id", sessionID, "error", err)
		}
	}
}
