package ingestion

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Orchestrator supervises one Worker per configured stream.
type Orchestrator struct {
	backend   Backend
	submitter Submitter
	logger    *slog.Logger

	mu      sync.Mutex
	workers map[uuid.UUID]*Worker
	cancel  map[uuid.UUID]context.CancelFunc
}

func NewOrchestrator(backend Backend, submitter Submitter, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		backend:   backend,
		submitter: submitter,
		logger:    logger,
		workers:   make(map[uuid.UUID]*Worker),
		cancel:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// AddStream launches a worker for a newly configured stream. Re-adding
// a camera already being ingested first stops the old worker.
func (o *Orchestrator) AddStream(cfg StreamConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.workers[cfg.CameraID]; ok {
		o.cancel[cfg.CameraID]()
		existing.Stop()
	}

	w := NewWorker(cfg, o.backend, o.submitter, o.logger)
	ctx, cancel := context.WithCancel(context.Background())
	o.workers[cfg.CameraID] = w
	o.cancel[cfg.CameraID] = cancel

	go w.Run(ctx)
}

// RemoveStream stops and forgets a camera's worker.
func (o *Orchestrator) RemoveStream(cameraID uuid.UUID) {
	o.mu.Lock()
	w, ok := o.workers[cameraID]
	cancel := o.cancel[cameraID]
	if ok {
		delete(o.workers, cameraID)
		delete(o.cancel, cameraID)
	}
	o.mu.Unlock()

	if !ok {
		return
	}
	cancel()
	w.Stop()
}

// StopAll stops every supervised worker, used on process shutdown.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	ids := make([]uuid.UUID, 0, len(o.workers))
	for id := range o.workers {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.RemoveStream(id)
	}
}

func (o *Orchestrator) StateOf(cameraID uuid.UUID) (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.workers[cameraID]
	if !ok {
		return "", false
	}
	return w.State(), true
}
