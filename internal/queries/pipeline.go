// Package queries implements the Query Pipeline (C7): the
// per-submission lifecycle coordinating blob storage, inference,
// escalation routing, ground-truth reconciliation, and the alert
// engine (§4.7).
package queries

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/alerts"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/inference"
	"github.com/technosupport/intellioptics/internal/ioerrors"
	"github.com/technosupport/intellioptics/internal/metrics"
	"github.com/technosupport/intellioptics/internal/objectstore"
	"github.com/technosupport/intellioptics/internal/queue"
)

const blobContainer = "images"

// EventPublisher is the Pipeline's narrow view of the live event feed
// (internal/api.Hub satisfies this); nil disables publishing.
type EventPublisher interface {
	Publish(topic string, event any)
}

// Submission is the input to Submit (§4.7 steps 1-7).
type Submission struct {
	DetectorID uuid.UUID
	CameraID   *uuid.UUID
	CameraName string
	Filename   string
	ImageBytes []byte
	WantAsync  bool
}

type Pipeline struct {
	Detectors   data.DetectorModel
	Configs     data.DetectorConfigModel
	Queries     data.QueryModel
	Escalations data.EscalationModel
	Store       *objectstore.Gateway
	Queue       *queue.Gateway
	// FallbackSubject is the QUEUE_IN subject (§6.6) a cloud inference
	// worker consumes escalated jobs from. Defaults to "QUEUE_IN" if
	// left zero, so callers that don't set it from config still work.
	FallbackSubject string
	Dispatcher      *inference.Dispatcher
	AlertEngine     *alerts.Engine
	Logger          *slog.Logger
	// Events, if set, receives a DetectionEvent-shaped payload topic'd
	// by detector after every locally-completed (non-escalated)
	// submission (§5 supplemented live event stream).
	Events EventPublisher
}

// Submit runs the synchronous and asynchronous paths described in
// §4.7. It never returns an error for side-effects (escalation
// enqueue, alert dispatch) per §7's propagation policy. Only the
// detector lookup, the image upload and the Query row writes (Create,
// CompleteLocal) fail the call; an inference error is recorded on the
// row and the query is returned with status ERROR and a nil error.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (*data.Query, error) {
	detector, err := p.Detectors.GetByID(ctx, sub.DetectorID)
	if err != nil {
		return nil, err
	}

	blobName := fmt.Sprintf("queries/%s/%s_%s", detector.ID, time.Now().UTC().Format("20060102T150405Z"), sub.Filename)
	blobPath, err := p.Store.Upload(ctx, blobContainer, blobName, sub.ImageBytes, "image/jpeg")
	if err != nil {
		return nil, ioerrors.New(ioerrors.EStorageFailure, "queries.Submit", "failed to upload query image", err)
	}

	q := &data.Query{
		DetectorID: &detector.ID,
		CameraID:   sub.CameraID,
		BlobPath:   blobPath,
		Status:     data.QueryPending,
	}
	if err := p.Queries.Create(ctx, q); err != nil {
		return nil, err
	}

	if sub.WantAsync {
		token := uuid.New().String()
		if err := p.enqueueFallback(ctx, q.ID, detector.ID, blobPath, token); err != nil {
			p.Logger.Warn("failed to enqueue async fallback", "query_id", q.ID, "error", err)
		} else {
			_ = p.Queries.MarkEscalated(ctx, q.ID, token)
			q.Status = data.QueryEscalated
			q.FallbackToken = token
			metrics.EscalationsTotal.Inc()
		}
		metrics.QueriesSubmittedTotal.WithLabelValues(string(q.Status)).Inc()
		return q, nil
	}

	cfg, _ := p.Configs.GetByDetectorID(ctx, detector.ID)
	start := time.Now()
	result, err := p.Dispatcher.Run(ctx, detector, cfg, sub.ImageBytes)
	metrics.InferenceLatencyMS.WithLabelValues(dispatchStage(result)).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		_ = p.Queries.MarkError(ctx, q.ID, err.Error())
		q.Status = data.QueryError
		q.ErrorMessage = err.Error()
		metrics.QueriesSubmittedTotal.WithLabelValues(string(q.Status)).Inc()
		return q, nil
	}

	label, confidence, detections := summarize(result)
	isOODD := result.OODDResult != nil && !result.OODDResult.IsInDomain
	if err := p.Queries.CompleteLocal(ctx, q.ID, label, confidence, detections, isOODD); err != nil {
		return nil, err
	}
	q.Status = data.QueryDone
	q.Text = label
	q.Confidence = confidence
	q.Detections = detections
	q.IsOODD = isOODD

	if confidence < detector.ConfidenceThreshold {
		p.escalate(ctx, q, detector, sub, blobPath)
	}

	p.fireAlert(ctx, detector, q, sub.CameraName, blobPath)
	p.publishDetection(detector.ID, q)

	metrics.QueriesSubmittedTotal.WithLabelValues(string(q.Status)).Inc()
	return q, nil
}

// publishDetection fans a DetectionEvent-shaped payload out on the
// live event stream (§5), keyed by detector so dashboard clients
// subscribe per-detector rather than firehose-wide.
func (p *Pipeline) publishDetection(detectorID uuid.UUID, q *data.Query) {
	if p.Events == nil {
		return
	}
	p.Events.Publish("detector:"+detectorID.String(), map[string]any{
		"query_id":    q.ID.String(),
		"detector_id": detectorID.String(),
		"label":       q.Text,
		"confidence":  q.Confidence,
		"is_oodd":     q.IsOODD,
		"occurred_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// dispatchStage labels an inference run for the latency histogram by
// which stage actually ran: "oodd" when the OODD Gate evaluated the
// image, "primary" when only detection ran, "none" on a failed run.
func dispatchStage(result *inference.Result) string {
	if result == nil {
		return "none"
	}
	if result.OODDResult != nil {
		return "oodd"
	}
	return "primary"
}

// summarize implements §8's invariant: result_label is the label of
// the max-confidence Detection, or "nothing"/1.0 if none fired.
func summarize(result *inference.Result) (string, float64, []data.Detection) {
	if len(result.Detections) == 0 {
		return "nothing", 1.0, nil
	}
	best := result.Detections[0]
	dets := make([]data.Detection, len(result.Detections))
	for i, b := range result.Detections {
		dets[i] = data.Detection{Label: b.Label, Confidence: b.Confidence, ClassID: b.ClassID, X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2}
		if b.Confidence > best.Confidence {
			best = b
		}
	}
	return best.Label, best.Confidence, dets
}

// escalate implements §4.7 step 6: low confidence creates an
// Escalation, marks the query escalated, and forwards a fallback job.
// None of this can fail Submit (§7 propagation policy).
func (p *Pipeline) escalate(ctx context.Context, q *data.Query, detector *data.Detector, sub Submission, blobPath string) {
	esc := &data.Escalation{QueryID: q.ID, Reason: "confidence below detector threshold"}
	if err := p.Escalations.Create(ctx, esc); err != nil {
		p.Logger.Warn("failed to record escalation", "query_id", q.ID, "error", err)
	}
	token := uuid.New().String()
	if err := p.enqueueFallback(ctx, q.ID, detector.ID, blobPath, token); err != nil {
		p.Logger.Warn("failed to enqueue escalation fallback", "query_id", q.ID, "error", err)
	}
	_ = p.Queries.MarkEscalated(ctx, q.ID, token)
	q.Status = data.QueryEscalated
	q.FallbackToken = token
}

func (p *Pipeline) enqueueFallback(ctx context.Context, queryID, detectorID uuid.UUID, blobPath, token string) error {
	payload := queue.FallbackPayload{
		QueryID:       queryID.String(),
		DetectorID:    detectorID.String(),
		BlobPath:      blobPath,
		FallbackToken: token,
	}
	return p.Queue.Enqueue(ctx, p.fallbackSubject(), payload)
}

// fallbackSubject returns the configured QUEUE_IN subject, defaulting
// to the literal "QUEUE_IN" for callers that don't wire it from config.
func (p *Pipeline) fallbackSubject() string {
	if p.FallbackSubject == "" {
		return "QUEUE_IN"
	}
	return p.FallbackSubject
}

// fireAlert invokes the Alert Engine (§4.7 step 7); failures never
// abort the submission.
func (p *Pipeline) fireAlert(ctx context.Context, detector *data.Detector, q *data.Query, cameraName, blobPath string) {
	if p.AlertEngine == nil {
		return
	}
	recent, err := p.Queries.ListByDetector(ctx, detector.ID, 50, 0)
	if err != nil {
		p.Logger.Warn("failed to load recent queries for alert gate", "detector_id", detector.ID, "error", err)
		return
	}
	history := make([]alerts.RecentQuery, len(recent))
	for i, r := range recent {
		history[i] = alerts.RecentQuery{Label: r.Text, Confidence: r.Confidence, CreatedAt: r.CreatedAt}
	}
	if err := p.AlertEngine.Trigger(ctx, detector.ID, q.ID, detector.Name, q.Text, q.Confidence, cameraName, blobPath, history); err != nil {
		p.Logger.Warn("alert engine trigger failed", "query_id", q.ID, "error", err)
	}
}

// ApplyGroundTruth implements the separate ground-truth reconciliation
// operation in §4.7: is_correct = lowercase(result_label) ==
// lowercase(ground_truth) (also §8's invariant).
func (p *Pipeline) ApplyGroundTruth(ctx context.Context, queryID uuid.UUID, groundTruth string) (bool, error) {
	q, err := p.Queries.GetByID(ctx, queryID)
	if err != nil {
		return false, err
	}
	isCorrect := strings.EqualFold(q.Text, groundTruth)
	return isCorrect, nil
}

// Delete soft-deletes the Query row (sets deleted_at) and then deletes
// its image blob; blob deletion failure is logged, not surfaced. The
// query's Escalation and Feedback rows are left in place: the feedback
// argument is not used, and a soft delete does not fire the tables'
// ON DELETE CASCADE. There is no Annotations table.
func (p *Pipeline) Delete(ctx context.Context, feedback data.FeedbackModel, queryID uuid.UUID) error {
	q, err := p.Queries.GetByID(ctx, queryID)
	if err != nil {
		return err
	}
	if err := p.Queries.SoftDelete(ctx, queryID); err != nil {
		return err
	}
	if container, name, err := objectstore.SplitPath(q.BlobPath); err == nil {
		if _, err := p.Store.Delete(ctx, container, name); err != nil {
			p.Logger.Warn("failed to delete query blob", "query_id", queryID, "error", err)
		}
	}
	return nil
}
