package queries

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/inference"
	"github.com/technosupport/intellioptics/internal/vision"
)

func TestSummarize_NoDetectionsMeansNothing(t *testing.T) {
	label, confidence, dets := summarize(&inference.Result{})
	if label != "nothing" || confidence != 1.0 || dets != nil {
		t.Errorf("expected (nothing, 1.0, nil), got (%q, %v, %v)", label, confidence, dets)
	}
}

func TestSummarize_PicksMaxConfidenceDetection(t *testing.T) {
	result := &inference.Result{
		Detections: []vision.Box{
			{Label: "cat", Confidence: 0.4},
			{Label: "dog", Confidence: 0.9},
			{Label: "bird", Confidence: 0.6},
		},
	}
	label, confidence, dets := summarize(result)
	if label != "dog" || confidence != 0.9 {
		t.Errorf("expected max-confidence detection (dog, 0.9), got (%q, %v)", label, confidence)
	}
	if len(dets) != 3 {
		t.Errorf("expected all detections carried through, got %d", len(dets))
	}
}

func queryRow(id uuid.UUID, text string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "detector_id", "camera_id", "blob_path", "status", "text", "confidence",
		"detections", "is_oodd", "fallback_token", "error_message", "created_at", "done_at", "deleted_at"}).
		AddRow(id, nil, nil, "images/q1.jpg", data.QueryDone, text, 0.9, []byte("[]"), false, "", "", time.Now(), nil, nil)
}

func TestApplyGroundTruth_CaseInsensitiveMatch(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	queryID := uuid.New()

	mock.ExpectQuery("FROM queries").WithArgs(queryID).WillReturnRows(queryRow(queryID, "Person"))

	p := &Pipeline{Queries: data.QueryModel{DB: db}}
	correct, err := p.ApplyGroundTruth(context.Background(), queryID, "person")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !correct {
		t.Errorf("expected case-insensitive match to report correct=true")
	}
}

func TestApplyGroundTruth_Mismatch(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	queryID := uuid.New()

	mock.ExpectQuery("FROM queries").WithArgs(queryID).WillReturnRows(queryRow(queryID, "person"))

	p := &Pipeline{Queries: data.QueryModel{DB: db}}
	correct, err := p.ApplyGroundTruth(context.Background(), queryID, "car")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if correct {
		t.Errorf("expected mismatched ground truth to report correct=false")
	}
}

func TestEnqueueFallback_SubjectDefaultsToQueueIn(t *testing.T) {
	p := &Pipeline{}
	if got := p.fallbackSubject(); got != "QUEUE_IN" {
		t.Errorf("expected default fallback subject QUEUE_IN, got %q", got)
	}
}

func TestEnqueueFallback_UsesConfiguredSubject(t *testing.T) {
	p := &Pipeline{FallbackSubject: "image-queries"}
	if got := p.fallbackSubject(); got != "image-queries" {
		t.Errorf("expected configured fallback subject, got %q", got)
	}
}
