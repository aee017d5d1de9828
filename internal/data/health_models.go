package data

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CameraHealth is one sample produced by a Camera Health Inspector cycle
// (§3 CameraHealth, §4.10).
type CameraHealth struct {
	ID           uuid.UUID `json:"id"`
	CameraID     uuid.UUID `json:"camera_id"`
	Status       string    `json:"status"` // healthy | warning | critical | offline
	FPS          float64   `json:"fps"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Brightness   float64   `json:"brightness"`
	Sharpness    float64   `json:"sharpness"`
	LatencyMS    int       `json:"latency_ms"`
	SSIMScore    *float64  `json:"ssim_score,omitempty"`
	MatchCount   *int      `json:"match_count,omitempty"`
	ViewChanged  bool      `json:"view_changed"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// InspectionRun is a coarse aggregate of one Camera Health Inspector
// cycle (§3 InspectionRun, §4.10 "MUST write an InspectionRun at start
// and update it to completed with counts at the end").
type InspectionRun struct {
	ID             uuid.UUID  `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	TotalCameras   int        `json:"total_cameras"`
	HealthyCount   int        `json:"healthy_count"`
	WarningCount   int        `json:"warning_count"`
	CriticalCount  int        `json:"critical_count"`
	OfflineCount   int        `json:"offline_count"`
	FailedCount    int        `json:"failed_count"`
}

// CameraAlert is a fired camera-health predicate (offline, fps-drop,
// view-change, high-latency — §4.10 step 6), distinct from
// DetectorAlert (C11's alert engine output).
type CameraAlert struct {
	ID         uuid.UUID  `json:"id"`
	CameraID   uuid.UUID  `json:"camera_id"`
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	OccurredAt time.Time  `json:"occurred_at"`
	EmailSent  bool       `json:"email_sent"`
}

// HealthRepository persists per-frame and per-cycle camera health data.
type HealthRepository interface {
	AddSample(ctx context.Context, h *CameraHealth) error
	GetLatest(ctx context.Context, cameraID uuid.UUID) (*CameraHealth, error)
	ListHistory(ctx context.Context, cameraID uuid.UUID, limit, offset int) ([]*CameraHealth, error)
	PruneHistory(ctx context.Context, cameraID uuid.UUID, maxRecords int) error

	CreateInspectionRun(ctx context.Context, r *InspectionRun) error
	CompleteInspectionRun(ctx context.Context, r *InspectionRun) error

	CreateCameraAlert(ctx context.Context, a *CameraAlert) error
	ListCameraAlerts(ctx context.Context, cameraID uuid.UUID, limit int) ([]*CameraAlert, error)

	ListTargets(ctx context.Context) ([]CameraHealthTarget, error)
}

// CameraHealthTarget is the minimal projection the Inspector scheduler
// needs to enumerate cameras without loading the full Camera row.
type CameraHealthTarget struct {
	CameraID uuid.UUID
	RTSPURL  string
}
