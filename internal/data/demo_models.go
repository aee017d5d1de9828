package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DemoSessionStatus tracks a live demo capture session (§3 DemoSession,
// grounded in demo_session_manager.py's _active_sessions lifecycle).
type DemoSessionStatus string

const (
	DemoSessionActive  DemoSessionStatus = "ACTIVE"
	DemoSessionStopped DemoSessionStatus = "STOPPED"
	DemoSessionFailed  DemoSessionStatus = "FAILED"
)

// DemoSession is a short-lived capture-and-infer loop against a single
// camera source, driving one or more detectors per frame (§3, §4.12).
type DemoSession struct {
	ID                uuid.UUID         `json:"id"`
	SourceURL         string            `json:"source_url"`
	DetectorIDs       []uuid.UUID       `json:"detector_ids"`
	PollingIntervalMS int               `json:"polling_interval_ms"`
	Status            DemoSessionStatus `json:"status"`
	FramesCaptured    int               `json:"frames_captured"`
	StartedAt         time.Time         `json:"started_at"`
	StoppedAt         *time.Time        `json:"stopped_at,omitempty"`
}

// DemoDetectionResult is one detector's inference result for one
// captured demo frame. SPEC_FULL.md §3 supplements this entity: the
// distilled spec.md folds per-frame results into Query, but
// demo_session_manager.py's _process_inference_local additionally
// creates extra rows for every non-top detection on a frame so the
// demo UI can render the full candidate list, not just the winner.
type DemoDetectionResult struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	QueryID     uuid.UUID `json:"query_id"`
	DetectorID  uuid.UUID `json:"detector_id"`
	Label       string    `json:"label"`
	Confidence  float64   `json:"confidence"`
	IsTop       bool      `json:"is_top"`
	X1          float64   `json:"x1"`
	Y1          float64   `json:"y1"`
	X2          float64   `json:"x2"`
	Y2          float64   `json:"y2"`
	CreatedAt   time.Time `json:"created_at"`
}

type DemoSessionModel struct {
	DB DBTX
}

func (m DemoSessionModel) Create(ctx context.Context, s *DemoSession) error {
	ids := make([]string, len(s.DetectorIDs))
	for i, id := range s.DetectorIDs {
		ids[i] = id.String()
	}
	query := `
		INSERT INTO demo_sessions (source_url, detector_ids, polling_interval_ms, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, started_at`
	return m.DB.QueryRowContext(ctx, query, s.SourceURL, pq.Array(ids), s.PollingIntervalMS, s.Status).
		Scan(&s.ID, &s.StartedAt)
}

func (m DemoSessionModel) GetByID(ctx context.Context, id uuid.UUID) (*DemoSession, error) {
	query := `
		SELECT id, source_url, detector_ids, polling_interval_ms, status, frames_captured, started_at, stopped_at
		FROM demo_sessions
		WHERE id = $1`
	var s DemoSession
	var detIDs []string
	err := m.DB.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.SourceURL, pq.Array(&detIDs),
		&s.PollingIntervalMS, &s.Status, &s.FramesCaptured, &s.StartedAt, &s.StoppedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, raw := range detIDs {
		if parsed, perr := uuid.Parse(raw); perr == nil {
			s.DetectorIDs = append(s.DetectorIDs, parsed)
		}
	}
	return &s, nil
}

func (m DemoSessionModel) IncrementFrames(ctx context.Context, id uuid.UUID) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE demo_sessions SET frames_captured = frames_captured + 1 WHERE id = $1`, id)
	return err
}

// Stop marks a session STOPPED, mirroring stop_session's idempotent
// behavior in demo_session_manager.py (stopping twice is a no-op, not
// an error).
func (m DemoSessionModel) Stop(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE demo_sessions SET status = $1, stopped_at = NOW() WHERE id = $2 AND status = $3`
	_, err := m.DB.ExecContext(ctx, query, DemoSessionStopped, id, DemoSessionActive)
	return err
}

func (m DemoSessionModel) MarkFailed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE demo_sessions SET status = $1, stopped_at = NOW() WHERE id = $2`
	_, err := m.DB.ExecContext(ctx, query, DemoSessionFailed, id)
	return err
}

type DemoDetectionResultModel struct {
	DB DBTX
}

func (m DemoDetectionResultModel) Create(ctx context.Context, r *DemoDetectionResult) error {
	query := `
		INSERT INTO demo_detection_results (session_id, query_id, detector_id, label, confidence, is_top, x1, y1, x2, y2)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`
	return m.DB.QueryRowContext(ctx, query, r.SessionID, r.QueryID, r.DetectorID, r.Label, r.Confidence,
		r.IsTop, r.X1, r.Y1, r.X2, r.Y2).Scan(&r.ID, &r.CreatedAt)
}

func (m DemoDetectionResultModel) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*DemoDetectionResult, error) {
	query := `
		SELECT id, session_id, query_id, detector_id, label, confidence, is_top, x1, y1, x2, y2, created_at
		FROM demo_detection_results
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := m.DB.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DemoDetectionResult
	for rows.Next() {
		var r DemoDetectionResult
		if err := rows.Scan(&r.ID, &r.SessionID, &r.QueryID, &r.DetectorID, &r.Label, &r.Confidence,
			&r.IsTop, &r.X1, &r.Y1, &r.X2, &r.Y2, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, nil
}
