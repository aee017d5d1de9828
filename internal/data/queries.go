package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueryStatus tracks an image query through C7's pipeline (§4.7).
type QueryStatus string

const (
	QueryPending   QueryStatus = "PENDING"
	QueryDone      QueryStatus = "DONE"
	QueryEscalated QueryStatus = "ESCALATED"
	QueryError     QueryStatus = "ERROR"
)

// Detection is one bounding box or class result attached to a Query
// (§3 Detection — flattened, not a separate top-level aggregate: a
// Query embeds the array of Detections it produced).
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

// Query is one image submitted for inference against a Detector (§3
// Query, §4.7).
type Query struct {
	ID              uuid.UUID   `json:"id"`
	DetectorID      *uuid.UUID  `json:"detector_id,omitempty"`
	CameraID        *uuid.UUID  `json:"camera_id,omitempty"`
	BlobPath        string      `json:"blob_path"`
	Status          QueryStatus `json:"status"`
	Text            string      `json:"text,omitempty"`
	Confidence      float64     `json:"confidence"`
	Detections      []Detection `json:"detections,omitempty"`
	IsOODD          bool        `json:"is_oodd"`
	FallbackToken   string      `json:"fallback_token,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	DoneAt          *time.Time  `json:"done_at,omitempty"`
	DeletedAt       *time.Time  `json:"deleted_at,omitempty"`
}

// Escalation records that a Query could not be decided locally and was
// forwarded to a cloud/human reviewer (§4.7 step 6).
type Escalation struct {
	ID         uuid.UUID  `json:"id"`
	QueryID    uuid.UUID  `json:"query_id"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Feedback is a ground-truth label later applied to a Query, used for
// model retraining pipelines (§3 Feedback).
type Feedback struct {
	ID        uuid.UUID `json:"id"`
	QueryID   uuid.UUID `json:"query_id"`
	Label     string    `json:"label"`
	Correct   bool      `json:"correct"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type QueryModel struct {
	DB DBTX
}

func (m QueryModel) Create(ctx context.Context, q *Query) error {
	query := `
		INSERT INTO queries (detector_id, camera_id, blob_path, status, text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return m.DB.QueryRowContext(ctx, query, q.DetectorID, q.CameraID, q.BlobPath, q.Status, q.Text).
		Scan(&q.ID, &q.CreatedAt)
}

// GetByID loads a Query, including its detections, if not deleted.
// detector_id is nullable (SPEC_FULL.md §4 resolution of the
// Open Question on camera-triggered queries with no detector yet
// assigned): demo-session and manual-capture queries may carry only a
// camera_id until a detector is attached.
func (m QueryModel) GetByID(ctx context.Context, id uuid.UUID) (*Query, error) {
	query := `
		SELECT id, detector_id, camera_id, blob_path, status, text, confidence, detections,
		       is_oodd, fallback_token, error_message, created_at, done_at, deleted_at
		FROM queries
		WHERE id = $1 AND deleted_at IS NULL`
	q, err := scanQueryRow(m.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return q, err
}

// CompleteLocal marks a query DONE with an inference result produced
// locally by the dispatcher (§4.7 step 3, the non-escalated path).
func (m QueryModel) CompleteLocal(ctx context.Context, id uuid.UUID, text string, confidence float64, detections []Detection, isOODD bool) error {
	detJSON, err := json.Marshal(detections)
	if err != nil {
		return err
	}
	query := `
		UPDATE queries
		SET status = $1, text = $2, confidence = $3, detections = $4, is_oodd = $5, done_at = NOW()
		WHERE id = $6 AND deleted_at IS NULL`
	res, err := m.DB.ExecContext(ctx, query, QueryDone, text, confidence, detJSON, isOODD, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkEscalated transitions a Query to ESCALATED and stamps the
// fallback token the cloud worker must echo back on QUEUE_OUT (§4.7
// step 4).
func (m QueryModel) MarkEscalated(ctx context.Context, id uuid.UUID, fallbackToken string) error {
	query := `UPDATE queries SET status = $1, fallback_token = $2 WHERE id = $3 AND deleted_at IS NULL`
	_, err := m.DB.ExecContext(ctx, query, QueryEscalated, fallbackToken, id)
	return err
}

func (m QueryModel) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE queries SET status = $1, error_message = $2, done_at = NOW() WHERE id = $3 AND deleted_at IS NULL`
	_, err := m.DB.ExecContext(ctx, query, QueryError, message, id)
	return err
}

func (m QueryModel) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `UPDATE queries SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m QueryModel) ListByDetector(ctx context.Context, detectorID uuid.UUID, limit, offset int) ([]*Query, error) {
	query := `
		SELECT id, detector_id, camera_id, blob_path, status, text, confidence, detections,
		       is_oodd, fallback_token, error_message, created_at, done_at, deleted_at
		FROM queries
		WHERE detector_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := m.DB.QueryContext(ctx, query, detectorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Query
	for rows.Next() {
		q, err := scanQueryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func scanQueryRow(row rowScanner) (*Query, error) {
	var q Query
	var detectorID, cameraID uuid.NullUUID
	var text, fallbackToken, errMsg sql.NullString
	var detJSON []byte
	err := row.Scan(&q.ID, &detectorID, &cameraID, &q.BlobPath, &q.Status, &text, &q.Confidence, &detJSON,
		&q.IsOODD, &fallbackToken, &errMsg, &q.CreatedAt, &q.DoneAt, &q.DeletedAt)
	if err != nil {
		return nil, err
	}
	if detectorID.Valid {
		q.DetectorID = &detectorID.UUID
	}
	if cameraID.Valid {
		q.CameraID = &cameraID.UUID
	}
	q.Text = text.String
	q.FallbackToken = fallbackToken.String
	q.ErrorMessage = errMsg.String
	if len(detJSON) > 0 {
		_ = json.Unmarshal(detJSON, &q.Detections)
	}
	return &q, nil
}

type EscalationModel struct {
	DB DBTX
}

func (m EscalationModel) Create(ctx context.Context, e *Escalation) error {
	query := `INSERT INTO escalations (query_id, reason) VALUES ($1, $2) RETURNING id, created_at`
	return m.DB.QueryRowContext(ctx, query, e.QueryID, e.Reason).Scan(&e.ID, &e.CreatedAt)
}

func (m EscalationModel) Resolve(ctx context.Context, id uuid.UUID) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE escalations SET resolved_at = NOW() WHERE id = $1`, id)
	return err
}

type FeedbackModel struct {
	DB DBTX
}

func (m FeedbackModel) Create(ctx context.Context, f *Feedback) error {
	query := `
		INSERT INTO feedback (query_id, label, correct, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	return m.DB.QueryRowContext(ctx, query, f.QueryID, f.Label, f.Correct, f.Notes).Scan(&f.ID, &f.CreatedAt)
}

func (m FeedbackModel) ListByQuery(ctx context.Context, queryID uuid.UUID) ([]*Feedback, error) {
	query := `SELECT id, query_id, label, correct, notes, created_at FROM feedback WHERE query_id = $1 ORDER BY created_at DESC`
	rows, err := m.DB.QueryContext(ctx, query, queryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Feedback
	for rows.Next() {
		var f Feedback
		var notes sql.NullString
		if err := rows.Scan(&f.ID, &f.QueryID, &f.Label, &f.Correct, &notes, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Notes = notes.String
		out = append(out, &f)
	}
	return out, nil
}
