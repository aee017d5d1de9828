package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DetectionMode is a closed tagged variant of Detector.Mode — replaces
// the original's string-typed enum per SPEC_FULL.md §9.
type DetectionMode string

const (
	ModeBinary      DetectionMode = "BINARY"
	ModeMulticlass  DetectionMode = "MULTICLASS"
	ModeCounting    DetectionMode = "COUNTING"
	ModeBoundingBox DetectionMode = "BOUNDING_BOX"
)

func ParseDetectionMode(s string) (DetectionMode, bool) {
	switch DetectionMode(s) {
	case ModeBinary, ModeMulticlass, ModeCounting, ModeBoundingBox:
		return DetectionMode(s), true
	}
	return "", false
}

// Detector is a configured detection task (§3 Detector).
type Detector struct {
	ID                  uuid.UUID     `json:"id"`
	Name                string        `json:"name"`
	GroupName           string        `json:"group_name,omitempty"`
	QueryText           string        `json:"query_text"`
	Mode                DetectionMode `json:"mode"`
	ClassNames          []string      `json:"class_names"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
	PatienceTime        float64       `json:"patience_time"`
	PrimaryModelPath    string        `json:"primary_model_path,omitempty"`
	OODDModelPath       string        `json:"oodd_model_path,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	DeletedAt           *time.Time    `json:"deleted_at,omitempty"`
}

// DetectionParams bundles the post-processing knobs consumed by C4
// (§3 DetectorConfig.detection_params), with the hard-coded defaults
// observed throughout detector_inference.py/demo_session_manager.py.
type DetectionParams struct {
	MinScoreThreshold float64 `json:"min_score_threshold"`
	IoUThreshold      float64 `json:"iou_threshold"`
	MaxDetections     int     `json:"max_detections"`
}

func DefaultDetectionParams() DetectionParams {
	return DetectionParams{MinScoreThreshold: 0.25, IoUThreshold: 0.45, MaxDetections: 100}
}

// DetectorConfig holds the extended knobs a Detector owns 1:1 (§3).
type DetectorConfig struct {
	DetectorID        uuid.UUID          `json:"detector_id"`
	PerClassThreshold map[string]float64 `json:"per_class_thresholds"`
	InputSize         int                `json:"input_size"`
	DetectionParams   DetectionParams    `json:"detection_params"`
	EdgeInferenceMode string             `json:"edge_inference_mode,omitempty"`
}

type DetectorModel struct {
	DB DBTX
}

func (m DetectorModel) Create(ctx context.Context, d *Detector) error {
	query := `
		INSERT INTO detectors (name, group_name, query_text, mode, class_names, confidence_threshold,
		                        patience_time, primary_model_path, oodd_model_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	return m.DB.QueryRowContext(ctx, query, d.Name, d.GroupName, d.QueryText, d.Mode,
		pq.Array(d.ClassNames), d.ConfidenceThreshold, d.PatienceTime, d.PrimaryModelPath, d.OODDModelPath).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

// GetByID returns the detector if not soft-deleted (§8 invariant: no
// listing that excludes deleted may return a soft-deleted detector —
// GetByID is the single read path every such listing funnels through).
func (m DetectorModel) GetByID(ctx context.Context, id uuid.UUID) (*Detector, error) {
	query := `
		SELECT id, name, group_name, query_text, mode, class_names, confidence_threshold,
		       patience_time, primary_model_path, oodd_model_path, created_at, updated_at, deleted_at
		FROM detectors
		WHERE id = $1 AND deleted_at IS NULL`
	var d Detector
	var classNames []string
	var primary, oodd sql.NullString
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.Name, &d.GroupName, &d.QueryText, &d.Mode, pq.Array(&classNames),
		&d.ConfidenceThreshold, &d.PatienceTime, &primary, &oodd, &d.CreatedAt, &d.UpdatedAt, &d.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	d.ClassNames = classNames
	d.PrimaryModelPath = primary.String
	d.OODDModelPath = oodd.String
	return &d, nil
}

func (m DetectorModel) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `UPDATE detectors SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m DetectorModel) List(ctx context.Context, limit, offset int) ([]*Detector, error) {
	query := `
		SELECT id, name, group_name, query_text, mode, class_names, confidence_threshold,
		       patience_time, primary_model_path, oodd_model_path, created_at, updated_at
		FROM detectors
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := m.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Detector
	for rows.Next() {
		var d Detector
		var classNames []string
		var primary, oodd sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &d.GroupName, &d.QueryText, &d.Mode, pq.Array(&classNames),
			&d.ConfidenceThreshold, &d.PatienceTime, &primary, &oodd, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.ClassNames = classNames
		d.PrimaryModelPath = primary.String
		d.OODDModelPath = oodd.String
		out = append(out, &d)
	}
	return out, nil
}

type DetectorConfigModel struct {
	DB DBTX
}

func (m DetectorConfigModel) Upsert(ctx context.Context, c *DetectorConfig) error {
	perClass, _ := json.Marshal(c.PerClassThreshold)
	query := `
		INSERT INTO detector_configs (detector_id, per_class_thresholds, input_size, min_score_threshold,
		                               iou_threshold, max_detections, edge_inference_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (detector_id) DO UPDATE SET
			per_class_thresholds = EXCLUDED.per_class_thresholds,
			input_size = EXCLUDED.input_size,
			min_score_threshold = EXCLUDED.min_score_threshold,
			iou_threshold = EXCLUDED.iou_threshold,
			max_detections = EXCLUDED.max_detections,
			edge_inference_mode = EXCLUDED.edge_inference_mode`
	_, err := m.DB.ExecContext(ctx, query, c.DetectorID, perClass, c.InputSize,
		c.DetectionParams.MinScoreThreshold, c.DetectionParams.IoUThreshold,
		c.DetectionParams.MaxDetections, c.EdgeInferenceMode)
	return err
}

func (m DetectorConfigModel) GetByDetectorID(ctx context.Context, detectorID uuid.UUID) (*DetectorConfig, error) {
	query := `
		SELECT detector_id, per_class_thresholds, input_size, min_score_threshold, iou_threshold,
		       max_detections, edge_inference_mode
		FROM detector_configs
		WHERE detector_id = $1`
	var c DetectorConfig
	var perClassRaw []byte
	var edge sql.NullString
	err := m.DB.QueryRowContext(ctx, query, detectorID).Scan(&c.DetectorID, &perClassRaw, &c.InputSize,
		&c.DetectionParams.MinScoreThreshold, &c.DetectionParams.IoUThreshold, &c.DetectionParams.MaxDetections, &edge)
	if err == sql.ErrNoRows {
		// No extended config: caller falls back to DefaultDetectionParams.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(perClassRaw) > 0 {
		_ = json.Unmarshal(perClassRaw, &c.PerClassThreshold)
	}
	c.EdgeInferenceMode = edge.String
	return &c, nil
}
