package data

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

type HealthModel struct {
	DB *sql.DB
}

func (m *HealthModel) AddSample(ctx context.Context, h *CameraHealth) error {
	query := `
		INSERT INTO camera_health (camera_id, status, fps, width, height, brightness, sharpness,
		                            latency_ms, ssim_score, match_count, view_changed, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	var ssim sql.NullFloat64
	if h.SSIMScore != nil {
		ssim = sql.NullFloat64{Float64: *h.SSIMScore, Valid: true}
	}
	var match sql.NullInt32
	if h.MatchCount != nil {
		match = sql.NullInt32{Int32: int32(*h.MatchCount), Valid: true}
	}
	return m.DB.QueryRowContext(ctx, query, h.CameraID, h.Status, h.FPS, h.Width, h.Height,
		h.Brightness, h.Sharpness, h.LatencyMS, ssim, match, h.ViewChanged, h.OccurredAt).Scan(&h.ID)
}

func (m *HealthModel) GetLatest(ctx context.Context, cameraID uuid.UUID) (*CameraHealth, error) {
	query := `
		SELECT id, camera_id, status, fps, width, height, brightness, sharpness, latency_ms,
		       ssim_score, match_count, view_changed, occurred_at
		FROM camera_health
		WHERE camera_id = $1
		ORDER BY occurred_at DESC
		LIMIT 1`
	h, err := scanHealthRow(m.DB.QueryRowContext(ctx, query, cameraID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return h, err
}

func (m *HealthModel) ListHistory(ctx context.Context, cameraID uuid.UUID, limit, offset int) ([]*CameraHealth, error) {
	query := `
		SELECT id, camera_id, status, fps, width, height, brightness, sharpness, latency_ms,
		       ssim_score, match_count, view_changed, occurred_at
		FROM camera_health
		WHERE camera_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := m.DB.QueryContext(ctx, query, cameraID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CameraHealth
	for rows.Next() {
		h, err := scanHealthRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (m *HealthModel) PruneHistory(ctx context.Context, cameraID uuid.UUID, maxRecords int) error {
	query := `
		DELETE FROM camera_health
		WHERE camera_id = $1 AND id NOT IN (
			SELECT id FROM camera_health WHERE camera_id = $1 ORDER BY occurred_at DESC LIMIT $2
		)`
	_, err := m.DB.ExecContext(ctx, query, cameraID, maxRecords)
	return err
}

func (m *HealthModel) CreateInspectionRun(ctx context.Context, r *InspectionRun) error {
	query := `INSERT INTO inspection_runs (started_at) VALUES ($1) RETURNING id`
	return m.DB.QueryRowContext(ctx, query, r.StartedAt).Scan(&r.ID)
}

func (m *HealthModel) CompleteInspectionRun(ctx context.Context, r *InspectionRun) error {
	query := `
		UPDATE inspection_runs
		SET completed_at = $1, total_cameras = $2, healthy_count = $3, warning_count = $4,
		    critical_count = $5, offline_count = $6, failed_count = $7
		WHERE id = $8`
	_, err := m.DB.ExecContext(ctx, query, r.CompletedAt, r.TotalCameras, r.HealthyCount,
		r.WarningCount, r.CriticalCount, r.OfflineCount, r.FailedCount, r.ID)
	return err
}

func (m *HealthModel) CreateCameraAlert(ctx context.Context, a *CameraAlert) error {
	query := `
		INSERT INTO camera_alerts (camera_id, type, message, occurred_at, email_sent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	return m.DB.QueryRowContext(ctx, query, a.CameraID, a.Type, a.Message, a.OccurredAt, a.EmailSent).Scan(&a.ID)
}

func (m *HealthModel) ListCameraAlerts(ctx context.Context, cameraID uuid.UUID, limit int) ([]*CameraAlert, error) {
	query := `
		SELECT id, camera_id, type, message, occurred_at, email_sent
		FROM camera_alerts
		WHERE camera_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`
	rows, err := m.DB.QueryContext(ctx, query, cameraID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CameraAlert
	for rows.Next() {
		var a CameraAlert
		if err := rows.Scan(&a.ID, &a.CameraID, &a.Type, &a.Message, &a.OccurredAt, &a.EmailSent); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, nil
}

func (m *HealthModel) ListTargets(ctx context.Context) ([]CameraHealthTarget, error) {
	query := `SELECT id, rtsp_url FROM cameras WHERE deleted_at IS NULL`
	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CameraHealthTarget
	for rows.Next() {
		var t CameraHealthTarget
		if err := rows.Scan(&t.CameraID, &t.RTSPURL); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHealthRow(row rowScanner) (*CameraHealth, error) {
	var h CameraHealth
	var ssim sql.NullFloat64
	var match sql.NullInt32
	err := row.Scan(&h.ID, &h.CameraID, &h.Status, &h.FPS, &h.Width, &h.Height, &h.Brightness,
		&h.Sharpness, &h.LatencyMS, &ssim, &match, &h.ViewChanged, &h.OccurredAt)
	if err != nil {
		return nil, err
	}
	if ssim.Valid {
		h.SSIMScore = &ssim.Float64
	}
	if match.Valid {
		n := int(match.Int32)
		h.MatchCount = &n
	}
	return &h, nil
}
