package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Camera is a monitored capture source: identity, owning Hub, RTSP URL,
// current status, health score, and the baseline image used for
// view-change detection (§3 Camera).
type Camera struct {
	ID                uuid.UUID  `json:"id"`
	HubID             uuid.UUID  `json:"hub_id"`
	Name              string     `json:"name"`
	RTSPURL           string     `json:"rtsp_url"`
	CurrentStatus     string     `json:"current_status"`
	HealthScore       float64    `json:"health_score"`
	BaselineImagePath string     `json:"baseline_image_path,omitempty"`
	BaselineUpdatedAt *time.Time `json:"baseline_updated_at,omitempty"`
	ViewChanged       bool       `json:"view_changed"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// Hub is the owning aggregate for a set of cameras (an edge device or
// site gateway). Flattened reference, not a cyclic ORM relation
// (SPEC_FULL.md §9 design note on cyclic relationships).
type Hub struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CameraRepository is the subset of CameraModel's behavior the
// service layer (camerahealth, ingestion) depends on, so tests can
// substitute an in-memory fake instead of a real database.
type CameraRepository interface {
	Create(ctx context.Context, c *Camera) error
	GetByID(ctx context.Context, id uuid.UUID) (*Camera, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, healthScore float64) error
	SetBaseline(ctx context.Context, id uuid.UUID, imagePath string) error
	SetViewChanged(ctx context.Context, id uuid.UUID, changed bool) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, hubID *uuid.UUID, limit, offset int) ([]*Camera, error)
}

type CameraModel struct {
	DB DBTX
}

func (m CameraModel) Create(ctx context.Context, c *Camera) error {
	query := `
		INSERT INTO cameras (hub_id, name, rtsp_url, current_status, health_score)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query, c.HubID, c.Name, c.RTSPURL, c.CurrentStatus, c.HealthScore).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (m CameraModel) GetByID(ctx context.Context, id uuid.UUID) (*Camera, error) {
	query := `
		SELECT id, hub_id, name, rtsp_url, current_status, health_score,
		       baseline_image_path, baseline_updated_at, view_changed,
		       created_at, updated_at, deleted_at
		FROM cameras
		WHERE id = $1 AND deleted_at IS NULL`

	var c Camera
	var baselinePath sql.NullString
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.HubID, &c.Name, &c.RTSPURL, &c.CurrentStatus, &c.HealthScore,
		&baselinePath, &c.BaselineUpdatedAt, &c.ViewChanged,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	c.BaselineImagePath = baselinePath.String
	return &c, nil
}

// UpdateStatus records the outcome of a Camera Health Inspector cycle
// (§4.10 step 5): current_status and health_score.
func (m CameraModel) UpdateStatus(ctx context.Context, id uuid.UUID, status string, healthScore float64) error {
	query := `UPDATE cameras SET current_status = $1, health_score = $2, updated_at = NOW() WHERE id = $3 AND deleted_at IS NULL`
	res, err := m.DB.ExecContext(ctx, query, status, healthScore, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SetBaseline records a new reference image for view-change detection.
func (m CameraModel) SetBaseline(ctx context.Context, id uuid.UUID, imagePath string) error {
	query := `UPDATE cameras SET baseline_image_path = $1, baseline_updated_at = NOW(), view_changed = false, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`
	_, err := m.DB.ExecContext(ctx, query, imagePath, id)
	return err
}

func (m CameraModel) SetViewChanged(ctx context.Context, id uuid.UUID, changed bool) error {
	query := `UPDATE cameras SET view_changed = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`
	_, err := m.DB.ExecContext(ctx, query, changed, id)
	return err
}

func (m CameraModel) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE cameras SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	res, err := m.DB.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// List returns non-deleted cameras, optionally scoped to a Hub.
func (m CameraModel) List(ctx context.Context, hubID *uuid.UUID, limit, offset int) ([]*Camera, error) {
	where := "WHERE deleted_at IS NULL"
	args := []any{}
	nextArg := 1
	if hubID != nil {
		where += fmt.Sprintf(" AND hub_id = $%d", nextArg)
		args = append(args, *hubID)
		nextArg++
	}

	query := fmt.Sprintf(`
		SELECT id, hub_id, name, rtsp_url, current_status, health_score,
		       baseline_image_path, baseline_updated_at, view_changed,
		       created_at, updated_at
		FROM cameras %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, nextArg, nextArg+1)
	args = append(args, limit, offset)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Camera
	for rows.Next() {
		var c Camera
		var baselinePath sql.NullString
		if err := rows.Scan(&c.ID, &c.HubID, &c.Name, &c.RTSPURL, &c.CurrentStatus, &c.HealthScore,
			&baselinePath, &c.BaselineUpdatedAt, &c.ViewChanged, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.BaselineImagePath = baselinePath.String
		out = append(out, &c)
	}
	return out, nil
}

type HubModel struct {
	DB DBTX
}

func (m HubModel) Create(ctx context.Context, h *Hub) error {
	query := `INSERT INTO hubs (name, location) VALUES ($1, $2) RETURNING id, created_at`
	return m.DB.QueryRowContext(ctx, query, h.Name, h.Location).Scan(&h.ID, &h.CreatedAt)
}

func (m HubModel) GetByID(ctx context.Context, id uuid.UUID) (*Hub, error) {
	query := `SELECT id, name, location, created_at FROM hubs WHERE id = $1`
	var h Hub
	err := m.DB.QueryRowContext(ctx, query, id).Scan(&h.ID, &h.Name, &h.Location, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return &h, err
}
