package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AlertCondition is the rule kind a DetectorAlertConfig evaluates
// against each completed Query (§4.11 step 1).
type AlertCondition string

const (
	ConditionLabelMatch        AlertCondition = "LABEL_MATCH"
	ConditionConfidenceAbove   AlertCondition = "CONFIDENCE_ABOVE"
	ConditionConfidenceBelow   AlertCondition = "CONFIDENCE_BELOW"
	ConditionAlways            AlertCondition = "ALWAYS"
)

// AlertChannel is a dispatch target (§4.11 step 5).
type AlertChannel string

const (
	ChannelEmail   AlertChannel = "EMAIL"
	ChannelSMS     AlertChannel = "SMS"
	ChannelWebhook AlertChannel = "WEBHOOK"
)

// DetectorAlertConfig is one configured alert rule on a Detector (§3
// DetectorAlertConfig, §4.11).
type DetectorAlertConfig struct {
	ID                uuid.UUID      `json:"id"`
	DetectorID        uuid.UUID      `json:"detector_id"`
	Name              string         `json:"name"`
	Condition         AlertCondition `json:"condition"`
	ConditionLabel    string         `json:"condition_label,omitempty"`
	ConditionValue    float64        `json:"condition_value,omitempty"`
	ConsecutiveCount  int            `json:"consecutive_count"`
	WindowSeconds     int            `json:"window_seconds"`
	CooldownSeconds   int            `json:"cooldown_seconds"`
	Channels          []AlertChannel `json:"channels"`
	Destination       string         `json:"destination"`
	Enabled           bool           `json:"enabled"`
	CreatedAt         time.Time      `json:"created_at"`
}

// DetectorAlert is one fired instance of a DetectorAlertConfig (§3
// DetectorAlert).
type DetectorAlert struct {
	ID            uuid.UUID `json:"id"`
	ConfigID      uuid.UUID `json:"config_id"`
	QueryID       uuid.UUID `json:"query_id"`
	FiredAt       time.Time `json:"fired_at"`
	DispatchedOK  bool      `json:"dispatched_ok"`
	DispatchError string    `json:"dispatch_error,omitempty"`
}

type AlertConfigModel struct {
	DB DBTX
}

func (m AlertConfigModel) Create(ctx context.Context, c *DetectorAlertConfig) error {
	channels, _ := json.Marshal(c.Channels)
	query := `
		INSERT INTO detector_alert_configs (detector_id, name, condition, condition_label, condition_value,
		                                     consecutive_count, window_seconds, cooldown_seconds, channels,
		                                     destination, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`
	return m.DB.QueryRowContext(ctx, query, c.DetectorID, c.Name, c.Condition, c.ConditionLabel, c.ConditionValue,
		c.ConsecutiveCount, c.WindowSeconds, c.CooldownSeconds, channels, c.Destination, c.Enabled).
		Scan(&c.ID, &c.CreatedAt)
}

func (m AlertConfigModel) ListEnabledByDetector(ctx context.Context, detectorID uuid.UUID) ([]*DetectorAlertConfig, error) {
	query := `
		SELECT id, detector_id, name, condition, condition_label, condition_value, consecutive_count,
		       window_seconds, cooldown_seconds, channels, destination, enabled, created_at
		FROM detector_alert_configs
		WHERE detector_id = $1 AND enabled = true`
	rows, err := m.DB.QueryContext(ctx, query, detectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DetectorAlertConfig
	for rows.Next() {
		var c DetectorAlertConfig
		var label, dest sql.NullString
		var channelsJSON []byte
		if err := rows.Scan(&c.ID, &c.DetectorID, &c.Name, &c.Condition, &label, &c.ConditionValue,
			&c.ConsecutiveCount, &c.WindowSeconds, &c.CooldownSeconds, &channelsJSON, &dest, &c.Enabled, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ConditionLabel = label.String
		c.Destination = dest.String
		if len(channelsJSON) > 0 {
			_ = json.Unmarshal(channelsJSON, &c.Channels)
		}
		out = append(out, &c)
	}
	return out, nil
}

type AlertModel struct {
	DB DBTX
}

// LastFired returns the most recent firing of a config, used to enforce
// the cooldown gate (§4.11 step 4).
func (m AlertModel) LastFired(ctx context.Context, configID uuid.UUID) (*DetectorAlert, error) {
	query := `
		SELECT id, config_id, query_id, fired_at, dispatched_ok, dispatch_error
		FROM detector_alerts
		WHERE config_id = $1
		ORDER BY fired_at DESC
		LIMIT 1`
	var a DetectorAlert
	var dispatchErr sql.NullString
	err := m.DB.QueryRowContext(ctx, query, configID).Scan(&a.ID, &a.ConfigID, &a.QueryID, &a.FiredAt, &a.DispatchedOK, &dispatchErr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.DispatchError = dispatchErr.String
	return &a, nil
}

func (m AlertModel) Create(ctx context.Context, a *DetectorAlert) error {
	query := `
		INSERT INTO detector_alerts (config_id, query_id, dispatched_ok, dispatch_error)
		VALUES ($1, $2, $3, $4)
		RETURNING id, fired_at`
	return m.DB.QueryRowContext(ctx, query, a.ConfigID, a.QueryID, a.DispatchedOK, a.DispatchError).
		Scan(&a.ID, &a.FiredAt)
}

// ListByConfig returns up to limit firings of a config, most recent
// first. This model only persists and retrieves fired alerts; the
// consecutive-count confirmation gate (§4.11 step 3) is evaluated by
// the alert engine against QueryModel results.
func (m AlertModel) ListByConfig(ctx context.Context, configID uuid.UUID, limit int) ([]*DetectorAlert, error) {
	query := `
		SELECT id, config_id, query_id, fired_at, dispatched_ok, dispatch_error
		FROM detector_alerts
		WHERE config_id = $1
		ORDER BY fired_at DESC
		LIMIT $2`
	rows, err := m.DB.QueryContext(ctx, query, configID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DetectorAlert
	for rows.Next() {
		var a DetectorAlert
		var dispatchErr sql.NullString
		if err := rows.Scan(&a.ID, &a.ConfigID, &a.QueryID, &a.FiredAt, &a.DispatchedOK, &dispatchErr); err != nil {
			return nil, err
		}
		a.DispatchError = dispatchErr.String
		out = append(out, &a)
	}
	return out, nil
}
