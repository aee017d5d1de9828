package alerts_test

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/alerts"
	"github.com/technosupport/intellioptics/internal/data"
)

type fakeDispatcher struct {
	sent []string
	fail map[data.AlertChannel]bool
}

func (f *fakeDispatcher) Send(ctx context.Context, channel data.AlertChannel, destination, message, imagePath string) error {
	if f.fail != nil && f.fail[channel] {
		return assertErr{"dispatch failed"}
	}
	f.sent = append(f.sent, string(channel))
	return nil
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func configRows(detectorID, configID uuid.UUID, cond data.AlertCondition, consecutive, window, cooldown int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "detector_id", "name", "condition", "condition_label", "condition_value",
		"consecutive_count", "window_seconds", "cooldown_seconds", "channels", "destination", "enabled", "created_at"}).
		AddRow(configID, detectorID, "high confidence hit", cond, "person", 0.5, consecutive, window, cooldown,
			[]byte(`["EMAIL"]`), "ops@example.com", true, time.Now())
}

func TestEngine_Trigger_FiresAndDispatchesOnMatch(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	detectorID, queryID, configID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery("FROM detector_alert_configs").
		WithArgs(detectorID).
		WillReturnRows(configRows(detectorID, configID, data.ConditionLabelMatch, 1, 0, 60))

	mock.ExpectQuery("FROM detector_alerts").
		WithArgs(configID).
		WillReturnError(sql.ErrNoRows)

	mock.ExpectQuery("INSERT INTO detector_alerts").
		WithArgs(configID, queryID, true, "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fired_at"}).AddRow(uuid.New(), time.Now()))

	dispatch := &fakeDispatcher{}
	engine := alerts.NewEngine(data.AlertConfigModel{DB: db}, data.AlertModel{DB: db}, dispatch, slog.Default())

	recent := []alerts.RecentQuery{{Label: "person", Confidence: 0.9, CreatedAt: time.Now()}}
	if err := engine.Trigger(context.Background(), detectorID, queryID, "front-door", "person", 0.9, "cam-1", "images/q1.jpg", recent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatch.sent) != 1 || dispatch.sent[0] != "EMAIL" {
		t.Errorf("expected one EMAIL dispatch, got %v", dispatch.sent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestEngine_Trigger_SkipsWhenBaseConditionNotMet(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	detectorID, queryID, configID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery("FROM detector_alert_configs").
		WithArgs(detectorID).
		WillReturnRows(configRows(detectorID, configID, data.ConditionLabelMatch, 1, 0, 60))

	dispatch := &fakeDispatcher{}
	engine := alerts.NewEngine(data.AlertConfigModel{DB: db}, data.AlertModel{DB: db}, dispatch, slog.Default())

	// Label doesn't match "person" -> base condition fails, no LastFired/Create query expected.
	err := engine.Trigger(context.Background(), detectorID, queryID, "front-door", "car", 0.9, "cam-1", "images/q1.jpg", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatch.sent) != 0 {
		t.Errorf("expected no dispatch for non-matching label, got %v", dispatch.sent)
	}
}

func TestEngine_Trigger_RespectsCooldown(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	detectorID, queryID, configID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery("FROM detector_alert_configs").
		WithArgs(detectorID).
		WillReturnRows(configRows(detectorID, configID, data.ConditionAlways, 1, 0, 3600))

	mock.ExpectQuery("FROM detector_alerts").
		WithArgs(configID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "config_id", "query_id", "fired_at", "dispatched_ok", "dispatch_error"}).
			AddRow(uuid.New(), configID, uuid.New(), time.Now().Add(-time.Minute), true, ""))

	dispatch := &fakeDispatcher{}
	engine := alerts.NewEngine(data.AlertConfigModel{DB: db}, data.AlertModel{DB: db}, dispatch, slog.Default())

	if err := engine.Trigger(context.Background(), detectorID, queryID, "front-door", "anything", 0.1, "cam-1", "images/q1.jpg", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatch.sent) != 0 {
		t.Errorf("expected cooldown to suppress dispatch, got %v", dispatch.sent)
	}
}
