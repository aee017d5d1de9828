// Package alerts implements the Alert Engine (C11): rule evaluation,
// cooldown enforcement, and best-effort multi-channel dispatch for
// DetectorAlertConfig rules (§4.11).
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/metrics"
)

// Dispatcher sends a composed message through one channel. A failure
// on one channel never prevents another from firing (§4.11: "Dispatch
// is best-effort: a channel failure is logged and does not prevent
// other channels").
type Dispatcher interface {
	Send(ctx context.Context, channel data.AlertChannel, destination, message string, imagePath string) error
}

// RecentQuery is the minimal projection the consecutive/window gate
// needs from the Query Pipeline's history for a detector.
type RecentQuery struct {
	Label      string
	Confidence float64
	CreatedAt  time.Time
}

// EventPublisher is the Engine's narrow view of the live event feed
// (internal/api.Hub satisfies this); nil disables publishing.
type EventPublisher interface {
	Publish(topic string, event any)
}

// Engine evaluates and dispatches alerts. It is deliberately decoupled
// from data.QueryModel: the caller supplies the recent-query window,
// keeping this package testable without a database.
type Engine struct {
	configs  data.AlertConfigModel
	alerts   data.AlertModel
	dispatch Dispatcher
	logger   *slog.Logger
	events   EventPublisher
}

func NewEngine(configs data.AlertConfigModel, alertModel data.AlertModel, dispatch Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{configs: configs, alerts: alertModel, dispatch: dispatch, logger: logger}
}

// WithEvents enables publishing an AlertFiredEvent-shaped payload to
// the live event stream (§5) after each dispatch attempt.
func (e *Engine) WithEvents(events EventPublisher) *Engine {
	e.events = events
	return e
}

// Trigger is the entry point described in §4.11: "trigger(detector_id,
// query_id, label, confidence, camera_name, image_path)". recent is the
// detector's query history, most recent first, used by the
// consecutive/time-window gate; it must include the query currently
// firing.
func (e *Engine) Trigger(ctx context.Context, detectorID, queryID uuid.UUID, detectorName, label string, confidence float64, cameraName, imagePath string, recent []RecentQuery) error {
	configs, err := e.configs.ListEnabledByDetector(ctx, detectorID)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		return nil
	}

	var firstErr error
	for _, cfg := range configs {
		if err := e.evaluateOne(ctx, cfg, detectorID, queryID, detectorName, label, confidence, cameraName, imagePath, recent); err != nil {
			e.logger.Warn("alert rule evaluation failed", "config_id", cfg.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) evaluateOne(ctx context.Context, cfg *data.DetectorAlertConfig, detectorID, queryID uuid.UUID, detectorName, label string, confidence float64, cameraName, imagePath string, recent []RecentQuery) error {
	// Step 2: base condition.
	if !baseConditionMet(cfg, label, confidence) {
		return nil
	}

	// Step 3: consecutive/time-window gate.
	if !confirmationGateMet(cfg, label, recent) {
		return nil
	}

	// Step 4: cooldown.
	last, err := e.alerts.LastFired(ctx, cfg.ID)
	if err != nil {
		return err
	}
	if last != nil && time.Since(last.FiredAt) < time.Duration(cfg.CooldownSeconds)*time.Second {
		return nil
	}

	// Step 5: compose message.
	message := composeMessage(cfg, detectorName, label, confidence, cameraName)

	// Step 6: dispatch best-effort on every channel, then persist the
	// alert row carrying the dispatch outcome. The row is written only
	// after every send has been attempted and the event below published;
	// nothing is persisted before the first send.
	alert := &data.DetectorAlert{ConfigID: cfg.ID, QueryID: queryID}
	dispatchOK := true
	var dispatchErr string
	for _, channel := range cfg.Channels {
		if e.dispatch == nil {
			continue
		}
		if err := e.dispatch.Send(ctx, channel, cfg.Destination, message, imagePath); err != nil {
			dispatchOK = false
			dispatchErr = err.Error()
			e.logger.Warn("alert channel dispatch failed", "channel", channel, "config_id", cfg.ID, "error", err)
			metrics.AlertsDispatchedTotal.WithLabelValues(string(channel), "error").Inc()
		} else {
			metrics.AlertsDispatchedTotal.WithLabelValues(string(channel), "ok").Inc()
		}
	}
	alert.DispatchedOK = dispatchOK
	alert.DispatchError = dispatchErr

	if e.events != nil {
		e.events.Publish("detector:"+detectorID.String(), map[string]any{
			"config_id":     cfg.ID.String(),
			"query_id":      queryID.String(),
			"detector_name": detectorName,
			"message":       message,
			"dispatched_ok": dispatchOK,
			"occurred_at":   time.Now().UTC().Format(time.RFC3339),
		})
	}

	return e.alerts.Create(ctx, alert)
}

// baseConditionMet implements §4.11 step 2.
func baseConditionMet(cfg *data.DetectorAlertConfig, label string, confidence float64) bool {
	switch cfg.Condition {
	case data.ConditionAlways:
		return true
	case data.ConditionLabelMatch:
		return strings.EqualFold(label, cfg.ConditionLabel)
	case data.ConditionConfidenceAbove:
		return confidence >= cfg.ConditionValue
	case data.ConditionConfidenceBelow:
		return confidence < cfg.ConditionValue
	default:
		return false
	}
}

// confirmationGateMet implements §4.11 step 3: if a time window is
// configured, count matches inside it; otherwise require the last
// consecutive_count queries to match in order. consecutive_count=1
// with no window always passes once the base condition matches (§8
// boundary: "consecutive_count=1 always triggers when base condition
// matches and cooldown expired").
func confirmationGateMet(cfg *data.DetectorAlertConfig, label string, recent []RecentQuery) bool {
	if cfg.WindowSeconds > 0 {
		cutoff := time.Now().Add(-time.Duration(cfg.WindowSeconds) * time.Second)
		count := 0
		for _, q := range recent {
			if q.CreatedAt.Before(cutoff) {
				continue
			}
			if strings.EqualFold(q.Label, label) {
				count++
			}
		}
		return count >= cfg.ConsecutiveCount
	}

	if cfg.ConsecutiveCount > 1 {
		if len(recent) < cfg.ConsecutiveCount {
			return false
		}
		for idx := 0; idx < cfg.ConsecutiveCount; idx++ {
			if !strings.EqualFold(recent[idx].Label, label) {
				return false
			}
		}
		return true
	}

	return true
}

// composeMessage renders the template described in §4.11 step 5:
// "{detector_name} {label} {confidence} {camera_name}" with a fallback
// default when no custom template is configured. DetectorAlertConfig
// in this repo doesn't carry a free-form template string (no example
// repo's templating dependency — text/template, Masterminds/sprig —
// appeared grounded for a field this simple), so the default format is
// always used; see DESIGN.md.
func composeMessage(cfg *data.DetectorAlertConfig, detectorName, label string, confidence float64, cameraName string) string {
	return fmt.Sprintf("%s detected %q (confidence %s) on camera %s",
		detectorName, label, strconv.FormatFloat(confidence, 'f', 2, 64), cameraName)
}
