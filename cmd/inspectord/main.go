// Command inspectord runs the Camera Health Inspector (C9/C10, §4.9-
// §4.10) as a standalone daemon, polling every registered camera on a
// fixed interval and recording CameraHealth samples, InspectionRuns,
// and CameraAlerts.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/technosupport/intellioptics/internal/alerts"
	"github.com/technosupport/intellioptics/internal/camerahealth"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/ingestion"
	"github.com/technosupport/intellioptics/internal/metrics"
	"github.com/technosupport/intellioptics/internal/platform/config"
	"github.com/technosupport/intellioptics/internal/platform/logging"
)

var serviceUp int64 = 1

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[Inspectord] config load error: %v", err)
	}

	smtpAddr := os.Getenv("ALERT_SMTP_ADDR")
	smtpFrom := os.Getenv("ALERT_SMTP_FROM")
	smsGatewayURL := os.Getenv("ALERT_SMS_GATEWAY_URL")
	alertDestination := os.Getenv("CAMERA_ALERT_DESTINATION")
	intervalSec := 30

	logger := logging.New("inspectord")
	logger.Info("starting", "database_url", cfg.DatabaseURL, "interval_seconds", intervalSec)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Inspectord] DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("[Inspectord] DB ping error: %v", err)
	}
	defer db.Close()

	cameraRepo := data.CameraModel{DB: db}
	healthRepo := &data.HealthModel{DB: db}

	grabber := camerahealth.NewFFmpegGrabber(ingestion.NewFFmpegBackend())

	var dispatch alerts.Dispatcher
	if smtpAddr != "" {
		dispatch = alerts.NewChannelDispatcher(smtpAddr, smtpFrom, smtp.Auth(nil), smsGatewayURL)
	}
	alertDispatcher := &alerts.CameraAlertDispatcher{
		Dispatch:    dispatch,
		Destination: alertDestination,
	}

	inspectorCfg := camerahealth.DefaultInspectorConfig()
	inspectorCfg.Interval = time.Duration(intervalSec) * time.Second

	inspector := camerahealth.NewInspector(inspectorCfg, cameraRepo, healthRepo, grabber, alertDispatcher, logger)

	go startHealthServer(cfg.HealthPort)

	inspector.Start()
	logger.Info("inspector started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	inspector.Stop()
}

func startHealthServer(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","up":%d}`, serviceUp)
	})
	mux.Handle("/metrics", metrics.Handler())
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[Inspectord] health server stopped: %v", err)
	}
}
