// Command ingestd runs the Ingestion Orchestrator (C8): one worker per
// configured camera stream, sampling frames and submitting them to the
// Query Pipeline (§4.8).
package main

import (
	"context"
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
	"gopkg.in/yaml.v3"

	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/alerts"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/ingestion"
	"github.com/technosupport/intellioptics/internal/inference"
	"github.com/technosupport/intellioptics/internal/metrics"
	"github.com/technosupport/intellioptics/internal/modelcache"
	"github.com/technosupport/intellioptics/internal/objectstore"
	"github.com/technosupport/intellioptics/internal/platform/config"
	"github.com/technosupport/intellioptics/internal/platform/logging"
	"github.com/technosupport/intellioptics/internal/queries"
	"github.com/technosupport/intellioptics/internal/queue"
)

// bindingsFile maps camera -> detector, since the Camera aggregate
// itself carries no detector reference (one camera can, in principle,
// feed more than one detector; the Ingestion Orchestrator only supports
// a single binding per stream for now, per SPEC_FULL.md's scope for C8).
type bindingsFile struct {
	Bindings []struct {
		CameraID   string `yaml:"camera_id"`
		DetectorID string `yaml:"detector_id"`
	} `yaml:"bindings"`
}

func loadBindings(path string) (map[uuid.UUID]uuid.UUID, error) {
	out := make(map[uuid.UUID]uuid.UUID)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	var f bindingsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse bindings %s: %w", path, err)
	}
	for _, bind := range f.Bindings {
		camID, err := uuid.Parse(bind.CameraID)
		if err != nil {
			return nil, fmt.Errorf("invalid camera_id %q: %w", bind.CameraID, err)
		}
		detID, err := uuid.Parse(bind.DetectorID)
		if err != nil {
			return nil, fmt.Errorf("invalid detector_id %q: %w", bind.DetectorID, err)
		}
		out[camID] = detID
	}
	return out, nil
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[ingestd] config load error: %v", err)
	}

	bindingsPath := os.Getenv("STREAM_BINDINGS_PATH")
	if bindingsPath == "" {
		bindingsPath = "config/stream_bindings.yaml"
	}

	logger := logging.New("ingestd")
	logger.Info("starting", "database_url", cfg.DatabaseURL, "bindings", bindingsPath)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[ingestd] DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("[ingestd] DB ping error: %v", err)
	}
	defer db.Close()

	bindings, err := loadBindings(bindingsPath)
	if err != nil {
		log.Fatalf("[ingestd] bindings load error: %v", err)
	}
	if len(bindings) == 0 {
		logger.Warn("no camera->detector bindings configured, orchestrator will idle")
	}

	blobRoot := os.Getenv("BLOB_STORE_ROOT")
	if blobRoot == "" {
		blobRoot = "/var/lib/intellioptics/blobs"
	}
	jwtKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtKey == "" {
		jwtKey = "dev-secret-do-not-use-in-prod"
	}
	store := objectstore.New(blobRoot, []byte(jwtKey), "")

	queueCtx, cancelQueue := context.WithTimeout(context.Background(), 10*time.Second)
	mq, err := queue.Connect(queueCtx, cfg.NATSURL, "INTELLIOPTICS", []string{cfg.QueueIn, cfg.QueueOut})
	cancelQueue()
	if err != nil {
		log.Fatalf("[ingestd] queue connect error: %v", err)
	}

	disk := modelcache.NewDisk(cfg.ModelCacheDir, objectstore.Downloader{Gateway: store})
	cache := modelcache.New(32, disk, modelcache.LoadONNXSession)
	dispatcher := inference.NewDispatcher(cache, disk)

	var alertDispatch alerts.Dispatcher
	if smtpAddr := os.Getenv("ALERT_SMTP_ADDR"); smtpAddr != "" {
		alertDispatch = alerts.NewChannelDispatcher(smtpAddr, os.Getenv("ALERT_SMTP_FROM"), smtp.Auth(nil), os.Getenv("ALERT_SMS_GATEWAY_URL"))
	}
	alertEngine := alerts.NewEngine(data.AlertConfigModel{DB: db}, data.AlertModel{DB: db}, alertDispatch, logger)

	pipeline := &queries.Pipeline{
		Detectors:       data.DetectorModel{DB: db},
		Configs:         data.DetectorConfigModel{DB: db},
		Queries:         data.QueryModel{DB: db},
		Escalations:     data.EscalationModel{DB: db},
		Store:           store,
		Queue:           mq,
		FallbackSubject: cfg.QueueIn,
		Dispatcher:      dispatcher,
		AlertEngine:     alertEngine,
		Logger:          logger,
	}

	submitter := &ingestion.PipelineSubmitter{Pipeline: pipeline, DetectorForCamera: bindings}
	backend := ingestion.NewFFmpegBackend()
	orchestrator := ingestion.NewOrchestrator(backend, submitter, logger)

	cameraRepo := data.CameraModel{DB: db}
	cameras, err := cameraRepo.List(context.Background(), nil, 1000, 0)
	if err != nil {
		log.Fatalf("[ingestd] failed to list cameras: %v", err)
	}

	started := 0
	for _, cam := range cameras {
		if _, bound := bindings[cam.ID]; !bound {
			continue
		}
		orchestrator.AddStream(ingestion.StreamConfig{
			CameraID:   cam.ID,
			CameraName: cam.Name,
			RTSPURL:    cam.RTSPURL,
		})
		started++
	}
	logger.Info("streams started", "count", started, "total_cameras", len(cameras))

	go startHealthServer(cfg.HealthPort)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	orchestrator.StopAll()
}

func startHealthServer(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[ingestd] health server stopped: %v", err)
	}
}
