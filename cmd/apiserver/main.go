// Command apiserver exposes the detection-domain HTTP API: Detectors,
// the Query Pipeline, the Demo Session Manager, and Alert Engine
// configuration (§6.1-§6.3).
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

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/intellioptics/internal/alerts"
	"github.com/technosupport/intellioptics/internal/api"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/demo"
	"github.com/technosupport/intellioptics/internal/inference"
	"github.com/technosupport/intellioptics/internal/ingestion"
	"github.com/technosupport/intellioptics/internal/metrics"
	"github.com/technosupport/intellioptics/internal/middleware"
	"github.com/technosupport/intellioptics/internal/modelcache"
	"github.com/technosupport/intellioptics/internal/objectstore"
	"github.com/technosupport/intellioptics/internal/platform/config"
	"github.com/technosupport/intellioptics/internal/platform/logging"
	"github.com/technosupport/intellioptics/internal/queries"
	"github.com/technosupport/intellioptics/internal/queue"
	"github.com/technosupport/intellioptics/internal/tokens"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[apiserver] config load error: %v", err)
	}

	jwtKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtKey == "" {
		jwtKey = "dev-secret-do-not-use-in-prod"
	}

	logger := logging.New("apiserver")
	logger.Info("starting", "database_url", cfg.DatabaseURL, "nats_url", cfg.NATSURL)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[apiserver] DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("[apiserver] DB ping error: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddrFromURL(cfg.RedisURL)})

	// --- Bearer-token boundary (§1 Non-goals excludes auth/OAuth and
	// user/role CRUD; JWTAuth only verifies the token's shape/signature
	// and injects tenant/subject, it does not authorize anything).
	tokenMgr := tokens.NewManager(jwtKey)
	jwtMiddleware := middleware.NewJWTAuth(tokenMgr)

	// --- Object Store Gateway (C1)
	blobRoot := os.Getenv("BLOB_STORE_ROOT")
	if blobRoot == "" {
		blobRoot = "/var/lib/intellioptics/blobs"
	}
	store := objectstore.New(blobRoot, []byte(jwtKey), "")

	// --- Message Queue Gateway (C2)
	queueCtx, cancelQueue := context.WithTimeout(context.Background(), 10*time.Second)
	mq, err := queue.Connect(queueCtx, cfg.NATSURL, "INTELLIOPTICS", []string{cfg.QueueIn, cfg.QueueOut})
	cancelQueue()
	if err != nil {
		log.Fatalf("[apiserver] queue connect error: %v", err)
	}

	// --- Model Cache (C3) over the Object Store's download path
	disk := modelcache.NewDisk(cfg.ModelCacheDir, objectstore.Downloader{Gateway: store})
	cache := modelcache.New(32, disk, modelcache.LoadONNXSession)
	dispatcher := inference.NewDispatcher(cache, disk)

	// --- Alert Engine (C11)
	var alertDispatch alerts.Dispatcher
	if smtpAddr := os.Getenv("ALERT_SMTP_ADDR"); smtpAddr != "" {
		alertDispatch = alerts.NewChannelDispatcher(smtpAddr, os.Getenv("ALERT_SMTP_FROM"), smtp.Auth(nil), os.Getenv("ALERT_SMS_GATEWAY_URL"))
	}
	alertConfigs := data.AlertConfigModel{DB: db}
	alertModel := data.AlertModel{DB: db}

	// --- Live event stream (§5 supplemented feature)
	hub := api.NewHub(logger)

	alertEngine := alerts.NewEngine(alertConfigs, alertModel, alertDispatch, logger).WithEvents(hub)

	// --- Query Pipeline (C7)
	detectors := data.DetectorModel{DB: db}
	detectorConfigs := data.DetectorConfigModel{DB: db}
	queryModel := data.QueryModel{DB: db}
	escalations := data.EscalationModel{DB: db}
	feedback := data.FeedbackModel{DB: db}

	pipeline := &queries.Pipeline{
		Detectors:       detectors,
		Configs:         detectorConfigs,
		Queries:         queryModel,
		Escalations:     escalations,
		Store:           store,
		Queue:           mq,
		FallbackSubject: cfg.QueueIn,
		Dispatcher:      dispatcher,
		AlertEngine:     alertEngine,
		Logger:          logger,
		Events:          hub,
	}

	// --- Demo Session Manager (C12)
	sessionRepo := data.DemoSessionModel{DB: db}
	resultRepo := data.DemoDetectionResultModel{DB: db}
	frameSource := &demo.MockFrameSource{Delegate: ingestion.NewDemoFrameSource(ingestion.NewFFmpegBackend())}
	demoManager := demo.NewManager(sessionRepo, resultRepo, queryModel, detectors, detectorConfigs, store, dispatcher, frameSource, logger).WithRegistry(rdb)

	// --- HTTP handlers
	detectorHandler := api.NewDetectorHandler(detectors, detectorConfigs)
	queryHandler := api.NewQueryHandler(pipeline, queryModel, feedback)
	demoHandler := api.NewDemoHandler(demoManager)
	alertConfigHandler := api.NewAlertConfigHandler(alertConfigs)

	mux := chi.NewRouter()
	Protect := func(route string, h http.HandlerFunc) http.Handler {
		return middleware.RequestLogger(jwtMiddleware.Middleware(metrics.InstrumentHandler(route, h)))
	}

	mux.Method(http.MethodPost, "/api/v1/detectors", Protect("detectors.create", detectorHandler.Create))
	mux.Method(http.MethodGet, "/api/v1/detectors", Protect("detectors.list", detectorHandler.List))
	mux.Method(http.MethodGet, "/api/v1/detectors/{id}", Protect("detectors.get", detectorHandler.Get))
	mux.Method(http.MethodDelete, "/api/v1/detectors/{id}", Protect("detectors.delete", detectorHandler.Delete))
	mux.Method(http.MethodPut, "/api/v1/detectors/{id}/config", Protect("detectors.upsert_config", detectorHandler.UpsertConfig))

	mux.Method(http.MethodPost, "/api/v1/queries", Protect("queries.submit", queryHandler.Submit))
	mux.Method(http.MethodGet, "/api/v1/queries/{id}", Protect("queries.get", queryHandler.Get))
	mux.Method(http.MethodDelete, "/api/v1/queries/{id}", Protect("queries.delete", queryHandler.Delete))
	mux.Method(http.MethodGet, "/api/v1/detectors/{id}/queries", Protect("queries.list_by_detector", queryHandler.ListByDetector))
	mux.Method(http.MethodPost, "/api/v1/queries/{id}/feedback", Protect("queries.feedback", queryHandler.SubmitFeedback))
	mux.Method(http.MethodPost, "/api/v1/queries/{id}/ground-truth", Protect("queries.ground_truth", queryHandler.ApplyGroundTruth))

	mux.Method(http.MethodPost, "/api/v1/demo-sessions", Protect("demo.start", demoHandler.Start))
	mux.Method(http.MethodPost, "/api/v1/demo-sessions/{id}/stop", Protect("demo.stop", demoHandler.Stop))
	mux.Method(http.MethodGet, "/api/v1/demo-sessions/{id}/status", Protect("demo.status", demoHandler.Status))

	mux.Method(http.MethodPost, "/api/v1/detectors/{id}/alert-configs", Protect("alert_configs.create", alertConfigHandler.Create))
	mux.Method(http.MethodGet, "/api/v1/detectors/{id}/alert-configs", Protect("alert_configs.list", alertConfigHandler.ListForDetector))

	mux.Method(http.MethodGet, "/api/v1/events", Protect("events.stream", hub.ServeWS))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = fmt.Sprintf("%d", cfg.HealthPort)
	}

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[apiserver] HTTP server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown error", "error", err)
	}
}

// redisAddrFromURL strips a redis:// scheme down to host:port, since
// go-redis's basic Options take a bare address rather than a URL.
func redisAddrFromURL(u string) string {
	const prefix = "redis://"
	if len(u) > len(prefix) && u[:len(prefix)] == prefix {
		u = u[len(prefix):]
	}
	if i := indexByte(u, '/'); i >= 0 {
		u = u[:i]
	}
	return u
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
