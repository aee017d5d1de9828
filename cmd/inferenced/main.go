// Command inferenced consumes escalated queries off the QUEUE_IN
// fallback subject, re-runs inference on the escalated blob through the
// Inference Dispatcher, records the result, and publishes an
// InferenceResultPayload on QUEUE_OUT (§4.7 step 6, §6.4).
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/inference"
	"github.com/technosupport/intellioptics/internal/metrics"
	"github.com/technosupport/intellioptics/internal/modelcache"
	"github.com/technosupport/intellioptics/internal/objectstore"
	"github.com/technosupport/intellioptics/internal/platform/config"
	"github.com/technosupport/intellioptics/internal/platform/logging"
	"github.com/technosupport/intellioptics/internal/queue"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[inferenced] config load error: %v", err)
	}

	logger := logging.New("inferenced")
	logger.Info("starting", "database_url", cfg.DatabaseURL, "queue_in", cfg.QueueIn, "queue_out", cfg.QueueOut)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[inferenced] DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("[inferenced] DB ping error: %v", err)
	}
	defer db.Close()

	jwtKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtKey == "" {
		jwtKey = "dev-secret-do-not-use-in-prod"
	}
	blobRoot := os.Getenv("BLOB_STORE_ROOT")
	if blobRoot == "" {
		blobRoot = "/var/lib/intellioptics/blobs"
	}
	store := objectstore.New(blobRoot, []byte(jwtKey), "")

	queueCtx, cancelQueue := context.WithTimeout(context.Background(), 10*time.Second)
	mq, err := queue.Connect(queueCtx, cfg.NATSURL, "INTELLIOPTICS", []string{cfg.QueueIn, cfg.QueueOut})
	cancelQueue()
	if err != nil {
		log.Fatalf("[inferenced] queue connect error: %v", err)
	}

	receiver, err := mq.NewReceiver(context.Background(), cfg.QueueIn, "inferenced")
	if err != nil {
		log.Fatalf("[inferenced] receiver init error: %v", err)
	}

	disk := modelcache.NewDisk(cfg.ModelCacheDir, objectstore.Downloader{Gateway: store})
	cache := modelcache.New(32, disk, modelcache.LoadONNXSession)
	dispatcher := inference.NewDispatcher(cache, disk)

	p := &processor{
		detectors:  data.DetectorModel{DB: db},
		configs:    data.DetectorConfigModel{DB: db},
		queries:    data.QueryModel{DB: db},
		store:      store,
		dispatcher: dispatcher,
		queue:      mq,
		outSubject: cfg.QueueOut,
		logger:     logger,
	}

	go startHealthServer(cfg.HealthPort)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.run(receiver, stop)
	}()
	<-done
	logger.Info("stopped")
}

type processor struct {
	detectors  data.DetectorModel
	configs    data.DetectorConfigModel
	queries    data.QueryModel
	store      *objectstore.Gateway
	dispatcher *inference.Dispatcher
	queue      *queue.Gateway
	outSubject string
	logger     interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
	}
}

func (p *processor) run(receiver *queue.Receiver, stop <-chan os.Signal) {
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		default:
		}

		msgs, err := receiver.ReceiveBatch(ctx, 10, 2*time.Second)
		if err != nil {
			p.logger.Warn("receive batch failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			p.handle(ctx, msg)
		}
	}
}

func (p *processor) handle(ctx context.Context, msg *queue.Message) {
	var payload queue.FallbackPayload
	if err := queue.UnmarshalOrDeadLetter(ctx, msg, &payload); err != nil {
		p.logger.Warn("dead-lettered malformed fallback payload", "error", err)
		return
	}

	result, err := p.infer(ctx, payload)
	out := queue.InferenceResultPayload{ImageQueryID: payload.QueryID}
	if err != nil {
		p.logger.Error("fallback inference failed", "query_id", payload.QueryID, "error", err)
		out.OK = false
		out.Result = err.Error()
	} else {
		out.OK = true
		out.Result = result
		out.LatencyMS = result.LatencyMS
	}

	if err := p.queue.Enqueue(ctx, p.outSubject, out); err != nil {
		p.logger.Error("failed to publish inference result", "query_id", payload.QueryID, "error", err)
		_ = msg.Abandon(ctx)
		return
	}
	_ = msg.Complete(ctx)
}

func (p *processor) infer(ctx context.Context, payload queue.FallbackPayload) (*inference.Result, error) {
	detectorID, err := uuid.Parse(payload.DetectorID)
	if err != nil {
		return nil, err
	}
	queryID, err := uuid.Parse(payload.QueryID)
	if err != nil {
		return nil, err
	}

	detector, err := p.detectors.GetByID(ctx, detectorID)
	if err != nil {
		_ = p.queries.MarkError(ctx, queryID, err.Error())
		return nil, err
	}
	cfg, _ := p.configs.GetByDetectorID(ctx, detectorID)

	imageBytes, err := p.store.DownloadPath(ctx, payload.BlobPath)
	if err != nil {
		_ = p.queries.MarkError(ctx, queryID, err.Error())
		return nil, err
	}

	start := time.Now()
	result, err := p.dispatcher.Run(ctx, detector, cfg, imageBytes)
	stage := "primary"
	if result != nil && result.OODDResult != nil {
		stage = "oodd"
	} else if err != nil {
		stage = "none"
	}
	metrics.InferenceLatencyMS.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		_ = p.queries.MarkError(ctx, queryID, err.Error())
		return nil, err
	}

	label, confidence, detections := "nothing", 1.0, []data.Detection(nil)
	if len(result.Detections) > 0 {
		best := result.Detections[0]
		detections = make([]data.Detection, len(result.Detections))
		for i, b := range result.Detections {
			detections[i] = data.Detection{Label: b.Label, Confidence: b.Confidence, ClassID: b.ClassID, X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2}
			if b.Confidence > best.Confidence {
				best = b
			}
		}
		label, confidence = best.Label, best.Confidence
	}
	isOODD := result.OODDResult != nil && !result.OODDResult.IsInDomain
	if err := p.queries.CompleteLocal(ctx, queryID, label, confidence, detections, isOODD); err != nil {
		return nil, err
	}
	return result, nil
}

func startHealthServer(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())
	addr := ":" + itoa(port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[inferenced] health server stopped: %v", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
