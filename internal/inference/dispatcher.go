// Package inference implements the Inference Dispatcher (C6): detector
// config resolution, the primary + OODD two-stage pipeline, and
// confidence calibration (§4.6).
package inference

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/ioerrors"
	"github.com/technosupport/intellioptics/internal/modelcache"
	"github.com/technosupport/intellioptics/internal/oodd"
	"github.com/technosupport/intellioptics/internal/vision"
)

// ModelResolver locates the on-disk artifact path for a (detector_id,
// role) pair, downloading it into the local model cache directory if
// needed (wraps modelcache.Disk).
type ModelResolver interface {
	Ensure(ctx context.Context, key modelcache.Key, blobPath string) (string, error)
}

// Result is C6's unified return value.
type Result struct {
	Detections  []vision.Box
	LatencyMS   int64
	OODDResult  *oodd.Result
	ModelInfo   ModelInfo
}

type ModelInfo struct {
	DetectorID   uuid.UUID
	PrimaryPath  string
	OODDPath     string
	OODDLoaded   bool
}

// Dispatcher orchestrates the Model Cache (C3), Detection Engine (C4),
// and OODD Gate (C5).
type Dispatcher struct {
	cache    *modelcache.Cache
	resolver ModelResolver
	inputSize int
}

func NewDispatcher(cache *modelcache.Cache, resolver ModelResolver) *Dispatcher {
	return &Dispatcher{cache: cache, resolver: resolver, inputSize: 640}
}

// Run implements §4.6's algorithm end to end.
func (d *Dispatcher) Run(ctx context.Context, detector *data.Detector, cfg *data.DetectorConfig, imageBytes []byte) (*Result, error) {
	if detector.PrimaryModelPath == "" {
		return nil, ioerrors.New(ioerrors.EConfigMissingModel, "inference.Run", "detector has no primary_model_path", nil)
	}

	start := time.Now()

	primaryPath, err := d.resolver.Ensure(ctx, modelcache.Key{DetectorID: detector.ID.String(), Role: modelcache.RolePrimary}, detector.PrimaryModelPath)
	if err != nil {
		return nil, ioerrors.New(ioerrors.EConfigMissingModel, "inference.Run", "failed to materialize primary model", err)
	}
	primarySession, releasePrimary, err := d.cache.Get(ctx, modelcache.Key{DetectorID: detector.ID.String(), Role: modelcache.RolePrimary}, primaryPath)
	if err != nil {
		return nil, ioerrors.New(ioerrors.EConfigMissingModel, "inference.Run", "failed to load primary session", err)
	}
	defer releasePrimary()

	var oodSession modelcache.Session
	var releaseOODD func()
	oodLoaded := false
	if detector.OODDModelPath != "" {
		oodPath, err := d.resolver.Ensure(ctx, modelcache.Key{DetectorID: detector.ID.String(), Role: modelcache.RoleOODD}, detector.OODDModelPath)
		if err == nil {
			s, rel, err := d.cache.Get(ctx, modelcache.Key{DetectorID: detector.ID.String(), Role: modelcache.RoleOODD}, oodPath)
			if err == nil {
				oodSession, releaseOODD = s, rel
				oodLoaded = true
			}
			// On load failure, continue without OODD (§4.6 step 2); the
			// Dispatcher has no logger, so the failure is not logged and
			// shows only as ModelInfo.OODDLoaded=false.
		}
	}
	if releaseOODD != nil {
		defer releaseOODD()
	}

	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, ioerrors.New(ioerrors.EBadInput, "inference.Run", "failed to decode image", err)
	}

	var oResult *oodd.Result
	if oodLoaded {
		r, err := d.runOODD(oodSession, img)
		if err == nil {
			oResult = &r
		}
	}

	inputSize := d.inputSize
	if cfg != nil && cfg.InputSize > 0 {
		inputSize = cfg.InputSize
	}

	lb, chw := letterboxEncode(img, inputSize)

	runner, ok := primarySession.(interface {
		Run(chw []float32, h, w int) ([]int64, []float32, error)
	})
	if !ok {
		return nil, ioerrors.New(ioerrors.EBadModelOutput, "inference.Run", "primary session does not implement Run", nil)
	}
	shape, data_, err := runner.Run(chw, inputSize, inputSize)
	if err != nil {
		return nil, ioerrors.New(ioerrors.EBadModelOutput, "inference.Run", "primary forward pass failed", err)
	}

	dims := make([]int, len(shape))
	for i, s := range shape {
		dims[i] = int(s)
	}
	params := postprocessParams(detector, cfg)
	boxes, err := vision.Postprocess(vision.Tensor{Shape: dims, Data: data_}, params)
	if err != nil {
		return nil, ioerrors.New(ioerrors.EBadModelOutput, "inference.Run", "postprocess failed", err)
	}

	for i := range boxes {
		boxes[i].X1, boxes[i].Y1, boxes[i].X2, boxes[i].Y2 = lb.ReverseBox(boxes[i].X1, boxes[i].Y1, boxes[i].X2, boxes[i].Y2)
	}

	if oResult != nil && !oResult.IsInDomain {
		mult := oResult.Multiplier()
		for i := range boxes {
			boxes[i].Confidence *= mult
		}
	}

	return &Result{
		Detections: boxes,
		LatencyMS:  time.Since(start).Milliseconds(),
		OODDResult: oResult,
		ModelInfo: ModelInfo{
			DetectorID:  detector.ID,
			PrimaryPath: detector.PrimaryModelPath,
			OODDPath:    detector.OODDModelPath,
			OODDLoaded:  oodLoaded,
		},
	}, nil
}

func postprocessParams(detector *data.Detector, cfg *data.DetectorConfig) vision.Params {
	p := vision.Params{
		ConfThreshold: detector.ConfidenceThreshold,
		ClassNames:    detector.ClassNames,
	}
	dp := data.DefaultDetectionParams()
	if cfg != nil {
		dp = cfg.DetectionParams
		p.PerClassThreshold = cfg.PerClassThreshold
	}
	if dp.MinScoreThreshold > 0 {
		p.ConfThreshold = dp.MinScoreThreshold
	}
	p.IoUThreshold = dp.IoUThreshold
	p.MaxDetections = dp.MaxDetections
	return p
}

func letterboxEncode(img image.Image, size int) (vision.Letterbox, []float32) {
	padded, lb := vision.ApplyLetterbox(img, size)
	chw := vision.ToCHWFloat32(padded)
	return lb, chw
}

func (d *Dispatcher) runOODD(session modelcache.Session, img image.Image) (oodd.Result, error) {
	runner, ok := session.(interface {
		Run(chw []float32, h, w int) ([]int64, []float32, error)
	})
	if !ok {
		return oodd.Result{}, ioerrors.New(ioerrors.EBadModelOutput, "inference.runOODD", "oodd session does not implement Run", nil)
	}
	padded, _ := vision.ApplyLetterbox(img, 224)
	chw := vision.ToCHWImageNet(padded)
	_, out, err := runner.Run(chw, 224, 224)
	if err != nil {
		return oodd.Result{}, err
	}
	return oodd.Evaluate(out, oodd.DefaultCalibratedThreshold), nil
}
