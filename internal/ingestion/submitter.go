package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/queries"
)

// PipelineSubmitter adapts the Query Pipeline to the Worker's narrow
// Submitter interface, resolving each camera to the detector configured
// to watch it (§4.8 step "GATE -> SUBMIT").
type PipelineSubmitter struct {
	Pipeline        *queries.Pipeline
	DetectorForCamera map[uuid.UUID]uuid.UUID
}

func (s *PipelineSubmitter) SubmitFrame(ctx context.Context, cameraID uuid.UUID, cameraName string, frame image.Image) error {
	detectorID, ok := s.DetectorForCamera[cameraID]
	if !ok {
		return fmt.Errorf("ingestion: no detector configured for camera %s", cameraID)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("ingestion: failed to encode frame: %w", err)
	}

	_, err := s.Pipeline.Submit(ctx, queries.Submission{
		DetectorID: detectorID,
		CameraID:   &cameraID,
		CameraName: cameraName,
		Filename:   fmt.Sprintf("%s.jpg", time.Now().UTC().Format("20060102T150405Z")),
		ImageBytes: buf.Bytes(),
		WantAsync:  true,
	})
	return err
}
