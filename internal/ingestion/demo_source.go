package ingestion

import (
	"context"
	"image"

	"github.com/technosupport/intellioptics/internal/demo"
)

// DemoFrameSource adapts the ffmpeg-backed Backend to the Demo Session
// Manager's FrameSource contract, so a demo session pointed at a real
// rtsp:// URL reuses the same ffmpeg pipeline as the ingestion
// orchestrator rather than growing its own.
type DemoFrameSource struct {
	Backend Backend
	FPS     int
}

func NewDemoFrameSource(backend Backend) *DemoFrameSource {
	return &DemoFrameSource{Backend: backend, FPS: 1}
}

func (s *DemoFrameSource) Open(ctx context.Context, sourceURL string) (demo.FrameStream, error) {
	playable, err := s.Backend.Resolve(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	fps := s.FPS
	if fps <= 0 {
		fps = 1
	}
	reader, err := s.Backend.Open(ctx, playable, fps)
	if err != nil {
		return nil, err
	}
	return &demoFrameStream{reader: reader}, nil
}

type demoFrameStream struct {
	reader FrameReader
}

func (s *demoFrameStream) ReadFrame(ctx context.Context) (image.Image, error) {
	return s.reader.ReadFrame()
}

func (s *demoFrameStream) Close() error {
	return s.reader.Close()
}
