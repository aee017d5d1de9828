package camerahealth

import (
	"context"
	"image"
	"time"

	"github.com/technosupport/intellioptics/internal/ingestion"
)

// FFmpegGrabber adapts the Ingestion Orchestrator's ffmpeg-backed
// Backend to the Inspector's Grabber contract, so both C8 and C10 share
// one RTSP connection implementation rather than each growing its own.
type FFmpegGrabber struct {
	Backend ingestion.Backend
	FPS     int
}

func NewFFmpegGrabber(backend ingestion.Backend) *FFmpegGrabber {
	return &FFmpegGrabber{Backend: backend, FPS: 1}
}

func (g *FFmpegGrabber) Connect(ctx context.Context, rtspURL string, timeout time.Duration) (Stream, time.Duration, error) {
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	playable, err := g.Backend.Resolve(connectCtx, rtspURL)
	if err != nil {
		return nil, 0, err
	}
	fps := g.FPS
	if fps <= 0 {
		fps = 1
	}
	reader, err := g.Backend.Open(connectCtx, playable, fps)
	if err != nil {
		return nil, 0, err
	}
	latency := time.Since(start)
	return &ffmpegStream{reader: reader}, latency, nil
}

type ffmpegStream struct {
	reader ingestion.FrameReader
}

func (s *ffmpegStream) ReadFrame(ctx context.Context) (image.Image, error) {
	return s.reader.ReadFrame()
}

func (s *ffmpegStream) Close() error {
	return s.reader.Close()
}
