package demo

import (
	"context"
	"image"
	"image/color"
	"strings"
)

// MockFrameSource serves synthetic frames for "mock://" and "test://"
// source URLs, mirroring demo_session_manager.py's mock grabber used
// in local/CI demos where no real camera is reachable.
type MockFrameSource struct {
	Delegate FrameSource // real backend for non-mock URLs
}

func (s *MockFrameSource) Open(ctx context.Context, sourceURL string) (FrameStream, error) {
	if strings.HasPrefix(sourceURL, "mock://") || strings.HasPrefix(sourceURL, "test://") {
		return &mockStream{}, nil
	}
	if s.Delegate == nil {
		return nil, errUnsupportedSource
	}
	return s.Delegate.Open(ctx, sourceURL)
}

type mockStream struct{}

func (m *mockStream) ReadFrame(ctx context.Context) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < img.Bounds().Dx(); x++ {
			img.Set(x, y, color.RGBA{R: 80, G: 120, B: 160, A: 255})
		}
	}
	return img, nil
}

func (m *mockStream) Close() error { return nil }

var errUnsupportedSource = mockError("demo: no frame source backend configured for this URL scheme")

type mockError string

func (e mockError) Error() string { return string(e) }
