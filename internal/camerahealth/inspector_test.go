package camerahealth

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/technosupport/intellioptics/internal/data"
)

// mockCameras and mockHealth mirror the teacher's MockHealthRepo
// (internal/health/test_mocks.go): a testify mock.Mock per repository
// interface rather than hand-written fakes.
type mockCameras struct{ mock.Mock }

func (m *mockCameras) Create(ctx context.Context, c *data.Camera) error {
	return m.Called(ctx, c).Error(0)
}
func (m *mockCameras) GetByID(ctx context.Context, id uuid.UUID) (*data.Camera, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.Camera), args.Error(1)
}
func (m *mockCameras) UpdateStatus(ctx context.Context, id uuid.UUID, status string, healthScore float64) error {
	return m.Called(ctx, id, status, healthScore).Error(0)
}
func (m *mockCameras) SetBaseline(ctx context.Context, id uuid.UUID, imagePath string) error {
	return m.Called(ctx, id, imagePath).Error(0)
}
func (m *mockCameras) SetViewChanged(ctx context.Context, id uuid.UUID, changed bool) error {
	return m.Called(ctx, id, changed).Error(0)
}
func (m *mockCameras) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockCameras) List(ctx context.Context, hubID *uuid.UUID, limit, offset int) ([]*data.Camera, error) {
	args := m.Called(ctx, hubID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*data.Camera), args.Error(1)
}

type mockHealth struct{ mock.Mock }

func (m *mockHealth) AddSample(ctx context.Context, h *data.CameraHealth) error {
	return m.Called(ctx, h).Error(0)
}
func (m *mockHealth) GetLatest(ctx context.Context, cameraID uuid.UUID) (*data.CameraHealth, error) {
	args := m.Called(ctx, cameraID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.CameraHealth), args.Error(1)
}
func (m *mockHealth) ListHistory(ctx context.Context, cameraID uuid.UUID, limit, offset int) ([]*data.CameraHealth, error) {
	args := m.Called(ctx, cameraID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*data.CameraHealth), args.Error(1)
}
func (m *mockHealth) PruneHistory(ctx context.Context, cameraID uuid.UUID, maxRecords int) error {
	return m.Called(ctx, cameraID, maxRecords).Error(0)
}
func (m *mockHealth) CreateInspectionRun(ctx context.Context, r *data.InspectionRun) error {
	return m.Called(ctx, r).Error(0)
}
func (m *mockHealth) CompleteInspectionRun(ctx context.Context, r *data.InspectionRun) error {
	return m.Called(ctx, r).Error(0)
}
func (m *mockHealth) CreateCameraAlert(ctx context.Context, a *data.CameraAlert) error {
	return m.Called(ctx, a).Error(0)
}
func (m *mockHealth) ListCameraAlerts(ctx context.Context, cameraID uuid.UUID, limit int) ([]*data.CameraAlert, error) {
	args := m.Called(ctx, cameraID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*data.CameraAlert), args.Error(1)
}
func (m *mockHealth) ListTargets(ctx context.Context) ([]data.CameraHealthTarget, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]data.CameraHealthTarget), args.Error(1)
}

type fakeStream struct{ img image.Image }

func (s *fakeStream) ReadFrame(ctx context.Context) (image.Image, error) { return s.img, nil }
func (s *fakeStream) Close() error                                      { return nil }

type fakeGrabber struct {
	stream  Stream
	latency time.Duration
	err     error
}

func (g *fakeGrabber) Connect(ctx context.Context, rtspURL string, timeout time.Duration) (Stream, time.Duration, error) {
	if g.err != nil {
		return nil, 0, g.err
	}
	return g.stream, g.latency, nil
}

func solidFrame(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// TestMonitorFor_CachesAndReusesPerCamera covers the hashicorp/golang-lru-backed
// per-camera Monitor cache: the same camera ID must always resolve to
// the same *Monitor instance so its reference frame persists across
// inspection cycles, and distinct cameras must never share one (§4.9).
func TestMonitorFor_CachesAndReusesPerCamera(t *testing.T) {
	insp := NewInspector(DefaultInspectorConfig(), nil, nil, nil, nil, slog.Default())

	camA := uuid.New()
	camB := uuid.New()

	m1 := insp.monitorFor(camA)
	m2 := insp.monitorFor(camA)
	assert.Same(t, m1, m2, "expected the same Monitor instance for repeated lookups of one camera")

	m3 := insp.monitorFor(camB)
	assert.NotSame(t, m1, m3, "expected distinct cameras to get distinct Monitor instances")
}

// TestInspectCamera_OfflineOnConnectFailure covers §4.10's offline path:
// a Connect error must record an offline sample, mark the camera
// offline, and fire an offline CameraAlert, without touching the
// per-camera Monitor.
func TestInspectCamera_OfflineOnConnectFailure(t *testing.T) {
	cameras := new(mockCameras)
	health := new(mockHealth)
	camera := &data.Camera{ID: uuid.New(), RTSPURL: "rtsp://unreachable.local/stream"}

	cameras.On("GetByID", mock.Anything, camera.ID).Return(camera, nil)
	cameras.On("UpdateStatus", mock.Anything, camera.ID, "offline", 0.0).Return(nil)
	health.On("AddSample", mock.Anything, mock.MatchedBy(func(h *data.CameraHealth) bool {
		return h.Status == "offline"
	})).Return(nil)
	health.On("CreateCameraAlert", mock.Anything, mock.MatchedBy(func(a *data.CameraAlert) bool {
		return a.Type == "offline"
	})).Return(nil)

	insp := NewInspector(DefaultInspectorConfig(), cameras, health, &fakeGrabber{err: assertErr{}}, nil, slog.Default())

	status := insp.inspectCamera(context.Background(), data.CameraHealthTarget{CameraID: camera.ID, RTSPURL: camera.RTSPURL})
	assert.Equal(t, "offline", status)
	cameras.AssertExpectations(t)
	health.AssertExpectations(t)
}

// TestInspectCamera_HealthyRecordsSample covers the happy path: a
// reachable camera with frames available records a sample and updates
// the camera's status to whatever the frame Monitor assessed.
func TestInspectCamera_HealthyRecordsSample(t *testing.T) {
	cameras := new(mockCameras)
	health := new(mockHealth)
	camera := &data.Camera{ID: uuid.New(), RTSPURL: "rtsp://ok.local/stream"}

	cameras.On("GetByID", mock.Anything, camera.ID).Return(camera, nil)
	cameras.On("UpdateStatus", mock.Anything, camera.ID, mock.Anything, mock.Anything).Return(nil)
	health.On("AddSample", mock.Anything, mock.Anything).Return(nil)

	cfg := DefaultInspectorConfig()
	cfg.SampleFrames = 3
	stream := &fakeStream{img: solidFrame(color.RGBA{R: 128, G: 128, B: 128, A: 255})}
	insp := NewInspector(cfg, cameras, health, &fakeGrabber{stream: stream, latency: 50 * time.Millisecond}, nil, slog.Default())

	status := insp.inspectCamera(context.Background(), data.CameraHealthTarget{CameraID: camera.ID, RTSPURL: camera.RTSPURL})
	assert.NotEqual(t, "offline", status)
	assert.NotEqual(t, "failed", status)
	cameras.AssertExpectations(t)
	health.AssertExpectations(t)
}

type assertErr struct{}

func (assertErr) Error() string { return "connect failed" }
