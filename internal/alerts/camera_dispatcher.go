package alerts

import (
	"context"
	"fmt"

	"github.com/technosupport/intellioptics/internal/data"
)

// CameraAlertDispatcher adapts Dispatcher to camerahealth.AlertDispatcher,
// sending a camera-health alert (offline/fps_drop/view_changed/
// high_latency, §4.10 step 6) by email to a fixed operator destination.
type CameraAlertDispatcher struct {
	Dispatch    Dispatcher
	Destination string
}

func (d *CameraAlertDispatcher) DispatchCameraAlert(ctx context.Context, alert *data.CameraAlert, camera *data.Camera) error {
	if d.Dispatch == nil || d.Destination == "" {
		return fmt.Errorf("alerts: camera alert destination not configured")
	}
	message := fmt.Sprintf("camera %q (%s): %s", camera.Name, alert.Type, alert.Message)
	return d.Dispatch.Send(ctx, data.ChannelEmail, d.Destination, message, "")
}
