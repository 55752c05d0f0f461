package interceptors

import (
	"context"
	"errors"
	"net/http"

	"github.com/goliatone/go-collab/core"
)

// DeviceClearer drops the local device registration.
type DeviceClearer interface {
	Clear(ctx context.Context) error
}

// Embargo wipes credentials and the device registration when a service
// answers 451.
type Embargo struct {
	credentials CredentialSource
	devices     DeviceClearer
	telemetry   core.Telemetry
}

func NewEmbargo(credentials CredentialSource, devices DeviceClearer, telemetry core.Telemetry) *Embargo {
	return &Embargo{credentials: credentials, devices: devices, telemetry: telemetry}
}

func (*Embargo) Name() string { return "embargo" }

func (e *Embargo) OnResponseError(ctx context.Context, call *Call, err error) (*core.Response, error) {
	httpErr, ok := core.HTTPErrorFrom(err)
	if !ok || httpErr.StatusCode != http.StatusUnavailableForLegalReasons {
		return nil, err
	}
	var cleanup []error
	if e.credentials != nil {
		cleanup = append(cleanup, e.credentials.Invalidate(ctx))
	}
	if e.devices != nil {
		cleanup = append(cleanup, e.devices.Clear(ctx))
	}
	if cleanupErr := errors.Join(cleanup...); cleanupErr != nil {
		e.telemetry.Error(ctx, "embargo cleanup failed", map[string]any{"error": cleanupErr.Error()})
	}
	e.telemetry.Warn(ctx, "embargoed response wiped credentials", map[string]any{
		"uri":         call.Request.URI,
		"tracking_id": call.Request.TrackingID,
	})
	return nil, &core.EmbargoError{Cause: err}
}
