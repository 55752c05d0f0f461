package interceptors

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/goliatone/go-collab/core"
)

const retrySuffix = "_retry"

// Tracking stamps the trackingid header with <session>_<uuid>_<n>. Replays
// keep the id of the original attempt and append _retry once.
type Tracking struct {
	sessionID string
	counter   atomic.Uint64
}

func NewTracking(sessionName string) *Tracking {
	sessionName = strings.TrimSpace(sessionName)
	if sessionName == "" {
		sessionName = core.DefaultSessionName
	}
	return &Tracking{sessionID: sessionName + "_" + uuid.NewString()}
}

func (*Tracking) Name() string { return "tracking" }

// SessionID is the per session prefix of every tracking id.
func (t *Tracking) SessionID() string {
	return t.sessionID
}

func (t *Tracking) OnRequest(_ context.Context, call *Call) error {
	req := call.Request
	if explicit := req.Header(core.HeaderTrackingID); explicit != "" && req.TrackingID == "" {
		req.TrackingID = explicit
		return nil
	}
	switch {
	case req.TrackingID == "":
		req.TrackingID = t.sessionID + "_" + strconv.FormatUint(t.counter.Add(1), 10)
	case !strings.HasSuffix(req.TrackingID, retrySuffix):
		req.TrackingID += retrySuffix
	}
	req.SetHeader(core.HeaderTrackingID, req.TrackingID)
	return nil
}
