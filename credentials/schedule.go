package credentials

import (
	"math"
	"time"

	"github.com/goliatone/go-collab/core"
)

// RefreshDelay returns floor(factor * remaining) where factor is drawn from
// [min, max) by random. Already expired tokens refresh immediately.
func RefreshDelay(remaining time.Duration, min float64, max float64, random func() float64) time.Duration {
	if remaining <= 0 {
		return 0
	}
	if min <= 0 && max <= 0 {
		min, max = core.DefaultRefreshWindowMin, core.DefaultRefreshWindowMax
	}
	if max < min {
		min, max = max, min
	}
	factor := min
	if random != nil {
		factor = min + random()*(max-min)
	}
	ms := math.Floor(factor * float64(remaining.Milliseconds()))
	return time.Duration(ms) * time.Millisecond
}

// Stopper is the cancel handle of an armed refresh timer.
type Stopper interface {
	Stop() bool
}

// AfterFunc arms f after d. time.AfterFunc is the default.
type AfterFunc func(d time.Duration, f func()) Stopper

func timeAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}
