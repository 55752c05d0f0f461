package sqlstore

import (
	"github.com/goliatone/go-collab/core"
	"github.com/goliatone/go-collab/ratelimit"
)

var (
	_ core.KeyValueStore   = (*KeyValueStore)(nil)
	_ core.KeyValueStore   = (*CachedKeyValueStore)(nil)
	_ ratelimit.StateStore = (*RateLimitStateStore)(nil)
)
