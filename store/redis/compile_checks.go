package redisstore

import "github.com/goliatone/go-collab/core"

var _ core.KeyValueStore = (*KeyValueStore)(nil)
