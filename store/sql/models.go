package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type storeEntryRecord struct {
	bun.BaseModel `bun:"table:collab_store_entries,alias:cse"`

	ID        string    `bun:"id,pk"`
	Namespace string    `bun:"namespace,notnull"`
	EntryKey  string    `bun:"entry_key,notnull"`
	Value     []byte    `bun:"value,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:collab_rate_limit_states,alias:crl"`

	ID             string     `bun:"id,pk"`
	Service        string     `bun:"service,notnull"`
	Bucket         string     `bun:"bucket,notnull"`
	Limit          int        `bun:"limit_value,notnull"`
	Remaining      int        `bun:"remaining,notnull"`
	ResetAt        *time.Time `bun:"reset_at,nullzero"`
	RetryAfter     *int       `bun:"retry_after_seconds"`
	ThrottledUntil *time.Time `bun:"throttled_until,nullzero"`
	LastStatus     int        `bun:"last_status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
