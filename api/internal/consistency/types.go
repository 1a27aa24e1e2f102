package consistency

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	OpSyncToCache    = "sync_to_cache"
	OpSyncToDB       = "sync_to_db"
	OpEvictFromCache = "evict_from_cache"
)

var (
	ErrEntityNotFound   = errors.New("entity not found")
	ErrUnknownOperation = errors.New("unknown failed-write operation")
	ErrUnknownEntity    = errors.New("unknown entity type")
)

// FailedWrite is one pending repair of a partial dual write.
type FailedWrite struct {
	ID          string          `json:"id"`
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	Error       string          `json:"error"`
	RetryCount  int             `json:"retryCount"`
	CreatedAt   time.Time       `json:"createdAt"`
	LastRetryAt *time.Time      `json:"lastRetryAt"`
}

type RetryResult struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Mismatch struct {
	EntityID string `json:"entityId"`
	Issue    string `json:"issue"`
}

type EntityReport struct {
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

type Report struct {
	CheckedAt            time.Time    `json:"checkedAt"`
	Users                EntityReport `json:"users"`
	Posts                EntityReport `json:"posts"`
	TotalChecked         int          `json:"totalChecked"`
	TotalInconsistencies int          `json:"totalInconsistencies"`
}

type EntityCounts struct {
	Checked    int `json:"checked"`
	Mismatches int `json:"mismatches"`
}

// Summary is the condensed report kept at consistency:stats.
type Summary struct {
	CheckedAt            time.Time    `json:"checkedAt"`
	Users                EntityCounts `json:"users"`
	Posts                EntityCounts `json:"posts"`
	TotalChecked         int          `json:"totalChecked"`
	TotalInconsistencies int          `json:"totalInconsistencies"`
}

func (r Report) Summary() Summary {
	return Summary{
		CheckedAt:            r.CheckedAt,
		Users:                EntityCounts{Checked: r.Users.Checked, Mismatches: len(r.Users.Mismatches)},
		Posts:                EntityCounts{Checked: r.Posts.Checked, Mismatches: len(r.Posts.Mismatches)},
		TotalChecked:         r.TotalChecked,
		TotalInconsistencies: r.TotalInconsistencies,
	}
}

type RepairError struct {
	EntityID string `json:"entityId"`
	Error    string `json:"error"`
}

type RepairResult struct {
	Repaired int           `json:"repaired"`
	Errors   []RepairError `json:"errors"`
}

type FailedWriteStats struct {
	PendingCount int           `json:"pendingCount"`
	Records      []FailedWrite `json:"records"`
}

type PendingCounts struct {
	Pending int64 `json:"pending"`
}

type MonitoringMetrics struct {
	FailedWrites         PendingCounts `json:"failedWrites"`
	LastConsistencyCheck *Summary      `json:"lastConsistencyCheck"`
}

// Cache is the cache adapter surface the subsystem needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Del(ctx context.Context, key string) error
	ListPush(ctx context.Context, key string, value string) error
	ListRange(ctx context.Context, key string, start int64, stop int64) ([]string, error)
	ListRemove(ctx context.Context, key string, value string) error
	ListLen(ctx context.Context, key string) (int64, error)
}

// Locker guards scheduled sweeps across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// ReportSink receives audit and repair counts for long-term history.
type ReportSink interface {
	WriteCheck(ctx context.Context, entityType string, checked int, mismatches int, ts time.Time) error
	WriteRepair(ctx context.Context, repaired int, failed int, ts time.Time) error
}
