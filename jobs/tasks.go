// Package jobs holds the background worker: scheduled maintenance tasks that
// run outside the request path.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdempotencyCleanup prunes aged idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
	// TaskBalanceWarmup precomputes cached balances for recently active
	// stock keys so the morning rush does not start on a cold cache.
	TaskBalanceWarmup = "ledger:balance_warmup"
)

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// BalanceWarmupPayload caps how many keys one run touches.
type BalanceWarmupPayload struct {
	MaxKeys int `json:"max_keys"`
}

// NewBalanceWarmupTask constructs the warmup task.
func NewBalanceWarmupTask(maxKeys int) (*asynq.Task, error) {
	body, err := json.Marshal(BalanceWarmupPayload{MaxKeys: maxKeys})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceWarmup, body, asynq.Queue(QueueDefault)), nil
}
