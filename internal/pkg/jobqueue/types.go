package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	// Redis keys
	JobKeyPrefix   = "swedbankpay_queue_"
	JobDataKey     = "swedbankpay:queue:jobs"
	JobIndexKey    = "swedbankpay:queue:index"
	JobSequenceKey = "swedbankpay:queue:seq"
	LockKey        = "swedbankpay:queue:lock"

	DefaultBatchSize = 25
)

var (
	// ErrLockHeld is returned when another run owns the process lock.
	ErrLockHeld = errors.New("couldn't get the lock, the queue is possibly already running")
	// ErrJobNotFound is returned by stores for unknown keys.
	ErrJobNotFound = errors.New("job not found")
)

// Payload is the persisted job body.
type Payload struct {
	PaymentMethodID string `json:"payment_method_id"`
	WebhookData     string `json:"webhook_data"`
	WebhookEventID  uint   `json:"webhook_event_id,omitempty"`
}

// Job is a queued webhook waiting to be reconciled.
type Job struct {
	Key       string    `json:"key"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// ToJSON serializes the job for storage.
func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// JobFromJSON restores a stored job.
func JobFromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// HandlerResult tells the runner what to do with a processed job.
type HandlerResult int

const (
	// ResultDone removes the job, whether it succeeded or failed permanently.
	ResultDone HandlerResult = iota
	// ResultRetry leaves the job in the store for the next run.
	ResultRetry
)

func (r HandlerResult) String() string {
	if r == ResultRetry {
		return "retry"
	}
	return "done"
}

// Handler processes one job.
type Handler interface {
	Handle(ctx context.Context, job Job) HandlerResult
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) HandlerResult

func (f HandlerFunc) Handle(ctx context.Context, job Job) HandlerResult {
	return f(ctx, job)
}
