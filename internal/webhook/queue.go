// Package webhook implements the at-least-once outbound webhook queue.
//
// Each delivery moves through a small state machine:
//
//	queued -> delivered
//	queued -> retrying -> ... -> delivered
//	queued -> retrying -> ... -> dead_letter
//
// A failed attempt increments attempt_count. Once attempt_count reaches
// max_attempts the delivery is dead-lettered and never attempted again;
// otherwise it is rescheduled base_backoff * 2^(attempt_count-1) later.
// Processing is on demand: nothing here runs in the background.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/telemetry"
)

// WildcardEventType subscribes to every fanned-out event type.
const WildcardEventType = "*"

// DeadLetterMaxAttempts is recorded when a delivery exhausts its attempts.
const DeadLetterMaxAttempts = "max_attempts_exceeded"

// Event types fanned out to subscribers.
const (
	EventSessionEnded      = "session_ended"
	EventAdaptationApplied = "adaptation_applied"
	EventBhavEvaluated     = "bhav_evaluated"
)

// Default queue settings.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 5 * time.Second
	DefaultBatchSize   = 100
)

// Config controls retry behaviour.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	BatchSize   int
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseBackoff: DefaultBaseBackoff,
		BatchSize:   DefaultBatchSize,
	}
}

// Result tallies one processing pass.
type Result struct {
	Processed      int `json:"processed"`
	Succeeded      int `json:"succeeded"`
	Retried        int `json:"retried"`
	DeadLettered   int `json:"dead_lettered"`
	FailedAttempts int `json:"failed_attempts"`

	// DateKeys are the creation dates of the deliveries touched, whose
	// ecosystem rows need refreshing.
	DateKeys []string `json:"-"`
}

// Queue fans events out to subscriptions and processes due deliveries.
type Queue struct {
	deliverer Deliverer
	cfg       Config
	logger    *slog.Logger
}

// NewQueue creates a queue. A nil deliverer uses SimulatedDeliverer and
// a nil logger uses slog.Default. Non-positive settings fall back to the
// defaults.
func NewQueue(deliverer Deliverer, cfg Config, logger *slog.Logger) *Queue {
	if deliverer == nil {
		deliverer = SimulatedDeliverer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	return &Queue{deliverer: deliverer, cfg: cfg, logger: logger}
}

// Config returns the effective settings.
func (q *Queue) Config() Config {
	return q.cfg
}

// FanOut queues one delivery per active subscription whose event types
// include eventType or the wildcard. Deliveries are first due at
// eventTime. It returns how many were queued.
func (q *Queue) FanOut(ctx context.Context, tx *store.Tx, eventType string, body payload.Document, eventTime, now time.Time) (int, error) {
	subs, err := tx.ListSubscriptions(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("fan out %s: %w", eventType, err)
	}

	queued := 0
	for _, sub := range subs {
		if !Matches(sub, eventType) {
			continue
		}
		if _, err := tx.InsertDelivery(ctx, store.Delivery{
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Payload:        body,
			Status:         store.DeliveryQueued,
			MaxAttempts:    q.cfg.MaxAttempts,
			NextAttemptAt:  eventTime,
			CreatedAt:      now,
		}); err != nil {
			return queued, fmt.Errorf("fan out %s: %w", eventType, err)
		}
		queued++
	}

	if queued > 0 {
		telemetry.RecordWebhooksQueued(queued)
		q.logger.Debug("webhooks queued", "event_type", eventType, "count", queued)
	}
	return queued, nil
}

// Matches reports whether sub wants eventType.
func Matches(sub store.Subscription, eventType string) bool {
	return slices.Contains(sub.EventTypes, eventType) || slices.Contains(sub.EventTypes, WildcardEventType)
}

// Process attempts up to batchSize due deliveries in id order. With force
// the schedule is ignored. A non-positive batchSize uses the configured
// batch size.
func (q *Queue) Process(ctx context.Context, tx *store.Tx, now time.Time, batchSize int, force bool) (Result, error) {
	if batchSize < 1 {
		batchSize = q.cfg.BatchSize
	}
	due, err := tx.DueDeliveries(ctx, now, force, batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("process webhooks: %w", err)
	}

	var res Result
	for _, dd := range due {
		res.Processed++
		res.DateKeys = append(res.DateKeys, store.DateKey(dd.CreatedAt))

		d := q.attempt(ctx, dd, now)
		switch d.Status {
		case store.DeliveryDelivered:
			res.Succeeded++
		case store.DeliveryRetrying:
			res.Retried++
			res.FailedAttempts++
		case store.DeliveryDeadLetter:
			res.DeadLettered++
			res.FailedAttempts++
		}
		telemetry.RecordWebhookAttempt(d.Status)

		if err := tx.UpdateDelivery(ctx, d); err != nil {
			return Result{}, fmt.Errorf("process webhooks: %w", err)
		}
	}

	slices.Sort(res.DateKeys)
	res.DateKeys = slices.Compact(res.DateKeys)

	q.logger.Info("webhooks processed",
		"processed", res.Processed,
		"succeeded", res.Succeeded,
		"retried", res.Retried,
		"dead_lettered", res.DeadLettered,
	)
	return res, nil
}

// attempt delivers dd once and returns the delivery's next state.
func (q *Queue) attempt(ctx context.Context, dd store.DueDelivery, now time.Time) store.Delivery {
	d := dd.Delivery
	err := q.deliverer.Deliver(ctx, dd)
	if err == nil {
		d.Status = store.DeliveryDelivered
		d.DeliveredAt = &now
		d.LastError = ""
		return d
	}

	d.AttemptCount++
	d.LastError = err.Error()
	if d.AttemptCount >= max(1, d.MaxAttempts) {
		d.Status = store.DeliveryDeadLetter
		d.DeadLetteredAt = &now
		d.DeadLetterReason = DeadLetterMaxAttempts
		q.logger.Warn("webhook dead-lettered", "delivery_id", d.ID, "attempts", d.AttemptCount, "error", err)
		return d
	}

	d.Status = store.DeliveryRetrying
	d.NextAttemptAt = now.Add(Backoff(q.cfg.BaseBackoff, d.AttemptCount))
	q.logger.Debug("webhook retry scheduled", "delivery_id", d.ID, "attempts", d.AttemptCount, "next_attempt_at", d.NextAttemptAt)
	return d
}

// MaxBackoff caps the delay between attempts.
const MaxBackoff = 24 * time.Hour

// Backoff is the delay before the next attempt after attempts failures:
// base * 2^(attempts-1), with base floored at one second and the result
// capped at MaxBackoff.
func Backoff(base time.Duration, attempts int) time.Duration {
	base = min(max(time.Second, base), MaxBackoff)
	if attempts < 1 {
		return base
	}
	d := base
	for i := 1; i < attempts && d < MaxBackoff; i++ {
		d *= 2
	}
	return min(d, MaxBackoff)
}
