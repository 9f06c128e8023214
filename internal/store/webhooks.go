package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/sadhana/internal/payload"
)

// Delivery statuses.
const (
	DeliveryQueued     = "queued"
	DeliveryRetrying   = "retrying"
	DeliveryDelivered  = "delivered"
	DeliveryDeadLetter = "dead_letter"
)

// Subscription is a webhook target and the event types it receives.
type Subscription struct {
	ID         int64     `json:"id"`
	TargetURL  string    `json:"target_url"`
	AdapterID  string    `json:"adapter_id"`
	EventTypes []string  `json:"event_types"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Delivery is one queued webhook send.
type Delivery struct {
	ID               int64            `json:"id"`
	SubscriptionID   int64            `json:"subscription_id"`
	EventType        string           `json:"event_type"`
	Payload          payload.Document `json:"payload"`
	Status           string           `json:"status"`
	AttemptCount     int              `json:"attempt_count"`
	MaxAttempts      int              `json:"max_attempts"`
	NextAttemptAt    time.Time        `json:"next_attempt_at"`
	DeliveredAt      *time.Time       `json:"delivered_at"`
	DeadLetteredAt   *time.Time       `json:"dead_lettered_at"`
	LastError        string           `json:"last_error,omitempty"`
	DeadLetterReason string           `json:"dead_letter_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// DueDelivery pairs a delivery with its subscription's target.
type DueDelivery struct {
	Delivery
	TargetURL string
}

// InsertSubscription stores a subscription and returns it with its id.
func (t *Tx) InsertSubscription(ctx context.Context, s Subscription) (Subscription, error) {
	if s.EventTypes == nil {
		s.EventTypes = []string{}
	}
	types, err := marshalJSON(s.EventTypes)
	if err != nil {
		return Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (target_url, adapter_id, event_types_json, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.TargetURL, s.AdapterID, types, boolInt(s.IsActive), FormatTime(s.CreatedAt))
	if err != nil {
		return Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return Subscription{}, fmt.Errorf("insert subscription: last insert id: %w", err)
	}
	return s, nil
}

// ListSubscriptions returns subscriptions by id. With activeOnly, inactive
// subscriptions are skipped.
func (t *Tx) ListSubscriptions(ctx context.Context, activeOnly bool) ([]Subscription, error) {
	query := `SELECT id, target_url, adapter_id, event_types_json, is_active, created_at FROM webhook_subscriptions`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	return collect(rows, "subscription", func(r *sql.Rows) (Subscription, error) {
		var s Subscription
		var types, created string
		if err := r.Scan(&s.ID, &s.TargetURL, &s.AdapterID, &types, &s.IsActive, &created); err != nil {
			return Subscription{}, err
		}
		var err error
		if s.CreatedAt, err = ParseTime(created); err != nil {
			return Subscription{}, err
		}
		err = unmarshalJSON(types, &s.EventTypes)
		return s, err
	})
}

// InsertDelivery queues a delivery and returns it with its id.
func (t *Tx) InsertDelivery(ctx context.Context, d Delivery) (Delivery, error) {
	body, err := marshalDocument(d.Payload)
	if err != nil {
		return Delivery{}, fmt.Errorf("insert delivery: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_deliveries
		(subscription_id, event_type, payload_json, status, attempt_count, max_attempts,
		 next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.SubscriptionID, d.EventType, body, d.Status, d.AttemptCount, d.MaxAttempts,
		FormatTime(d.NextAttemptAt), FormatTime(d.CreatedAt),
	)
	if err != nil {
		return Delivery{}, fmt.Errorf("insert delivery: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return Delivery{}, fmt.Errorf("insert delivery: last insert id: %w", err)
	}
	return d, nil
}

const deliveryColumns = `d.id, d.subscription_id, d.event_type, d.payload_json, d.status,
	d.attempt_count, d.max_attempts, d.next_attempt_at, d.delivered_at, d.dead_lettered_at,
	d.last_error, d.dead_letter_reason, d.created_at`

// DueDeliveries returns up to limit queued or retrying deliveries whose
// next attempt is at or before now, ordered by id. With force the
// schedule is ignored.
func (t *Tx) DueDeliveries(ctx context.Context, now time.Time, force bool, limit int) ([]DueDelivery, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+deliveryColumns+`, s.target_url
		FROM webhook_deliveries d
		JOIN webhook_subscriptions s ON s.id = d.subscription_id
		WHERE d.status IN (?, ?) AND (? OR d.next_attempt_at <= ?)
		ORDER BY d.id ASC
		LIMIT ?
	`, DeliveryQueued, DeliveryRetrying, boolInt(force), FormatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due deliveries: %w", err)
	}
	return collect(rows, "delivery", func(r *sql.Rows) (DueDelivery, error) {
		var dd DueDelivery
		d, err := scanDelivery(r, &dd.TargetURL)
		dd.Delivery = d
		return dd, err
	})
}

// UpdateDelivery persists the state-machine fields of a delivery.
func (t *Tx) UpdateDelivery(ctx context.Context, d Delivery) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = ?, attempt_count = ?, next_attempt_at = ?, delivered_at = ?,
		    dead_lettered_at = ?, last_error = ?, dead_letter_reason = ?
		WHERE id = ?
	`,
		d.Status, d.AttemptCount, FormatTime(d.NextAttemptAt), nullTime(d.DeliveredAt),
		nullTime(d.DeadLetteredAt), nullString(d.LastError), nullString(d.DeadLetterReason),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("update delivery %d: %w", d.ID, err)
	}
	return nil
}

// ListDeliveries returns deliveries by id, optionally filtered by status.
func (t *Tx) ListDeliveries(ctx context.Context, status string, limit int) ([]Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries d`
	var args []any
	if status != "" {
		query += ` WHERE d.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY d.id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	return collect(rows, "delivery", func(r *sql.Rows) (Delivery, error) { return scanDelivery(r) })
}

// DeliveryFunnel summarises deliveries created on a date.
type DeliveryFunnel struct {
	Pending        int
	Delivered      int
	Retrying       int
	DeadLettered   int
	FailedAttempts int
}

// DeliveryFunnelOn aggregates the deliveries created on dateKey.
func (t *Tx) DeliveryFunnelOn(ctx context.Context, dateKey string) (DeliveryFunnel, error) {
	var f DeliveryFunnel
	err := t.tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(status IN (?, ?)), 0),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(attempt_count), 0)
		FROM webhook_deliveries
		WHERE substr(created_at, 1, 10) = ?
	`,
		DeliveryQueued, DeliveryRetrying, DeliveryDelivered, DeliveryRetrying, DeliveryDeadLetter,
		dateKey,
	).Scan(&f.Pending, &f.Delivered, &f.Retrying, &f.DeadLettered, &f.FailedAttempts)
	if err != nil {
		return DeliveryFunnel{}, fmt.Errorf("delivery funnel on %s: %w", dateKey, err)
	}
	return f, nil
}

// DeliveryDates returns every distinct delivery creation date.
func (t *Tx) DeliveryDates(ctx context.Context) ([]string, error) {
	return t.dateKeys(ctx, "delivery dates", `SELECT DISTINCT substr(created_at, 1, 10) FROM webhook_deliveries`)
}

func scanDelivery(r *sql.Rows, extra ...any) (Delivery, error) {
	var d Delivery
	var body, next, created string
	var delivered, dead, lastErr, reason sql.NullString
	dest := []any{
		&d.ID, &d.SubscriptionID, &d.EventType, &body, &d.Status,
		&d.AttemptCount, &d.MaxAttempts, &next, &delivered, &dead,
		&lastErr, &reason, &created,
	}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return Delivery{}, err
	}
	d.LastError = lastErr.String
	d.DeadLetterReason = reason.String

	var err error
	if d.NextAttemptAt, err = ParseTime(next); err != nil {
		return Delivery{}, err
	}
	if d.CreatedAt, err = ParseTime(created); err != nil {
		return Delivery{}, err
	}
	if d.DeliveredAt, err = parseNullTime(delivered); err != nil {
		return Delivery{}, err
	}
	if d.DeadLetteredAt, err = parseNullTime(dead); err != nil {
		return Delivery{}, err
	}
	d.Payload, err = unmarshalDocument(body)
	return d, err
}
