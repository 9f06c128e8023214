package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BusinessDaily is one row of the business signal projection.
type BusinessDaily struct {
	DateKey               string    `json:"date_key"`
	SessionsStarted       int       `json:"sessions_started"`
	SessionsCompleted     int       `json:"sessions_completed"`
	MeaningfulSessions    int       `json:"meaningful_sessions"`
	AvgUserValueRating    float64   `json:"avg_user_value_rating"`
	AdaptationHelpfulRate float64   `json:"adaptation_helpful_rate"`
	Day7ReturningUsers    int       `json:"day7_returning_users"`
	UniqueActiveUsers     int       `json:"unique_active_users"`
	BhavPassRate          float64   `json:"bhav_pass_rate"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// EcosystemDaily is one row of the ecosystem usage projection.
type EcosystemDaily struct {
	DateKey                    string    `json:"date_key"`
	InboundPartnerEvents       int       `json:"inbound_partner_events"`
	OutboundWebhooksQueued     int       `json:"outbound_webhooks_queued"`
	WebhookDeliveriesSucceeded int       `json:"webhook_deliveries_succeeded"`
	WebhookDeliveriesRetrying  int       `json:"webhook_deliveries_retrying"`
	WebhookDeadLetters         int       `json:"webhook_dead_letters"`
	WebhookFailedAttempts      int       `json:"webhook_failed_attempts"`
	ExportsGenerated           int       `json:"exports_generated"`
	WearableAdapterEvents      int       `json:"wearable_adapter_events"`
	ContentExportEvents        int       `json:"content_export_events"`
	UniquePartnerSources       int       `json:"unique_partner_sources"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

const businessColumns = `date_key, sessions_started, sessions_completed, meaningful_sessions,
	avg_user_value_rating, adaptation_helpful_rate, day7_returning_users,
	unique_active_users, bhav_pass_rate, updated_at`

const ecosystemColumns = `date_key, inbound_partner_events, outbound_webhooks_queued,
	webhook_deliveries_succeeded, webhook_deliveries_retrying, webhook_dead_letters,
	webhook_failed_attempts, exports_generated, wearable_adapter_events,
	content_export_events, unique_partner_sources, updated_at`

// UpsertBusinessDaily writes b, replacing any existing row for its date.
func (t *Tx) UpsertBusinessDaily(ctx context.Context, b BusinessDaily) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO business_signal_daily (`+businessColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date_key) DO UPDATE SET
			sessions_started = excluded.sessions_started,
			sessions_completed = excluded.sessions_completed,
			meaningful_sessions = excluded.meaningful_sessions,
			avg_user_value_rating = excluded.avg_user_value_rating,
			adaptation_helpful_rate = excluded.adaptation_helpful_rate,
			day7_returning_users = excluded.day7_returning_users,
			unique_active_users = excluded.unique_active_users,
			bhav_pass_rate = excluded.bhav_pass_rate,
			updated_at = excluded.updated_at
	`,
		b.DateKey, b.SessionsStarted, b.SessionsCompleted, b.MeaningfulSessions,
		b.AvgUserValueRating, b.AdaptationHelpfulRate, b.Day7ReturningUsers,
		b.UniqueActiveUsers, b.BhavPassRate, FormatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert business daily %s: %w", b.DateKey, err)
	}
	return nil
}

// UpsertEcosystemDaily writes e, replacing any existing row for its date.
func (t *Tx) UpsertEcosystemDaily(ctx context.Context, e EcosystemDaily) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ecosystem_usage_daily (`+ecosystemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date_key) DO UPDATE SET
			inbound_partner_events = excluded.inbound_partner_events,
			outbound_webhooks_queued = excluded.outbound_webhooks_queued,
			webhook_deliveries_succeeded = excluded.webhook_deliveries_succeeded,
			webhook_deliveries_retrying = excluded.webhook_deliveries_retrying,
			webhook_dead_letters = excluded.webhook_dead_letters,
			webhook_failed_attempts = excluded.webhook_failed_attempts,
			exports_generated = excluded.exports_generated,
			wearable_adapter_events = excluded.wearable_adapter_events,
			content_export_events = excluded.content_export_events,
			unique_partner_sources = excluded.unique_partner_sources,
			updated_at = excluded.updated_at
	`,
		e.DateKey, e.InboundPartnerEvents, e.OutboundWebhooksQueued,
		e.WebhookDeliveriesSucceeded, e.WebhookDeliveriesRetrying, e.WebhookDeadLetters,
		e.WebhookFailedAttempts, e.ExportsGenerated, e.WearableAdapterEvents,
		e.ContentExportEvents, e.UniquePartnerSources, FormatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert ecosystem daily %s: %w", e.DateKey, err)
	}
	return nil
}

// BusinessDailyOn returns the business row for dateKey, or the newest row
// when dateKey is empty. ErrNotFound when there is none.
func (t *Tx) BusinessDailyOn(ctx context.Context, dateKey string) (BusinessDaily, error) {
	query := `SELECT ` + businessColumns + ` FROM business_signal_daily`
	row := t.latestOrDate(ctx, query, dateKey)

	var b BusinessDaily
	var updated string
	err := row.Scan(
		&b.DateKey, &b.SessionsStarted, &b.SessionsCompleted, &b.MeaningfulSessions,
		&b.AvgUserValueRating, &b.AdaptationHelpfulRate, &b.Day7ReturningUsers,
		&b.UniqueActiveUsers, &b.BhavPassRate, &updated,
	)
	if err != nil {
		return BusinessDaily{}, dailyErr("business daily", dateKey, err)
	}
	if b.UpdatedAt, err = ParseTime(updated); err != nil {
		return BusinessDaily{}, err
	}
	return b, nil
}

// EcosystemDailyOn returns the ecosystem row for dateKey, or the newest
// row when dateKey is empty. ErrNotFound when there is none.
func (t *Tx) EcosystemDailyOn(ctx context.Context, dateKey string) (EcosystemDaily, error) {
	query := `SELECT ` + ecosystemColumns + ` FROM ecosystem_usage_daily`
	row := t.latestOrDate(ctx, query, dateKey)

	var e EcosystemDaily
	var updated string
	err := row.Scan(
		&e.DateKey, &e.InboundPartnerEvents, &e.OutboundWebhooksQueued,
		&e.WebhookDeliveriesSucceeded, &e.WebhookDeliveriesRetrying, &e.WebhookDeadLetters,
		&e.WebhookFailedAttempts, &e.ExportsGenerated, &e.WearableAdapterEvents,
		&e.ContentExportEvents, &e.UniquePartnerSources, &updated,
	)
	if err != nil {
		return EcosystemDaily{}, dailyErr("ecosystem daily", dateKey, err)
	}
	if e.UpdatedAt, err = ParseTime(updated); err != nil {
		return EcosystemDaily{}, err
	}
	return e, nil
}

// ListSessions returns every session ordered by start time.
func (t *Tx) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions ORDER BY started_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return collect(rows, "session", scanSessionRows)
}

func (t *Tx) latestOrDate(ctx context.Context, query, dateKey string) *sql.Row {
	if dateKey == "" {
		return t.tx.QueryRowContext(ctx, query+` ORDER BY date_key DESC LIMIT 1`)
	}
	return t.tx.QueryRowContext(ctx, query+` WHERE date_key = ?`, dateKey)
}

func dailyErr(what, dateKey string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if dateKey == "" {
		dateKey = "latest"
	}
	return fmt.Errorf("get %s %s: %w", what, dateKey, err)
}
