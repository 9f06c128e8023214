// Package projection maintains the derived daily views of the event log.
//
// Every daily row is recomputed from source for its date key, so the
// incremental path (refresh the dates a write touched, inside the same
// transaction) and the full path (refresh every date present anywhere)
// always agree.
package projection

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/sadhana/internal/store"
)

// Adapter id prefixes counted by the ecosystem projection.
const (
	WearableAdapterPrefix = "wearable_"
	ContentAdapterPrefix  = "content_"
)

// Maintainer refreshes business and ecosystem daily rows.
//
// Thread-safety: Maintainer holds no mutable state. Callers supply the
// transaction, and concurrent refreshes of one date converge because
// each writes a full recompute through an atomic upsert.
type Maintainer struct {
	logger *slog.Logger
}

// NewMaintainer creates a maintainer. A nil logger uses slog.Default.
func NewMaintainer(logger *slog.Logger) *Maintainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{logger: logger}
}

// RefreshDate recomputes both daily rows for dateKey.
func (m *Maintainer) RefreshDate(ctx context.Context, tx *store.Tx, dateKey string, now time.Time) error {
	if _, err := m.RefreshEcosystem(ctx, tx, dateKey, now); err != nil {
		return err
	}
	_, err := m.RefreshBusiness(ctx, tx, dateKey, now)
	return err
}

// RefreshDates refreshes each distinct, non-empty key once, in order.
func (m *Maintainer) RefreshDates(ctx context.Context, tx *store.Tx, dateKeys []string, now time.Time) error {
	for _, key := range uniqueSorted(dateKeys) {
		if err := m.RefreshDate(ctx, tx, key, now); err != nil {
			return err
		}
	}
	return nil
}

// RefreshBusiness recomputes the business signal row for dateKey.
func (m *Maintainer) RefreshBusiness(ctx context.Context, tx *store.Tx, dateKey string, now time.Time) (store.BusinessDaily, error) {
	started, err := tx.SessionsStartedOn(ctx, dateKey)
	if err != nil {
		return store.BusinessDaily{}, err
	}
	ended, err := tx.SessionsEndedOn(ctx, dateKey)
	if err != nil {
		return store.BusinessDaily{}, err
	}

	users := make(map[string]struct{}, len(started))
	for _, s := range started {
		users[s.UserID] = struct{}{}
	}

	var ratings, helpful []float64
	meaningful := 0
	for _, s := range ended {
		if s.Summary == nil {
			continue
		}
		if s.Summary.MeaningfulSession {
			meaningful++
		}
		if s.Summary.UserValueRating != nil {
			ratings = append(ratings, *s.Summary.UserValueRating)
		}
		helpful = append(helpful, s.Summary.AdaptationHelpfulRate)
	}

	total, passed, err := tx.BhavPassCounts(ctx, dateKey)
	if err != nil {
		return store.BusinessDaily{}, err
	}

	returning := 0
	if len(users) > 0 {
		if returning, err = tx.ReturningUsersOn(ctx, dateKey); err != nil {
			return store.BusinessDaily{}, err
		}
	}

	row := store.BusinessDaily{
		DateKey:               dateKey,
		SessionsStarted:       len(started),
		SessionsCompleted:     len(ended),
		MeaningfulSessions:    meaningful,
		AvgUserValueRating:    roundedMean(ratings),
		AdaptationHelpfulRate: roundedMean(helpful),
		Day7ReturningUsers:    returning,
		UniqueActiveUsers:     len(users),
		BhavPassRate:          rate(passed, total),
		UpdatedAt:             now,
	}
	if err := tx.UpsertBusinessDaily(ctx, row); err != nil {
		return store.BusinessDaily{}, err
	}
	m.logger.Debug("business projection refreshed", "date", dateKey,
		"sessions_started", row.SessionsStarted, "sessions_completed", row.SessionsCompleted)
	return row, nil
}

// RefreshEcosystem recomputes the ecosystem usage row for dateKey.
func (m *Maintainer) RefreshEcosystem(ctx context.Context, tx *store.Tx, dateKey string, now time.Time) (store.EcosystemDaily, error) {
	partner, err := tx.PartnerEventsOn(ctx, dateKey)
	if err != nil {
		return store.EcosystemDaily{}, err
	}

	sources := make(map[string]struct{})
	wearable, content := 0, 0
	for _, e := range partner {
		sources[e.IngestionSource] = struct{}{}
		switch {
		case strings.HasPrefix(e.SourceAdapter, WearableAdapterPrefix):
			wearable++
		case strings.HasPrefix(e.SourceAdapter, ContentAdapterPrefix):
			content++
		}
	}

	funnel, err := tx.DeliveryFunnelOn(ctx, dateKey)
	if err != nil {
		return store.EcosystemDaily{}, err
	}
	exports, contentExports, err := tx.ExportCountsOn(ctx, dateKey)
	if err != nil {
		return store.EcosystemDaily{}, err
	}

	row := store.EcosystemDaily{
		DateKey:                    dateKey,
		InboundPartnerEvents:       len(partner),
		OutboundWebhooksQueued:     funnel.Pending,
		WebhookDeliveriesSucceeded: funnel.Delivered,
		WebhookDeliveriesRetrying:  funnel.Retrying,
		WebhookDeadLetters:         funnel.DeadLettered,
		WebhookFailedAttempts:      funnel.FailedAttempts,
		ExportsGenerated:           exports,
		WearableAdapterEvents:      wearable,
		ContentExportEvents:        content + contentExports,
		UniquePartnerSources:       len(sources),
		UpdatedAt:                  now,
	}
	if err := tx.UpsertEcosystemDaily(ctx, row); err != nil {
		return store.EcosystemDaily{}, err
	}
	m.logger.Debug("ecosystem projection refreshed", "date", dateKey,
		"inbound_partner_events", row.InboundPartnerEvents, "exports_generated", row.ExportsGenerated)
	return row, nil
}

// RecomputeAll refreshes every date present in sessions, events, Bhav
// evaluations, webhook deliveries and export logs. It returns the number
// of dates refreshed.
func (m *Maintainer) RecomputeAll(ctx context.Context, tx *store.Tx, now time.Time) (int, error) {
	sources := []func(context.Context) ([]string, error){
		tx.SessionStartDates,
		tx.EventDates,
		tx.BhavDates,
		tx.DeliveryDates,
		tx.ExportDates,
	}
	var keys []string
	for _, source := range sources {
		found, err := source(ctx)
		if err != nil {
			return 0, fmt.Errorf("collect date keys: %w", err)
		}
		keys = append(keys, found...)
	}

	keys = uniqueSorted(keys)
	if err := m.RefreshDates(ctx, tx, keys, now); err != nil {
		return 0, err
	}
	m.logger.Info("projections recomputed", "days", len(keys))
	return len(keys), nil
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
