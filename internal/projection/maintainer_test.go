package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/testutil"
)

type fixture struct {
	st  *store.Store
	m   *Maintainer
	now time.Time
	// touched collects every date key a write affected.
	touched []string
}

func newFixture(t *testing.T) *fixture {
	return &fixture{st: testutil.OpenStore(t), m: NewMaintainer(nil), now: day.Add(12 * time.Hour)}
}

// write runs fn and then refreshes the dates it reports, the way the
// service does on every boundary operation.
func (f *fixture) write(t *testing.T, fn func(ctx context.Context, tx *store.Tx) ([]string, error)) {
	t.Helper()
	testutil.InTx(t, f.st, func(ctx context.Context, tx *store.Tx) error {
		keys, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		f.touched = append(f.touched, keys...)
		return f.m.RefreshDates(ctx, tx, keys, f.now)
	})
}

func (f *fixture) session(t *testing.T, userID, sessionID string, started time.Time) {
	f.write(t, func(ctx context.Context, tx *store.Tx) ([]string, error) {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			if err := tx.InsertUser(ctx, store.User{ID: userID, DisplayName: userID, CreatedAt: started}); err != nil {
				return nil, err
			}
		}
		err := tx.InsertSession(ctx, store.Session{
			ID: sessionID, UserID: userID, MantraKey: "maha_mantra", TargetDurationMinutes: 10,
			Status: store.SessionActive, StartedAt: started,
		})
		return []string{store.DateKey(started)}, err
	})
}

func (f *fixture) end(t *testing.T, sessionID string, ended time.Time, summary store.Summary) {
	f.write(t, func(ctx context.Context, tx *store.Tx) ([]string, error) {
		_, err := tx.EndSession(ctx, sessionID, ended, summary)
		return []string{store.DateKey(ended)}, err
	})
}

func (f *fixture) partnerEvent(t *testing.T, sessionID, source, adapter string, at time.Time) {
	f.write(t, func(ctx context.Context, tx *store.Tx) ([]string, error) {
		doc := payload.Document{"signal_type": "heart_rate"}
		hash, err := payload.EventHash(doc)
		if err != nil {
			return nil, err
		}
		_, _, err = tx.InsertEvent(ctx, store.Event{
			SessionID: sessionID, EventType: "partner_signal", EventTime: at,
			IngestionSource: store.PartnerSourcePrefix + source, SourceAdapter: adapter,
			SchemaVersion: "v1", Payload: doc, PayloadHash: hash,
		})
		return []string{store.DateKey(at)}, err
	})
}

func seedDay(t *testing.T, f *fixture) {
	rating4, rating3 := 4.5, 3.0
	f.session(t, "u1", "s1", day)
	f.session(t, "u1", "s2", day.Add(time.Hour))
	f.session(t, "u2", "s3", day.Add(2*time.Hour))
	f.end(t, "s1", day.Add(30*time.Minute), store.Summary{
		PracticeMinutes: 12, CompletedGoal: true, UserValueRating: &rating4,
		AdaptationHelpfulRate: 1, MeaningfulSession: true,
	})
	f.end(t, "s2", day.Add(90*time.Minute), store.Summary{
		PracticeMinutes: 5, UserValueRating: &rating3, AdaptationHelpfulRate: 0.5,
	})

	f.partnerEvent(t, "s3", "oura", "wearable_oura", day.Add(3*time.Hour))
	f.partnerEvent(t, "s3", "oura", "wearable_oura", day.Add(3*time.Hour))
	f.partnerEvent(t, "s3", "spotify", "content_spotify", day.Add(3*time.Hour))

	f.write(t, func(ctx context.Context, tx *store.Tx) ([]string, error) {
		for _, passes := range []bool{true, false, true} {
			if _, err := tx.InsertBhavEvaluation(ctx, store.BhavEvaluation{
				SessionID: "s1", MantraKey: "maha_mantra", LineageID: "vaishnavism",
				ProfileName: "maha_mantra_v1", PassesGolden: passes, Detail: payload.Document{}, CreatedAt: day,
			}); err != nil {
				return nil, err
			}
		}
		return []string{store.DateKey(day)}, nil
	})

	f.write(t, func(ctx context.Context, tx *store.Tx) ([]string, error) {
		sub, err := tx.InsertSubscription(ctx, store.Subscription{
			TargetURL: "https://example.test", AdapterID: "crm", EventTypes: []string{"*"}, IsActive: true, CreatedAt: day,
		})
		if err != nil {
			return nil, err
		}
		statuses := []struct {
			status   string
			attempts int
		}{
			{store.DeliveryQueued, 0},
			{store.DeliveryRetrying, 1},
			{store.DeliveryDelivered, 0},
			{store.DeliveryDeadLetter, 3},
		}
		for _, s := range statuses {
			if _, err := tx.InsertDelivery(ctx, store.Delivery{
				SubscriptionID: sub.ID, EventType: "session_ended", Payload: payload.Document{},
				Status: s.status, AttemptCount: s.attempts, MaxAttempts: 3, NextAttemptAt: day, CreatedAt: day,
			}); err != nil {
				return nil, err
			}
		}
		_, err = tx.InsertExportLog(ctx, store.ExportLog{
			ExportType: "business_signals", AdapterID: "content_playlist", Payload: payload.Document{}, CreatedAt: day,
		})
		return []string{store.DateKey(day)}, err
	})
}

func TestRefreshBusiness(t *testing.T) {
	f := newFixture(t)
	seedDay(t, f)

	testutil.InTx(t, f.st, func(ctx context.Context, tx *store.Tx) error {
		b, err := tx.BusinessDailyOn(ctx, "2026-03-10")
		require.NoError(t, err)
		assert.Equal(t, 3, b.SessionsStarted)
		assert.Equal(t, 2, b.SessionsCompleted)
		assert.Equal(t, 1, b.MeaningfulSessions)
		assert.Equal(t, 2, b.UniqueActiveUsers)
		assert.Equal(t, 3.75, b.AvgUserValueRating)
		assert.Equal(t, 0.75, b.AdaptationHelpfulRate)
		assert.Equal(t, 0.667, b.BhavPassRate)
		assert.Zero(t, b.Day7ReturningUsers)
		return nil
	})
}

func TestRefreshEcosystem(t *testing.T) {
	f := newFixture(t)
	seedDay(t, f)

	testutil.InTx(t, f.st, func(ctx context.Context, tx *store.Tx) error {
		e, err := tx.EcosystemDailyOn(ctx, "2026-03-10")
		require.NoError(t, err)
		assert.Equal(t, 3, e.InboundPartnerEvents)
		assert.Equal(t, 2, e.WearableAdapterEvents)
		assert.Equal(t, 2, e.ContentExportEvents, "one partner content event plus one content export")
		assert.Equal(t, 2, e.UniquePartnerSources)
		assert.Equal(t, 2, e.OutboundWebhooksQueued)
		assert.Equal(t, 1, e.WebhookDeliveriesSucceeded)
		assert.Equal(t, 1, e.WebhookDeliveriesRetrying)
		assert.Equal(t, 1, e.WebhookDeadLetters)
		assert.Equal(t, 4, e.WebhookFailedAttempts)
		assert.Equal(t, 1, e.ExportsGenerated)
		return nil
	})
}

func TestRefreshBusiness_EmptyDateWritesZeros(t *testing.T) {
	f := newFixture(t)
	testutil.InTx(t, f.st, func(ctx context.Context, tx *store.Tx) error {
		b, err := f.m.RefreshBusiness(ctx, tx, "2026-01-01", f.now)
		require.NoError(t, err)
		assert.Zero(t, b.SessionsStarted)
		assert.Zero(t, b.AvgUserValueRating)
		assert.Zero(t, b.BhavPassRate)
		return nil
	})
}

func TestRefreshBusiness_Day7Returning(t *testing.T) {
	f := newFixture(t)
	f.session(t, "u1", "s1", day)
	f.session(t, "u1", "s2", day.AddDate(0, 0, 7))
	f.session(t, "u2", "s3", day.AddDate(0, 0, 7))

	testutil.InTx(t, f.st, func(ctx context.Context, tx *store.Tx) error {
		b, err := tx.BusinessDailyOn(ctx, "2026-03-17")
		require.NoError(t, err)
		assert.Equal(t, 1, b.Day7ReturningUsers)
		assert.Equal(t, 2, b.UniqueActiveUsers)
		return nil
	})
}

// Incremental maintenance and a full recompute produce identical rows.
func TestRecomputeAll_MatchesIncremental(t *testing.T) {
	f := newFixture(t)
	seedDay(t, f)
	f.session(t, "u1", "s4", day.AddDate(0, 0, 8))
	f.end(t, "s4", day.AddDate(0, 0, 9), store.Summary{PracticeMinutes: 20, CompletedGoal: true, MeaningfulSession: true})

	keys := uniqueSorted(f.touched)
	require.Equal(t, []string{"2026-03-10", "2026-03-18", "2026-03-19"}, keys)

	snapshot := func() ([]store.BusinessDaily, []store.EcosystemDaily) {
		var biz []store.BusinessDaily
		var eco []store.EcosystemDaily
		testutil.InTx(t, f.st, func(ctx context.Context, tx *store.Tx) error {
			for _, k := range keys {
				b, err := tx.BusinessDailyOn(ctx, k)
				require.NoError(t, err)
				e, err := tx.EcosystemDailyOn(ctx, k)
				require.NoError(t, err)
				biz, eco = append(biz, b), append(eco, e)
			}
			return nil
		})
		return biz, eco
	}

	incBiz, incEco := snapshot()

	var days int
	testutil.InTx(t, f.st, func(ctx context.Context, tx *store.Tx) error {
		var err error
		days, err = f.m.RecomputeAll(ctx, tx, f.now)
		return err
	})
	assert.Equal(t, len(keys), days)

	fullBiz, fullEco := snapshot()
	assert.Equal(t, incBiz, fullBiz)
	assert.Equal(t, incEco, fullEco)
}

func TestRecomputeAll_EmptyStore(t *testing.T) {
	f := newFixture(t)
	testutil.InTx(t, f.st, func(ctx context.Context, tx *store.Tx) error {
		days, err := f.m.RecomputeAll(ctx, tx, f.now)
		require.NoError(t, err)
		assert.Zero(t, days)
		return nil
	})
}

func TestCohorts(t *testing.T) {
	f := newFixture(t)
	seedDay(t, f)
	f.session(t, "u3", "s5", day.AddDate(0, 0, 1))

	testutil.InTx(t, f.st, func(ctx context.Context, tx *store.Tx) error {
		report, err := Cohorts(ctx, tx)
		require.NoError(t, err)
		require.Equal(t, 2, report.Days)
		assert.Equal(t, CohortRow{
			DateKey: "2026-03-10", ActiveUsers: 2, Sessions: 3, CompletionRate: 0.333, MeaningfulRate: 0.333,
		}, report.Rows[0])
		assert.Equal(t, CohortRow{DateKey: "2026-03-11", ActiveUsers: 1, Sessions: 1}, report.Rows[1])
		return nil
	})
}
