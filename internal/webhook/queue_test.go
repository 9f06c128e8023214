package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/testutil"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func subscribe(t *testing.T, st *store.Store, url string, active bool, types ...string) {
	t.Helper()
	testutil.InTx(t, st, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.InsertSubscription(ctx, store.Subscription{
			TargetURL: url, AdapterID: "crm", EventTypes: types, IsActive: active, CreatedAt: t0,
		})
		return err
	})
}

func fanOut(t *testing.T, st *store.Store, q *Queue, eventType string, body payload.Document) int {
	t.Helper()
	var n int
	testutil.InTx(t, st, func(ctx context.Context, tx *store.Tx) error {
		var err error
		n, err = q.FanOut(ctx, tx, eventType, body, t0, t0)
		return err
	})
	return n
}

func process(t *testing.T, st *store.Store, q *Queue, now time.Time, force bool) Result {
	t.Helper()
	var res Result
	testutil.InTx(t, st, func(ctx context.Context, tx *store.Tx) error {
		var err error
		res, err = q.Process(ctx, tx, now, 0, force)
		return err
	})
	return res
}

func deliveries(t *testing.T, st *store.Store) []store.Delivery {
	t.Helper()
	var out []store.Delivery
	testutil.InTx(t, st, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.ListDeliveries(ctx, "", 100)
		return err
	})
	return out
}

func TestFanOut_MatchesTypesAndWildcard(t *testing.T) {
	st := testutil.OpenStore(t)
	q := NewQueue(nil, Config{}, nil)

	subscribe(t, st, "https://a.test", true, EventSessionEnded)
	subscribe(t, st, "https://b.test", true, WildcardEventType)
	subscribe(t, st, "https://c.test", true, EventBhavEvaluated)
	subscribe(t, st, "https://d.test", false, WildcardEventType)

	assert.Equal(t, 2, fanOut(t, st, q, EventSessionEnded, payload.Document{"session_id": "s1"}))
	assert.Equal(t, 2, fanOut(t, st, q, EventBhavEvaluated, payload.Document{}))
	assert.Equal(t, 1, fanOut(t, st, q, EventAdaptationApplied, payload.Document{}))

	all := deliveries(t, st)
	require.Len(t, all, 5)
	for _, d := range all {
		assert.Equal(t, store.DeliveryQueued, d.Status)
		assert.Equal(t, DefaultMaxAttempts, d.MaxAttempts)
		assert.Zero(t, d.AttemptCount)
		assert.True(t, d.NextAttemptAt.Equal(t0))
	}
}

func TestProcess_Success(t *testing.T) {
	st := testutil.OpenStore(t)
	q := NewQueue(nil, Config{}, nil)
	subscribe(t, st, "https://ok.test", true, WildcardEventType)
	fanOut(t, st, q, EventSessionEnded, payload.Document{})

	res := process(t, st, q, t0, false)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, []string{"2026-03-10"}, res.DateKeys)

	d := deliveries(t, st)[0]
	assert.Equal(t, store.DeliveryDelivered, d.Status)
	require.NotNil(t, d.DeliveredAt)
	assert.Empty(t, d.LastError)

	again := process(t, st, q, t0.Add(time.Hour), true)
	assert.Zero(t, again.Processed, "delivered rows are never attempted again")
}

// A failing target is retried with exponential backoff and dead-lettered
// after exactly max_attempts passes.
func TestProcess_RetriesThenDeadLetters(t *testing.T) {
	st := testutil.OpenStore(t)
	q := NewQueue(nil, Config{MaxAttempts: 3, BaseBackoff: 5 * time.Second}, nil)
	subscribe(t, st, "https://always-FAIL.test", true, WildcardEventType)
	fanOut(t, st, q, EventSessionEnded, payload.Document{})

	now := t0
	res := process(t, st, q, now, false)
	assert.Equal(t, Result{Processed: 1, Retried: 1, FailedAttempts: 1, DateKeys: []string{"2026-03-10"}}, res)
	d := deliveries(t, st)[0]
	assert.Equal(t, store.DeliveryRetrying, d.Status)
	assert.Equal(t, 1, d.AttemptCount)
	assert.True(t, d.NextAttemptAt.Equal(now.Add(5*time.Second)))
	assert.Equal(t, "simulated_delivery_failure", d.LastError)

	res = process(t, st, q, now.Add(4*time.Second), false)
	assert.Zero(t, res.Processed, "not yet due")

	now = now.Add(5 * time.Second)
	res = process(t, st, q, now, false)
	assert.Equal(t, 1, res.Retried)
	d = deliveries(t, st)[0]
	assert.Equal(t, 2, d.AttemptCount)
	assert.True(t, d.NextAttemptAt.Equal(now.Add(10*time.Second)))

	now = now.Add(10 * time.Second)
	res = process(t, st, q, now, false)
	assert.Equal(t, 1, res.DeadLettered)
	d = deliveries(t, st)[0]
	assert.Equal(t, store.DeliveryDeadLetter, d.Status)
	assert.Equal(t, 3, d.AttemptCount)
	assert.Equal(t, DeadLetterMaxAttempts, d.DeadLetterReason)
	require.NotNil(t, d.DeadLetteredAt)

	res = process(t, st, q, now.Add(time.Hour), true)
	assert.Zero(t, res.Processed, "dead letters are terminal")
}

func TestProcess_ForceIgnoresSchedule(t *testing.T) {
	st := testutil.OpenStore(t)
	q := NewQueue(nil, Config{MaxAttempts: 2}, nil)
	subscribe(t, st, "https://ok.test", true, WildcardEventType)
	fanOut(t, st, q, EventSessionEnded, payload.Document{ForceFailKey: true})

	process(t, st, q, t0, false)
	res := process(t, st, q, t0, true)
	assert.Equal(t, 1, res.DeadLettered)
}

func TestProcess_BatchSizeAndOrder(t *testing.T) {
	st := testutil.OpenStore(t)
	var seen []int64
	q := NewQueue(DelivererFunc(func(_ context.Context, d store.DueDelivery) error {
		seen = append(seen, d.ID)
		return nil
	}), Config{BatchSize: 2}, nil)
	subscribe(t, st, "https://ok.test", true, WildcardEventType)
	for i := 0; i < 3; i++ {
		fanOut(t, st, q, EventSessionEnded, payload.Document{})
	}

	res := process(t, st, q, t0, false)
	assert.Equal(t, 2, res.Processed)
	res = process(t, st, q, t0, false)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestProcess_CustomDelivererErrorRecorded(t *testing.T) {
	st := testutil.OpenStore(t)
	q := NewQueue(DelivererFunc(func(context.Context, store.DueDelivery) error {
		return errors.New("connection refused")
	}), Config{MaxAttempts: 1}, nil)
	subscribe(t, st, "https://ok.test", true, WildcardEventType)
	fanOut(t, st, q, EventSessionEnded, payload.Document{})

	res := process(t, st, q, t0, false)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Equal(t, "connection refused", deliveries(t, st)[0].LastError)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(5*time.Second, 1))
	assert.Equal(t, 10*time.Second, Backoff(5*time.Second, 2))
	assert.Equal(t, 20*time.Second, Backoff(5*time.Second, 3))
	assert.Equal(t, time.Second, Backoff(0, 1), "base floors at one second")
	assert.Equal(t, 5*time.Second, Backoff(5*time.Second, 0))
}

func TestBackoff_CapsLargeAttemptCounts(t *testing.T) {
	for _, attempts := range []int{16, 40, 64, 1000} {
		d := Backoff(5*time.Second, attempts)
		assert.Positive(t, d, "attempts=%d", attempts)
		assert.Equal(t, MaxBackoff, d, "attempts=%d", attempts)
	}
	assert.Equal(t, MaxBackoff, Backoff(48*time.Hour, 1))
}

func TestSimulatedDeliverer(t *testing.T) {
	ctx := context.Background()
	var d SimulatedDeliverer

	ok := store.DueDelivery{TargetURL: "https://ok.test", Delivery: store.Delivery{Payload: payload.Document{}}}
	assert.NoError(t, d.Deliver(ctx, ok))

	badURL := store.DueDelivery{TargetURL: "https://Fail.example", Delivery: store.Delivery{Payload: payload.Document{}}}
	assert.ErrorIs(t, d.Deliver(ctx, badURL), ErrSimulatedFailure)

	forced := store.DueDelivery{TargetURL: "https://ok.test", Delivery: store.Delivery{Payload: payload.Document{ForceFailKey: true}}}
	assert.ErrorIs(t, d.Deliver(ctx, forced), ErrSimulatedFailure)

	notForced := store.DueDelivery{TargetURL: "https://ok.test", Delivery: store.Delivery{Payload: payload.Document{ForceFailKey: false}}}
	assert.NoError(t, d.Deliver(ctx, notForced))
}
