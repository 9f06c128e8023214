package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/payload"
)

func TestInsertEvent_DuplicateClientIDReturnsOriginal(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "u1", "s1", testDay)

	first := testEvent("s1", "voice_window", "c-1", testDay.Add(time.Minute),
		payload.Document{"cadence_bpm": 72.0, "practice_seconds": 30.0})
	second := testEvent("s1", "voice_window", "c-1", testDay.Add(2*time.Minute),
		payload.Document{"cadence_bpm": 90.0, "practice_seconds": 10.0})

	var stored1, stored2 Event
	var inserted1, inserted2 bool
	inTx(t, s, func(tx *Tx) error {
		var err error
		stored1, inserted1, err = tx.InsertEvent(ctx, first)
		if err != nil {
			return err
		}
		stored2, inserted2, err = tx.InsertEvent(ctx, second)
		return err
	})

	assert.True(t, inserted1)
	assert.False(t, inserted2)
	assert.Equal(t, stored1.ID, stored2.ID)
	assert.Equal(t, 72.0, stored2.Payload["cadence_bpm"])
	assert.Equal(t, stored1.PayloadHash, stored2.PayloadHash)

	inTx(t, s, func(tx *Tx) error {
		events, err := tx.ListEvents(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, events, 1)
		return nil
	})
}

func TestInsertEvent_WithoutClientIDAlwaysAppends(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "u1", "s1", testDay)

	inTx(t, s, func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			_, inserted, err := tx.InsertEvent(ctx, testEvent("s1", "note", "", testDay, payload.Document{}))
			require.NoError(t, err)
			assert.True(t, inserted)
		}
		events, err := tx.ListEvents(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, events, 3)
		return nil
	})
}

func TestInsertEvent_ConcurrentDuplicatesStoreOneRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "u1", "s1", testDay)

	const writers = 8
	var wg sync.WaitGroup
	ids := make([]int64, writers)
	inserted := make([]bool, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.WithTx(ctx, func(tx *Tx) error {
				e, ok, err := tx.InsertEvent(ctx, testEvent("s1", "voice_window", "race", testDay,
					payload.Document{"cadence_bpm": 70.0, "practice_seconds": 5.0}))
				ids[i], inserted[i] = e.ID, ok
				return err
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if inserted[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestLatestEventExcluding(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "u1", "s1", testDay)

	inTx(t, s, func(tx *Tx) error {
		_, err := tx.LatestEventExcluding(ctx, "s1", "session_started")
		assert.True(t, errors.Is(err, ErrNotFound))

		for _, typ := range []string{"session_started", "voice_window", "adaptation_applied"} {
			if _, _, err := tx.InsertEvent(ctx, testEvent("s1", typ, "", testDay, payload.Document{})); err != nil {
				return err
			}
		}
		e, err := tx.LatestEventExcluding(ctx, "s1", "session_started", "adaptation_applied", "session_ended")
		require.NoError(t, err)
		assert.Equal(t, "voice_window", e.EventType)
		return nil
	})
}

func TestPartnerEventsOn(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "u1", "s1", testDay)

	inTx(t, s, func(tx *Tx) error {
		partner := testEvent("s1", "partner_signal", "", testDay, payload.Document{"signal_type": "hr"})
		partner.IngestionSource = PartnerSourcePrefix + "oura"
		partner.SourceAdapter = "wearable_oura"
		if _, _, err := tx.InsertEvent(ctx, partner); err != nil {
			return err
		}
		if _, _, err := tx.InsertEvent(ctx, testEvent("s1", "voice_window", "", testDay, payload.Document{})); err != nil {
			return err
		}
		next := partner
		next.EventTime = testDay.AddDate(0, 0, 1)
		if _, _, err := tx.InsertEvent(ctx, next); err != nil {
			return err
		}

		events, err := tx.PartnerEventsOn(ctx, DateKey(testDay))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "wearable_oura", events[0].SourceAdapter)

		dates, err := tx.EventDates(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"2026-03-10", "2026-03-11"}, dates)
		return nil
	})
}
