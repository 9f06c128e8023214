package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/webhook"
)

func TestCreateWebhookSubscription_Defaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.CreateWebhookSubscription(ctx, SubscriptionInput{
		TargetURL: "  https://partner.example/hook ",
		AdapterID: " content_partner ",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://partner.example/hook", sub.TargetURL)
	assert.Equal(t, "content_partner", sub.AdapterID)
	assert.Equal(t, DefaultSubscriptionEvents, sub.EventTypes)
	assert.True(t, sub.IsActive)

	off := false
	_, err = f.svc.CreateWebhookSubscription(ctx, SubscriptionInput{
		TargetURL:  "https://other.example/hook",
		AdapterID:  "wearable_partner",
		EventTypes: []string{webhook.WildcardEventType},
		IsActive:   &off,
	})
	require.NoError(t, err)

	subs, err := f.svc.ListWebhookSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, sub.ID, subs[0].ID)
	assert.False(t, subs[1].IsActive)

	_, err = f.svc.CreateWebhookSubscription(ctx, SubscriptionInput{TargetURL: "   ", AdapterID: "x"})
	assert.True(t, IsValidation(err))
}

func TestProcessWebhooks_DeadLettersAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateWebhookSubscription(ctx, SubscriptionInput{
		TargetURL:  "https://partner.example/fail",
		AdapterID:  "content_partner",
		EventTypes: []string{webhook.EventSessionEnded},
	})
	require.NoError(t, err)

	sess := f.session(t, f.user(t).ID)
	f.end(t, sess.ID)

	queued, err := f.svc.ListDeliveries(ctx, store.DeliveryQueued, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, webhook.EventSessionEnded, queued[0].EventType)

	now := f.clock.Now()
	res, err := f.svc.ProcessWebhooks(ctx, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Retried)

	retrying, err := f.svc.ListDeliveries(ctx, store.DeliveryRetrying, 10)
	require.NoError(t, err)
	require.Len(t, retrying, 1)
	assert.True(t, now.Add(webhook.DefaultBaseBackoff).Equal(retrying[0].NextAttemptAt))

	// Not due yet.
	res, err = f.svc.ProcessWebhooks(ctx, 0, false)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	f.clock.Advance(webhook.DefaultBaseBackoff)
	res, err = f.svc.ProcessWebhooks(ctx, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	retrying, err = f.svc.ListDeliveries(ctx, store.DeliveryRetrying, 10)
	require.NoError(t, err)
	require.Len(t, retrying, 1)
	assert.True(t, f.clock.Now().Add(2*webhook.DefaultBaseBackoff).Equal(retrying[0].NextAttemptAt))

	res, err = f.svc.ProcessWebhooks(ctx, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Equal(t, 1, res.FailedAttempts)

	res, err = f.svc.ProcessWebhooks(ctx, 0, true)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	dead, err := f.svc.ListDeliveries(ctx, store.DeliveryDeadLetter, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].AttemptCount)
	assert.Equal(t, webhook.DeadLetterMaxAttempts, dead[0].DeadLetterReason)

	eco, err := f.svc.ExportEcosystemUsage(ctx, store.DateKey(now))
	require.NoError(t, err)
	assert.Equal(t, 1, eco.WebhookDeadLetters)
}

func TestProcessWebhooks_Delivers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateWebhookSubscription(ctx, SubscriptionInput{
		TargetURL:  "https://partner.example/hook",
		AdapterID:  "content_partner",
		EventTypes: []string{webhook.WildcardEventType},
	})
	require.NoError(t, err)

	sess := f.session(t, f.user(t).ID)
	_, err = f.svc.RequestAdaptation(ctx, sess.ID, AdaptationInput{})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	f.end(t, sess.ID)

	res, err := f.svc.ProcessWebhooks(ctx, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Succeeded)

	delivered, err := f.svc.ListDeliveries(ctx, store.DeliveryDelivered, 10)
	require.NoError(t, err)
	require.Len(t, delivered, 2)
	assert.Equal(t, webhook.EventAdaptationApplied, delivered[0].EventType)
	assert.Equal(t, webhook.EventSessionEnded, delivered[1].EventType)
	assert.NotNil(t, delivered[1].DeliveredAt)

	eco, err := f.svc.ExportEcosystemUsage(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, eco.WebhookDeliveriesSucceeded)
}

func TestListDeliveries_UnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListDeliveries(context.Background(), "lost", 10)
	assert.True(t, IsValidation(err))
}
