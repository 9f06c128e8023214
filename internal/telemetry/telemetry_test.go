package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestRecordIngest(t *testing.T) {
	before := testutil.ToFloat64(eventsIngested.WithLabelValues("voice_window", "duplicate"))
	RecordIngest("voice_window", true)
	RecordIngest("voice_window", false)
	after := testutil.ToFloat64(eventsIngested.WithLabelValues("voice_window", "duplicate"))
	assert.Equal(t, before+1, after)
}

func TestRecordWebhooks(t *testing.T) {
	before := testutil.ToFloat64(webhooksQueued)
	RecordWebhooksQueued(3)
	assert.Equal(t, before+3, testutil.ToFloat64(webhooksQueued))

	deadBefore := testutil.ToFloat64(webhookAttempts.WithLabelValues("dead_letter"))
	RecordWebhookAttempt("dead_letter")
	assert.Equal(t, deadBefore+1, testutil.ToFloat64(webhookAttempts.WithLabelValues("dead_letter")))
}

func TestRecordHistograms(t *testing.T) {
	RecordScorerLatency("adaptation", 120*time.Millisecond)
	RecordProjectionRefresh("full", time.Millisecond)
	RecordHTTPRequest("GET", "/health", "200", time.Millisecond)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(scorerLatency), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(projectionRefresh), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(httpRequests), 1)
}

func TestSpans_NoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.op", attribute.String("k", "v"))
	assert.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))

	_, span = StartSpan(context.Background(), "test.op")
	EndSpan(span, nil)
}
