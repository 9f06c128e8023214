package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/sadhana/internal/adaptation"
	"github.com/roach88/sadhana/internal/contract"
	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/telemetry"
	"github.com/roach88/sadhana/internal/webhook"
)

// AdaptationInput carries request-time overrides. HeartRate and
// NoiseLevelDB replace the values of the latest signal event; EnergyLevel
// and HRV only reach the scorer.
type AdaptationInput struct {
	ExplicitMood string   `json:"explicit_mood" validate:"max=40"`
	EnergyLevel  *float64 `json:"energy_level" validate:"omitempty,gte=0,lte=1"`
	HeartRate    *float64 `json:"heart_rate" validate:"omitempty,gte=25,lte=220"`
	HRV          *float64 `json:"hrv" validate:"omitempty,gte=0"`
	NoiseLevelDB *float64 `json:"noise_level_db" validate:"omitempty,gte=0"`
}

// RequestAdaptation resolves and records an adaptation decision for an
// ACTIVE session, appends adaptation_applied and fans it out.
func (s *Service) RequestAdaptation(ctx context.Context, sessionID string, in AdaptationInput) (store.Decision, error) {
	if err := validateInput(in); err != nil {
		return store.Decision{}, err
	}

	var decision store.Decision
	var res adaptation.Resolution
	err := s.run(ctx, "RequestAdaptation", func(ctx context.Context, tx *store.Tx) error {
		sess, err := loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireActive(sess); err != nil {
			return err
		}

		req, err := s.snapshotRequest(ctx, tx, sess, in)
		if err != nil {
			return err
		}

		start := time.Now()
		res = s.engine.Resolve(ctx, req)
		if res.Source == adaptation.SourceScorer || res.FallbackReason != "" {
			telemetry.RecordScorerLatency("adaptation", time.Since(start))
		}

		plan, err := payload.FromValue(res.Decision.AdaptationJSON)
		if err != nil {
			return fmt.Errorf("request adaptation: %w", err)
		}
		now := s.now()
		decision, err = tx.InsertDecision(ctx, store.Decision{
			SessionID:         sessionID,
			DecisionTime:      now,
			Reason:            res.Decision.Reason,
			TempoBPM:          res.Decision.TempoBPM,
			GuidanceIntensity: string(res.Decision.GuidanceIntensity),
			KeyCenter:         res.Decision.KeyCenter,
			AdaptationJSON:    plan,
			Source:            string(res.Source),
			QualityScore:      res.QualityScore,
		})
		if err != nil {
			return err
		}

		if _, _, err := s.appendEvent(ctx, tx, store.Event{
			SessionID:       sessionID,
			EventType:       EventAdaptationApplied,
			EventTime:       now,
			IngestionSource: store.SourceAPI,
			SchemaVersion:   contract.SchemaV1,
			Payload: payload.Document{
				"tempo_bpm":          decision.TempoBPM,
				"guidance_intensity": decision.GuidanceIntensity,
				"key_center":         decision.KeyCenter,
			},
		}); err != nil {
			return err
		}

		if _, err := s.webhooks.FanOut(ctx, tx, webhook.EventAdaptationApplied, payload.Document{
			"session_id":         sessionID,
			"tempo_bpm":          decision.TempoBPM,
			"guidance_intensity": decision.GuidanceIntensity,
		}, now, now); err != nil {
			return err
		}
		return s.refresh(ctx, tx, now, store.DateKey(now))
	}, attribute.String("session.id", sessionID))
	if err != nil {
		return store.Decision{}, err
	}

	telemetry.RecordDecision(string(res.Source))
	if res.FallbackReason != "" {
		telemetry.RecordScorerFallback("adaptation", res.FallbackReason)
	}
	s.logger.Debug("adaptation decided",
		"session_id", sessionID,
		"source", res.Source,
		"tempo_bpm", decision.TempoBPM,
		"fallback_reason", res.FallbackReason,
	)
	return decision, nil
}

// snapshotRequest builds the engine request from the latest signal event
// and the request overrides.
func (s *Service) snapshotRequest(ctx context.Context, tx *store.Tx, sess store.Session, in AdaptationInput) (adaptation.Request, error) {
	latest, err := tx.LatestEventExcluding(ctx, sess.ID,
		EventSessionStarted, EventAdaptationApplied, EventSessionEnded)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return adaptation.Request{}, err
	}

	mood := in.ExplicitMood
	if mood == "" {
		mood = sess.Mood
	}
	snap := adaptation.SnapshotFromSignals(payload.ExtractSignals(latest.Payload), mood)
	if in.HeartRate != nil {
		snap.HeartRate = in.HeartRate
	}
	if in.NoiseLevelDB != nil {
		snap.NoiseLevelDB = in.NoiseLevelDB
	}

	extra := payload.Document{}
	if in.EnergyLevel != nil {
		extra["energy_level"] = *in.EnergyLevel
	}
	if in.HRV != nil {
		extra["hrv"] = *in.HRV
	}
	return adaptation.Request{
		SessionID: sess.ID,
		MantraKey: sess.MantraKey,
		Snapshot:  snap,
		Context:   extra,
	}, nil
}
