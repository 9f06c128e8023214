package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/sadhana/internal/contract"
	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/projection"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/webhook"
)

// Server-written lifecycle event types. They never feed the adaptation
// snapshot.
const (
	EventSessionStarted    = "session_started"
	EventAdaptationApplied = webhook.EventAdaptationApplied
	EventSessionEnded      = webhook.EventSessionEnded
)

// DefaultTargetMinutes is used when a session omits its target.
const DefaultTargetMinutes = 10

// CreateSessionInput starts a practice session.
type CreateSessionInput struct {
	UserID                string `json:"user_id" validate:"required"`
	Intention             string `json:"intention" validate:"required"`
	MantraKey             string `json:"mantra_key" validate:"max=120"`
	Mood                  string `json:"mood" validate:"max=40"`
	TargetDurationMinutes int    `json:"target_duration_minutes" validate:"gte=0,lte=180"`
}

// EndSessionInput closes a session. Both fields are optional.
type EndSessionInput struct {
	CompletedGoal   *bool    `json:"completed_goal"`
	UserValueRating *float64 `json:"user_value_rating" validate:"omitempty,gte=1,lte=5"`
}

// CreateSession writes an ACTIVE session and its session_started event.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (store.Session, error) {
	in.Intention = strings.TrimSpace(in.Intention)
	if err := validateInput(in); err != nil {
		return store.Session{}, err
	}
	if in.TargetDurationMinutes == 0 {
		in.TargetDurationMinutes = DefaultTargetMinutes
	}

	now := s.now()
	sess := store.Session{
		ID:                    s.ids.Generate(),
		UserID:                in.UserID,
		MantraKey:             in.MantraKey,
		Intention:             in.Intention,
		Mood:                  in.Mood,
		TargetDurationMinutes: in.TargetDurationMinutes,
		Status:                store.SessionActive,
		StartedAt:             now,
	}

	err := s.run(ctx, "CreateSession", func(ctx context.Context, tx *store.Tx) error {
		if _, err := loadUser(ctx, tx, in.UserID); err != nil {
			return err
		}
		if err := tx.InsertSession(ctx, sess); err != nil {
			return err
		}
		if _, _, err := s.appendEvent(ctx, tx, store.Event{
			SessionID:       sess.ID,
			EventType:       EventSessionStarted,
			EventTime:       now,
			ClientEventID:   "session_start:" + sess.ID,
			IngestionSource: store.SourceAPI,
			SchemaVersion:   contract.SchemaV1,
			Payload: payload.Document{
				"intention":               sess.Intention,
				"mood":                    sess.Mood,
				"mantra_key":              sess.MantraKey,
				"target_duration_minutes": sess.TargetDurationMinutes,
			},
		}); err != nil {
			return err
		}
		return s.refresh(ctx, tx, now, store.DateKey(now))
	}, attribute.String("session.id", sess.ID))
	if err != nil {
		return store.Session{}, err
	}
	s.logger.Info("session started", "session_id", sess.ID, "user_id", sess.UserID)
	return sess, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (store.Session, error) {
	var sess store.Session
	err := s.run(ctx, "GetSession", func(ctx context.Context, tx *store.Tx) error {
		var err error
		sess, err = loadSession(ctx, tx, id)
		return err
	})
	return sess, err
}

// EndSession closes an ACTIVE session. It writes the summary exactly once,
// folds the session into the user's progress, records session_ended and
// fans it out to subscribers.
func (s *Service) EndSession(ctx context.Context, id string, in EndSessionInput) (store.Session, store.Summary, error) {
	if err := validateInput(in); err != nil {
		return store.Session{}, store.Summary{}, err
	}

	var sess store.Session
	var summary store.Summary
	err := s.run(ctx, "EndSession", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if sess, err = loadSession(ctx, tx, id); err != nil {
			return err
		}
		if sess.Status != store.SessionActive {
			return conflict(ReasonSessionAlreadyEnded, "session %s already ended", id)
		}

		events, err := tx.ListEvents(ctx, id)
		if err != nil {
			return err
		}
		decisions, err := tx.CountDecisions(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()
		summary = projection.BuildSummary(projection.SummaryInput{
			Session:         sess,
			Events:          events,
			DecisionCount:   decisions,
			EndedAt:         now,
			CompletedGoal:   in.CompletedGoal,
			UserValueRating: in.UserValueRating,
		})

		ended, err := tx.EndSession(ctx, id, now, summary)
		if err != nil {
			return err
		}
		if !ended {
			return conflict(ReasonSessionAlreadyEnded, "session %s already ended", id)
		}
		sess.Status = store.SessionEnded
		sess.EndedAt = &now
		sess.Summary = &summary

		if _, err := tx.AccumulateProgress(ctx, sess.UserID, summary, now); err != nil {
			return err
		}

		summaryDoc, err := payload.FromValue(summary)
		if err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		if _, _, err := s.appendEvent(ctx, tx, store.Event{
			SessionID:       id,
			EventType:       EventSessionEnded,
			EventTime:       now,
			IngestionSource: store.SourceAPI,
			SchemaVersion:   contract.SchemaV1,
			Payload:         payload.Document{"summary": summaryDoc},
		}); err != nil {
			return err
		}

		if _, err := s.webhooks.FanOut(ctx, tx, webhook.EventSessionEnded, payload.Document{
			"session_id": id,
			"user_id":    sess.UserID,
			"summary":    summaryDoc,
		}, now, now); err != nil {
			return err
		}
		return s.refresh(ctx, tx, now, store.DateKey(sess.StartedAt), store.DateKey(now))
	}, attribute.String("session.id", id))
	if err != nil {
		return store.Session{}, store.Summary{}, err
	}

	s.logger.Info("session ended",
		"session_id", id,
		"practice_minutes", summary.PracticeMinutes,
		"meaningful", summary.MeaningfulSession,
	)
	return sess, summary, nil
}
