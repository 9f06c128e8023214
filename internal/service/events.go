package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/sadhana/internal/contract"
	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/telemetry"
)

// EventInput is one client-submitted session event.
type EventInput struct {
	SessionID     string           `json:"session_id"`
	EventType     string           `json:"event_type" validate:"required,max=60"`
	ClientEventID string           `json:"client_event_id" validate:"max=120"`
	SchemaVersion string           `json:"schema_version" validate:"max=20"`
	SourceAdapter string           `json:"source_adapter" validate:"max=80"`
	Payload       payload.Document `json:"payload"`
}

// PartnerEventInput is an event pushed by an integration partner.
// EventType defaults to partner_signal.
type PartnerEventInput struct {
	EventInput
	PartnerSource string `json:"partner_source" validate:"required,max=80"`
	AdapterID     string `json:"adapter_id" validate:"required,max=80"`
}

// IngestEvent records a client event. With a client event id already
// seen for the session, the stored event is returned unchanged with
// duplicate=true and nothing else happens.
func (s *Service) IngestEvent(ctx context.Context, in EventInput) (store.Event, bool, error) {
	return s.ingest(ctx, "IngestEvent", in, store.SourceAPI, in.SourceAdapter)
}

// IngestPartnerEvent records an event with ingestion source
// partner:<partner_source> and the adapter id as source adapter.
func (s *Service) IngestPartnerEvent(ctx context.Context, in PartnerEventInput) (store.Event, bool, error) {
	if in.EventType == "" {
		in.EventType = contract.TypePartnerSignal
	}
	if err := validateInput(in); err != nil {
		return store.Event{}, false, err
	}
	source := store.PartnerSourcePrefix + strings.TrimSpace(in.PartnerSource)
	return s.ingest(ctx, "IngestPartnerEvent", in.EventInput, source, strings.TrimSpace(in.AdapterID))
}

func (s *Service) ingest(ctx context.Context, op string, in EventInput, source, adapter string) (store.Event, bool, error) {
	if in.SchemaVersion == "" {
		in.SchemaVersion = contract.SchemaV1
	}
	if err := validateInput(in); err != nil {
		return store.Event{}, false, err
	}

	var stored store.Event
	var inserted bool
	err := s.run(ctx, op, func(ctx context.Context, tx *store.Tx) error {
		sess, err := loadSession(ctx, tx, in.SessionID)
		if err != nil {
			return err
		}
		if err := requireActive(sess); err != nil {
			return err
		}
		if _, err := contract.Validate(in.EventType, in.SchemaVersion, in.Payload); err != nil {
			var ve *contract.ValidationError
			if errors.As(err, &ve) {
				return invalid(ReasonInvalidEventPayload, ve.Fields, "invalid %s payload", in.EventType)
			}
			return err
		}

		now := s.now()
		stored, inserted, err = s.appendEvent(ctx, tx, store.Event{
			SessionID:       in.SessionID,
			EventType:       in.EventType,
			EventTime:       now,
			ClientEventID:   in.ClientEventID,
			IngestionSource: source,
			SourceAdapter:   adapter,
			SchemaVersion:   in.SchemaVersion,
			Payload:         in.Payload,
		})
		if err != nil || !inserted {
			return err
		}
		return s.refresh(ctx, tx, now, store.DateKey(stored.EventTime))
	}, attribute.String("session.id", in.SessionID), attribute.String("event.type", in.EventType))
	if err != nil {
		return store.Event{}, false, err
	}

	telemetry.RecordIngest(in.EventType, !inserted)
	return stored, !inserted, nil
}

// appendEvent hashes and inserts e. A replayed client event id with a
// different body is logged; the first body wins.
func (s *Service) appendEvent(ctx context.Context, tx *store.Tx, e store.Event) (store.Event, bool, error) {
	if e.Payload == nil {
		e.Payload = payload.Document{}
	}
	hash, err := payload.EventHash(e.Payload)
	if err != nil {
		return store.Event{}, false, fmt.Errorf("hash event payload: %w", err)
	}
	e.PayloadHash = hash

	stored, inserted, err := tx.InsertEvent(ctx, e)
	if err != nil {
		return store.Event{}, false, err
	}
	if !inserted && stored.PayloadHash != hash {
		s.logger.Warn("client event id replayed with a different payload",
			"session_id", e.SessionID,
			"client_event_id", e.ClientEventID,
			"stored_hash", stored.PayloadHash,
			"submitted_hash", hash,
		)
	}
	return stored, inserted, nil
}
