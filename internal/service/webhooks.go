package service

import (
	"context"
	"strings"

	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/webhook"
)

// DefaultSubscriptionEvents is the allow-list of a subscription created
// without one.
var DefaultSubscriptionEvents = []string{webhook.EventSessionEnded, webhook.EventBhavEvaluated}

// SubscriptionInput registers a webhook target.
type SubscriptionInput struct {
	TargetURL  string   `json:"target_url" validate:"required,max=500"`
	AdapterID  string   `json:"adapter_id" validate:"required,max=120"`
	EventTypes []string `json:"event_types" validate:"omitempty,dive,required,max=60"`
	IsActive   *bool    `json:"is_active"`
}

// CreateWebhookSubscription stores a subscription. Target and adapter are
// trimmed; an empty event list subscribes to DefaultSubscriptionEvents.
func (s *Service) CreateWebhookSubscription(ctx context.Context, in SubscriptionInput) (store.Subscription, error) {
	in.TargetURL = strings.TrimSpace(in.TargetURL)
	in.AdapterID = strings.TrimSpace(in.AdapterID)
	if err := validateInput(in); err != nil {
		return store.Subscription{}, err
	}

	sub := store.Subscription{
		TargetURL:  in.TargetURL,
		AdapterID:  in.AdapterID,
		EventTypes: in.EventTypes,
		IsActive:   in.IsActive == nil || *in.IsActive,
	}
	if len(sub.EventTypes) == 0 {
		sub.EventTypes = append([]string(nil), DefaultSubscriptionEvents...)
	}

	err := s.run(ctx, "CreateWebhookSubscription", func(ctx context.Context, tx *store.Tx) error {
		sub.CreatedAt = s.now()
		var err error
		sub, err = tx.InsertSubscription(ctx, sub)
		return err
	})
	if err != nil {
		return store.Subscription{}, err
	}
	s.logger.Info("webhook subscription created", "id", sub.ID, "adapter_id", sub.AdapterID, "event_types", sub.EventTypes)
	return sub, nil
}

// ListWebhookSubscriptions returns every subscription in id order.
func (s *Service) ListWebhookSubscriptions(ctx context.Context) ([]store.Subscription, error) {
	var out []store.Subscription
	err := s.run(ctx, "ListWebhookSubscriptions", func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.ListSubscriptions(ctx, false)
		return err
	})
	return out, err
}

// DefaultDeliveryLimit caps ListDeliveries when no limit is given.
const DefaultDeliveryLimit = 100

// ListDeliveries returns deliveries, optionally filtered by status.
func (s *Service) ListDeliveries(ctx context.Context, status string, limit int) ([]store.Delivery, error) {
	if limit < 1 {
		limit = DefaultDeliveryLimit
	}
	switch status {
	case "", store.DeliveryQueued, store.DeliveryRetrying, store.DeliveryDelivered, store.DeliveryDeadLetter:
	default:
		return nil, invalid(ReasonInvalidRequest, []FieldError{{Field: "status", Reason: "unknown delivery status"}},
			"unknown delivery status %q", status)
	}
	var out []store.Delivery
	err := s.run(ctx, "ListDeliveries", func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.ListDeliveries(ctx, status, limit)
		return err
	})
	return out, err
}

// ProcessWebhooks runs one delivery pass and refreshes the ecosystem rows
// of the dates it touched.
func (s *Service) ProcessWebhooks(ctx context.Context, batchSize int, force bool) (webhook.Result, error) {
	var res webhook.Result
	err := s.run(ctx, "ProcessWebhooks", func(ctx context.Context, tx *store.Tx) error {
		now := s.now()
		var err error
		if res, err = s.webhooks.Process(ctx, tx, now, batchSize, force); err != nil {
			return err
		}
		for _, key := range res.DateKeys {
			if _, err := s.projections.RefreshEcosystem(ctx, tx, key, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return webhook.Result{}, err
	}
	return res, nil
}
