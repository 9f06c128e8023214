package service

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/sadhana/internal/store"
)

// Consent defaults applied to every new user and to omitted fields.
const (
	DefaultPolicyVersion = "v1"
	ConsentSourceAPI     = "api"
)

// CreateUserInput describes a new practitioner.
type CreateUserInput struct {
	DisplayName string `json:"display_name" validate:"required,max=120"`
}

// ConsentInput is a full consent statement. EnvironmentalEnabled defaults
// to true when omitted.
type ConsentInput struct {
	BiometricEnabled       bool   `json:"biometric_enabled"`
	EnvironmentalEnabled   *bool  `json:"environmental_enabled"`
	RawAudioStorageEnabled bool   `json:"raw_audio_storage_enabled"`
	PolicyVersion          string `json:"policy_version" validate:"omitempty,max=20"`
}

// CreateUser writes a user together with its default consent record.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (store.User, error) {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := validateInput(in); err != nil {
		return store.User{}, err
	}

	now := s.now()
	user := store.User{ID: s.ids.Generate(), DisplayName: in.DisplayName, CreatedAt: now}
	err := s.run(ctx, "CreateUser", func(ctx context.Context, tx *store.Tx) error {
		if err := tx.InsertUser(ctx, user); err != nil {
			return err
		}
		_, err := tx.InsertConsent(ctx, store.Consent{
			UserID:               user.ID,
			EnvironmentalEnabled: true,
			PolicyVersion:        DefaultPolicyVersion,
			Source:               ConsentSourceAPI,
			CreatedAt:            now,
		})
		return err
	})
	if err != nil {
		return store.User{}, err
	}
	s.logger.Info("user created", "user_id", user.ID)
	return user, nil
}

// SetConsent appends a consent record; the newest record is effective.
func (s *Service) SetConsent(ctx context.Context, userID string, in ConsentInput) (store.Consent, error) {
	if err := validateInput(in); err != nil {
		return store.Consent{}, err
	}
	c := store.Consent{
		UserID:                 userID,
		BiometricEnabled:       in.BiometricEnabled,
		EnvironmentalEnabled:   in.EnvironmentalEnabled == nil || *in.EnvironmentalEnabled,
		RawAudioStorageEnabled: in.RawAudioStorageEnabled,
		PolicyVersion:          in.PolicyVersion,
		Source:                 ConsentSourceAPI,
		CreatedAt:              s.now(),
	}
	if c.PolicyVersion == "" {
		c.PolicyVersion = DefaultPolicyVersion
	}

	err := s.run(ctx, "SetConsent", func(ctx context.Context, tx *store.Tx) error {
		if _, err := loadUser(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		c, err = tx.InsertConsent(ctx, c)
		return err
	})
	return c, err
}

// GetConsent returns the effective consent for a user.
func (s *Service) GetConsent(ctx context.Context, userID string) (store.Consent, error) {
	var c store.Consent
	err := s.run(ctx, "GetConsent", func(ctx context.Context, tx *store.Tx) error {
		if _, err := loadUser(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		c, err = tx.LatestConsent(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound(ReasonConsentNotFound, "no consent recorded for user %s", userID)
		}
		return err
	})
	return c, err
}

// GetProgress returns a user's accumulated practice. A user with no ended
// sessions gets a zero row; nothing is written.
func (s *Service) GetProgress(ctx context.Context, userID string) (store.Progress, error) {
	var p store.Progress
	err := s.run(ctx, "GetProgress", func(ctx context.Context, tx *store.Tx) error {
		user, err := loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		p, err = tx.GetProgress(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			p = store.Progress{UserID: userID, UpdatedAt: user.CreatedAt}
			return nil
		}
		return err
	})
	return p, err
}
