package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// User is a practitioner.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Consent is one consent record. The newest record for a user wins.
type Consent struct {
	ID                     int64     `json:"id"`
	UserID                 string    `json:"user_id"`
	BiometricEnabled       bool      `json:"biometric_enabled"`
	EnvironmentalEnabled   bool      `json:"environmental_enabled"`
	RawAudioStorageEnabled bool      `json:"raw_audio_storage_enabled"`
	PolicyVersion          string    `json:"policy_version"`
	Source                 string    `json:"source"`
	CreatedAt              time.Time `json:"created_at"`
}

// InsertUser writes a new user. A duplicate id returns ErrAlreadyExists.
func (t *Tx) InsertUser(ctx context.Context, u User) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (id, display_name, created_at)
		VALUES (?, ?, ?)
	`, u.ID, u.DisplayName, FormatTime(u.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("insert user %s: %w", u.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns ErrNotFound for unknown ids.
func (t *Tx) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	var created string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, display_name, created_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.DisplayName, &created)
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", id, notFound(err))
	}
	if u.CreatedAt, err = ParseTime(created); err != nil {
		return User{}, err
	}
	return u, nil
}

// InsertConsent appends a consent record and returns it with its id.
func (t *Tx) InsertConsent(ctx context.Context, c Consent) (Consent, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO consent_records
		(user_id, biometric_enabled, environmental_enabled, raw_audio_storage_enabled,
		 policy_version, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		c.UserID,
		boolInt(c.BiometricEnabled),
		boolInt(c.EnvironmentalEnabled),
		boolInt(c.RawAudioStorageEnabled),
		c.PolicyVersion,
		c.Source,
		FormatTime(c.CreatedAt),
	)
	if err != nil {
		return Consent{}, fmt.Errorf("insert consent: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return Consent{}, fmt.Errorf("insert consent: last insert id: %w", err)
	}
	return c, nil
}

// LatestConsent returns the effective consent for a user.
func (t *Tx) LatestConsent(ctx context.Context, userID string) (Consent, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, biometric_enabled, environmental_enabled, raw_audio_storage_enabled,
		       policy_version, source, created_at
		FROM consent_records
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, userID)
	c, err := scanConsent(row)
	if err != nil {
		return Consent{}, fmt.Errorf("latest consent for %s: %w", userID, notFound(err))
	}
	return c, nil
}

func scanConsent(row *sql.Row) (Consent, error) {
	var c Consent
	var created string
	if err := row.Scan(
		&c.ID, &c.UserID,
		&c.BiometricEnabled, &c.EnvironmentalEnabled, &c.RawAudioStorageEnabled,
		&c.PolicyVersion, &c.Source, &created,
	); err != nil {
		return Consent{}, err
	}
	var err error
	c.CreatedAt, err = ParseTime(created)
	return c, err
}
