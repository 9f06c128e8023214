package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/sadhana/internal/payload"
)

// Ingestion sources.
const (
	SourceAPI           = "api"
	PartnerSourcePrefix = "partner:"
)

// Event is one immutable session event.
type Event struct {
	ID              int64            `json:"id"`
	SessionID       string           `json:"session_id"`
	EventType       string           `json:"event_type"`
	EventTime       time.Time        `json:"event_time"`
	ClientEventID   string           `json:"client_event_id,omitempty"`
	IngestionSource string           `json:"ingestion_source"`
	SourceAdapter   string           `json:"source_adapter,omitempty"`
	SchemaVersion   string           `json:"schema_version"`
	Payload         payload.Document `json:"payload"`
	PayloadHash     string           `json:"payload_hash"`
}

const eventColumns = `id, session_id, event_type, event_time, client_event_id,
	ingestion_source, source_adapter, schema_version, payload_json, payload_hash`

// InsertEvent appends an event and returns the stored row.
//
// When the event carries a client event id already recorded for the
// session, nothing is written and the existing row is returned with
// inserted=false. The UNIQUE(session_id, client_event_id) constraint
// decides races: the losing insert affects zero rows and reads the winner.
func (t *Tx) InsertEvent(ctx context.Context, e Event) (stored Event, inserted bool, err error) {
	payloadJSON, err := marshalDocument(e.Payload)
	if err != nil {
		return Event{}, false, fmt.Errorf("insert event: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO session_events
		(session_id, event_type, event_time, client_event_id, ingestion_source,
		 source_adapter, schema_version, payload_json, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, client_event_id) DO NOTHING
	`,
		e.SessionID,
		e.EventType,
		FormatTime(e.EventTime),
		nullString(e.ClientEventID),
		e.IngestionSource,
		nullString(e.SourceAdapter),
		e.SchemaVersion,
		payloadJSON,
		e.PayloadHash,
	)
	if err != nil {
		return Event{}, false, fmt.Errorf("insert event: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Event{}, false, fmt.Errorf("insert event: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		e.ID, err = result.LastInsertId()
		if err != nil {
			return Event{}, false, fmt.Errorf("insert event: last insert id: %w", err)
		}
		return e, true, nil
	}

	existing, err := t.EventByClientID(ctx, e.SessionID, e.ClientEventID)
	if err != nil {
		return Event{}, false, fmt.Errorf("insert event: select existing: %w", err)
	}
	return existing, false, nil
}

// EventByClientID returns the event recorded under a client event id.
func (t *Tx) EventByClientID(ctx context.Context, sessionID, clientEventID string) (Event, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM session_events
		WHERE session_id = ? AND client_event_id = ?
	`, sessionID, clientEventID)
	e, err := scanEvent(row)
	if err != nil {
		return Event{}, notFound(err)
	}
	return e, nil
}

// ListEvents returns a session's events in insertion order.
func (t *Tx) ListEvents(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM session_events
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return collect(rows, "event", scanEventRows)
}

// LatestEventExcluding returns the newest event of a session whose type
// is not in excluded. It returns ErrNotFound if there is none.
func (t *Tx) LatestEventExcluding(ctx context.Context, sessionID string, excluded ...string) (Event, error) {
	query := `SELECT ` + eventColumns + ` FROM session_events WHERE session_id = ?`
	args := []any{sessionID}
	if len(excluded) > 0 {
		query += ` AND event_type NOT IN (?` + strings.Repeat(`, ?`, len(excluded)-1) + `)`
		for _, typ := range excluded {
			args = append(args, typ)
		}
	}
	query += ` ORDER BY id DESC LIMIT 1`

	e, err := scanEvent(t.tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Event{}, fmt.Errorf("latest event for %s: %w", sessionID, notFound(err))
	}
	return e, nil
}

// PartnerEventsOn returns partner-ingested events whose event time falls
// on dateKey.
func (t *Tx) PartnerEventsOn(ctx context.Context, dateKey string) ([]Event, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM session_events
		WHERE substr(event_time, 1, 10) = ? AND ingestion_source LIKE ?
		ORDER BY id ASC
	`, dateKey, PartnerSourcePrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("query partner events on %s: %w", dateKey, err)
	}
	return collect(rows, "event", scanEventRows)
}

// EventDates returns every distinct event date.
func (t *Tx) EventDates(ctx context.Context) ([]string, error) {
	return t.dateKeys(ctx, "event dates", `SELECT DISTINCT substr(event_time, 1, 10) FROM session_events`)
}

func scanEvent(row rowScanner) (Event, error) {
	var e Event
	var eventTime, payloadJSON string
	var clientID, adapter sql.NullString
	if err := row.Scan(
		&e.ID, &e.SessionID, &e.EventType, &eventTime, &clientID,
		&e.IngestionSource, &adapter, &e.SchemaVersion, &payloadJSON, &e.PayloadHash,
	); err != nil {
		return Event{}, err
	}
	e.ClientEventID = clientID.String
	e.SourceAdapter = adapter.String

	var err error
	if e.EventTime, err = ParseTime(eventTime); err != nil {
		return Event{}, err
	}
	if e.Payload, err = unmarshalDocument(payloadJSON); err != nil {
		return Event{}, fmt.Errorf("event %d payload: %w", e.ID, err)
	}
	return e, nil
}

func scanEventRows(rows *sql.Rows) (Event, error) { return scanEvent(rows) }
