package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/payload"
)

var testDay = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// inTx runs fn in a transaction and fails the test on error.
func inTx(t *testing.T, s *Store, fn func(*Tx) error) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), fn))
}

// seedSession creates the user (if needed) and an ACTIVE session.
func seedSession(t *testing.T, s *Store, userID, sessionID string, started time.Time) {
	t.Helper()
	ctx := context.Background()
	inTx(t, s, func(tx *Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			if err := tx.InsertUser(ctx, User{ID: userID, DisplayName: userID, CreatedAt: started}); err != nil {
				return err
			}
		}
		return tx.InsertSession(ctx, Session{
			ID:                    sessionID,
			UserID:                userID,
			MantraKey:             "maha_mantra",
			Mood:                  "neutral",
			TargetDurationMinutes: 10,
			Status:                SessionActive,
			StartedAt:             started,
		})
	})
}

func testEvent(sessionID, eventType, clientID string, at time.Time, doc payload.Document) Event {
	hash, err := payload.EventHash(doc)
	if err != nil {
		panic(err)
	}
	return Event{
		SessionID:       sessionID,
		EventType:       eventType,
		EventTime:       at,
		ClientEventID:   clientID,
		IngestionSource: SourceAPI,
		SchemaVersion:   "v1",
		Payload:         doc,
		PayloadHash:     hash,
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}
