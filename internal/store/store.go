// Package store persists login state and the last fetched session views in a
// local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"babybaton/internal/domain"
)

const (
	keyFamilyID      = "family_id"
	keyCaregiverID   = "caregiver_id"
	keyCaregiverName = "caregiver_name"
	keyFamilyName    = "family_name"
	keyBabyName      = "baby_name"
	keyDeviceID      = "device_id"

	slotCurrent = "current"
	slotRecent  = "recent"
)

var identityKeys = []string{keyFamilyID, keyCaregiverID, keyCaregiverName, keyFamilyName, keyBabyName}

// Store is safe for concurrent use; database/sql serializes access.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database location.
func DefaultPath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "babybaton", "babybaton.db")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "babybaton", "babybaton.db")
}

// Open opens (creating if needed) the database at path. ":memory:" is accepted.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS identity (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_cache (
  slot TEXT NOT NULL,
  position INTEGER NOT NULL,
  session_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  refreshed_at TEXT NOT NULL,
  PRIMARY KEY (slot, position)
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// SaveIdentity replaces the stored login.
func (s *Store) SaveIdentity(ctx context.Context, identity domain.Identity) error {
	values := map[string]string{
		keyFamilyID:      identity.FamilyID.String(),
		keyCaregiverID:   identity.CaregiverID.String(),
		keyCaregiverName: identity.CaregiverName,
		keyFamilyName:    identity.FamilyName,
		keyBabyName:      identity.BabyName,
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range identityKeys {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO identity (key, value) VALUES (?, ?)
				 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, values[key]); err != nil {
				return fmt.Errorf("save %s: %w", key, err)
			}
		}
		return nil
	})
}

// LoadIdentity returns the stored login, or nil when this device is not
// signed in. Family id, caregiver id, family name and baby name are required;
// a missing caregiver name is tolerated.
func (s *Store) LoadIdentity(ctx context.Context) (*domain.Identity, error) {
	values, err := s.identityValues(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{keyFamilyID, keyCaregiverID, keyFamilyName, keyBabyName} {
		if strings.TrimSpace(values[key]) == "" {
			return nil, nil
		}
	}

	familyID, err := uuid.Parse(values[keyFamilyID])
	if err != nil {
		return nil, fmt.Errorf("stored family id: %w", err)
	}
	caregiverID, err := uuid.Parse(values[keyCaregiverID])
	if err != nil {
		return nil, fmt.Errorf("stored caregiver id: %w", err)
	}
	identity := domain.Identity{
		FamilyID:      familyID,
		CaregiverID:   caregiverID,
		CaregiverName: values[keyCaregiverName],
		FamilyName:    values[keyFamilyName],
		BabyName:      values[keyBabyName],
	}
	identity.CaregiverName = identity.DisplayName()
	return &identity, nil
}

// ClearIdentity signs the device out and drops cached sessions. The device id
// survives.
func (s *Store) ClearIdentity(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range identityKeys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM identity WHERE key = ?`, key); err != nil {
				return fmt.Errorf("clear %s: %w", key, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_cache`); err != nil {
			return fmt.Errorf("clear session cache: %w", err)
		}
		return nil
	})
}

// DeviceID returns this installation's id, generating and persisting one on
// first use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM identity WHERE key = ?`, keyDeviceID).Scan(&id)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("load device id: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO identity (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, keyDeviceID, id); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	// Another writer may have won the insert.
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM identity WHERE key = ?`, keyDeviceID).Scan(&id); err != nil {
		return "", fmt.Errorf("load device id: %w", err)
	}
	return id, nil
}

func (s *Store) identityValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM identity`)
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		values[key] = value
	}
	return values, rows.Err()
}

// ReplaceCurrentSession caches the in-progress session; nil clears it.
func (s *Store) ReplaceCurrentSession(ctx context.Context, session *domain.CareSession, at time.Time) error {
	var sessions []domain.CareSession
	if session != nil {
		sessions = []domain.CareSession{*session}
	}
	return s.replaceSlot(ctx, slotCurrent, sessions, at)
}

// ReplaceRecentSessions caches the recent session list in order.
func (s *Store) ReplaceRecentSessions(ctx context.Context, sessions []domain.CareSession, at time.Time) error {
	return s.replaceSlot(ctx, slotRecent, sessions, at)
}

func (s *Store) replaceSlot(ctx context.Context, slot string, sessions []domain.CareSession, at time.Time) error {
	stamp := at.UTC().Format(time.RFC3339Nano)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_cache WHERE slot = ?`, slot); err != nil {
			return fmt.Errorf("clear %s sessions: %w", slot, err)
		}
		for i, session := range sessions {
			payload, err := json.Marshal(session)
			if err != nil {
				return fmt.Errorf("encode session %s: %w", session.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO session_cache (slot, position, session_id, payload, refreshed_at) VALUES (?, ?, ?, ?, ?)`,
				slot, i, session.ID, string(payload), stamp); err != nil {
				return fmt.Errorf("cache session %s: %w", session.ID, err)
			}
		}
		return nil
	})
}

// LoadSessions returns the cached session views. RefreshedAt is the most
// recent refresh of either slot, zero when nothing was cached.
func (s *Store) LoadSessions(ctx context.Context) (domain.SessionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slot, payload, refreshed_at FROM session_cache ORDER BY slot, position`)
	if err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("query session cache: %w", err)
	}
	defer rows.Close()

	snapshot := domain.SessionSnapshot{Recent: []domain.CareSession{}}
	for rows.Next() {
		var slot, payload, refreshed string
		if err := rows.Scan(&slot, &payload, &refreshed); err != nil {
			return domain.SessionSnapshot{}, fmt.Errorf("scan session cache: %w", err)
		}
		var session domain.CareSession
		if err := json.Unmarshal([]byte(payload), &session); err != nil {
			return domain.SessionSnapshot{}, fmt.Errorf("decode cached session: %w", err)
		}
		if at, err := time.Parse(time.RFC3339Nano, refreshed); err == nil && at.After(snapshot.RefreshedAt) {
			snapshot.RefreshedAt = at
		}
		switch slot {
		case slotCurrent:
			snapshot.Current = &session
		case slotRecent:
			snapshot.Recent = append(snapshot.Recent, session)
		}
	}
	return snapshot, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
