// Package settings implements the settings store gateway: durable
// per-participant audio settings in SQLite, and forwarding of the
// merged settings map to the remote audio engine as stream metadata.
package settings

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/opd-ai/voicelink/player"
)

// Store persists participant settings in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// OpenStore opens or creates the settings database in dataDir.
func OpenStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "settings.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure settings database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS player_settings (
			name       TEXT PRIMARY KEY,
			gain       REAL NOT NULL DEFAULT 1.0,
			muted      INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create player_settings table: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenStore",
		"path":     dbPath,
	}).Info("Settings store opened")

	return &Store{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted settings for one participant. The second
// return value reports whether a row existed.
func (s *Store) Load(name string) (player.Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var gain float64
	var muted int
	err := s.db.QueryRow(
		`SELECT gain, muted FROM player_settings WHERE name = ?`, name,
	).Scan(&gain, &muted)
	if err == sql.ErrNoRows {
		return player.Settings{}, false, nil
	}
	if err != nil {
		return player.Settings{}, false, fmt.Errorf("load settings for %q: %w", name, err)
	}
	return player.Settings{Gain: gain, Muted: muted != 0}, true, nil
}

// LoadAll returns every persisted settings row keyed by name.
func (s *Store) LoadAll() (map[string]player.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT name, gain, muted FROM player_settings`)
	if err != nil {
		return nil, fmt.Errorf("load all settings: %w", err)
	}
	defer rows.Close()

	all := make(map[string]player.Settings)
	for rows.Next() {
		var name string
		var gain float64
		var muted int
		if err := rows.Scan(&name, &gain, &muted); err != nil {
			return nil, err
		}
		all[name] = player.Settings{Gain: gain, Muted: muted != 0}
	}
	return all, rows.Err()
}

// SaveAll upserts every entry of the map. Rows for participants absent
// from the map are left untouched so settings survive presence churn.
func (s *Store) SaveAll(all map[string]player.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin settings save: %w", err)
	}
	for name, st := range all {
		muted := 0
		if st.Muted {
			muted = 1
		}
		if _, err := tx.Exec(`
			INSERT INTO player_settings (name, gain, muted, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(name) DO UPDATE SET
				gain = excluded.gain,
				muted = excluded.muted,
				updated_at = CURRENT_TIMESTAMP
		`, name, st.Gain, muted); err != nil {
			tx.Rollback()
			return fmt.Errorf("save settings for %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings save: %w", err)
	}
	return nil
}
