package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// Snapshot writes a consistent copy of the open database to dest with
// VACUUM INTO. It is safe while other connections are writing. dest must
// not exist.
func (s *SQLiteStore) Snapshot(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("snapshot target %s already exists", dest)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("snapshot to %s: %w", dest, err)
	}
	return nil
}

// LatestSchemaVersion is the version this build migrates databases to.
func LatestSchemaVersion() int { return schemaVersion }

// SnapshotVersion opens a database file without migrating it and reports
// its schema version.
func SnapshotVersion(path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s is not a SQLite database: %w", path, err)
	}
	return GetSchemaVersion(db)
}

// CheckRestorable rejects snapshots this build cannot open. Older schemas
// are accepted and migrated on next open.
func CheckRestorable(version int) error {
	switch {
	case version <= 0:
		return fmt.Errorf("snapshot has no supportdesk schema")
	case version > schemaVersion:
		return fmt.Errorf("snapshot schema v%d is newer than this build (v%d)", version, schemaVersion)
	}
	return nil
}
