package store

import (
	"context"
	"database/sql"
	"time"
)

// GetImportedFileHash returns the hash recorded for path, or "" if the file
// was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.queryRow(ctx, s.db, `SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the hash of an imported file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	return s.exec(ctx, s.db,
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`,
		path, hash, time.Now().UTC(),
	)
}
