package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"apirelay/internal/errdef"
	"apirelay/internal/model"

	_ "modernc.org/sqlite"
)

const (
	// Secure file permissions - owner read/write only
	secureFileMode = 0600 // -rw-------
	secureDirMode  = 0700 // drwx------
)

// ensureSecureFile creates path with owner-only permissions, or tightens the
// permissions of an existing file, before the driver opens it.
func ensureSecureFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, secureFileMode)
		if err != nil {
			return fmt.Errorf("failed to create secure file: %w", err)
		}
		f.Close()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if info.Mode().Perm() != secureFileMode {
		if err := os.Chmod(path, secureFileMode); err != nil {
			return fmt.Errorf("failed to set secure permissions: %w", err)
		}
	}
	return nil
}

// SQLiteStore keeps history and saved requests in a single database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), secureDirMode); err != nil {
		return nil, storageErr(err, "create data dir")
	}
	if err := ensureSecureFile(path); err != nil {
		return nil, storageErr(err, "secure database file")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr(err, "open database")
	}
	// One connection serializes writers; the ring eviction relies on it.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, storageErr(err, "init schema")
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS postman_history (
		id TEXT PRIMARY KEY,
		uid TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		request TEXT NOT NULL,
		status INTEGER NOT NULL,
		ok INTEGER NOT NULL,
		time_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_uid_created ON postman_history(uid, created_at DESC);

	CREATE TABLE IF NOT EXISTS postman_saved (
		id TEXT PRIMARY KEY,
		uid TEXT NOT NULL,
		name TEXT NOT NULL,
		request TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_saved_uid_updated ON postman_saved(uid, updated_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// History Operations
// =============================================================================

func (s *SQLiteStore) ListHistory(ctx context.Context, uid string) ([]model.HistoryItem, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, request, status, ok, time_ms
		FROM postman_history
		WHERE uid = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, uid, HistoryLimit)
	if err != nil {
		return nil, storageErr(err, "list history")
	}
	defer rows.Close()

	items := []model.HistoryItem{}
	for rows.Next() {
		var item model.HistoryItem
		var createdAt int64
		var reqJSON string
		if err := rows.Scan(&item.ID, &createdAt, &reqJSON,
			&item.ResponseSummary.Status, &item.ResponseSummary.OK, &item.ResponseSummary.TimeMs); err != nil {
			return nil, storageErr(err, "scan history")
		}
		if err := json.Unmarshal([]byte(reqJSON), &item.Request); err != nil {
			return nil, storageErr(err, "decode history request")
		}
		item.CreatedAt = time.Unix(0, createdAt).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list history")
	}
	return items, nil
}

func (s *SQLiteStore) AddHistory(ctx context.Context, uid string, item model.HistoryItem) error {
	if err := ValidateUID(uid); err != nil {
		return err
	}
	stamp(&item)
	reqJSON, err := json.Marshal(item.Request)
	if err != nil {
		return storageErr(err, "encode history request")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO postman_history (id, uid, created_at, request, status, ok, time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, uid, item.CreatedAt.UnixNano(), string(reqJSON),
		item.ResponseSummary.Status, item.ResponseSummary.OK, item.ResponseSummary.TimeMs,
	); err != nil {
		return storageErr(err, "insert history")
	}

	// Evict everything that fell out of the ring.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM postman_history
		WHERE uid = ? AND id NOT IN (
			SELECT id FROM postman_history WHERE uid = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, uid, uid, HistoryLimit); err != nil {
		return storageErr(err, "evict history")
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err, "commit")
	}
	return nil
}

func (s *SQLiteStore) ClearHistory(ctx context.Context, uid string) (int, error) {
	if err := ValidateUID(uid); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM postman_history WHERE uid = ?", uid)
	if err != nil {
		return 0, storageErr(err, "clear history")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// Saved Request Operations
// =============================================================================

func (s *SQLiteStore) ListSaved(ctx context.Context, uid string) ([]model.SavedItem, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, request, created_at, updated_at
		FROM postman_saved
		WHERE uid = ?
		ORDER BY updated_at DESC, rowid DESC
		LIMIT ?`, uid, SavedLimit)
	if err != nil {
		return nil, storageErr(err, "list saved")
	}
	defer rows.Close()

	items := []model.SavedItem{}
	for rows.Next() {
		var item model.SavedItem
		var reqJSON string
		var createdAt, updatedAt int64
		if err := rows.Scan(&item.ID, &item.Name, &reqJSON, &createdAt, &updatedAt); err != nil {
			return nil, storageErr(err, "scan saved")
		}
		if err := json.Unmarshal([]byte(reqJSON), &item.Request); err != nil {
			return nil, storageErr(err, "decode saved request")
		}
		item.CreatedAt = time.Unix(0, createdAt).UTC()
		item.UpdatedAt = time.Unix(0, updatedAt).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list saved")
	}
	return items, nil
}

func (s *SQLiteStore) SaveRequest(ctx context.Context, uid, name string, req model.PostmanRequest) (model.SavedItem, error) {
	if err := ValidateUID(uid); err != nil {
		return model.SavedItem{}, err
	}
	item := newSavedItem(name, req)
	reqJSON, err := json.Marshal(item.Request)
	if err != nil {
		return model.SavedItem{}, storageErr(err, "encode saved request")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO postman_saved (id, uid, name, request, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, uid, item.Name, string(reqJSON), item.CreatedAt.UnixNano(), item.UpdatedAt.UnixNano(),
	); err != nil {
		return model.SavedItem{}, storageErr(err, "insert saved")
	}
	return item, nil
}

func (s *SQLiteStore) DeleteSaved(ctx context.Context, uid, id string) error {
	if err := ValidateUID(uid); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM postman_saved WHERE uid = ? AND id = ?", uid, id)
	if err != nil {
		return storageErr(err, "delete saved")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdef.Wrapf(errdef.ErrNotFound, errdef.CodeNotFound, "saved request %s not found", id)
	}
	return nil
}
