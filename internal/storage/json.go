package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"apirelay/internal/errdef"
	"apirelay/internal/model"
)

const (
	archiveVersion = 1
	// maxArchiveBytes bounds what ReadArchive will load.
	maxArchiveBytes = 16 << 20
)

// Archive is a portable JSON snapshot of one user's console data.
type Archive struct {
	Version    int                 `json:"version"`
	ExportedAt time.Time           `json:"exportedAt"`
	History    []model.HistoryItem `json:"history"`
	Saved      []model.SavedItem   `json:"saved"`
}

// Export snapshots uid's history and saved requests.
func Export(ctx context.Context, s Store, uid string) (*Archive, error) {
	history, err := s.ListHistory(ctx, uid)
	if err != nil {
		return nil, err
	}
	saved, err := s.ListSaved(ctx, uid)
	if err != nil {
		return nil, err
	}
	return &Archive{
		Version:    archiveVersion,
		ExportedAt: time.Now().UTC(),
		History:    history,
		Saved:      saved,
	}, nil
}

// Import appends an archive to uid's data. History keeps its timestamps and
// still passes through the ring. Every imported item gets a new id, so an
// archive can be loaded into the store it came from.
func Import(ctx context.Context, s Store, uid string, a *Archive) (history, saved int, err error) {
	if a.Version != archiveVersion {
		return 0, 0, errdef.Newf(errdef.CodeInvalidJSON, "unsupported archive version %d", a.Version)
	}
	// Oldest first so the ring keeps the newest.
	for i := len(a.History) - 1; i >= 0; i-- {
		item := a.History[i]
		item.ID = uuid.NewString()
		if err := s.AddHistory(ctx, uid, item); err != nil {
			return history, saved, err
		}
		history++
	}
	for i := len(a.Saved) - 1; i >= 0; i-- {
		item := a.Saved[i]
		if _, err := s.SaveRequest(ctx, uid, item.Name, item.Request); err != nil {
			return history, saved, err
		}
		saved++
	}
	return history, saved, nil
}

// WriteArchive writes a to path with owner-only permissions.
func WriteArchive(path string, a *Archive) error {
	if err := os.MkdirAll(filepath.Dir(path), secureDirMode); err != nil {
		return storageErr(err, "create archive dir")
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return storageErr(err, "encode archive")
	}
	if err := os.WriteFile(path, data, secureFileMode); err != nil {
		return storageErr(err, "write archive")
	}
	return nil
}

// ReadArchive loads an archive written by WriteArchive.
func ReadArchive(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, storageErr(err, "open archive")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxArchiveBytes+1))
	if err != nil {
		return nil, storageErr(err, "read archive")
	}
	if len(data) > maxArchiveBytes {
		return nil, errdef.New(errdef.CodeBodyTooLarge, fmt.Sprintf("archive exceeds %d bytes", maxArchiveBytes))
	}
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errdef.Wrap(err, errdef.CodeInvalidJSON, "archive is not valid JSON")
	}
	return &a, nil
}
