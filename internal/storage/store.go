package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"apirelay/internal/config"
	"apirelay/internal/errdef"
	"apirelay/internal/model"
)

const (
	// HistoryLimit is the ring size of each user's history.
	HistoryLimit = 50
	// SavedLimit bounds ListSaved; saved items are never evicted.
	SavedLimit = 50

	DefaultSavedName = "Untitled request"
)

// Store persists console history and saved requests, partitioned by uid.
type Store interface {
	// ListHistory returns at most HistoryLimit items, newest first.
	ListHistory(ctx context.Context, uid string) ([]model.HistoryItem, error)
	// AddHistory inserts item and evicts everything beyond HistoryLimit.
	AddHistory(ctx context.Context, uid string, item model.HistoryItem) error
	// ClearHistory deletes the user's history and returns how many items went.
	ClearHistory(ctx context.Context, uid string) (int, error)

	// ListSaved returns at most SavedLimit items, most recently updated first.
	ListSaved(ctx context.Context, uid string) ([]model.SavedItem, error)
	// SaveRequest always creates a new item; names need not be unique.
	SaveRequest(ctx context.Context, uid, name string, req model.PostmanRequest) (model.SavedItem, error)
	// DeleteSaved removes one item, or fails with CodeNotFound.
	DeleteSaved(ctx context.Context, uid, id string) error

	Close() error
}

// Open creates the backend selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.SQLite.Path)
	case "redis":
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, errdef.Newf(errdef.CodeConfig, "unknown storage driver %q", cfg.Driver)
	}
}

// ValidateUID rejects ids that could escape their partition.
func ValidateUID(uid string) error {
	if strings.TrimSpace(uid) == "" || strings.ContainsAny(uid, ":/{}\r\n") || len(uid) > 128 {
		return errdef.ErrInvalidUser
	}
	return nil
}

// NewHistoryItem stamps a history entry with a fresh id and the current time.
func NewHistoryItem(req model.PostmanRequest, summary model.ResponseSummary) model.HistoryItem {
	return model.HistoryItem{
		ID:              uuid.NewString(),
		Request:         req.Clone(),
		ResponseSummary: summary,
		CreatedAt:       time.Now().UTC(),
	}
}

// stamp fills in the id and timestamp of an item built elsewhere.
func stamp(item *model.HistoryItem) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Request = item.Request.Clone()
}

func newSavedItem(name string, req model.PostmanRequest) model.SavedItem {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSavedName
	}
	now := time.Now().UTC()
	return model.SavedItem{
		ID:        uuid.NewString(),
		Name:      name,
		Request:   req.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func storageErr(err error, op string) error {
	return errdef.Wrapf(err, errdef.CodeStorage, "storage: %s", op)
}
