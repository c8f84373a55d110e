// Package history persists deduplicated room snapshots as versions, bounds
// how many versions each room keeps, and drives periodic autosave.
//
// A save writes the compressed snapshot to the blob store first and then
// creates the metadata record. The metadata record is the commit point: a
// blob without a record is an orphan left for the Reconciler, a record
// without a blob is never produced.
package history

import (
	"context"
	"errors"
	"log/slog"

	"roomhistory/internal/blobstore"
	"roomhistory/internal/reporting"
	"roomhistory/internal/store"
)

// BlobStore is the payload side of a version.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string, attrs map[string]string) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// BlobInventory is what the Reconciler needs on top of BlobStore.
type BlobInventory interface {
	List(ctx context.Context, prefix string) ([]blobstore.Object, error)
	Delete(ctx context.Context, path string) error
}

// MetadataStore is the ordered record side of a version. It is the source
// of truth for which versions exist and in what order.
type MetadataStore interface {
	CreateVersion(ctx context.Context, v store.VersionMetadata) (store.VersionMetadata, error)
	GetVersion(ctx context.Context, roomID, versionID string) (store.VersionMetadata, error)
	ListVersions(ctx context.Context, roomID string, limit int) ([]store.VersionMetadata, error)
	DeleteVersion(ctx context.Context, roomID, versionID string) error
}

func report(ctx context.Context, reporter reporting.Reporter, logger *slog.Logger, err error) {
	if reporter == nil || err == nil {
		return
	}
	event := reporting.Event{Op: "history", Kind: "UnknownFailure", Message: err.Error()}
	var herr *Error
	if errors.As(err, &herr) {
		event.Op = herr.Op
		event.Kind = herr.Kind.String()
		event.RoomID = herr.RoomID
		event.VersionID = herr.VersionID
		if herr.Err != nil {
			event.Message = herr.Err.Error()
		}
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("reporter panicked", "room", event.RoomID, "panic", r)
		}
	}()
	reporter.Report(context.WithoutCancel(ctx), event)
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
