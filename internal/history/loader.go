package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"roomhistory/internal/snapshot"
	"roomhistory/internal/store"
)

// Loader reads versions back.
type Loader struct {
	blobs    BlobStore
	metadata MetadataStore
	maxBytes int64
	logger   *slog.Logger
}

// NewLoader builds a Loader. maxDecodedBytes bounds the decompressed size of
// a payload; zero uses snapshot.DefaultMaxDecodedBytes.
func NewLoader(blobs BlobStore, metadata MetadataStore, maxDecodedBytes int64, logger *slog.Logger) *Loader {
	if maxDecodedBytes <= 0 {
		maxDecodedBytes = snapshot.DefaultMaxDecodedBytes
	}
	return &Loader{blobs: blobs, metadata: metadata, maxBytes: maxDecodedBytes, logger: loggerOrDefault(logger)}
}

// List returns up to limit versions of roomID, newest first.
func (l *Loader) List(ctx context.Context, roomID string, limit int) ([]store.VersionMetadata, error) {
	const op = "history.list"
	if err := validateID("room id", roomID); err != nil {
		return nil, newError(KindInvalidArgument, op, roomID, "", err)
	}
	items, err := l.metadata.ListVersions(ctx, roomID, limit)
	if err != nil {
		return nil, newError(KindStore, op, roomID, "", err)
	}
	return items, nil
}

// Get returns the metadata of one version.
func (l *Loader) Get(ctx context.Context, roomID, versionID string) (store.VersionMetadata, error) {
	const op = "history.get"
	if err := validateID("room id", roomID); err != nil {
		return store.VersionMetadata{}, newError(KindInvalidArgument, op, roomID, versionID, err)
	}
	if err := validateID("version id", versionID); err != nil {
		return store.VersionMetadata{}, newError(KindInvalidArgument, op, roomID, versionID, err)
	}
	meta, err := l.metadata.GetVersion(ctx, roomID, versionID)
	if errors.Is(err, store.ErrVersionNotFound) {
		return store.VersionMetadata{}, newError(KindNotFound, op, roomID, versionID, err)
	}
	if err != nil {
		return store.VersionMetadata{}, newError(KindStore, op, roomID, versionID, err)
	}
	return meta, nil
}

// Payload returns the stored compressed bytes of a version as written.
func (l *Loader) Payload(ctx context.Context, roomID, versionID string) (store.VersionMetadata, []byte, error) {
	meta, err := l.Get(ctx, roomID, versionID)
	if err != nil {
		return store.VersionMetadata{}, nil, err
	}
	data, err := l.blobs.Get(ctx, meta.StoragePath)
	if err != nil {
		return store.VersionMetadata{}, nil, newError(KindStore, "history.payload", roomID, versionID, fmt.Errorf("get blob: %w", err))
	}
	return meta, data, nil
}

// Load fetches and decodes a version and checks that the decoded snapshot
// still hashes to the recorded content hash.
func (l *Loader) Load(ctx context.Context, roomID, versionID string) (store.VersionMetadata, snapshot.Snapshot, error) {
	const op = "history.load"
	meta, data, err := l.Payload(ctx, roomID, versionID)
	if err != nil {
		return store.VersionMetadata{}, snapshot.Snapshot{}, err
	}

	snap, err := snapshot.DecompressLimit(data, l.maxBytes)
	if err != nil {
		return store.VersionMetadata{}, snapshot.Snapshot{}, newError(KindCodec, op, roomID, versionID, err)
	}

	hash, err := snapshot.Hash(snap)
	if err != nil {
		return store.VersionMetadata{}, snapshot.Snapshot{}, newError(KindCodec, op, roomID, versionID, err)
	}
	if meta.ContentHash != "" && hash != meta.ContentHash {
		return store.VersionMetadata{}, snapshot.Snapshot{}, newError(KindCodec, op, roomID, versionID,
			fmt.Errorf("%w: recorded %s, decoded %s", ErrContentMismatch, snapshot.ShortHash(meta.ContentHash), snapshot.ShortHash(hash)))
	}
	return meta, snap, nil
}

// Restore loads a version and replaces the live document's current page
// with it in one transactional apply.
func (l *Loader) Restore(ctx context.Context, provider snapshot.DocumentProvider, roomID, versionID string) (store.VersionMetadata, error) {
	meta, snap, err := l.Load(ctx, roomID, versionID)
	if err != nil {
		return store.VersionMetadata{}, err
	}
	if err := snapshot.Import(ctx, provider, snap); err != nil {
		kind := KindExport
		if errors.Is(err, snapshot.ErrCorrupt) {
			kind = KindCodec
		}
		return store.VersionMetadata{}, newError(kind, "history.restore", roomID, versionID, err)
	}
	l.logger.Info("version restored", "room", roomID, "version", versionID, "shapes", len(snap.Shapes))
	return meta, nil
}
