package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"roomhistory/internal/snapshot"
	"roomhistory/internal/store"
	"roomhistory/internal/util"
)

const (
	// AutosaveLabel marks versions written by the Autosaver.
	AutosaveLabel = "autosave"

	defaultCommitTimeout = 30 * time.Second
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// CommitTimeout bounds the metadata write once the blob is stored.
	// Default: 30 seconds.
	CommitTimeout time.Duration
	// Now is the local clock used for version ids. Default: time.Now.
	Now func() time.Time
	// NewVersionID generates version ids. Default: util.NewVersionID.
	NewVersionID func(time.Time) string
}

func (c *RecorderConfig) defaults() {
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = defaultCommitTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewVersionID == nil {
		c.NewVersionID = util.NewVersionID
	}
}

// Recorder runs the save pipeline: compress, put, commit metadata.
type Recorder struct {
	blobs    BlobStore
	metadata MetadataStore
	config   RecorderConfig
	logger   *slog.Logger
}

func NewRecorder(blobs BlobStore, metadata MetadataStore, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	cfg.defaults()
	return &Recorder{
		blobs:    blobs,
		metadata: metadata,
		config:   cfg,
		logger:   loggerOrDefault(logger),
	}
}

// SaveInput is one snapshot to persist. ContentHash may be left empty, in
// which case it is computed.
type SaveInput struct {
	RoomID      string
	CreatedBy   string
	Label       string
	Snapshot    snapshot.Snapshot
	ContentHash string
}

// Save persists in.Snapshot as a new version and returns its metadata.
//
// Cancelling ctx before the blob is stored aborts the save. Once the blob is
// stored the metadata write runs to completion (bounded by CommitTimeout)
// regardless of ctx, so a save is never left between the two steps because
// of caller cancellation.
func (r *Recorder) Save(ctx context.Context, in SaveInput) (store.VersionMetadata, error) {
	const op = "history.save"
	if err := validateID("room id", in.RoomID); err != nil {
		return store.VersionMetadata{}, newError(KindInvalidArgument, op, in.RoomID, "", err)
	}

	hash := in.ContentHash
	if hash == "" {
		h, err := snapshot.Hash(in.Snapshot)
		if err != nil {
			return store.VersionMetadata{}, newError(KindCodec, op, in.RoomID, "", err)
		}
		hash = h
	}

	payload, err := snapshot.Compress(in.Snapshot)
	if err != nil {
		return store.VersionMetadata{}, newError(KindCodec, op, in.RoomID, "", err)
	}

	now := r.config.Now()
	versionID := r.config.NewVersionID(now)
	path := BlobPath(in.RoomID, versionID)

	if err := ctx.Err(); err != nil {
		return store.VersionMetadata{}, newError(KindStore, op, in.RoomID, versionID, err)
	}

	attrs := map[string]string{
		"room-id":        in.RoomID,
		"version-id":     versionID,
		"schema-version": strconv.Itoa(in.Snapshot.SchemaVersion),
		"created-by":     in.CreatedBy,
		"timestamp":      strconv.FormatInt(now.UnixMilli(), 10),
	}
	if err := r.blobs.Put(ctx, path, payload, snapshot.ContentType, attrs); err != nil {
		return store.VersionMetadata{}, newError(KindStore, op, in.RoomID, versionID, fmt.Errorf("put blob: %w", err))
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.CommitTimeout)
	defer cancel()

	record, err := r.metadata.CreateVersion(commitCtx, store.VersionMetadata{
		ID:            versionID,
		RoomID:        in.RoomID,
		CreatedBy:     in.CreatedBy,
		Label:         in.Label,
		Bytes:         int64(len(payload)),
		Checksum:      snapshot.Checksum(hash),
		ContentHash:   hash,
		SchemaVersion: in.Snapshot.SchemaVersion,
		StoragePath:   path,
	})
	if err != nil {
		r.logger.Warn("version commit failed, blob left for reconciliation",
			"room", in.RoomID, "version", versionID, "path", path, "error", err)
		return store.VersionMetadata{}, newError(KindStore, op, in.RoomID, versionID, fmt.Errorf("create metadata: %w", err))
	}

	r.logger.Info("version saved",
		"room", in.RoomID,
		"version", versionID,
		"label", in.Label,
		"bytes", record.Bytes,
		"hash", snapshot.ShortHash(hash),
	)
	return record, nil
}

// Delete removes a version's metadata record. The blob is reclaimed later by
// the Reconciler. Deleting an absent version succeeds.
func (r *Recorder) Delete(ctx context.Context, roomID, versionID string) error {
	const op = "history.delete"
	if err := validateID("room id", roomID); err != nil {
		return newError(KindInvalidArgument, op, roomID, versionID, err)
	}
	if err := validateID("version id", versionID); err != nil {
		return newError(KindInvalidArgument, op, roomID, versionID, err)
	}
	if err := r.metadata.DeleteVersion(ctx, roomID, versionID); err != nil && !errors.Is(err, store.ErrVersionNotFound) {
		return newError(KindStore, op, roomID, versionID, err)
	}
	return nil
}
