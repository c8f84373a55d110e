package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"roomhistory/internal/store"
	"roomhistory/internal/util"
)

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	// Interval between passes in Run. Default: 10 minutes.
	Interval time.Duration
	// Grace is how old an unreferenced blob must be before it is deleted,
	// so saves between put and metadata commit are left alone.
	// Default: 15 minutes.
	Grace time.Duration
	// ListUpperBound is the per-room listing size used to prefetch live
	// version ids. Default: 1000.
	ListUpperBound int
	Now            func() time.Time
}

func (c *ReconcilerConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.Grace <= 0 {
		c.Grace = 15 * time.Minute
	}
	if c.ListUpperBound <= 0 {
		c.ListUpperBound = 1000
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// ReconcileResult counts what one pass saw and did.
type ReconcileResult struct {
	Scanned  int      `json:"scanned"`
	Live     int      `json:"live"`
	Young    int      `json:"young"`
	Foreign  int      `json:"foreign"`
	Orphaned int      `json:"orphaned"`
	Deleted  []string `json:"deleted"`
}

// Reconciler deletes blobs that no metadata record points to. It replaces
// any store-side cascade from metadata deletion.
type Reconciler struct {
	blobs    BlobInventory
	metadata MetadataStore
	config   ReconcilerConfig
	logger   *slog.Logger
}

func NewReconciler(blobs BlobInventory, metadata MetadataStore, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	cfg.defaults()
	return &Reconciler{blobs: blobs, metadata: metadata, config: cfg, logger: loggerOrDefault(logger)}
}

// Reconcile runs one pass. A blob is deleted only if it is older than
// Grace and a direct metadata lookup confirms the version is gone; any
// lookup error keeps the blob.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	const op = "reconcile"
	result := ReconcileResult{Deleted: []string{}}

	objects, err := r.blobs.List(ctx, BlobPrefix)
	if err != nil {
		return result, newError(KindStore, op, "", "", fmt.Errorf("list blobs: %w", err))
	}
	result.Scanned = len(objects)

	cutoff := r.config.Now().Add(-r.config.Grace)
	live := map[string]map[string]bool{}
	var errs []error

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return result, newError(KindStore, op, "", "", err)
		}
		roomID, versionID, ok := ParseBlobPath(obj.Path)
		if !ok {
			result.Foreign++
			continue
		}
		modified := obj.ModifiedAt
		if modified.IsZero() {
			// stores that do not report mtime fall back to the id timestamp
			if t, ok := util.VersionTime(versionID); ok {
				modified = t
			}
		}
		if modified.After(cutoff) {
			result.Young++
			continue
		}

		known, ok := live[roomID]
		if !ok {
			known, err = r.liveVersions(ctx, roomID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			live[roomID] = known
		}
		if known[versionID] {
			result.Live++
			continue
		}

		// the prefetch is capped, so confirm before deleting
		_, err := r.metadata.GetVersion(ctx, roomID, versionID)
		if err == nil {
			result.Live++
			continue
		}
		if !errors.Is(err, store.ErrVersionNotFound) {
			errs = append(errs, fmt.Errorf("lookup %s: %w", obj.Path, err))
			continue
		}

		result.Orphaned++
		if err := r.blobs.Delete(ctx, obj.Path); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", obj.Path, err))
			continue
		}
		result.Deleted = append(result.Deleted, obj.Path)
	}

	r.logger.Info("reconcile pass",
		"scanned", result.Scanned,
		"live", result.Live,
		"young", result.Young,
		"orphaned", result.Orphaned,
		"deleted", len(result.Deleted),
	)
	if len(errs) > 0 {
		return result, newError(KindStore, op, "", "", errors.Join(errs...))
	}
	return result, nil
}

func (r *Reconciler) liveVersions(ctx context.Context, roomID string) (map[string]bool, error) {
	versions, err := r.metadata.ListVersions(ctx, roomID, r.config.ListUpperBound)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", roomID, err)
	}
	known := make(map[string]bool, len(versions))
	for _, v := range versions {
		known[v.ID] = true
	}
	return known, nil
}

// Run reconciles every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconcile failed", "error", err)
			}
		}
	}
}
