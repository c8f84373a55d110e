package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"roomhistory/internal/store"
)

// RetentionConfig configures a Retention policy.
type RetentionConfig struct {
	// KeepLast is the default number of versions kept per room. Default: 20.
	KeepLast int
	// ListUpperBound caps how many versions one prune pass looks at.
	// Default: 1000.
	ListUpperBound int
	// Concurrency bounds parallel deletes. Default: 4.
	Concurrency int
}

func (c *RetentionConfig) defaults() {
	if c.KeepLast <= 0 {
		c.KeepLast = 20
	}
	if c.ListUpperBound <= 0 {
		c.ListUpperBound = 1000
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// PruneResult reports what one prune pass did.
type PruneResult struct {
	Listed  int      `json:"listed"`
	Kept    int      `json:"kept"`
	Deleted []string `json:"deleted"`
}

// Retention keeps only the most recent versions of a room.
type Retention struct {
	metadata MetadataStore
	config   RetentionConfig
	logger   *slog.Logger
}

func NewRetention(metadata MetadataStore, cfg RetentionConfig, logger *slog.Logger) *Retention {
	cfg.defaults()
	return &Retention{metadata: metadata, config: cfg, logger: loggerOrDefault(logger)}
}

// KeepLast is the configured default.
func (p *Retention) KeepLast() int {
	return p.config.KeepLast
}

// PruneDefault prunes roomID down to the configured KeepLast.
func (p *Retention) PruneDefault(ctx context.Context, roomID string) (PruneResult, error) {
	return p.Prune(ctx, roomID, p.config.KeepLast)
}

// Prune keeps the keepLast newest versions of roomID and deletes the rest.
// Deletes run concurrently and are idempotent, so racing prunes of the same
// room converge. A failed delete does not stop the others; every failure is
// joined into the returned PruneFailure.
func (p *Retention) Prune(ctx context.Context, roomID string, keepLast int) (PruneResult, error) {
	const op = "retention.prune"
	if keepLast < 1 {
		return PruneResult{}, newError(KindInvalidArgument, op, roomID, "", fmt.Errorf("keepLast must be >= 1, got %d", keepLast))
	}
	if err := validateID("room id", roomID); err != nil {
		return PruneResult{}, newError(KindInvalidArgument, op, roomID, "", err)
	}

	versions, err := p.metadata.ListVersions(ctx, roomID, p.config.ListUpperBound)
	if err != nil {
		return PruneResult{}, newError(KindPrune, op, roomID, "", fmt.Errorf("list versions: %w", err))
	}
	result := PruneResult{Listed: len(versions), Kept: len(versions), Deleted: []string{}}
	if len(versions) <= keepLast {
		return result, nil
	}

	victims := versions[keepLast:]
	var (
		mu      sync.Mutex
		deleted = make([]string, 0, len(victims))
		errs    []error
	)
	g := new(errgroup.Group)
	g.SetLimit(p.config.Concurrency)
	for _, v := range victims {
		v := v
		g.Go(func() error {
			err := p.metadata.DeleteVersion(ctx, roomID, v.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && !errors.Is(err, store.ErrVersionNotFound) {
				errs = append(errs, fmt.Errorf("delete %s: %w", v.ID, err))
				return nil
			}
			deleted = append(deleted, v.ID)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(deleted)
	result.Deleted = deleted
	result.Kept = len(versions) - len(deleted)

	if len(errs) > 0 {
		return result, newError(KindPrune, op, roomID, "", errors.Join(errs...))
	}
	p.logger.Info("versions pruned", "room", roomID, "deleted", len(deleted), "kept", keepLast)
	return result, nil
}
