package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roomhistory/internal/reporting"
	"roomhistory/internal/snapshot"
	"roomhistory/internal/store"
)

// State is the Autosaver's position in its tick cycle.
type State int

const (
	StateIdle State = iota
	StateSampling
	StateSaving
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateSaving:
		return "saving"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is what a single tick did.
type Outcome string

const (
	// OutcomeBaseline records the first observed hash without saving.
	OutcomeBaseline  Outcome = "baseline"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSaved     Outcome = "saved"
	// OutcomeSkipped means another tick was still in flight.
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
	OutcomeStopped  Outcome = "stopped"
)

// TickResult describes one tick.
type TickResult struct {
	Outcome     Outcome
	ContentHash string
	Version     *store.VersionMetadata
	Pruned      *PruneResult
	Err         error
}

// SnapshotExporter captures the live document.
type SnapshotExporter interface {
	Export(ctx context.Context, roomID, userID string) (snapshot.Snapshot, error)
}

// AutosaveConfig configures an Autosaver.
type AutosaveConfig struct {
	RoomID string
	UserID string
	// Interval between ticks. Default: 30 seconds.
	Interval time.Duration
	// InitialDelay before the first tick. Default: 5 seconds; negative
	// means no delay.
	InitialDelay time.Duration
	// KeepLast is passed to Retention after each save. Zero uses the
	// Retention default.
	KeepLast int
	// Label for automatic saves. Default: AutosaveLabel.
	Label string
}

func (c *AutosaveConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 5 * time.Second
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.Label == "" {
		c.Label = AutosaveLabel
	}
}

// Autosaver periodically samples one editing session and saves a version
// when the content hash changed. It owns lastContentHash for that session;
// create one per session and discard it on teardown.
type Autosaver struct {
	config    AutosaveConfig
	exporter  SnapshotExporter
	recorder  *Recorder
	retention *Retention
	reporter  reporting.Reporter
	logger    *slog.Logger

	tickMu sync.Mutex

	mu       sync.Mutex
	state    State
	lastHash string
	hasHash  bool

	stopOnce sync.Once
	stopCh   chan struct{}

	newTicker func(time.Duration) (<-chan time.Time, func())
	after     func(time.Duration) <-chan time.Time
}

// NewAutosaver builds an Autosaver. retention and reporter may be nil.
func NewAutosaver(cfg AutosaveConfig, exporter SnapshotExporter, recorder *Recorder, retention *Retention, reporter reporting.Reporter, logger *slog.Logger) *Autosaver {
	cfg.defaults()
	if reporter == nil {
		reporter = reporting.Nop{}
	}
	return &Autosaver{
		config:    cfg,
		exporter:  exporter,
		recorder:  recorder,
		retention: retention,
		reporter:  reporter,
		logger:    loggerOrDefault(logger),
		stopCh:    make(chan struct{}),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		after: time.After,
	}
}

func (a *Autosaver) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastContentHash returns the hash of the last saved or baseline snapshot.
func (a *Autosaver) LastContentHash() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastHash, a.hasHash
}

func (a *Autosaver) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateStopped {
		return
	}
	a.state = s
}

// Stop moves the Autosaver to Stopped and ends Run. A tick that already
// stored its blob still commits its metadata.
func (a *Autosaver) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.state = StateStopped
		a.mu.Unlock()
		close(a.stopCh)
	})
}

// Run waits InitialDelay, ticks once, then ticks every Interval until ctx is
// done or Stop is called. Ticks never overlap.
func (a *Autosaver) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.Stop()

	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	a.logger.Info("autosave started", "room", a.config.RoomID, "interval", a.config.Interval.String())
	defer a.logger.Info("autosave stopped", "room", a.config.RoomID)

	if a.config.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-a.after(a.config.InitialDelay):
		}
	}

	ticks, stopTicker := a.newTicker(a.config.Interval)
	defer stopTicker()

	a.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			a.Tick(ctx)
		}
	}
}

// Tick runs one sample-compare-save cycle. Failures are reported and never
// returned as panics; they leave lastContentHash unchanged so the same
// content is retried on the next tick.
func (a *Autosaver) Tick(ctx context.Context) TickResult {
	if a.State() == StateStopped {
		return TickResult{Outcome: OutcomeStopped}
	}
	if !a.tickMu.TryLock() {
		a.logger.Debug("autosave tick skipped, previous tick in flight", "room", a.config.RoomID)
		return TickResult{Outcome: OutcomeSkipped}
	}
	defer a.tickMu.Unlock()

	start := time.Now()
	result := a.tick(ctx)
	a.setState(StateIdle)

	attrs := []any{"room", a.config.RoomID, "outcome", string(result.Outcome), "duration_ms", time.Since(start).Milliseconds()}
	if result.Version != nil {
		attrs = append(attrs, "version", result.Version.ID)
	}
	if result.Err != nil {
		attrs = append(attrs, "error", result.Err)
	}
	a.logger.Debug("autosave tick", attrs...)
	return result
}

func (a *Autosaver) tick(ctx context.Context) (result TickResult) {
	defer func() {
		if r := recover(); r != nil {
			err := newError(KindExport, "autosave.tick", a.config.RoomID, "", panicError{value: r})
			report(ctx, a.reporter, a.logger, err)
			result = TickResult{Outcome: OutcomeFailed, Err: err}
		}
	}()

	a.setState(StateSampling)
	snap, err := a.exporter.Export(ctx, a.config.RoomID, a.config.UserID)
	if err != nil {
		return a.fail(ctx, KindExport, "autosave.export", err)
	}
	hash, err := snapshot.Hash(snap)
	if err != nil {
		return a.fail(ctx, KindCodec, "autosave.hash", err)
	}

	a.mu.Lock()
	last, has := a.lastHash, a.hasHash
	if !has {
		a.lastHash, a.hasHash = hash, true
	}
	a.mu.Unlock()

	if !has {
		return TickResult{Outcome: OutcomeBaseline, ContentHash: hash}
	}
	if hash == last {
		return TickResult{Outcome: OutcomeUnchanged, ContentHash: hash}
	}

	a.setState(StateSaving)
	record, err := a.recorder.Save(ctx, SaveInput{
		RoomID:      a.config.RoomID,
		CreatedBy:   a.config.UserID,
		Label:       a.config.Label,
		Snapshot:    snap,
		ContentHash: hash,
	})
	if err != nil {
		if ctx.Err() != nil {
			return TickResult{Outcome: OutcomeCanceled, Err: err}
		}
		report(ctx, a.reporter, a.logger, err)
		return TickResult{Outcome: OutcomeFailed, Err: err}
	}

	a.mu.Lock()
	a.lastHash = hash
	a.mu.Unlock()

	result = TickResult{Outcome: OutcomeSaved, ContentHash: hash, Version: &record}
	if a.retention == nil {
		return result
	}
	keep := a.config.KeepLast
	if keep <= 0 {
		keep = a.retention.KeepLast()
	}
	pruned, err := a.retention.Prune(ctx, a.config.RoomID, keep)
	result.Pruned = &pruned
	if err != nil && ctx.Err() == nil {
		// the version is committed; a failed prune converges on a later save
		report(ctx, a.reporter, a.logger, err)
	}
	return result
}

func (a *Autosaver) fail(ctx context.Context, kind Kind, op string, err error) TickResult {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return TickResult{Outcome: OutcomeCanceled, Err: err}
	}
	herr := newError(kind, op, a.config.RoomID, "", err)
	report(ctx, a.reporter, a.logger, herr)
	return TickResult{Outcome: OutcomeFailed, Err: herr}
}

type panicError struct{ value any }

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
