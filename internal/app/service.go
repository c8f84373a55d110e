package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"roomhistory/internal/auth"
	"roomhistory/internal/config"
	"roomhistory/internal/history"
	"roomhistory/internal/rbac"
	"roomhistory/internal/reporting"
	"roomhistory/internal/snapshot"
	"roomhistory/internal/store"
)

const (
	defaultListLimit = 50
	syncUserID       = "sync-gateway"
)

type Session struct {
	UserID    string
	UserName  string
	Role      string
	Rooms     []string
	JTI       string
	ExpiresAt time.Time
}

// FailureLog is the readable side of the failure reporter.
type FailureLog interface {
	Recent(ctx context.Context, roomID string, limit int) ([]reporting.Event, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires a Service. Failures and Reconciler may be nil.
type Dependencies struct {
	Loader     *history.Loader
	Recorder   *history.Recorder
	Retention  *history.Retention
	Reconciler *history.Reconciler
	Reporter   reporting.Reporter
	Failures   FailureLog
	Metadata   pinger
	Blobs      pinger
}

type Service struct {
	cfg        config.Config
	loader     *history.Loader
	recorder   *history.Recorder
	retention  *history.Retention
	reconciler *history.Reconciler
	reporter   reporting.Reporter
	failures   FailureLog
	metadata   pinger
	blobs      pinger
	logger     *slog.Logger
}

func NewService(cfg config.Config, deps Dependencies, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = reporting.NewLogReporter(logger)
	}
	return &Service{
		cfg:        cfg,
		loader:     deps.Loader,
		recorder:   deps.Recorder,
		retention:  deps.Retention,
		reconciler: deps.Reconciler,
		reporter:   reporter,
		failures:   deps.Failures,
		metadata:   deps.Metadata,
		blobs:      deps.Blobs,
		logger:     logger,
	}
}

type SaveVersionInput struct {
	Label    string            `json:"label"`
	Snapshot snapshot.Snapshot `json:"snapshot"`
}

type SaveVersionResult struct {
	Version store.VersionMetadata `json:"version"`
	Pruned  []string              `json:"pruned"`
}

type VersionSnapshot struct {
	Version  store.VersionMetadata `json:"version"`
	Snapshot snapshot.Snapshot     `json:"snapshot"`
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.AuthSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      string(rbac.Normalize(claims.Role)),
		Rooms:     claims.Rooms,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// SessionFromSyncToken accepts the shared token the sync gateway uses to
// save on behalf of an editing session.
func (s *Service) SessionFromSyncToken(token string) (Session, bool) {
	if !auth.TokenMatches(s.cfg.SyncToken, token) {
		return Session{}, false
	}
	return Session{UserID: syncUserID, UserName: "Sync Gateway", Role: string(rbac.RoleService)}, true
}

func (s *Service) authorize(session Session, roomID string, action rbac.Action) error {
	if !rbac.Can(rbac.Role(session.Role), action) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"action": string(action)})
	}
	if roomID != "" && !(auth.Claims{Rooms: session.Rooms}).AllowsRoom(roomID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Token is not valid for this room", nil)
	}
	return nil
}

func (s *Service) ListVersions(ctx context.Context, session Session, roomID string, limit int) ([]store.VersionMetadata, error) {
	if err := s.authorize(session, roomID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit < 0 || limit > s.listUpperBound() {
		return nil, domainError(http.StatusBadRequest, "INVALID_LIMIT", "limit out of range", map[string]any{"max": s.listUpperBound()})
	}
	return s.loader.List(ctx, roomID, limit)
}

func (s *Service) GetVersion(ctx context.Context, session Session, roomID, versionID string) (store.VersionMetadata, error) {
	if err := s.authorize(session, roomID, rbac.ActionRead); err != nil {
		return store.VersionMetadata{}, err
	}
	return s.loader.Get(ctx, roomID, versionID)
}

func (s *Service) GetSnapshot(ctx context.Context, session Session, roomID, versionID string) (VersionSnapshot, error) {
	if err := s.authorize(session, roomID, rbac.ActionRead); err != nil {
		return VersionSnapshot{}, err
	}
	meta, snap, err := s.loader.Load(ctx, roomID, versionID)
	if err != nil {
		return VersionSnapshot{}, err
	}
	return VersionSnapshot{Version: meta, Snapshot: snap}, nil
}

// GetPayload returns the stored gzip payload unchanged.
func (s *Service) GetPayload(ctx context.Context, session Session, roomID, versionID string) (store.VersionMetadata, []byte, error) {
	if err := s.authorize(session, roomID, rbac.ActionRead); err != nil {
		return store.VersionMetadata{}, nil, err
	}
	return s.loader.Payload(ctx, roomID, versionID)
}

// SaveVersion is the manual save path. It shares the pipeline with
// autosave and prunes afterwards; a failed prune is reported, not returned.
func (s *Service) SaveVersion(ctx context.Context, session Session, roomID string, input SaveVersionInput) (SaveVersionResult, error) {
	if err := s.authorize(session, roomID, rbac.ActionWrite); err != nil {
		return SaveVersionResult{}, err
	}
	label := strings.TrimSpace(input.Label)
	if len(label) > 200 {
		return SaveVersionResult{}, domainError(http.StatusBadRequest, "INVALID_LABEL", "label must be at most 200 characters", nil)
	}
	if input.Snapshot.SchemaVersion > snapshot.SchemaVersion {
		return SaveVersionResult{}, domainError(http.StatusUnprocessableEntity, "SCHEMA_VERSION_UNSUPPORTED", "Snapshot schema version is not supported",
			map[string]any{"max": snapshot.SchemaVersion})
	}
	if err := input.Snapshot.Validate(); err != nil {
		return SaveVersionResult{}, domainError(http.StatusUnprocessableEntity, "INVALID_SNAPSHOT", err.Error(), nil)
	}

	createdBy := session.UserID
	if session.Role == string(rbac.RoleService) && input.Snapshot.Metadata.CreatedBy != "" {
		createdBy = input.Snapshot.Metadata.CreatedBy
	}

	record, err := s.recorder.Save(ctx, history.SaveInput{
		RoomID:    roomID,
		CreatedBy: createdBy,
		Label:     label,
		Snapshot:  input.Snapshot,
	})
	if err != nil {
		s.report(ctx, err)
		return SaveVersionResult{}, err
	}

	result := SaveVersionResult{Version: record, Pruned: []string{}}
	if s.retention != nil {
		pruned, err := s.retention.PruneDefault(ctx, roomID)
		if err != nil {
			s.report(ctx, err)
		}
		if pruned.Deleted != nil {
			result.Pruned = pruned.Deleted
		}
	}
	return result, nil
}

func (s *Service) DeleteVersion(ctx context.Context, session Session, roomID, versionID string) error {
	if err := s.authorize(session, roomID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := s.recorder.Delete(ctx, roomID, versionID); err != nil {
		return err
	}
	s.logger.Info("version deleted", "room", roomID, "version", versionID, "user", session.UserID)
	return nil
}

func (s *Service) Prune(ctx context.Context, session Session, roomID string, keepLast int) (history.PruneResult, error) {
	if err := s.authorize(session, roomID, rbac.ActionAdmin); err != nil {
		return history.PruneResult{}, err
	}
	if s.retention == nil {
		return history.PruneResult{}, domainError(http.StatusServiceUnavailable, "RETENTION_UNAVAILABLE", "Retention is not configured", nil)
	}
	if keepLast == 0 {
		keepLast = s.retention.KeepLast()
	}
	return s.retention.Prune(ctx, roomID, keepLast)
}

func (s *Service) Failures(ctx context.Context, session Session, roomID string, limit int) ([]reporting.Event, error) {
	if err := s.authorize(session, roomID, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	if s.failures == nil {
		return []reporting.Event{}, nil
	}
	return s.failures.Recent(ctx, roomID, limit)
}

func (s *Service) Reconcile(ctx context.Context, session Session) (history.ReconcileResult, error) {
	if err := s.authorize(session, "", rbac.ActionAdmin); err != nil {
		return history.ReconcileResult{}, err
	}
	if s.reconciler == nil {
		return history.ReconcileResult{}, domainError(http.StatusServiceUnavailable, "RECONCILER_UNAVAILABLE", "Reconciler is not configured", nil)
	}
	return s.reconciler.Reconcile(ctx)
}

// Ping checks the metadata store and, when configured, the blob store.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{}
	if s.metadata != nil {
		checks["database"] = s.metadata.Ping(ctx)
	}
	if s.blobs != nil {
		checks["blobs"] = s.blobs.Ping(ctx)
	}
	return checks
}

func (s *Service) listUpperBound() int {
	if s.cfg.ListUpperBound > 0 {
		return s.cfg.ListUpperBound
	}
	return 1000
}

func (s *Service) report(ctx context.Context, err error) {
	var herr *history.Error
	if !errors.As(err, &herr) {
		return
	}
	msg := herr.Error()
	if herr.Err != nil {
		msg = herr.Err.Error()
	}
	s.reporter.Report(context.WithoutCancel(ctx), reporting.Event{
		At:        time.Now().UTC(),
		RoomID:    herr.RoomID,
		VersionID: herr.VersionID,
		Op:        herr.Op,
		Kind:      herr.Kind.String(),
		Message:   msg,
	})
}
