package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomhistory/internal/config"
	"roomhistory/internal/history"
	"roomhistory/internal/snapshot"
	"roomhistory/internal/store"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	rr := h.do(http.MethodGet, "/api/health", "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newHarness(t)
	rr := h.do(http.MethodGet, "/api/health", "", nil, "X-Request-ID", "req-fixed")
	assert.Equal(t, "req-fixed", rr.Header().Get("X-Request-ID"))
}

func TestReadyEndpoint(t *testing.T) {
	h := newHarness(t)
	rr := h.do(http.MethodGet, "/api/ready", "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"].(map[string]any)["status"])
	assert.Equal(t, "ok", checks["blobs"].(map[string]any)["status"])
}

func TestReadyEndpointDatabaseDown(t *testing.T) {
	svc := NewService(config.Config{}, Dependencies{
		Metadata: pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}, nil)
	rr := httptest.NewRecorder()
	NewHTTPServer(svc, "*").Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "not_ready", body["status"])
	db := body["checks"].(map[string]any)["database"].(map[string]any)
	assert.Equal(t, "error", db["status"])
	assert.Contains(t, db["error"], "connection refused")
}

func TestOptionsPreflight(t *testing.T) {
	h := newHarness(t)
	rr := h.do(http.MethodOptions, "/api/rooms/r1/versions", "", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), syncTokenHeader)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)
	rr := h.do(http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorBody](t, rr).Code)
}

func TestRoomRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct {
		name   string
		method string
		path   string
		token  string
	}{
		{name: "no token", method: http.MethodGet, path: "/api/rooms/r1/versions"},
		{name: "garbage token", method: http.MethodGet, path: "/api/rooms/r1/versions", token: "abc.def"},
		{name: "reconcile", method: http.MethodPost, path: "/api/admin/reconcile"},
		{name: "save", method: http.MethodPost, path: "/api/rooms/r1/versions"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rr := h.do(tc.method, tc.path, tc.token, nil)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "UNAUTHORIZED", decode[errorBody](t, rr).Code)
		})
	}
}

func TestSaveListGetAndLoadVersion(t *testing.T) {
	h := newHarness(t)
	editor := issueToken(t, "user-avery", "editor")

	rr := h.do(http.MethodPost, "/api/rooms/room-1/versions", editor, SaveVersionInput{
		Label:    "  before the review  ",
		Snapshot: boardSnapshot(10),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	saved := decode[SaveVersionResult](t, rr)
	assert.Equal(t, "room-1", saved.Version.RoomID)
	assert.Equal(t, "user-avery", saved.Version.CreatedBy)
	assert.Equal(t, "before the review", saved.Version.Label)
	assert.Equal(t, history.BlobPath("room-1", saved.Version.ID), saved.Version.StoragePath)
	assert.Empty(t, saved.Pruned)

	rr = h.do(http.MethodGet, "/api/rooms/room-1/versions", editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct {
		Versions []store.VersionMetadata `json:"versions"`
	}](t, rr)
	require.Len(t, list.Versions, 1)
	assert.Equal(t, saved.Version.ID, list.Versions[0].ID)

	rr = h.do(http.MethodGet, "/api/rooms/room-1/versions/"+saved.Version.ID, editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[struct {
		Version store.VersionMetadata `json:"version"`
	}](t, rr)
	assert.Equal(t, saved.Version.ContentHash, got.Version.ContentHash)

	rr = h.do(http.MethodGet, "/api/rooms/room-1/versions/"+saved.Version.ID+"/snapshot", editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	loaded := decode[VersionSnapshot](t, rr)
	assert.Equal(t, boardSnapshot(10), loaded.Snapshot)
	assert.Equal(t, saved.Version.ID, loaded.Version.ID)
}

func TestSnapshotDownloadAsGzip(t *testing.T) {
	h := newHarness(t)
	editor := issueToken(t, "user-avery", "editor")
	saved := decode[SaveVersionResult](t, h.do(http.MethodPost, "/api/rooms/room-1/versions", editor,
		SaveVersionInput{Snapshot: boardSnapshot(10)}))

	rr := h.do(http.MethodGet, "/api/rooms/room-1/versions/"+saved.Version.ID+"/snapshot?format=gzip", editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, snapshot.ContentType, rr.Header().Get("Content-Type"))
	assert.Equal(t, int64(rr.Body.Len()), saved.Version.Bytes)

	raw, err := snapshot.Decompress(rr.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, boardSnapshot(10), raw)
}

func TestGetMissingVersion(t *testing.T) {
	h := newHarness(t)
	viewer := issueToken(t, "user-v", "viewer")

	for _, path := range []string{
		"/api/rooms/room-1/versions/missing",
		"/api/rooms/room-1/versions/missing/snapshot",
	} {
		rr := h.do(http.MethodGet, path, viewer, nil)
		require.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, "NOT_FOUND", decode[errorBody](t, rr).Code)
	}
}

func TestListLimitValidation(t *testing.T) {
	h := newHarness(t)
	viewer := issueToken(t, "user-v", "viewer")

	rr := h.do(http.MethodGet, "/api/rooms/room-1/versions?limit=abc", viewer, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(http.MethodGet, "/api/rooms/room-1/versions?limit=101", viewer, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[errorBody](t, rr)
	assert.Equal(t, "INVALID_LIMIT", body.Code)
	assert.EqualValues(t, 100, body.Details["max"])

	rr = h.do(http.MethodGet, "/api/rooms/room-1/versions?limit=100", viewer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRolesAndRoomScope(t *testing.T) {
	h := newHarness(t)
	viewer := issueToken(t, "user-v", "viewer")
	scoped := issueToken(t, "user-s", "editor", "room-2")
	editor := issueToken(t, "user-e", "editor")

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
	}{
		{name: "viewer cannot save", method: http.MethodPost, path: "/api/rooms/room-1/versions", token: viewer,
			body: SaveVersionInput{Snapshot: boardSnapshot(1)}, status: http.StatusForbidden},
		{name: "viewer cannot delete", method: http.MethodDelete, path: "/api/rooms/room-1/versions/v1", token: viewer,
			status: http.StatusForbidden},
		{name: "scoped token other room", method: http.MethodGet, path: "/api/rooms/room-1/versions", token: scoped,
			status: http.StatusForbidden},
		{name: "scoped token own room", method: http.MethodGet, path: "/api/rooms/room-2/versions", token: scoped,
			status: http.StatusOK},
		{name: "editor cannot prune", method: http.MethodPost, path: "/api/rooms/room-1/prune", token: editor,
			body: map[string]int{"keepLast": 1}, status: http.StatusForbidden},
		{name: "editor cannot read failures", method: http.MethodGet, path: "/api/rooms/room-1/failures", token: editor,
			status: http.StatusForbidden},
		{name: "editor cannot reconcile", method: http.MethodPost, path: "/api/admin/reconcile", token: editor,
			status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := h.do(tc.method, tc.path, tc.token, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			if tc.status == http.StatusForbidden {
				assert.Equal(t, "FORBIDDEN", decode[errorBody](t, rr).Code)
			}
		})
	}
}

func TestSyncTokenSave(t *testing.T) {
	h := newHarness(t)
	snap := boardSnapshot(10)

	rr := h.do(http.MethodPost, "/api/rooms/room-1/versions", "", SaveVersionInput{Snapshot: snap},
		syncTokenHeader, testSyncToken)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	saved := decode[SaveVersionResult](t, rr)
	assert.Equal(t, "user-sam", saved.Version.CreatedBy, "service saves keep the session author")

	rr = h.do(http.MethodPost, "/api/rooms/room-1/versions", "", SaveVersionInput{Snapshot: snap},
		syncTokenHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// the sync token only opens the save route
	rr = h.do(http.MethodGet, "/api/rooms/room-1/versions", "", nil, syncTokenHeader, testSyncToken)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSaveRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	editor := issueToken(t, "user-e", "editor")

	broken := boardSnapshot(1)
	broken.Shapes[0].PageID = "page:missing"
	newer := boardSnapshot(1)
	newer.SchemaVersion = snapshot.SchemaVersion + 1

	cases := []struct {
		name   string
		input  SaveVersionInput
		status int
		code   string
	}{
		{name: "dangling page reference", input: SaveVersionInput{Snapshot: broken},
			status: http.StatusUnprocessableEntity, code: "INVALID_SNAPSHOT"},
		{name: "newer schema", input: SaveVersionInput{Snapshot: newer},
			status: http.StatusUnprocessableEntity, code: "SCHEMA_VERSION_UNSUPPORTED"},
		{name: "missing snapshot", input: SaveVersionInput{Label: "x"},
			status: http.StatusUnprocessableEntity, code: "INVALID_SNAPSHOT"},
		{name: "long label", input: SaveVersionInput{Label: strings.Repeat("a", 201), Snapshot: boardSnapshot(1)},
			status: http.StatusBadRequest, code: "INVALID_LABEL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := h.do(http.MethodPost, "/api/rooms/room-1/versions", editor, tc.input)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, tc.code, decode[errorBody](t, rr).Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/room-1/versions", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+editor)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_BODY", decode[errorBody](t, rr).Code)
}

func TestSaveRejectsOversizedBody(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.SnapshotMaxBytes = 256 })
	editor := issueToken(t, "user-e", "editor")

	snap := boardSnapshot(1)
	snap.Shapes[0].Props["text"] = strings.Repeat("x", 1024)
	rr := h.do(http.MethodPost, "/api/rooms/room-1/versions", editor, SaveVersionInput{Snapshot: snap})
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decode[errorBody](t, rr).Code)
}

func TestManualSavesArePrunedToMaxVersions(t *testing.T) {
	h := newHarness(t)
	editor := issueToken(t, "user-e", "editor")

	var ids []string
	for i := 0; i < 5; i++ {
		rr := h.do(http.MethodPost, "/api/rooms/room-1/versions", editor,
			SaveVersionInput{Label: "manual", Snapshot: boardSnapshot(float64(i))})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		ids = append(ids, decode[SaveVersionResult](t, rr).Version.ID)
		time.Sleep(2 * time.Millisecond)
	}

	list := decode[struct {
		Versions []store.VersionMetadata `json:"versions"`
	}](t, h.do(http.MethodGet, "/api/rooms/room-1/versions", editor, nil))
	require.Len(t, list.Versions, 3)
	assert.Equal(t, []string{ids[4], ids[3], ids[2]},
		[]string{list.Versions[0].ID, list.Versions[1].ID, list.Versions[2].ID})
}

func TestDeleteVersionThenReconcile(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.ReconcileGrace = time.Millisecond })
	editor := issueToken(t, "user-e", "editor")
	admin := issueToken(t, "user-a", "admin")

	saved := decode[SaveVersionResult](t, h.do(http.MethodPost, "/api/rooms/room-1/versions", editor,
		SaveVersionInput{Snapshot: boardSnapshot(1)}))

	rr := h.do(http.MethodDelete, "/api/rooms/room-1/versions/"+saved.Version.ID, editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode[map[string]any](t, rr)["deleted"])

	// deleting again is not an error
	rr = h.do(http.MethodDelete, "/api/rooms/room-1/versions/"+saved.Version.ID, editor, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(http.MethodGet, "/api/rooms/room-1/versions/"+saved.Version.ID, editor, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	time.Sleep(5 * time.Millisecond)
	rr = h.do(http.MethodPost, "/api/admin/reconcile", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decode[history.ReconcileResult](t, rr)
	assert.Equal(t, []string{saved.Version.StoragePath}, result.Deleted)
}

func TestPruneEndpoint(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.MaxVersions = 10 })
	editor := issueToken(t, "user-e", "editor")
	admin := issueToken(t, "user-a", "admin")

	for i := 0; i < 4; i++ {
		rr := h.do(http.MethodPost, "/api/rooms/room-1/versions", editor, SaveVersionInput{Snapshot: boardSnapshot(float64(i))})
		require.Equal(t, http.StatusCreated, rr.Code)
		time.Sleep(2 * time.Millisecond)
	}

	rr := h.do(http.MethodPost, "/api/rooms/room-1/prune", admin, map[string]int{"keepLast": 1})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decode[history.PruneResult](t, rr)
	assert.Equal(t, 4, result.Listed)
	assert.Equal(t, 1, result.Kept)
	assert.Len(t, result.Deleted, 3)

	rr = h.do(http.MethodPost, "/api/rooms/room-1/prune", admin, map[string]int{"keepLast": -1})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decode[errorBody](t, rr).Code)

	// no body falls back to the configured maximum
	rr = h.do(http.MethodPost, "/api/rooms/room-1/prune", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[history.PruneResult](t, rr).Deleted)
}

func TestFailuresEndpointWithoutRedis(t *testing.T) {
	h := newHarness(t)
	admin := issueToken(t, "user-a", "admin")

	rr := h.do(http.MethodGet, "/api/rooms/room-1/failures", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string][]any](t, rr)
	assert.Empty(t, body["failures"])

	rr = h.do(http.MethodGet, "/api/rooms/room-1/failures?limit=-2", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRecovererTurnsPanicsInto500(t *testing.T) {
	svc := NewService(config.Config{AuthSecret: testSecret}, Dependencies{}, nil)
	handler := NewHTTPServer(svc, "*").Handler()

	// a service without a loader panics on the nil component
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/room-1/versions", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer "+issueToken(t, "user-v", "viewer"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
