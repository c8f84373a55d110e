package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roomhistory/internal/auth"
	"roomhistory/internal/config"
	"roomhistory/internal/snapshot"
)

const (
	testSecret    = "test-secret"
	testSyncToken = "sync-secret"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		MetadataBackend:   config.MetadataBackendSQLite,
		SQLitePath:        filepath.Join(dir, "history.db"),
		BlobBackend:       config.BlobBackendFS,
		BlobDir:           filepath.Join(dir, "blobs"),
		AuthSecret:        testSecret,
		SyncToken:         testSyncToken,
		CORSOrigin:        "*",
		AppVersion:        "test",
		AutosaveInterval:  time.Second,
		MaxVersions:       3,
		ListUpperBound:    100,
		PruneConcurrency:  2,
		ReconcileInterval: time.Minute,
		ReconcileGrace:    time.Minute,
		SnapshotMaxBytes:  1 << 20,
		FailureLogSize:    10,
		FailureLogTTL:     time.Hour,
	}
}

type harness struct {
	t       *testing.T
	runtime *Runtime
	service *Service
	handler http.Handler
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig(t)
	for _, fn := range mutate {
		fn(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := OpenRuntime(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	svc := NewService(cfg, rt.Dependencies(), logger)
	return &harness{
		t:       t,
		runtime: rt,
		service: svc,
		handler: NewHTTPServer(svc, cfg.CORSOrigin).Handler(),
	}
}

func issueToken(t *testing.T, userID, role string, rooms ...string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:   userID,
		Name:  userID,
		Role:  role,
		Rooms: rooms,
		JTI:   "jti-" + userID,
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return token
}

func (h *harness) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

func boardSnapshot(x float64) snapshot.Snapshot {
	return snapshot.Snapshot{
		SchemaVersion: snapshot.SchemaVersion,
		Metadata:      snapshot.Metadata{AppVersion: "2.4.0", Timestamp: 1760000000000, CreatedBy: "user-sam"},
		Pages: map[string]snapshot.Page{
			"page:1": {ID: "page:1", Name: "Board", Index: "a1"},
		},
		PageOrder: []string{"page:1"},
		Shapes: []snapshot.Shape{
			{ID: "shape:box", Type: "geo", PageID: "page:1", Index: "a1", X: x, Y: 20, Opacity: 1,
				Props: map[string]any{"w": 100.0, "h": 50.0, "geo": "rectangle"}},
		},
		Bindings: []snapshot.Binding{},
		Assets:   map[string]snapshot.AssetManifest{},
		Camera:   snapshot.Camera{PageID: "page:1", Zoom: 1},
	}
}

type errorBody struct {
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}
