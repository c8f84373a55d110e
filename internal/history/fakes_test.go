package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"roomhistory/internal/blobstore"
	"roomhistory/internal/reporting"
	"roomhistory/internal/snapshot"
	"roomhistory/internal/store"
)

func sampleSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		SchemaVersion: snapshot.SchemaVersion,
		Metadata:      snapshot.Metadata{AppVersion: "2.4.0", Timestamp: 1760000000000, CreatedBy: "user-avery"},
		Pages: map[string]snapshot.Page{
			"page:1": {ID: "page:1", Name: "Board", Index: "a1"},
		},
		PageOrder: []string{"page:1"},
		Shapes: []snapshot.Shape{
			{ID: "shape:box", Type: "geo", PageID: "page:1", Index: "a1", X: 10, Y: 20, Opacity: 1,
				Props: map[string]any{"w": 100.0, "h": 50.0, "geo": "rectangle"}},
			{ID: "shape:note", Type: "note", PageID: "page:1", Index: "a2", X: 300, Y: 40, Opacity: 1,
				Props: map[string]any{"text": "hello"}},
		},
		Bindings: []snapshot.Binding{},
		Assets:   map[string]snapshot.AssetManifest{},
		Camera:   snapshot.Camera{PageID: "page:1", Zoom: 1},
	}
}

// moved returns s with the first shape shifted by dx.
func moved(s snapshot.Snapshot, dx float64) snapshot.Snapshot {
	shapes := append([]snapshot.Shape(nil), s.Shapes...)
	shapes[0].X += dx
	s.Shapes = shapes
	return s
}

type blobEntry struct {
	data        []byte
	contentType string
	attrs       map[string]string
	modifiedAt  time.Time
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string]blobEntry
	now     func() time.Time
	puts    int

	putFn    func(ctx context.Context, path string) error
	getFn    func(path string) error
	deleteFn func(path string) error
	listFn   func(prefix string) error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string]blobEntry{}, now: time.Now}
}

func (b *fakeBlobs) Put(ctx context.Context, path string, data []byte, contentType string, attrs map[string]string) error {
	if b.putFn != nil {
		if err := b.putFn(ctx, path); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	b.objects[path] = blobEntry{data: append([]byte(nil), data...), contentType: contentType, attrs: attrs, modifiedAt: b.now()}
	return nil
}

func (b *fakeBlobs) Get(_ context.Context, path string) ([]byte, error) {
	if b.getFn != nil {
		if err := b.getFn(path); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, path)
	}
	return append([]byte(nil), obj.data...), nil
}

func (b *fakeBlobs) List(_ context.Context, prefix string) ([]blobstore.Object, error) {
	if b.listFn != nil {
		if err := b.listFn(prefix); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []blobstore.Object{}
	for path, obj := range b.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, blobstore.Object{Path: path, Size: int64(len(obj.data)), ModifiedAt: obj.modifiedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *fakeBlobs) Delete(_ context.Context, path string) error {
	if b.deleteFn != nil {
		if err := b.deleteFn(path); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, path)
	return nil
}

func (b *fakeBlobs) has(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok
}

func (b *fakeBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

func (b *fakeBlobs) setModified(path string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj := b.objects[path]
	obj.modifiedAt = at
	b.objects[path] = obj
}

// fakeMetadata is an in-memory metadata store that assigns createdAt from a
// monotonic counter, like a backend clock.
type fakeMetadata struct {
	mu       sync.Mutex
	versions map[string]store.VersionMetadata
	clock    time.Time

	createFn func(ctx context.Context, v store.VersionMetadata) error
	getFn    func(roomID, versionID string) error
	listFn   func(roomID string) error
	deleteFn func(roomID, versionID string) error
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{
		versions: map[string]store.VersionMetadata{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func metaKey(roomID, versionID string) string { return roomID + "\x00" + versionID }

func (m *fakeMetadata) CreateVersion(ctx context.Context, v store.VersionMetadata) (store.VersionMetadata, error) {
	if m.createFn != nil {
		if err := m.createFn(ctx, v); err != nil {
			return store.VersionMetadata{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metaKey(v.RoomID, v.ID)
	if _, exists := m.versions[key]; exists {
		return store.VersionMetadata{}, fmt.Errorf("duplicate version %s", v.ID)
	}
	m.clock = m.clock.Add(time.Millisecond)
	v.CreatedAt = m.clock
	m.versions[key] = v
	return v, nil
}

func (m *fakeMetadata) GetVersion(_ context.Context, roomID, versionID string) (store.VersionMetadata, error) {
	if m.getFn != nil {
		if err := m.getFn(roomID, versionID); err != nil {
			return store.VersionMetadata{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[metaKey(roomID, versionID)]
	if !ok {
		return store.VersionMetadata{}, store.ErrVersionNotFound
	}
	return v, nil
}

func (m *fakeMetadata) ListVersions(_ context.Context, roomID string, limit int) ([]store.VersionMetadata, error) {
	if m.listFn != nil {
		if err := m.listFn(roomID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.VersionMetadata{}
	for _, v := range m.versions {
		if v.RoomID == roomID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit <= 0 {
		return []store.VersionMetadata{}, nil
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *fakeMetadata) DeleteVersion(_ context.Context, roomID, versionID string) error {
	if m.deleteFn != nil {
		if err := m.deleteFn(roomID, versionID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.versions, metaKey(roomID, versionID))
	return nil
}

func (m *fakeMetadata) count(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.versions {
		if v.RoomID == roomID {
			n++
		}
	}
	return n
}

// seed creates n versions with increasing createdAt and returns their ids
// oldest first.
func (m *fakeMetadata) seed(roomID string, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("v%03d", i)
		_, _ = m.CreateVersion(context.Background(), store.VersionMetadata{ID: id, RoomID: roomID, StoragePath: BlobPath(roomID, id)})
		ids = append(ids, id)
	}
	return ids
}

type fakeExporter struct {
	mu      sync.Mutex
	snap    snapshot.Snapshot
	err     error
	calls   int
	block   chan struct{}
	entered chan struct{}
	panicOn bool
}

func (e *fakeExporter) set(s snapshot.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap = s
}

func (e *fakeExporter) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *fakeExporter) Export(ctx context.Context, _, _ string) (snapshot.Snapshot, error) {
	e.mu.Lock()
	e.calls++
	block, entered, snap, err, panicOn := e.block, e.entered, e.snap, e.err, e.panicOn
	e.mu.Unlock()

	if panicOn {
		panic("document provider exploded")
	}
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return snapshot.Snapshot{}, ctx.Err()
		}
	}
	return snap, err
}

func (e *fakeExporter) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordingReporter struct {
	mu     sync.Mutex
	events []reporting.Event
}

func (r *recordingReporter) Report(_ context.Context, e reporting.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingReporter) all() []reporting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reporting.Event(nil), r.events...)
}

// fakeDocument is a single-page document whose Apply is all-or-nothing.
type fakeDocument struct {
	mu       sync.Mutex
	pages    []snapshot.Page
	shapes   []snapshot.Shape
	bindings []snapshot.Binding
	camera   snapshot.Camera
	applyFn  func() error
}

func (d *fakeDocument) Pages(context.Context) ([]snapshot.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]snapshot.Page(nil), d.pages...), nil
}

func (d *fakeDocument) CurrentPageID(context.Context) (string, error) { return "page:1", nil }

func (d *fakeDocument) CurrentPageShapes(context.Context) ([]snapshot.Shape, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]snapshot.Shape(nil), d.shapes...), nil
}

func (d *fakeDocument) Bindings(context.Context) ([]snapshot.Binding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]snapshot.Binding(nil), d.bindings...), nil
}

func (d *fakeDocument) Camera(context.Context) (snapshot.Camera, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.camera, nil
}

func (d *fakeDocument) Apply(_ context.Context, fn func(tx snapshot.DocumentTx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx := &fakeDocumentTx{
		shapes:   append([]snapshot.Shape(nil), d.shapes...),
		bindings: append([]snapshot.Binding(nil), d.bindings...),
		camera:   d.camera,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if d.applyFn != nil {
		if err := d.applyFn(); err != nil {
			return err
		}
	}
	d.shapes, d.bindings, d.camera = tx.shapes, tx.bindings, tx.camera
	return nil
}

type fakeDocumentTx struct {
	shapes   []snapshot.Shape
	bindings []snapshot.Binding
	camera   snapshot.Camera
}

func (tx *fakeDocumentTx) CreateShapes(shapes []snapshot.Shape) error {
	tx.shapes = append(tx.shapes, shapes...)
	return nil
}

func (tx *fakeDocumentTx) DeleteShapes(ids []string) error {
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := tx.shapes[:0]
	for _, s := range tx.shapes {
		if !drop[s.ID] {
			kept = append(kept, s)
		}
	}
	tx.shapes = kept
	bindings := tx.bindings[:0]
	for _, b := range tx.bindings {
		if !drop[b.FromID] && !drop[b.ToID] {
			bindings = append(bindings, b)
		}
	}
	tx.bindings = bindings
	return nil
}

func (tx *fakeDocumentTx) CreateBindings(bindings []snapshot.Binding) error {
	tx.bindings = append(tx.bindings, bindings...)
	return nil
}

func (tx *fakeDocumentTx) SetCamera(c snapshot.Camera) error {
	tx.camera = c
	return nil
}
