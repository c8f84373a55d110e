// Package docfile is a JSON-file backed whiteboard document. It lets the CLI
// run autosave and restore against a local file instead of a live editor.
package docfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"roomhistory/internal/snapshot"
)

// State is the on-disk layout of a document file.
type State struct {
	Pages         []snapshot.Page          `json:"pages"`
	CurrentPageID string                   `json:"currentPageId"`
	Shapes        []snapshot.Shape         `json:"shapes"`
	Bindings      []snapshot.Binding       `json:"bindings,omitempty"`
	Camera        snapshot.Camera          `json:"camera"`
	Assets        []snapshot.AssetManifest `json:"assets,omitempty"`
}

// Document reads the file on every call, so edits made by other processes
// between autosave ticks are picked up. Exports read it once through View.
type Document struct {
	mu   sync.Mutex
	path string
}

// Open returns a Document for an existing file.
func Open(path string) (*Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	return &Document{path: path}, nil
}

// Create writes state to path and returns the Document.
func Create(path string, state State) (*Document, error) {
	d := &Document{path: path}
	if err := d.saveLocked(state); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return d, nil
}

func (d *Document) Path() string {
	return d.path
}

// Read returns the current file contents.
func (d *Document) Read() (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadLocked()
}

// View reads the file once. Every read through the returned provider,
// assets included, sees that one state.
func (d *Document) View(ctx context.Context) (snapshot.DocumentProvider, error) {
	v, err := d.pin(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (d *Document) Pages(ctx context.Context) ([]snapshot.Page, error) {
	v, err := d.pin(ctx)
	if err != nil {
		return nil, err
	}
	return v.Pages(ctx)
}

func (d *Document) CurrentPageID(ctx context.Context) (string, error) {
	v, err := d.pin(ctx)
	if err != nil {
		return "", err
	}
	return v.CurrentPageID(ctx)
}

func (d *Document) CurrentPageShapes(ctx context.Context) ([]snapshot.Shape, error) {
	v, err := d.pin(ctx)
	if err != nil {
		return nil, err
	}
	return v.CurrentPageShapes(ctx)
}

// Bindings returns the bindings between shapes on the current page.
func (d *Document) Bindings(ctx context.Context) ([]snapshot.Binding, error) {
	v, err := d.pin(ctx)
	if err != nil {
		return nil, err
	}
	return v.Bindings(ctx)
}

func (d *Document) Camera(ctx context.Context) (snapshot.Camera, error) {
	v, err := d.pin(ctx)
	if err != nil {
		return snapshot.Camera{}, err
	}
	return v.Camera(ctx)
}

// AssetManifest returns the assets listed in the file. The room id is not
// checked; one file holds one room.
func (d *Document) AssetManifest(ctx context.Context, roomID string) ([]snapshot.AssetManifest, error) {
	v, err := d.pin(ctx)
	if err != nil {
		return nil, err
	}
	return v.AssetManifest(ctx, roomID)
}

// Apply runs fn against an in-memory copy and replaces the file only if fn
// succeeds.
func (d *Document) Apply(ctx context.Context, fn func(tx snapshot.DocumentTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.loadLocked()
	if err != nil {
		return err
	}
	tx := &docTx{state: state}
	if err := fn(tx); err != nil {
		return err
	}
	if err := d.saveLocked(tx.state); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func (d *Document) pin(ctx context.Context) (*view, error) {
	state, err := d.read(ctx)
	if err != nil {
		return nil, err
	}
	return &view{doc: d, state: state}, nil
}

func (d *Document) read(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	return d.Read()
}

func (d *Document) loadLocked() (State, error) {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return State{}, fmt.Errorf("read document: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("decode document: %w", err)
	}
	return state, nil
}

func (d *Document) saveLocked(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}

func (s State) currentPage() string {
	if s.CurrentPageID != "" {
		return s.CurrentPageID
	}
	if len(s.Pages) > 0 {
		return s.Pages[0].ID
	}
	return ""
}

// view is one read of the file. Apply goes back to the document.
type view struct {
	doc   *Document
	state State
}

func (v *view) Pages(context.Context) ([]snapshot.Page, error) {
	return v.state.Pages, nil
}

func (v *view) CurrentPageID(context.Context) (string, error) {
	return v.state.currentPage(), nil
}

func (v *view) CurrentPageShapes(context.Context) ([]snapshot.Shape, error) {
	return v.state.currentPageShapes(), nil
}

func (v *view) Bindings(context.Context) ([]snapshot.Binding, error) {
	onPage := make(map[string]bool)
	for _, s := range v.state.currentPageShapes() {
		onPage[s.ID] = true
	}
	bindings := make([]snapshot.Binding, 0, len(v.state.Bindings))
	for _, b := range v.state.Bindings {
		if onPage[b.FromID] && onPage[b.ToID] {
			bindings = append(bindings, b)
		}
	}
	return bindings, nil
}

func (v *view) Camera(context.Context) (snapshot.Camera, error) {
	return v.state.Camera, nil
}

func (v *view) AssetManifest(context.Context, string) ([]snapshot.AssetManifest, error) {
	return v.state.Assets, nil
}

func (v *view) Apply(ctx context.Context, fn func(tx snapshot.DocumentTx) error) error {
	return v.doc.Apply(ctx, fn)
}

func (s State) currentPageShapes() []snapshot.Shape {
	page := s.currentPage()
	shapes := make([]snapshot.Shape, 0, len(s.Shapes))
	for _, shape := range s.Shapes {
		if shape.PageID == page {
			shapes = append(shapes, shape)
		}
	}
	return shapes
}

type docTx struct {
	state State
}

func (tx *docTx) CreateShapes(shapes []snapshot.Shape) error {
	existing := make(map[string]bool, len(tx.state.Shapes))
	for _, s := range tx.state.Shapes {
		existing[s.ID] = true
	}
	for _, s := range shapes {
		if existing[s.ID] {
			return fmt.Errorf("shape %s already exists", s.ID)
		}
		existing[s.ID] = true
	}
	tx.state.Shapes = append(tx.state.Shapes, shapes...)
	return nil
}

func (tx *docTx) DeleteShapes(ids []string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := make([]snapshot.Shape, 0, len(tx.state.Shapes))
	for _, s := range tx.state.Shapes {
		if !drop[s.ID] {
			kept = append(kept, s)
		}
	}
	tx.state.Shapes = kept

	bindings := make([]snapshot.Binding, 0, len(tx.state.Bindings))
	for _, b := range tx.state.Bindings {
		if !drop[b.FromID] && !drop[b.ToID] {
			bindings = append(bindings, b)
		}
	}
	tx.state.Bindings = bindings
	return nil
}

func (tx *docTx) CreateBindings(bindings []snapshot.Binding) error {
	shapes := make(map[string]bool, len(tx.state.Shapes))
	for _, s := range tx.state.Shapes {
		shapes[s.ID] = true
	}
	existing := make(map[string]bool, len(tx.state.Bindings))
	for _, b := range tx.state.Bindings {
		existing[b.ID] = true
	}
	for _, b := range bindings {
		if existing[b.ID] {
			return fmt.Errorf("binding %s already exists", b.ID)
		}
		if !shapes[b.FromID] || !shapes[b.ToID] {
			return fmt.Errorf("binding %s references unknown shape", b.ID)
		}
		existing[b.ID] = true
	}
	tx.state.Bindings = append(tx.state.Bindings, bindings...)
	return nil
}

func (tx *docTx) SetCamera(camera snapshot.Camera) error {
	if camera.PageID == "" {
		return errors.New("camera page id is required")
	}
	tx.state.Camera = camera
	tx.state.CurrentPageID = camera.PageID
	return nil
}
