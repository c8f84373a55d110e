package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DocumentProvider is the live editing session a snapshot is read from.
// Pages must be returned in display order. Returned values may share maps
// with the live document; Exporter copies them.
type DocumentProvider interface {
	Pages(ctx context.Context) ([]Page, error)
	CurrentPageID(ctx context.Context) (string, error)
	CurrentPageShapes(ctx context.Context) ([]Shape, error)
	Camera(ctx context.Context) (Camera, error)
	// Apply runs fn inside the document's transactional scope. Either every
	// change made through tx lands or none does.
	Apply(ctx context.Context, fn func(tx DocumentTx) error) error
}

// BindingProvider is implemented by documents that support shape bindings.
type BindingProvider interface {
	Bindings(ctx context.Context) ([]Binding, error)
}

// Viewer is implemented by providers that can pin one consistent view of
// the document for the duration of an export. Every read of that export is
// served from the returned provider.
type Viewer interface {
	View(ctx context.Context) (DocumentProvider, error)
}

// DocumentTx mutates a document inside DocumentProvider.Apply. Deleting a
// shape removes the bindings attached to it.
type DocumentTx interface {
	CreateShapes(shapes []Shape) error
	DeleteShapes(ids []string) error
	// CreateBindings adds bindings between shapes that already exist in the
	// transaction.
	CreateBindings(bindings []Binding) error
	SetCamera(camera Camera) error
}

// AssetRegistry lists the assets uploaded for a room.
type AssetRegistry interface {
	AssetManifest(ctx context.Context, roomID string) ([]AssetManifest, error)
}

// Exporter captures snapshots from a live document without mutating it.
type Exporter struct {
	Provider   DocumentProvider
	Assets     AssetRegistry
	AppVersion string
	Now        func() time.Time
}

// Export reads pages, current-page shapes, bindings, assets and camera and
// returns a validated snapshot. Any read error or dangling reference is
// reported as ErrExport.
//
// When Assets is nil and the provider (or its view) also implements
// AssetRegistry, the manifest is read from the provider.
func (e *Exporter) Export(ctx context.Context, roomID, userID string) (Snapshot, error) {
	if e.Provider == nil {
		return Snapshot{}, fmt.Errorf("%w: no document provider", ErrExport)
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	provider := e.Provider
	if viewer, ok := provider.(Viewer); ok {
		view, err := viewer.View(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: open view: %v", ErrExport, err)
		}
		provider = view
	}
	registry := e.Assets
	if registry == nil {
		if ar, ok := provider.(AssetRegistry); ok {
			registry = ar
		}
	}

	pages, err := provider.Pages(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read pages: %v", ErrExport, err)
	}
	shapes, err := provider.CurrentPageShapes(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read shapes: %v", ErrExport, err)
	}
	bindings := []Binding{}
	if bp, ok := provider.(BindingProvider); ok {
		list, err := bp.Bindings(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: read bindings: %v", ErrExport, err)
		}
		for _, b := range list {
			b.Props = cloneMap(b.Props)
			bindings = append(bindings, b)
		}
	}
	camera, err := provider.Camera(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read camera: %v", ErrExport, err)
	}
	if camera.PageID == "" {
		currentPageID, err := provider.CurrentPageID(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: read current page: %v", ErrExport, err)
		}
		camera.PageID = currentPageID
	}

	assets := map[string]AssetManifest{}
	if registry != nil {
		manifest, err := registry.AssetManifest(ctx, roomID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: read asset manifest: %v", ErrExport, err)
		}
		for _, asset := range manifest {
			assets[asset.ID] = asset
		}
	}

	s := Snapshot{
		SchemaVersion: SchemaVersion,
		Metadata: Metadata{
			AppVersion: e.AppVersion,
			Timestamp:  now().UnixMilli(),
			CreatedBy:  userID,
		},
		Pages:     make(map[string]Page, len(pages)),
		PageOrder: make([]string, 0, len(pages)),
		Shapes:    make([]Shape, 0, len(shapes)),
		Bindings:  bindings,
		Assets:    assets,
		Camera:    camera,
	}
	for _, shape := range shapes {
		shape.Props = cloneMap(shape.Props)
		shape.Meta = cloneMap(shape.Meta)
		s.Shapes = append(s.Shapes, shape)
	}
	for _, page := range pages {
		page.Meta = cloneMap(page.Meta)
		s.Pages[page.ID] = page
		s.PageOrder = append(s.PageOrder, page.ID)
	}

	if err := s.Validate(); err != nil {
		if errors.Is(err, ErrCorrupt) {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrExport, err)
		}
		return Snapshot{}, err
	}
	return s, nil
}

// Import replaces the current page's shapes, their bindings and the camera
// with the snapshot's in a single transactional apply.
func Import(ctx context.Context, provider DocumentProvider, s Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	current, err := provider.CurrentPageShapes(ctx)
	if err != nil {
		return fmt.Errorf("read current shapes: %w", err)
	}
	currentIDs := make([]string, 0, len(current))
	for _, shape := range current {
		currentIDs = append(currentIDs, shape.ID)
	}

	return provider.Apply(ctx, func(tx DocumentTx) error {
		if len(currentIDs) > 0 {
			if err := tx.DeleteShapes(currentIDs); err != nil {
				return fmt.Errorf("delete current shapes: %w", err)
			}
		}
		if len(s.Shapes) > 0 {
			if err := tx.CreateShapes(s.Shapes); err != nil {
				return fmt.Errorf("create snapshot shapes: %w", err)
			}
		}
		if len(s.Bindings) > 0 {
			if err := tx.CreateBindings(s.Bindings); err != nil {
				return fmt.Errorf("create snapshot bindings: %w", err)
			}
		}
		if err := tx.SetCamera(s.Camera); err != nil {
			return fmt.Errorf("set camera: %w", err)
		}
		return nil
	})
}

// cloneMap deep-copies JSON-shaped values so a snapshot shares no maps or
// slices with the document it was read from. nil stays nil.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
