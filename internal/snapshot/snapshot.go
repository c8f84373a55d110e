// Package snapshot captures, hashes, encodes and restores whiteboard room state.
package snapshot

import (
	"errors"
	"fmt"
)

// SchemaVersion is the newest snapshot format this build can decode.
const SchemaVersion = 1

var (
	ErrExport                   = errors.New("snapshot export failed")
	ErrCorrupt                  = errors.New("corrupt snapshot")
	ErrCodec                    = errors.New("snapshot codec failed")
	ErrSchemaVersionUnsupported = errors.New("snapshot schema version unsupported")
)

type Metadata struct {
	AppVersion string `json:"appVersion"`
	Timestamp  int64  `json:"timestamp"`
	CreatedBy  string `json:"createdBy"`
}

type Page struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Index string         `json:"index"`
	Meta  map[string]any `json:"meta"`
}

// Shape is a single canvas element. Opacity, IsLocked, ParentID and Meta are
// runtime/presentation fields that do not take part in the content hash.
type Shape struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	PageID   string         `json:"pageId"`
	ParentID string         `json:"parentId,omitempty"`
	Index    string         `json:"index"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Rotation float64        `json:"rotation"`
	Opacity  float64        `json:"opacity"`
	IsLocked bool           `json:"isLocked"`
	Props    map[string]any `json:"props"`
	Meta     map[string]any `json:"meta"`
}

type Binding struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	FromID string         `json:"fromId"`
	ToID   string         `json:"toId"`
	Props  map[string]any `json:"props"`
}

type AssetManifest struct {
	ID        string `json:"id"`
	Src       string `json:"src"`
	Hash      string `json:"hash"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	CreatedAt int64  `json:"createdAt"`
}

type Camera struct {
	PageID string  `json:"pageId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Zoom   float64 `json:"zoom"`
}

// Snapshot is an immutable capture of a room's document at one instant.
// Callers must not mutate a Snapshot after it has been produced.
type Snapshot struct {
	SchemaVersion int                      `json:"schemaVersion"`
	Metadata      Metadata                 `json:"metadata"`
	Pages         map[string]Page          `json:"pages"`
	PageOrder     []string                 `json:"pageOrder"`
	Shapes        []Shape                  `json:"shapes"`
	Bindings      []Binding                `json:"bindings"`
	Assets        map[string]AssetManifest `json:"assets"`
	Camera        Camera                   `json:"camera"`
}

// Validate checks referential integrity. Broken references are reported as
// ErrCorrupt instead of being dropped.
func (s Snapshot) Validate() error {
	if s.SchemaVersion < 1 {
		return fmt.Errorf("%w: schema version %d", ErrCorrupt, s.SchemaVersion)
	}
	if len(s.PageOrder) != len(s.Pages) {
		return fmt.Errorf("%w: page order lists %d pages, snapshot has %d", ErrCorrupt, len(s.PageOrder), len(s.Pages))
	}
	seen := make(map[string]struct{}, len(s.PageOrder))
	for _, pageID := range s.PageOrder {
		if _, ok := s.Pages[pageID]; !ok {
			return fmt.Errorf("%w: page order references unknown page %q", ErrCorrupt, pageID)
		}
		if _, dup := seen[pageID]; dup {
			return fmt.Errorf("%w: page %q listed twice in page order", ErrCorrupt, pageID)
		}
		seen[pageID] = struct{}{}
	}
	for id, page := range s.Pages {
		if page.ID != id {
			return fmt.Errorf("%w: page keyed %q has id %q", ErrCorrupt, id, page.ID)
		}
	}

	shapes := make(map[string]struct{}, len(s.Shapes))
	for _, shape := range s.Shapes {
		if shape.ID == "" {
			return fmt.Errorf("%w: shape without id", ErrCorrupt)
		}
		if _, dup := shapes[shape.ID]; dup {
			return fmt.Errorf("%w: duplicate shape %q", ErrCorrupt, shape.ID)
		}
		if _, ok := s.Pages[shape.PageID]; !ok {
			return fmt.Errorf("%w: shape %q references unknown page %q", ErrCorrupt, shape.ID, shape.PageID)
		}
		shapes[shape.ID] = struct{}{}
	}
	for _, shape := range s.Shapes {
		if shape.ParentID == "" || shape.ParentID == shape.PageID {
			continue
		}
		if _, ok := shapes[shape.ParentID]; !ok {
			return fmt.Errorf("%w: shape %q references unknown parent %q", ErrCorrupt, shape.ID, shape.ParentID)
		}
	}
	for _, binding := range s.Bindings {
		if _, ok := shapes[binding.FromID]; !ok {
			return fmt.Errorf("%w: binding %q references unknown shape %q", ErrCorrupt, binding.ID, binding.FromID)
		}
		if _, ok := shapes[binding.ToID]; !ok {
			return fmt.Errorf("%w: binding %q references unknown shape %q", ErrCorrupt, binding.ID, binding.ToID)
		}
	}
	for id, asset := range s.Assets {
		if asset.ID != id {
			return fmt.Errorf("%w: asset keyed %q has id %q", ErrCorrupt, id, asset.ID)
		}
	}
	if s.Camera.PageID != "" {
		if _, ok := s.Pages[s.Camera.PageID]; !ok {
			return fmt.Errorf("%w: camera references unknown page %q", ErrCorrupt, s.Camera.PageID)
		}
	}
	return nil
}

// ShapeIDs returns the ids of all shapes in z-order.
func (s Snapshot) ShapeIDs() []string {
	ids := make([]string, 0, len(s.Shapes))
	for _, shape := range s.Shapes {
		ids = append(ids, shape.ID)
	}
	return ids
}
