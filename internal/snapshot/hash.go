package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// hashShape is the visual subset of a shape.
type hashShape struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Rotation float64        `json:"rotation"`
	Props    map[string]any `json:"props"`
}

// hashPage and hashBinding omit empty maps so nil and {} hash alike.
type hashPage struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Index string         `json:"index"`
	Meta  map[string]any `json:"meta,omitempty"`
}

type hashBinding struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	FromID string         `json:"fromId"`
	ToID   string         `json:"toId"`
	Props  map[string]any `json:"props,omitempty"`
}

type hashProjection struct {
	Pages     map[string]hashPage `json:"pages"`
	PageOrder []string            `json:"pageOrder"`
	Shapes    []hashShape         `json:"shapes"`
	Bindings  []hashBinding       `json:"bindings"`
	AssetIDs  []string            `json:"assetIds"`
}

// Hash returns the hex SHA-256 digest of the snapshot's visual content.
// Metadata, camera, asset manifest details and runtime shape fields are
// excluded, so two captures of the same drawing hash identically.
func Hash(s Snapshot) (string, error) {
	projection := hashProjection{
		Pages:     make(map[string]hashPage, len(s.Pages)),
		PageOrder: s.PageOrder,
		Shapes:    make([]hashShape, 0, len(s.Shapes)),
		Bindings:  make([]hashBinding, 0, len(s.Bindings)),
		AssetIDs:  make([]string, 0, len(s.Assets)),
	}
	if projection.PageOrder == nil {
		projection.PageOrder = []string{}
	}
	for key, page := range s.Pages {
		projection.Pages[key] = hashPage{ID: page.ID, Name: page.Name, Index: page.Index, Meta: page.Meta}
	}
	for _, b := range s.Bindings {
		projection.Bindings = append(projection.Bindings, hashBinding{
			ID: b.ID, Type: b.Type, FromID: b.FromID, ToID: b.ToID, Props: b.Props,
		})
	}
	for _, shape := range s.Shapes {
		props := shape.Props
		if props == nil {
			props = map[string]any{}
		}
		projection.Shapes = append(projection.Shapes, hashShape{
			ID:       shape.ID,
			Type:     shape.Type,
			X:        normalizeZero(shape.X),
			Y:        normalizeZero(shape.Y),
			Rotation: normalizeZero(shape.Rotation),
			Props:    props,
		})
	}
	for id := range s.Assets {
		projection.AssetIDs = append(projection.AssetIDs, id)
	}
	sort.Strings(projection.AssetIDs)

	payload, err := canonicalJSON(projection)
	if err != nil {
		return "", fmt.Errorf("encode hash projection: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Checksum is a short fixed-length tag derived from a content hash, meant
// for display and quick comparison. It is not a substitute for the hash.
func Checksum(contentHash string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(contentHash))
}

// canonicalJSON encodes v with sorted map keys, fixed struct field order and
// no HTML escaping.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalizeZero folds -0 into 0; both render the same on the canvas.
func normalizeZero(v float64) float64 {
	if v == 0 {
		return 0
	}
	return v
}

// ShortHash abbreviates a content hash for log lines.
func ShortHash(contentHash string) string {
	if len(contentHash) <= 12 {
		return contentHash
	}
	return contentHash[:12]
}
