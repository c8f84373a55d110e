package util

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const versionTimeLayout = "20060102T150405.000Z"

// NewID returns a random identifier, optionally scoped by prefix.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewVersionID returns an id that sorts lexicographically by creation time
// at millisecond resolution, followed by a random suffix.
func NewVersionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return now.UTC().Format(versionTimeLayout) + "_" + suffix
}

// VersionTime extracts the creation time encoded in a version id.
func VersionTime(versionID string) (time.Time, bool) {
	stamp, _, ok := strings.Cut(versionID, "_")
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(versionTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
