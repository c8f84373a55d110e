package history

import (
	"fmt"
	"strings"
)

// BlobPrefix is the root under which every version payload is stored.
const BlobPrefix = "rooms/"

// BlobPath is the storage path for one version. Version ids are never
// reused, so neither is the path.
func BlobPath(roomID, versionID string) string {
	return BlobPrefix + roomID + "/versions/" + versionID
}

// RoomPrefix is the listing prefix for all versions of a room.
func RoomPrefix(roomID string) string {
	return BlobPrefix + roomID + "/versions/"
}

// ParseBlobPath is the inverse of BlobPath.
func ParseBlobPath(path string) (roomID, versionID string, ok bool) {
	rest, found := strings.CutPrefix(path, BlobPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "versions" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

func validateID(field, value string) error {
	switch {
	case strings.TrimSpace(value) == "":
		return fmt.Errorf("%s is required", field)
	case strings.ContainsAny(value, "/\\"), value == ".", value == "..":
		return fmt.Errorf("%s %q is not a valid path segment", field, value)
	}
	return nil
}
