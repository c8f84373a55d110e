package store

import "time"

// VersionMetadata is the persisted record of one accepted save. It is
// immutable once created.
type VersionMetadata struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"roomId"`
	CreatedAt     time.Time `json:"createdAt"`
	CreatedBy     string    `json:"createdBy"`
	Label         string    `json:"label,omitempty"`
	Bytes         int64     `json:"bytes"`
	Checksum      string    `json:"checksum"`
	ContentHash   string    `json:"contentHash"`
	SchemaVersion int       `json:"schemaVersion"`
	StoragePath   string    `json:"storagePath"`
}
