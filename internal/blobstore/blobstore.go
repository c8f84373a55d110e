// Package blobstore stores snapshot payloads in object storage.
package blobstore

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("blob not found")

// Object describes a stored blob as returned by List.
type Object struct {
	Path       string
	Size       int64
	ModifiedAt time.Time
}
