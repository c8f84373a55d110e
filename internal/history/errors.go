package history

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a history failure.
type Kind int

const (
	KindExport Kind = iota + 1
	KindCodec
	KindStore
	KindPrune
	KindInvalidArgument
	KindNotFound
)

var (
	ErrExportFailure   = errors.New("ExportFailure")
	ErrCodecFailure    = errors.New("CodecFailure")
	ErrStoreFailure    = errors.New("StoreFailure")
	ErrPruneFailure    = errors.New("PruneFailure")
	ErrInvalidArgument = errors.New("InvalidArgument")
	ErrNotFound        = errors.New("NotFound")

	// ErrContentMismatch means a stored payload does not hash to the
	// content hash recorded in its metadata.
	ErrContentMismatch = errors.New("content hash mismatch")
)

func (k Kind) sentinel() error {
	switch k {
	case KindExport:
		return ErrExportFailure
	case KindCodec:
		return ErrCodecFailure
	case KindStore:
		return ErrStoreFailure
	case KindPrune:
		return ErrPruneFailure
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindNotFound:
		return ErrNotFound
	default:
		return errors.New("UnknownFailure")
	}
}

func (k Kind) String() string {
	return k.sentinel().Error()
}

// Error is returned by every engine operation. errors.Is matches both the
// kind sentinel (ErrStoreFailure, ...) and anything in the wrapped chain.
type Error struct {
	Kind      Kind
	Op        string
	RoomID    string
	VersionID string
	Err       error
}

func newError(kind Kind, op, roomID, versionID string, err error) *Error {
	return &Error{Kind: kind, Op: op, RoomID: roomID, VersionID: versionID, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.RoomID != "" {
		fmt.Fprintf(&b, " room=%s", e.RoomID)
	}
	if e.VersionID != "" {
		fmt.Fprintf(&b, " version=%s", e.VersionID)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Kind, true
	}
	return 0, false
}
