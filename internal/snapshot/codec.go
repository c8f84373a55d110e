package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ContentType is the media type of an encoded snapshot blob.
const ContentType = "application/gzip"

// DefaultMaxDecodedBytes bounds the inflated size accepted by Decompress.
const DefaultMaxDecodedBytes int64 = 64 << 20

// Compress encodes the full snapshot as canonical JSON and gzips it.
func Compress(s Snapshot) ([]byte, error) {
	payload, err := canonicalJSON(s)
	if err != nil {
		return nil, fmt.Errorf("%w: encode snapshot: %v", ErrCodec, err)
	}

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: open gzip writer: %v", ErrCodec, err)
	}
	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("%w: compress snapshot: %v", ErrCodec, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: flush gzip writer: %v", ErrCodec, err)
	}
	return buf.Bytes(), nil
}

// Decompress is the inverse of Compress, bounded by DefaultMaxDecodedBytes.
func Decompress(data []byte) (Snapshot, error) {
	return DecompressLimit(data, DefaultMaxDecodedBytes)
}

// DecompressLimit inflates and decodes a snapshot blob. Payloads written by a
// newer schema are rejected with ErrSchemaVersionUnsupported before the body
// is decoded; no partial snapshot is ever returned.
func DecompressLimit(data []byte, maxDecoded int64) (Snapshot, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: open gzip reader: %v", ErrCodec, err)
	}
	defer reader.Close()

	payload, err := io.ReadAll(io.LimitReader(reader, maxDecoded+1))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: inflate snapshot: %v", ErrCodec, err)
	}
	if int64(len(payload)) > maxDecoded {
		return Snapshot{}, fmt.Errorf("%w: decoded snapshot exceeds %d bytes", ErrCodec, maxDecoded)
	}

	var header struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(payload, &header); err != nil {
		return Snapshot{}, fmt.Errorf("%w: read schema version: %v", ErrCodec, err)
	}
	if header.SchemaVersion > SchemaVersion {
		return Snapshot{}, fmt.Errorf("%w: blob has version %d, newest supported is %d", ErrSchemaVersionUnsupported, header.SchemaVersion, SchemaVersion)
	}

	var s Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode snapshot: %v", ErrCodec, err)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
