package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps blobs on the local filesystem, for development and
// single-node setups. Payloads live under <root>/objects and attributes
// under <root>/attrs as JSON.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob dir is required")
	}
	for _, dir := range []string{"objects", "attrs"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create blob dir: %w", err)
		}
	}
	return &FileStore{root: root}, nil
}

type fileAttrs struct {
	ContentType string            `json:"contentType"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func (s *FileStore) Put(ctx context.Context, path string, data []byte, contentType string, attrs map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	objectPath, attrsPath, err := s.locate(path)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(fileAttrs{ContentType: contentType, Attributes: attrs})
	if err != nil {
		return fmt.Errorf("marshal blob attrs: %w", err)
	}
	if err := writeFileAtomic(attrsPath, meta); err != nil {
		return fmt.Errorf("write blob attrs %s: %w", path, err)
	}
	if err := writeFileAtomic(objectPath, data); err != nil {
		return fmt.Errorf("write blob %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	objectPath, _, err := s.locate(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(objectPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", path, err)
	}
	return data, nil
}

// Attributes returns the content type and attributes recorded by Put.
func (s *FileStore) Attributes(path string) (string, map[string]string, error) {
	_, attrsPath, err := s.locate(path)
	if err != nil {
		return "", nil, err
	}
	raw, err := os.ReadFile(attrsPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", nil, fmt.Errorf("read blob attrs %s: %w", path, err)
	}
	var meta fileAttrs
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", nil, fmt.Errorf("decode blob attrs %s: %w", path, err)
	}
	return meta.ContentType, meta.Attributes, nil
}

func (s *FileStore) List(ctx context.Context, prefix string) ([]Object, error) {
	base := filepath.Join(s.root, "objects")
	items := make([]Object, 0)
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		items = append(items, Object{Path: key, Size: info.Size(), ModifiedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs %s: %w", prefix, err)
	}
	return items, nil
}

func (s *FileStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	objectPath, attrsPath, err := s.locate(path)
	if err != nil {
		return err
	}
	for _, p := range []string{objectPath, attrsPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove blob %s: %w", path, err)
		}
	}
	return nil
}

func (s *FileStore) Ping(context.Context) error {
	_, err := os.Stat(filepath.Join(s.root, "objects"))
	return err
}

func (s *FileStore) locate(path string) (string, string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if path == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", "", fmt.Errorf("invalid blob path %q", path)
	}
	return filepath.Join(s.root, "objects", clean), filepath.Join(s.root, "attrs", clean+".json"), nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
