package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSStore implements Store over a local filesystem root. It is the
// reference/local-operation backend; production deployments use S3Store.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed store rooted at root, creating
// the directory if it does not exist.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) absPath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Put writes data to path, creating parent directories as needed.
// contentType is accepted for interface parity with S3Store; the
// filesystem backend has no side channel for it.
func (s *FSStore) Put(_ context.Context, path string, data []byte, _ string) error {
	full := s.absPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", path, err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

func (s *FSStore) Get(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(s.absPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (s *FSStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	root := s.absPath(prefix)
	var objects []ObjectInfo

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(p, ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{
			Path:         filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
	}
	return objects, nil
}

// Move copies src to dst then deletes src. A no-op if src == dst. On
// rename failure the two paths may transiently coexist; the caller must
// tolerate this, per the Store contract.
func (s *FSStore) Move(ctx context.Context, src, dst string) error {
	if src == dst {
		return nil
	}
	full := s.absPath(dst)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", dst, err)
	}
	if err := os.Rename(s.absPath(src), full); err == nil {
		return nil
	}
	// cross-device or other rename failure: fall back to copy-then-delete
	data, err := s.Get(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to move %s -> %s: %w", src, dst, err)
	}
	if err := s.Put(ctx, dst, data, ""); err != nil {
		return fmt.Errorf("failed to move %s -> %s: %w", src, dst, err)
	}
	if err := s.Delete(ctx, src); err != nil {
		return fmt.Errorf("moved %s -> %s but failed to delete source: %w", src, dst, err)
	}
	return nil
}

func (s *FSStore) Delete(_ context.Context, path string) error {
	if err := os.Remove(s.absPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (s *FSStore) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(s.absPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}
