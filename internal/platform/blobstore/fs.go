package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const metaSuffix = ".meta"

// FSStore keeps objects as files under a root directory, with a JSON sidecar
// (file + ".meta") holding the content type, checksum and creation time.
type FSStore struct {
	root string
}

// NewFSStore returns a filesystem-backed store rooted at root, creating it
// if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		root = "archive"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &FSStore{root: root}, nil
}

type metaFile struct {
	ContentType string    `json:"content_type,omitempty"`
	MD5         string    `json:"md5"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *FSStore) pathFor(key string) (string, string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	data := filepath.Join(s.root, filepath.FromSlash(key))
	return key, data, nil
}

func (s *FSStore) Put(ctx context.Context, key string, content io.Reader, contentType string) (*Object, error) {
	key, dataPath, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(key, metaSuffix) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	data, sum, err := readLimited(content)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return nil, err
	}

	obj := &Object{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		MD5:         sum,
		CreatedAt:   time.Now().UTC(),
	}
	if err := writeAtomic(dataPath, data); err != nil {
		return nil, err
	}
	meta, err := json.Marshal(metaFile{ContentType: contentType, MD5: sum, Size: obj.Size, CreatedAt: obj.CreatedAt})
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(dataPath+metaSuffix, meta); err != nil {
		return nil, err
	}
	return obj, nil
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place.
func writeAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (s *FSStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	key, dataPath, err := s.pathFor(key)
	if err != nil {
		return nil, nil, err
	}
	obj, err := readMeta(key, dataPath+metaSuffix)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return f, obj, nil
}

func readMeta(key, metaPath string) (*Object, error) {
	raw, err := os.ReadFile(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	var mf metaFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("blobstore: corrupt metadata for %s: %w", key, err)
	}
	return &Object{Key: key, Size: mf.Size, ContentType: mf.ContentType, MD5: mf.MD5, CreatedAt: mf.CreatedAt}, nil
}

func (s *FSStore) List(_ context.Context, prefix string) ([]*Object, error) {
	objs := []*Object{}
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		obj, err := readMeta(key, p)
		if err != nil {
			return err
		}
		objs = append(objs, obj)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByKey(objs)
	return objs, nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	_, dataPath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	for _, p := range []string{dataPath, dataPath + metaSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
