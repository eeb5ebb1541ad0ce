// Package blobstore keeps the files produced for each submission batch: the
// concatenated flatfile, its manifest, the XML descriptors, the Webin-CLI
// report and the final outcome. Objects are addressed by "<batch-id>/<file>"
// keys. It defines the Store interface with in-memory, filesystem and S3
// backends, and Echo HTTP handlers for listing, download and deletion.
package blobstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/typeloader/typeloader/internal/platform/auth"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrObjectNotFound = errors.New("archived object not found")
	ErrFileTooLarge   = errors.New("file exceeds maximum allowed size")
	ErrInvalidKey     = errors.New("invalid object key")
)

// MaxFileSize is the maximum allowed object size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Object describes one archived file.
type Object struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	MD5         string    `json:"md5,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Batch returns the batch segment of the key.
func (o *Object) Batch() string {
	batch, _, _ := strings.Cut(o.Key, "/")
	return batch
}

// Name returns the file name segment of the key.
func (o *Object) Name() string {
	return path.Base(o.Key)
}

// Key joins a batch id and a file name into an object key.
func Key(batch, name string) string {
	return batch + "/" + path.Base(name)
}

// CleanKey rejects empty, absolute and traversing keys and normalises the rest.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(strings.ReplaceAll(key, `\`, "/"))
	if clean == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store defines the contract for archive backends. Put replaces an existing
// object under the same key; Delete of an absent key is not an error.
type Store interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	List(ctx context.Context, prefix string) ([]*Object, error)
	Delete(ctx context.Context, key string) error
}

// readLimited slurps content up to MaxFileSize and returns it with its md5.
func readLimited(content io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, "", ErrFileTooLarge
	}
	return data, fmt.Sprintf("%x", md5.Sum(data)), nil
}

func sortByKey(objs []*Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedObject struct {
	meta    Object
	content []byte
}

// InMemoryStore is a thread-safe, in-memory Store for testing/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
}

// NewInMemoryStore returns a ready-to-use InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		objects: make(map[string]*storedObject),
	}
}

func (s *InMemoryStore) Put(_ context.Context, key string, content io.Reader, contentType string) (*Object, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	data, sum, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	meta := Object{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		MD5:         sum,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.objects[key] = &storedObject{meta: meta, content: data}
	s.mu.Unlock()

	out := meta // copy
	return &out, nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrObjectNotFound
	}

	meta := obj.meta // copy
	return io.NopCloser(bytes.NewReader(obj.content)), &meta, nil
}

func (s *InMemoryStore) List(_ context.Context, prefix string) ([]*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []*Object{}
	for k, obj := range s.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		m := obj.meta // copy
		matched = append(matched, &m)
	}
	sortByKey(matched)
	return matched, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Opening a store
// ---------------------------------------------------------------------------

// Options selects and configures a backend.
type Options struct {
	Driver string // "memory", "fs" or "s3"
	Dir    string
	S3     S3Options
}

// Open constructs the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "memory":
		return NewInMemoryStore(), nil
	case "fs", "":
		return NewFSStore(opts.Dir)
	case "s3":
		return NewS3Store(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("blobstore: unknown driver %q", opts.Driver)
	}
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

type listResponse struct {
	Items []*Object `json:"items"`
	Total int       `json:"total"`
}

// Handler provides Echo HTTP handlers for the submission archive.
type Handler struct {
	store Store
}

// NewHandler creates a new archive Handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts archive routes on the supplied Echo group.
//
//	GET    /api/v1/archive/:batch        - list the files of a batch
//	GET    /api/v1/archive/:batch/:name  - download one file
//	DELETE /api/v1/archive/:batch/:name  - remove one file
func (h *Handler) RegisterRoutes(g *echo.Group) {
	read := g.Group("", auth.RequireRole(auth.RoleViewer, auth.RoleCurator))
	read.GET("/archive/:batch", h.handleList)
	read.GET("/archive/:batch/:name", h.handleDownload)

	write := g.Group("", auth.RequireRole(auth.RoleCurator))
	write.DELETE("/archive/:batch/:name", h.handleDelete)
}

func (h *Handler) handleList(c echo.Context) error {
	items, err := h.store.List(c.Request().Context(), c.Param("batch")+"/")
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if items == nil {
		items = []*Object{}
	}
	return c.JSON(http.StatusOK, listResponse{Items: items, Total: len(items)})
}

func (h *Handler) handleDownload(c echo.Context) error {
	key := Key(c.Param("batch"), c.Param("name"))

	rc, meta, err := h.store.Get(c.Request().Context(), key)
	if err != nil {
		return archiveError(c, err)
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, meta.Name()))
	return c.Stream(http.StatusOK, contentType, rc)
}

func (h *Handler) handleDelete(c echo.Context) error {
	key := Key(c.Param("batch"), c.Param("name"))
	if err := h.store.Delete(c.Request().Context(), key); err != nil {
		return archiveError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func archiveError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrObjectNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidKey):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
