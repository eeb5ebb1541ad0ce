package submission

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for an unknown batch id.
	ErrNotFound = errors.New("submission batch not found")
	// ErrStateConflict is returned by Update when the stored batch is no
	// longer in the state the caller read.
	ErrStateConflict = errors.New("submission batch was changed by another run")
)

// BatchRepository defines the persistence interface for submission history.
// Update stores the mutable part of a batch (state, external id, outcome)
// and appends transitions not stored yet, only if the stored state is still
// from.
type BatchRepository interface {
	Create(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	Update(ctx context.Context, b *Batch, from State) error
	List(ctx context.Context, limit, offset int) ([]*Batch, int, error)
}

// -- In-memory repository --

type memoryRepo struct {
	mu      sync.RWMutex
	batches map[uuid.UUID]*Batch
}

// NewMemoryRepo returns a repository that forgets everything on exit.
func NewMemoryRepo() BatchRepository {
	return &memoryRepo{batches: make(map[uuid.UUID]*Batch)}
}

func (r *memoryRepo) Create(_ context.Context, b *Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[b.ID]; ok {
		return errors.New("submission batch already exists")
	}
	r.batches[b.ID] = b.clone()
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.clone(), nil
}

func (r *memoryRepo) Update(_ context.Context, b *Batch, from State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.batches[b.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.State != from {
		return ErrStateConflict
	}
	r.batches[b.ID] = b.clone()
	return nil
}

// List returns batches newest first.
func (r *memoryRepo) List(_ context.Context, limit, offset int) ([]*Batch, int, error) {
	r.mu.RLock()
	all := make([]*Batch, 0, len(r.batches))
	for _, b := range r.batches {
		all = append(all, b.clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return []*Batch{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}
