package quote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository is a mutex-guarded map implementation of
// Repository, suitable for tests and the memory storage backend.
type InMemoryRepository struct {
	mu     sync.Mutex
	quotes map[uuid.UUID]Quote
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{quotes: make(map[uuid.UUID]Quote)}
}

func (r *InMemoryRepository) Load(ctx context.Context, id uuid.UUID) (*Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[id]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (r *InMemoryRepository) Store(ctx context.Context, q Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes[q.ID] = q
	return nil
}

func (r *InMemoryRepository) Update(ctx context.Context, q Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes[q.ID] = q
	return nil
}

func (r *InMemoryRepository) SearchByBill(ctx context.Context, billID, endorser string) ([]Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Quote
	for _, q := range r.quotes {
		if q.BillID == billID && q.Endorser == endorser {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) ListPendings(ctx context.Context, since *time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for id, q := range r.quotes {
		if q.Status != StatusPending {
			continue
		}
		if since != nil && q.Submitted.Before(*since) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (r *InMemoryRepository) ListOffers(ctx context.Context, since *time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for id, q := range r.quotes {
		if q.Status != StatusOffered {
			continue
		}
		if since != nil && q.Submitted.Before(*since) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

var _ Repository = (*InMemoryRepository)(nil)
