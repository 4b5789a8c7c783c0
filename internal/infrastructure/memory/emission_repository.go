package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

// EmissionRepo ledger en memoria. UpdateStatus y AttachPDF son atómicos bajo el mutex.
type EmissionRepo struct {
	mu   sync.Mutex
	rows map[string]entity.Emission
}

var _ repository.EmissionRepository = (*EmissionRepo)(nil)

func NewEmissionRepository() *EmissionRepo {
	return &EmissionRepo{rows: make(map[string]entity.Emission)}
}

func (r *EmissionRepo) Create(_ context.Context, e *entity.Emission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, ok := r.rows[e.ID]; ok {
		return &domain.StorageError{Op: "insert emission", Err: domain.ErrConflict}
	}
	for _, other := range r.rows {
		if other.TrackingID == e.TrackingID {
			return &domain.StorageError{Op: "insert emission", Err: domain.ErrConflict}
		}
	}
	r.rows[e.ID] = clone(*e)
	return nil
}

func (r *EmissionRepo) GetByID(_ context.Context, id string) (*entity.Emission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := clone(e)
	return &cp, nil
}

func (r *EmissionRepo) ListPending(_ context.Context, limit int) ([]*entity.Emission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Emission
	for _, e := range r.rows {
		if !e.IsTerminal() || e.NeedsPDF() {
			cp := clone(e)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *EmissionRepo) UpdateStatus(_ context.Context, id, from, to, accessKey string, payload []byte, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	if accessKey != "" {
		e.AccessKey = accessKey
	}
	if payload != nil {
		e.ResponsePayload = append([]byte(nil), payload...)
	}
	e.UpdatedAt = at
	r.rows[id] = e
	return true, nil
}

func (r *EmissionRepo) AttachPDF(_ context.Context, id string, locator entity.BlobLocator, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok || !e.PDFLocator.IsZero() {
		return false, nil
	}
	e.PDFLocator = locator
	e.UpdatedAt = at
	r.rows[id] = e
	return true, nil
}

func clone(e entity.Emission) entity.Emission {
	e.ResponsePayload = append([]byte(nil), e.ResponsePayload...)
	return e
}
