package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

// CredentialRepo repositorio en memoria con la misma semántica que el de PostgreSQL.
// Devuelve copias: los llamadores no comparten punteros con el mapa interno.
type CredentialRepo struct {
	mu   sync.RWMutex
	rows map[string]entity.Credential
	// FailCreate permite simular una caída del almacén en tests.
	FailCreate error
}

var _ repository.CredentialRepository = (*CredentialRepo)(nil)

func NewCredentialRepository() *CredentialRepo {
	return &CredentialRepo{rows: make(map[string]entity.Credential)}
}

func (r *CredentialRepo) Create(_ context.Context, c *entity.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate != nil {
		return &domain.StorageError{Op: "insert credential", Err: r.FailCreate}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, ok := r.rows[c.ID]; ok {
		return &domain.StorageError{Op: "insert credential", Err: domain.ErrConflict}
	}
	r.rows[c.ID] = *c
	return nil
}

func (r *CredentialRepo) GetByID(_ context.Context, id string) (*entity.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CredentialRepo) FindLatestActive(_ context.Context, userID string) (*entity.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *entity.Credential
	for _, c := range r.rows {
		if c.UserID != userID || !c.IsActive() {
			continue
		}
		if best == nil || c.NotAfter.After(best.NotAfter) ||
			(c.NotAfter.Equal(best.NotAfter) && c.CreatedAt.After(best.CreatedAt)) {
			cp := c
			best = &cp
		}
	}
	return best, nil
}

func (r *CredentialRepo) ListByUser(_ context.Context, userID string) ([]*entity.Credential, error) {
	out := r.filter(func(c *entity.Credential) bool { return c.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *CredentialRepo) ListExpiring(_ context.Context, from, until time.Time) ([]*entity.Credential, error) {
	out := r.filter(func(c *entity.Credential) bool {
		return c.IsActive() && c.ExpiresWithin(from, until.Sub(from))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].NotAfter.Before(out[j].NotAfter) })
	return out, nil
}

func (r *CredentialRepo) UpdateStatus(_ context.Context, id, status string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("credencial %s: %w", id, domain.ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = at
	r.rows[id] = c
	return nil
}

func (r *CredentialRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

func (r *CredentialRepo) filter(keep func(*entity.Credential) bool) []*entity.Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Credential
	for _, c := range r.rows {
		cp := c
		if keep(&cp) {
			out = append(out, &cp)
		}
	}
	return out
}
