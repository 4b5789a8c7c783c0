package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

// MemoryStore blob store en memoria (tests y APP_STORAGE=memory).
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    int
	// FailDelete simula una caída del almacén en DeleteObject (tests).
	FailDelete error
}

var _ repository.BlobStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func objectKey(bucket, key string) string { return bucket + "/" + key }

func (s *MemoryStore) PutObject(_ context.Context, bucket, key string, data []byte, _ string) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("%w: bucket y clave son obligatorios", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
	s.puts++
	return nil
}

func (s *MemoryStore) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.objects[objectKey(bucket, key)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) DeleteObject(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDelete != nil {
		return s.FailDelete
	}
	delete(s.objects, objectKey(bucket, key))
	return nil
}

// Len cantidad de objetos almacenados.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Puts cantidad de escrituras recibidas (incluye sobrescrituras).
func (s *MemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
