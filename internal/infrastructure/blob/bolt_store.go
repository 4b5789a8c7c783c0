package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

// BoltStore blob store sobre un archivo bbolt: un bucket bbolt por bucket lógico.
// El content type no se persiste; los consumidores conocen el formato por la clave.
type BoltStore struct {
	db *bolt.DB
}

var _ repository.BlobStore = (*BoltStore)(nil)

// OpenBoltStore abre (o crea) el archivo. Falla si otro proceso lo tiene bloqueado más de un segundo.
func OpenBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("blob: crear directorio: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("blob: abrir %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) PutObject(ctx context.Context, bucket, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" || key == "" {
		return fmt.Errorf("%w: bucket y clave son obligatorios", domain.ErrInvalidInput)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return &domain.StorageError{Op: "blob.put", Err: err}
	}
	return nil
}

func (s *BoltStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return domain.ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return domain.ErrNotFound
		}
		// v solo es válido dentro de la transacción.
		out = append([]byte(nil), v...)
		return nil
	})
	if err == domain.ErrNotFound {
		return nil, err
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "blob.get", Err: err}
	}
	return out, nil
}

func (s *BoltStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return &domain.StorageError{Op: "blob.delete", Err: err}
	}
	return nil
}
