package repository

import "context"

// BlobStore almacenamiento de objetos binarios (contenedores PKCS#12, PDFs).
// GetObject devuelve domain.ErrNotFound si la clave no existe; DeleteObject es idempotente.
type BlobStore interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteObject(ctx context.Context, bucket, key string) error
}
