package repository

import (
	"context"
	"time"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
)

// EmissionRepository puerto del ledger de emisiones.
type EmissionRepository interface {
	Create(ctx context.Context, e *entity.Emission) error
	GetByID(ctx context.Context, id string) (*entity.Emission, error)
	// ListPending emisiones no terminales más las AUTHORIZED sin PDF, las más antiguas primero.
	ListPending(ctx context.Context, limit int) ([]*entity.Emission, error)
	// UpdateStatus compare-and-set: solo escribe si el estado actual es from.
	// Devuelve false si otro proceso ya cambió el estado.
	UpdateStatus(ctx context.Context, id, from, to, accessKey string, payload []byte, at time.Time) (bool, error)
	// AttachPDF solo escribe si la emisión aún no tiene PDF.
	AttachPDF(ctx context.Context, id string, locator entity.BlobLocator, at time.Time) (bool, error)
}
