package repository

import (
	"context"
	"time"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
)

// CredentialRepository puerto de persistencia de metadatos de certificados.
// Las lecturas devuelven (nil, nil) cuando no existe la fila.
type CredentialRepository interface {
	Create(ctx context.Context, c *entity.Credential) error
	GetByID(ctx context.Context, id string) (*entity.Credential, error)
	// FindLatestActive la credencial ACTIVE del usuario con vencimiento más lejano
	// (desempate: la creada más recientemente).
	FindLatestActive(ctx context.Context, userID string) (*entity.Credential, error)
	ListByUser(ctx context.Context, userID string) ([]*entity.Credential, error)
	// ListExpiring credenciales ACTIVE con not_after en [from, until].
	ListExpiring(ctx context.Context, from, until time.Time) ([]*entity.Credential, error)
	UpdateStatus(ctx context.Context, id, status string, at time.Time) error
	// Delete devuelve false si la fila no existía.
	Delete(ctx context.Context, id string) (bool, error)
}
