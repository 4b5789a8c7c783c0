package credential

import (
	"context"
	"time"

	"github.com/jhoicas/nfse-api/internal/infrastructure/vault"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

// PassphraseCipher cifrado de contraseñas en reposo (vault.PassphraseCipher en producción).
type PassphraseCipher interface {
	Seal(userID, passphrase string) (*vault.Sealed, error)
	Open(userID string, s *vault.Sealed) (string, error)
}

// ExtractFunc abre un contenedor PKCS#12 (signer.Extract).
type ExtractFunc func(container []byte, passphrase string) (*nfse.SigningMaterial, error)

// ExpiryNotice aviso de certificado próximo a vencer.
type ExpiryNotice struct {
	CredentialID   string    `json:"credential_id"`
	UserID         string    `json:"user_id"`
	SubjectName    string    `json:"subject_name"`
	DocumentNumber string    `json:"document_number"`
	NotAfter       time.Time `json:"not_after"`
	DaysLeft       int       `json:"days_left"`
}

// Notifier entrega avisos de vencimiento (log, Kafka).
type Notifier interface {
	NotifyExpiring(ctx context.Context, n ExpiryNotice) error
}

// ExpiryObserver métricas del monitor. Opcional.
type ExpiryObserver interface {
	ObserveExpiring(found, failed int)
}
