package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-api/internal/domain"
)

// Estados de una emisión de NFS-e.
const (
	EmissionStatusQueued     = "QUEUED"     // aceptada por la autoridad, pendiente de procesamiento
	EmissionStatusProcessing = "PROCESSING" // la autoridad informó que está procesando
	EmissionStatusAuthorized = "AUTHORIZED" // autorizada, con chave de acesso
	EmissionStatusRejected   = "REJECTED"
	EmissionStatusCancelled  = "CANCELLED"
)

// Emission registro del ledger de una DPS enviada a la autoridad.
type Emission struct {
	ID              string
	UserID          string
	CredentialID    string // vacío para envíos pre-firmados
	TrackingID      string // idDps devuelto por la autoridad
	Status          string
	ContentHash     string // SHA-256 hex del XML firmado
	AccessKey       string // chave de acesso, solo en AUTHORIZED
	PDFLocator      BlobLocator
	ResponsePayload []byte // última respuesta cruda de la autoridad
	DPSNumber       string
	Series          string
	ValorServicos   decimal.Decimal
	ValorISS        decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminalStatus indica si el estado es final (solo se escribe una vez).
func IsTerminalStatus(status string) bool {
	switch status {
	case EmissionStatusAuthorized, EmissionStatusRejected, EmissionStatusCancelled:
		return true
	}
	return false
}

// IsTerminal indica si la emisión llegó a un estado final.
func (e *Emission) IsTerminal() bool {
	return IsTerminalStatus(e.Status)
}

// NeedsPDF autorizada pero aún sin PDF adjunto.
func (e *Emission) NeedsPDF() bool {
	return e.Status == EmissionStatusAuthorized && e.PDFLocator.IsZero()
}

// CanTransition valida el grafo de estados:
// QUEUED -> PROCESSING -> {AUTHORIZED | REJECTED | CANCELLED}, y QUEUED -> {AUTHORIZED | REJECTED | CANCELLED}.
func CanTransition(from, to string) bool {
	switch from {
	case EmissionStatusQueued:
		switch to {
		case EmissionStatusProcessing, EmissionStatusAuthorized, EmissionStatusRejected, EmissionStatusCancelled:
			return true
		}
	case EmissionStatusProcessing:
		switch to {
		case EmissionStatusAuthorized, EmissionStatusRejected, EmissionStatusCancelled:
			return true
		}
	}
	return false
}

// Transition aplica el cambio de estado en memoria.
// Devuelve false sin error cuando el estado ya es el destino (re-observación idempotente).
// AUTHORIZED exige chave de acesso.
func (e *Emission) Transition(to, accessKey string) (bool, error) {
	if e.Status == to {
		return false, nil
	}
	if !CanTransition(e.Status, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, e.Status, to)
	}
	if to == EmissionStatusAuthorized {
		if accessKey == "" {
			return false, fmt.Errorf("%w: AUTHORIZED sin chave de acesso", domain.ErrInvalidTransition)
		}
		e.AccessKey = accessKey
	}
	e.Status = to
	return true, nil
}
