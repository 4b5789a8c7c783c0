package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

// SubmitNFSeRequest body de POST /nfse.
// Forma canónica: la DPS estructurada. EnvelopeB64 (DPS ya firmada, gzip + Base64) solo se acepta con NFSE_ACCEPT_PREBUILT.
type SubmitNFSeRequest struct {
	nfse.DPSRequest
	EnvelopeB64 string `json:"dpsXmlGZipB64,omitempty"`
}

// IsPrebuilt indica que el cliente envió el envelope ya firmado.
func (r *SubmitNFSeRequest) IsPrebuilt() bool {
	return r.EnvelopeB64 != ""
}

// EmissionResponse estado de una emisión en el ledger.
type EmissionResponse struct {
	ID            string          `json:"id"`
	TrackingID    string          `json:"id_dps"`
	Status        string          `json:"status"`
	AccessKey     string          `json:"chave_acesso,omitempty"`
	ContentHash   string          `json:"content_hash"`
	DPSNumber     string          `json:"numero_dps,omitempty"`
	Series        string          `json:"serie,omitempty"`
	ValorServicos decimal.Decimal `json:"valor_servicos"`
	ValorISS      decimal.Decimal `json:"valor_iss"`
	PDFAvailable  bool            `json:"pdf_disponivel"`
	Response      json.RawMessage `json:"resposta_autoridade,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewEmissionResponse convierte la entidad. El payload solo se incluye si es JSON válido.
func NewEmissionResponse(e *entity.Emission) EmissionResponse {
	out := EmissionResponse{
		ID:            e.ID,
		TrackingID:    e.TrackingID,
		Status:        e.Status,
		AccessKey:     e.AccessKey,
		ContentHash:   e.ContentHash,
		DPSNumber:     e.DPSNumber,
		Series:        e.Series,
		ValorServicos: e.ValorServicos,
		ValorISS:      e.ValorISS,
		PDFAvailable:  !e.PDFLocator.IsZero(),
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
	if len(e.ResponsePayload) > 0 && json.Valid(e.ResponsePayload) {
		out.Response = json.RawMessage(e.ResponsePayload)
	}
	return out
}

// CredentialResponse resumen de un certificado. Nunca incluye material de la contraseña.
type CredentialResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	SubjectName    string    `json:"subject_name"`
	DocumentNumber string    `json:"document_number,omitempty"`
	NotAfter       time.Time `json:"not_after"`
	Status         string    `json:"status"`
	Expired        bool      `json:"expired"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewCredentialResponse(c *entity.Credential, now time.Time) CredentialResponse {
	return CredentialResponse{
		ID:             c.ID,
		Type:           c.Type,
		SubjectName:    c.SubjectName,
		DocumentNumber: c.DocumentNumber,
		NotAfter:       c.NotAfter,
		Status:         c.Status,
		Expired:        c.IsExpiredAt(now),
		CreatedAt:      c.CreatedAt,
	}
}

// UploadCredentialRequest body JSON alternativo al multipart de POST /nfse/credentials.
type UploadCredentialRequest struct {
	ContainerB64   string     `json:"container_b64"`
	Passphrase     string     `json:"passphrase"`
	Type           string     `json:"type,omitempty"`
	SubjectName    string     `json:"subject_name,omitempty"`
	DocumentNumber string     `json:"document_number,omitempty"`
	NotAfter       *time.Time `json:"not_after,omitempty"`
}
