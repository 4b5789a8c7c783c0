package entity

import "time"

// Tipos de certificado ICP-Brasil.
const (
	CredentialTypeA1 = "A1" // arquivo PKCS#12
	CredentialTypeA3 = "A3" // token/cartão; se registra pero no firma en servidor
)

// Estados de la credencial.
const (
	CredentialStatusActive  = "ACTIVE"
	CredentialStatusRevoked = "REVOKED"
)

// Credential metadatos de un certificado de firma del emisor.
// El contenedor PKCS#12 vive en el blob store; la contraseña se guarda cifrada (AES-256-GCM).
type Credential struct {
	ID                   string
	UserID               string
	Type                 string
	SubjectName          string
	DocumentNumber       string // CPF/CNPJ del titular
	NotAfter             time.Time
	BlobLocator          BlobLocator
	PassphraseCiphertext []byte
	PassphraseIV         []byte // nonce de 12 bytes
	PassphraseTag        []byte // tag GCM de 16 bytes
	Status               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsExpiredAt indica si el certificado ya venció en el instante dado.
func (c *Credential) IsExpiredAt(at time.Time) bool {
	return !c.NotAfter.After(at)
}

// IsActive indica si la credencial no fue revocada.
func (c *Credential) IsActive() bool {
	return c.Status == CredentialStatusActive
}

// ExpiresWithin indica si vence dentro de [from, from+window].
func (c *Credential) ExpiresWithin(from time.Time, window time.Duration) bool {
	return !c.NotAfter.Before(from) && !c.NotAfter.After(from.Add(window))
}
