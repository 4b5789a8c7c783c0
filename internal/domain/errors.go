package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrUnauthorized = errors.New("no autorizado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")

	ErrInvalidInvoiceRequest      = errors.New("solicitud de NFS-e inválida")
	ErrInvalidCredentialContainer = errors.New("contenedor de certificado inválido")
	ErrWrongPassphrase            = errors.New("contraseña del certificado incorrecta")
	ErrCredentialExpired          = errors.New("certificado vencido")
	ErrNoCredential               = errors.New("no hay certificado activo para el emisor")
	ErrSignatureTargetNotFound    = errors.New("elemento a firmar no encontrado")
	ErrInvalidTransition          = errors.New("transición de estado inválida")
	ErrPDFNotAvailable            = errors.New("PDF de la NFS-e aún no disponible")
	ErrStorage                    = errors.New("error de almacenamiento")
)

// ValidationError lista de rutas de campos faltantes o inválidos de la solicitud.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidInvoiceRequest.Error(), strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInvoiceRequest }

// UpstreamError respuesta no exitosa (4xx/5xx) de la autoridad tributaria. Body se conserva íntegro.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	body := string(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("autoridad respondió HTTP %d: %s", e.StatusCode, body)
}

// TransportError fallo de red, TLS o timeout antes de obtener respuesta.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transporte %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StorageError fallo del almacén de metadatos o de blobs.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("almacenamiento %s: %v", e.Op, e.Err)
}

// Unwrap permite errors.Is(err, ErrStorage) y también llegar a la causa.
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }
