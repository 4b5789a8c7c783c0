package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfse-api/internal/application/dto"
	"github.com/jhoicas/nfse-api/internal/domain"
)

// respondError traduce la taxonomía de errores del dominio a HTTP.
// Los errores sin clasificar se registran y salen como 500 sin detalle.
func (h *handlerBase) respondError(c *fiber.Ctx, err error) error {
	var (
		validation *domain.ValidationError
		upstream   *domain.UpstreamError
		transport  *domain.TransportError
	)
	switch {
	case errors.As(err, &validation):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Code: "VALIDATION", Message: "solicitud de NFS-e inválida", Fields: validation.Fields,
		})
	case errors.As(err, &upstream):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Code: "AUTHORITY_REJECTED", Message: upstream.Error(), Upstream: string(upstream.Body),
		})
	case errors.As(err, &transport):
		return c.Status(fiber.StatusGatewayTimeout).JSON(dto.ErrorResponse{
			Code: "AUTHORITY_UNREACHABLE", Message: "la autoridad tributaria no respondió",
		})
	case errors.Is(err, domain.ErrStorage):
		h.log.Error().Err(err).Str("path", c.Path()).Msg("error de almacenamiento")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "STORAGE", Message: "error de almacenamiento"})
	case errors.Is(err, domain.ErrWrongPassphrase):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "WRONG_PASSWORD", Message: "contraseña del certificado incorrecta"})
	case errors.Is(err, domain.ErrInvalidCredentialContainer):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "INVALID_CERTIFICATE", Message: err.Error()})
	case errors.Is(err, domain.ErrCredentialExpired):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CERTIFICATE_EXPIRED", Message: err.Error()})
	case errors.Is(err, domain.ErrNoCredential):
		return c.Status(fiber.StatusPreconditionFailed).JSON(dto.ErrorResponse{Code: "NO_CERTIFICATE", Message: "no hay certificado activo; suba un certificado A1"})
	case errors.Is(err, domain.ErrPDFNotAvailable):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "PDF_NOT_AVAILABLE", Message: "el PDF aún no fue descargado de la autoridad"})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "recurso no encontrado"})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_STATE", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidInvoiceRequest), errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "no autorizado"})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	}
	h.log.Error().Err(err).Str("path", c.Path()).Msg("error no clasificado")
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "error interno"})
}
