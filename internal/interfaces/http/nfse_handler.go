package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-api/internal/application/dto"
	"github.com/jhoicas/nfse-api/internal/application/emission"
)

type handlerBase struct {
	log zerolog.Logger
}

// NFSeHandler emisión, consulta y documentos de NFS-e (protegido).
type NFSeHandler struct {
	handlerBase
	svc *emission.Service
}

// NewNFSeHandler construye el handler.
func NewNFSeHandler(svc *emission.Service, log zerolog.Logger) *NFSeHandler {
	return &NFSeHandler{handlerBase: handlerBase{log: log}, svc: svc}
}

// Submit godoc
// @Summary      Emitir NFS-e
// @Description  Construye, firma y envía la DPS. Con NFSE_ACCEPT_PREBUILT acepta dpsXmlGZipB64 ya firmado.
// @Tags         nfse
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.SubmitNFSeRequest  true  "DPS"
// @Success      201   {object}  dto.EmissionResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      412   {object}  dto.ErrorResponse
// @Failure      502   {object}  dto.ErrorResponse
// @Failure      504   {object}  dto.ErrorResponse
// @Router       /nfse [post]
func (h *NFSeHandler) Submit(c *fiber.Ctx) error {
	userID := GetUserID(c)
	var in dto.SubmitNFSeRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	e, err := h.svc.Submit(c.UserContext(), userID, &in)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewEmissionResponse(e))
}

// GetByID godoc
// @Summary      Consultar emisión
// @Tags         nfse
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID de la emisión"
// @Success      200  {object}  dto.EmissionResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /nfse/{id} [get]
func (h *NFSeHandler) GetByID(c *fiber.Ctx) error {
	e, err := h.svc.Get(c.UserContext(), GetUserID(c), c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.NewEmissionResponse(e))
}

// Cancel godoc
// @Summary      Cancelar emisión pendiente
// @Tags         nfse
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID de la emisión"
// @Success      200  {object}  dto.EmissionResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /nfse/{id}/cancel [post]
func (h *NFSeHandler) Cancel(c *fiber.Ctx) error {
	e, err := h.svc.Cancel(c.UserContext(), GetUserID(c), c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.NewEmissionResponse(e))
}

// PDF godoc
// @Summary      DANFSe de la NFS-e autorizada
// @Tags         nfse
// @Security     Bearer
// @Produce      application/pdf
// @Param        id   path  string  true  "ID de la emisión"
// @Success      200
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /nfse/{id}/pdf [get]
func (h *NFSeHandler) PDF(c *fiber.Ctx) error {
	id := c.Params("id")
	data, err := h.svc.PDF(c.UserContext(), GetUserID(c), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return sendPDF(c, fmt.Sprintf("nfse-%s.pdf", id), data)
}

// Receipt comprovante local de envío.
// GET /nfse/:id/receipt
func (h *NFSeHandler) Receipt(c *fiber.Ctx) error {
	id := c.Params("id")
	data, err := h.svc.Receipt(c.UserContext(), GetUserID(c), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return sendPDF(c, fmt.Sprintf("comprovante-%s.pdf", id), data)
}

// MunicipalParameters godoc
// @Summary      Parámetros del convenio municipal
// @Tags         nfse
// @Security     Bearer
// @Produce      json
// @Param        codigoMunicipio  path  string  true  "Código IBGE (7 dígitos)"
// @Success      200
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      502  {object}  dto.ErrorResponse
// @Router       /nfse/parametros/{codigoMunicipio} [get]
func (h *NFSeHandler) MunicipalParameters(c *fiber.Ctx) error {
	raw, err := h.svc.MunicipalParameters(c.UserContext(), c.Params("codigoMunicipio"))
	if err != nil {
		return h.respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(raw)
}

func sendPDF(c *fiber.Ctx, filename string, data []byte) error {
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="%s"`, filename))
	return c.Send(data)
}
