package http

import (
	"encoding/base64"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-api/internal/application/credential"
	"github.com/jhoicas/nfse-api/internal/application/dto"
)

const maxContainerSize = 64 << 10

// CredentialHandler certificados de firma del emisor (protegido).
type CredentialHandler struct {
	handlerBase
	vault *credential.Vault
	now   func() time.Time
}

// NewCredentialHandler construye el handler.
func NewCredentialHandler(vault *credential.Vault, log zerolog.Logger) *CredentialHandler {
	return &CredentialHandler{handlerBase: handlerBase{log: log}, vault: vault, now: time.Now}
}

// Upload godoc
// @Summary      Subir certificado A1
// @Description  multipart/form-data (file, password, type, subject_name, document_number, not_after) o JSON con container_b64.
// @Tags         credentials
// @Security     Bearer
// @Accept       multipart/form-data
// @Accept       json
// @Produce      json
// @Success      201  {object}  dto.CredentialResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      422  {object}  dto.ErrorResponse
// @Router       /nfse/credentials [post]
func (h *CredentialHandler) Upload(c *fiber.Ctx) error {
	var (
		in  dto.UploadCredentialRequest
		raw []byte
	)
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "campo file requerido", Fields: []string{"file"}})
		}
		if fh.Size > maxContainerSize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(dto.ErrorResponse{Code: "TOO_LARGE", Message: "certificado demasiado grande"})
		}
		f, err := fh.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "no se pudo leer el archivo"})
		}
		defer f.Close()
		if raw, err = io.ReadAll(f); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "no se pudo leer el archivo"})
		}
		// los valores de fasthttp se reutilizan tras la request; el Vault los persiste.
		in.Passphrase = utils.CopyString(c.FormValue("password"))
		in.Type = utils.CopyString(c.FormValue("type"))
		in.SubjectName = utils.CopyString(c.FormValue("subject_name"))
		in.DocumentNumber = utils.CopyString(c.FormValue("document_number"))
		if v := c.FormValue("not_after"); v != "" {
			t, err := parseNotAfter(v)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "not_after inválido", Fields: []string{"not_after"}})
			}
			in.NotAfter = &t
		}
	} else {
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
		}
		var err error
		if raw, err = base64.StdEncoding.DecodeString(strings.TrimSpace(in.ContainerB64)); err != nil || len(raw) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "container_b64 inválido", Fields: []string{"container_b64"}})
		}
	}

	cred, err := h.vault.Store(c.UserContext(), GetUserID(c), raw, in.Passphrase, credential.Metadata{
		Type:           strings.ToUpper(in.Type),
		SubjectName:    in.SubjectName,
		DocumentNumber: in.DocumentNumber,
		NotAfter:       in.NotAfter,
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewCredentialResponse(cred, h.now()))
}

// List godoc
// @Summary      Listar certificados
// @Tags         credentials
// @Security     Bearer
// @Produce      json
// @Success      200  {array}  dto.CredentialResponse
// @Router       /nfse/credentials [get]
func (h *CredentialHandler) List(c *fiber.Ctx) error {
	list, err := h.vault.List(c.UserContext(), GetUserID(c))
	if err != nil {
		return h.respondError(c, err)
	}
	now := h.now()
	out := make([]dto.CredentialResponse, 0, len(list))
	for _, cred := range list {
		out = append(out, dto.NewCredentialResponse(cred, now))
	}
	return c.JSON(out)
}

// Revoke deja el certificado fuera de la selección para firmar.
// POST /nfse/credentials/:id/revoke
func (h *CredentialHandler) Revoke(c *fiber.Ctx) error {
	cred, err := h.vault.Revoke(c.UserContext(), GetUserID(c), c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.NewCredentialResponse(cred, h.now()))
}

// Delete borra metadatos y contenedor.
// DELETE /nfse/credentials/:id
func (h *CredentialHandler) Delete(c *fiber.Ctx) error {
	if err := h.vault.Delete(c.UserContext(), GetUserID(c), c.Params("id")); err != nil {
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// parseNotAfter acepta RFC 3339 o AAAA-MM-DD (fin del día UTC).
func parseNotAfter(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(24*time.Hour - time.Second), nil
}
