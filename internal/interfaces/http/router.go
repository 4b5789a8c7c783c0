package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-api/internal/application/credential"
	"github.com/jhoicas/nfse-api/internal/application/emission"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Emissions   *emission.Service
	Credentials *credential.Vault
	Metrics     nethttp.Handler // opcional: /metrics
	JWTSecret   string
	AppName     string
	Log         zerolog.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": deps.AppName})
	})
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	// Rutas protegidas (requieren Bearer Token)
	nfse := app.Group("/nfse", AuthMiddleware(deps.JWTSecret))

	// Certificados y parámetros antes de /:id para que no los capture el parámetro.
	credentialHandler := NewCredentialHandler(deps.Credentials, deps.Log)
	creds := nfse.Group("/credentials")
	creds.Post("/", credentialHandler.Upload)
	creds.Get("/", credentialHandler.List)
	creds.Post("/:id/revoke", credentialHandler.Revoke)
	creds.Delete("/:id", credentialHandler.Delete)

	nfseHandler := NewNFSeHandler(deps.Emissions, deps.Log)
	nfse.Get("/parametros/:codigoMunicipio", nfseHandler.MunicipalParameters)
	nfse.Post("/", nfseHandler.Submit)
	nfse.Get("/:id", nfseHandler.GetByID)
	nfse.Post("/:id/cancel", nfseHandler.Cancel)
	nfse.Get("/:id/pdf", nfseHandler.PDF)
	nfse.Get("/:id/receipt", nfseHandler.Receipt)
}
