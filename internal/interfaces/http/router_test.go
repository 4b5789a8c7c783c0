package http_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/internal/application/credential"
	"github.com/jhoicas/nfse-api/internal/application/dto"
	"github.com/jhoicas/nfse-api/internal/application/emission"
	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/infrastructure/blob"
	"github.com/jhoicas/nfse-api/internal/infrastructure/memory"
	"github.com/jhoicas/nfse-api/internal/infrastructure/metrics"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer/signertest"
	"github.com/jhoicas/nfse-api/internal/infrastructure/pdf"
	"github.com/jhoicas/nfse-api/internal/infrastructure/vault"
	apphttp "github.com/jhoicas/nfse-api/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/nfse-api/pkg/jwt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

const (
	testJWTSecret = "test-secret-key-for-unit-tests"
	testUserID    = "00000000-0000-0000-0000-000000000001"
	otherUserID   = "00000000-0000-0000-0000-000000000002"
	testIssuer    = "nfse-api-test"
)

// stubAuthority autoridad tributaria controlable desde el test.
type stubAuthority struct {
	mu        sync.Mutex
	submitErr error
	accessKey string
	params    json.RawMessage
}

func (s *stubAuthority) Submit(context.Context, infranfse.SubmitRequest) (*infranfse.SubmitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &infranfse.SubmitResponse{
		TrackingID: "DPS-" + time.Now().Format("150405.000000000"),
		AccessKey:  s.accessKey,
		Raw:        []byte(`{"situacao":"RECEBIDA"}`),
	}, nil
}

func (s *stubAuthority) QueryStatus(_ context.Context, trackingID string) (*infranfse.StatusResponse, error) {
	return &infranfse.StatusResponse{TrackingID: trackingID, Situacao: "PROCESSANDO"}, nil
}

func (s *stubAuthority) FetchDocumentPDF(context.Context, string) ([]byte, error) {
	return []byte("%PDF-1.4 danfse"), nil
}

func (s *stubAuthority) MunicipalParameters(context.Context, string) (json.RawMessage, error) {
	return s.params, nil
}

type testAPI struct {
	app       *fiber.App
	authority *stubAuthority
	blobs     *blob.MemoryStore
	ledger    *memory.EmissionRepo
	registry  *prometheus.Registry
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cipher, err := vault.NewPassphraseCipher("secreto-test")
	require.NoError(t, err)

	api := &testAPI{
		authority: &stubAuthority{params: json.RawMessage(`{"codigoMunicipio":"3550308","aderente":true}`)},
		blobs:     blob.NewMemoryStore(),
		ledger:    memory.NewEmissionRepository(),
		registry:  prometheus.NewRegistry(),
	}
	m := metrics.New(api.registry)
	v := credential.NewVault(memory.NewCredentialRepository(), api.blobs, cipher, "nfse-credentials", zerolog.Nop())
	svc := emission.NewService(emission.Deps{
		Emissions:   api.ledger,
		Blobs:       api.blobs,
		Credentials: v,
		Builder:     infranfse.NewXMLBuilderService("2", "test"),
		Signer:      signer.NewDigitalSignatureService(),
		Authority:   api.authority,
		Receipts:    pdf.NewReceiptGenerator(""),
		Observer:    m,
		Log:         zerolog.Nop(),
	}, emission.Config{})

	api.app = fiber.New()
	apphttp.Router(api.app, apphttp.RouterDeps{
		Emissions:   svc,
		Credentials: v,
		Metrics:     promhttp.HandlerFor(api.registry, promhttp.HandlerOpts{}),
		JWTSecret:   testJWTSecret,
		AppName:     "nfse-api",
		Log:         zerolog.Nop(),
	})
	return api
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := pkgjwt.Generate(testJWTSecret, userID, testIssuer, 60)
	require.NoError(t, err, "debe generarse un token JWT válido")
	return "Bearer " + tok
}

func (a *testAPI) do(t *testing.T, method, path, auth string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testAPI) doJSON(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	return a.do(t, method, path, bearer(t, userID), r, fiber.MIMEApplicationJSON)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// uploadCredential sube un A1 por multipart y devuelve la respuesta.
func (a *testAPI) uploadCredential(t *testing.T, userID string, pfx []byte, password string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "cert.pfx")
	require.NoError(t, err)
	_, err = fw.Write(pfx)
	require.NoError(t, err)
	require.NoError(t, w.WriteField("password", password))
	require.NoError(t, w.WriteField("type", "a1"))
	require.NoError(t, w.Close())
	return a.do(t, http.MethodPost, "/nfse/credentials", bearer(t, userID), &buf, w.FormDataContentType())
}

func testPFX(t *testing.T, password string) []byte {
	t.Helper()
	id := signertest.NewIdentity(t, "PRESTADORA EXEMPLO LTDA:11222333000181", time.Now().AddDate(1, 0, 0))
	return id.PFX(t, password)
}

func dpsBody() map[string]any {
	return map[string]any{
		"identificacao": map[string]any{"numero": "42", "serie": "900", "codigoMunicipioEmissao": "3550308"},
		"prestador": map[string]any{
			"documento": "11.222.333/0001-81", "nome": "Prestadora Exemplo LTDA", "optanteSimplesNacional": "1",
		},
		"tomador": map[string]any{
			"documento": "529.982.247-25", "nome": "João da Silva",
			"endereco": map[string]any{
				"logradouro": "Rua das Flores", "numero": "100", "bairro": "Centro",
				"codigoMunicipio": "3550308", "cep": "01001-000",
			},
		},
		"servico": map[string]any{
			"codigoTributacaoNacional": "010101", "descricao": "Desenvolvimento de software",
			"codigoMunicipioPrestacao": "3550308",
		},
		"valores": map[string]any{"valorServicos": "1000.00", "valorDeducoes": "0", "aliquota": "3"},
	}
}

// withEmission sube certificado y emite una NFS-e; devuelve el id.
func (a *testAPI) withEmission(t *testing.T) string {
	t.Helper()
	resp := a.uploadCredential(t, testUserID, testPFX(t, "senha"), "senha")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = a.doJSON(t, http.MethodPost, "/nfse", testUserID, dpsBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[dto.EmissionResponse](t, resp).ID
}

// ──────────────────────────────────────────────────────────────────────────────
// Rutas públicas y autenticación
// ──────────────────────────────────────────────────────────────────────────────

func TestHealth_SinToken(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics_ExponeColectores(t *testing.T) {
	api := newTestAPI(t)
	api.withEmission(t)

	resp := api.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "nfse_emissions_created_total")
}

func TestAuth_SinHeaderRetorna401(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(t, http.MethodGet, "/nfse/credentials", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "MISSING_TOKEN", decode[dto.ErrorResponse](t, resp).Code)
}

func TestAuth_TokenInvalidoRetorna401(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(t, http.MethodGet, "/nfse/credentials", "Bearer token.invalido.aqui", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_TOKEN", decode[dto.ErrorResponse](t, resp).Code)
}

func TestAuth_FormatoDistintoDeBearer(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(t, http.MethodGet, "/nfse/credentials", "Basic dXNlcjpwYXNz", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_TokenExpirado(t *testing.T) {
	api := newTestAPI(t)
	tok, err := pkgjwt.Generate(testJWTSecret, testUserID, testIssuer, -1)
	require.NoError(t, err)
	resp := api.do(t, http.MethodGet, "/nfse/credentials", "Bearer "+tok, nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthMiddleware_ExtraeUserID(t *testing.T) {
	app := fiber.New()
	app.Get("/me", apphttp.AuthMiddleware(testJWTSecret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": apphttp.GetUserID(c)})
	})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", bearer(t, testUserID))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, testUserID, body["user_id"])
}

// ──────────────────────────────────────────────────────────────────────────────
// Certificados
// ──────────────────────────────────────────────────────────────────────────────

func TestCredentials_SubirYListar(t *testing.T) {
	api := newTestAPI(t)
	resp := api.uploadCredential(t, testUserID, testPFX(t, "senha"), "senha")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(raw), "senha", "la contraseña nunca vuelve en la respuesta")

	var created dto.CredentialResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.Equal(t, "A1", created.Type)
	assert.Equal(t, "11222333000181", created.DocumentNumber)
	assert.False(t, created.Expired)

	resp = api.doJSON(t, http.MethodGet, "/nfse/credentials", testUserID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]dto.CredentialResponse](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	resp = api.doJSON(t, http.MethodGet, "/nfse/credentials", otherUserID, nil)
	assert.Empty(t, decode[[]dto.CredentialResponse](t, resp))
}

func TestCredentials_SubirJSONBase64(t *testing.T) {
	api := newTestAPI(t)
	resp := api.doJSON(t, http.MethodPost, "/nfse/credentials", testUserID, dto.UploadCredentialRequest{
		ContainerB64: base64.StdEncoding.EncodeToString(testPFX(t, "senha")),
		Passphrase:   "senha",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCredentials_ContrasenaIncorrectaEs422(t *testing.T) {
	api := newTestAPI(t)
	resp := api.uploadCredential(t, testUserID, testPFX(t, "senha"), "otra")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "WRONG_PASSWORD", decode[dto.ErrorResponse](t, resp).Code)
}

func TestCredentials_ContenedorBasuraEs422(t *testing.T) {
	api := newTestAPI(t)
	resp := api.uploadCredential(t, testUserID, []byte("no es un pfx"), "senha")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "INVALID_CERTIFICATE", decode[dto.ErrorResponse](t, resp).Code)
}

func TestCredentials_RevocarYBorrar(t *testing.T) {
	api := newTestAPI(t)
	resp := api.uploadCredential(t, testUserID, testPFX(t, "senha"), "senha")
	created := decode[dto.CredentialResponse](t, resp)

	resp = api.doJSON(t, http.MethodPost, "/nfse/credentials/"+created.ID+"/revoke", otherUserID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no se revoca el certificado de otro emisor")

	resp = api.doJSON(t, http.MethodPost, "/nfse/credentials/"+created.ID+"/revoke", testUserID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "REVOKED", decode[dto.CredentialResponse](t, resp).Status)

	// revocado: ya no hay credencial para firmar
	resp = api.doJSON(t, http.MethodPost, "/nfse", testUserID, dpsBody())
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp = api.doJSON(t, http.MethodDelete, "/nfse/credentials/"+created.ID, testUserID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, api.blobs.Len(), "el contenedor se borra con la credencial")

	resp = api.doJSON(t, http.MethodDelete, "/nfse/credentials/"+created.ID, testUserID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "borrar dos veces es idempotente")
}

// ──────────────────────────────────────────────────────────────────────────────
// Emisión
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmit_SinCertificadoEs412(t *testing.T) {
	api := newTestAPI(t)
	resp := api.doJSON(t, http.MethodPost, "/nfse", testUserID, dpsBody())
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, "NO_CERTIFICATE", decode[dto.ErrorResponse](t, resp).Code)
}

func TestSubmit_EmiteYConsulta(t *testing.T) {
	api := newTestAPI(t)
	id := api.withEmission(t)

	resp := api.doJSON(t, http.MethodGet, "/nfse/"+id, testUserID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[dto.EmissionResponse](t, resp)
	assert.Equal(t, "QUEUED", got.Status)
	assert.Len(t, got.ContentHash, 64)
	assert.Equal(t, "30", got.ValorISS.String())
	assert.False(t, got.PDFAvailable)
	assert.JSONEq(t, `{"situacao":"RECEBIDA"}`, string(got.Response))

	resp = api.doJSON(t, http.MethodGet, "/nfse/"+id, otherUserID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "otro emisor no ve la emisión")
}

func TestSubmit_CamposInvalidosEs400ConRutas(t *testing.T) {
	api := newTestAPI(t)
	body := dpsBody()
	delete(body, "tomador")
	resp := api.doJSON(t, http.MethodPost, "/nfse", testUserID, body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decode[dto.ErrorResponse](t, resp)
	assert.Equal(t, "VALIDATION", out.Code)
	assert.NotEmpty(t, out.Fields)
	for _, f := range out.Fields {
		assert.True(t, strings.HasPrefix(f, "tomador"), "campo inesperado %s", f)
	}
}

func TestSubmit_CuerpoNoJSON(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(t, http.MethodPost, "/nfse", bearer(t, testUserID), strings.NewReader("{"), fiber.MIMEApplicationJSON)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmit_RechazoDeLaAutoridadEs502(t *testing.T) {
	api := newTestAPI(t)
	resp := api.uploadCredential(t, testUserID, testPFX(t, "senha"), "senha")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	api.authority.submitErr = &domain.UpstreamError{StatusCode: 400, Body: []byte(`{"erros":[{"codigo":"E0001"}]}`)}

	resp = api.doJSON(t, http.MethodPost, "/nfse", testUserID, dpsBody())
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	out := decode[dto.ErrorResponse](t, resp)
	assert.JSONEq(t, `{"erros":[{"codigo":"E0001"}]}`, out.Upstream)

	pending, err := api.ledger.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmit_AutoridadInalcanzableEs504(t *testing.T) {
	api := newTestAPI(t)
	resp := api.uploadCredential(t, testUserID, testPFX(t, "senha"), "senha")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	api.authority.submitErr = &domain.TransportError{Op: infranfse.OpSubmit, Err: context.DeadlineExceeded}

	resp = api.doJSON(t, http.MethodPost, "/nfse", testUserID, dpsBody())
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestSubmit_PrefirmadoDeshabilitadoEs400(t *testing.T) {
	api := newTestAPI(t)
	resp := api.doJSON(t, http.MethodPost, "/nfse", testUserID, map[string]any{"dpsXmlGZipB64": "H4sIAAAAAAAA"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancel(t *testing.T) {
	api := newTestAPI(t)
	id := api.withEmission(t)

	resp := api.doJSON(t, http.MethodPost, "/nfse/"+id+"/cancel", testUserID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CANCELLED", decode[dto.EmissionResponse](t, resp).Status)
}

func TestCancel_AutorizadaEs409(t *testing.T) {
	api := newTestAPI(t)
	api.authority.accessKey = "35503082211222333000181000000000004223000000001"
	id := api.withEmission(t)

	resp := api.doJSON(t, http.MethodPost, "/nfse/"+id+"/cancel", testUserID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPDF_NoDisponibleEs404(t *testing.T) {
	api := newTestAPI(t)
	id := api.withEmission(t)

	resp := api.doJSON(t, http.MethodGet, "/nfse/"+id+"/pdf", testUserID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "PDF_NOT_AVAILABLE", decode[dto.ErrorResponse](t, resp).Code)
}

func TestPDF_DisponibleTrasPoller(t *testing.T) {
	api := newTestAPI(t)
	api.authority.accessKey = "K-AUT"
	id := api.withEmission(t)

	poller := emission.NewPoller(api.ledger, api.blobs, api.authority, nil, nil,
		emission.PollerConfig{DocumentsBucket: "nfse-documents"}, zerolog.Nop())
	_, err := poller.PollOnce(context.Background())
	require.NoError(t, err)

	resp := api.doJSON(t, http.MethodGet, "/nfse/"+id+"/pdf", testUserID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "%PDF-1.4 danfse", string(body))
}

func TestReceipt(t *testing.T) {
	api := newTestAPI(t)
	id := api.withEmission(t)

	resp := api.doJSON(t, http.MethodGet, "/nfse/"+id+"/receipt", testUserID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}

func TestParametrosMunicipales(t *testing.T) {
	api := newTestAPI(t)

	resp := api.doJSON(t, http.MethodGet, "/nfse/parametros/3550308", testUserID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"codigoMunicipio":"3550308","aderente":true}`, string(body))

	resp = api.doJSON(t, http.MethodGet, "/nfse/parametros/355", testUserID, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
