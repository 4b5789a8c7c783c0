package nfse

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
)

// ── Puerto (interfaz) ──────────────────────────────────────────────────────────

// Authority operaciones contra el Sistema Nacional NFS-e. Para tests se inyecta un fake.
type Authority interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	QueryStatus(ctx context.Context, trackingID string) (*StatusResponse, error)
	FetchDocumentPDF(ctx context.Context, accessKey string) ([]byte, error)
	MunicipalParameters(ctx context.Context, codigoMunicipio string) (json.RawMessage, error)
}

// CallObserver recibe la latencia de cada llamada (métricas). Opcional.
type CallObserver interface {
	ObserveCall(op, result string, d time.Duration)
}

const (
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 10 << 20

	OpSubmit     = "submit"
	OpStatus     = "status"
	OpPDF        = "pdf"
	OpParametros = "parametros"
)

// ClientConfig URLs por módulo y origen del certificado cliente (mTLS).
type ClientConfig struct {
	SefinURL      string
	ParametrosURL string
	ADNURL        string

	CertPath     string // .pfx/.p12, o PEM (con KeyPath o combinado)
	KeyPath      string
	CertB64      string // PFX en Base64; tiene prioridad sobre CertPath
	CertPassword string
	CABundlePath string // PEM con CAs adicionales para validar al servidor

	Timeout          time.Duration
	MaxResponseBytes int64 // 0 = 10 MB
	Observer         CallObserver
}

// ErrResponseTooLarge la respuesta superó MaxResponseBytes; no se procesa una respuesta truncada.
var ErrResponseTooLarge = errors.New("respuesta demasiado grande")

// ── Implementación mTLS ────────────────────────────────────────────────────────

// Client cliente HTTP con certificado cliente, cargado una sola vez en NewClient.
type Client struct {
	httpClient    *http.Client
	sefinURL      string
	parametrosURL string
	adnURL        string
	maxBody       int64
	observer      CallObserver
}

var _ Authority = (*Client)(nil)

// NewClient carga el certificado cliente y arma el transporte TLS (>= 1.2, verificación del servidor siempre activa).
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.SefinURL == "" {
		return nil, fmt.Errorf("nfse: falta la URL del módulo Sefin")
	}
	cert, err := loadClientCertificate(cfg)
	if err != nil {
		return nil, err
	}
	roots, err := loadRootCAs(cfg.CABundlePath)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = maxResponseBody
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
			RootCAs:      roots,
		},
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: timeout,
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout, Transport: transport},
		sefinURL:      strings.TrimRight(cfg.SefinURL, "/"),
		parametrosURL: strings.TrimRight(firstNonEmpty(cfg.ParametrosURL, cfg.SefinURL), "/"),
		adnURL:        strings.TrimRight(firstNonEmpty(cfg.ADNURL, cfg.SefinURL), "/"),
		maxBody:       maxBody,
		observer:      cfg.Observer,
	}, nil
}

func loadClientCertificate(cfg ClientConfig) (tls.Certificate, error) {
	switch {
	case cfg.CertB64 != "":
		pfx, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.CertB64))
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("nfse: certificado Base64 inválido: %w", err)
		}
		return tlsFromPFX(pfx, cfg.CertPassword)
	case cfg.CertPath != "":
		ext := strings.ToLower(filepath.Ext(cfg.CertPath))
		if ext == ".pfx" || ext == ".p12" {
			pfx, err := os.ReadFile(cfg.CertPath)
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("nfse: leer certificado: %w", err)
			}
			return tlsFromPFX(pfx, cfg.CertPassword)
		}
		keyPath := cfg.KeyPath
		if keyPath == "" {
			keyPath = cfg.CertPath
		}
		cert, err := tls.LoadX509KeyPair(cfg.CertPath, keyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("nfse: cargar certificado PEM: %w", err)
		}
		return cert, nil
	}
	return tls.Certificate{}, fmt.Errorf("nfse: no hay certificado cliente configurado (NFSE_CLIENT_CERT_PATH o NFSE_CLIENT_CERT_B64)")
}

func tlsFromPFX(pfx []byte, password string) (tls.Certificate, error) {
	mat, err := signer.Extract(pfx, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("nfse: certificado cliente: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{mat.Certificate.Raw},
		PrivateKey:  mat.PrivateKey,
		Leaf:        mat.Certificate,
	}, nil
}

func loadRootCAs(path string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if path == "" {
		return pool, nil
	}
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nfse: leer CA bundle: %w", err)
	}
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("nfse: CA bundle sin certificados PEM")
	}
	return pool, nil
}

// ── Operaciones ───────────────────────────────────────────────────────────────

// Submit envía la DPS: POST {sefin}/nfse con {"dpsXmlGZipB64": ...}.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	envelope := req.EnvelopeB64
	if envelope == "" {
		if len(req.SignedXML) == 0 {
			return nil, fmt.Errorf("nfse: submit sin XML ni envelope")
		}
		var err error
		if envelope, err = EncodeEnvelope(req.SignedXML); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(submitPayload{DPSXmlGZipB64: envelope})
	if err != nil {
		return nil, fmt.Errorf("nfse: serializar payload: %w", err)
	}

	raw, err := c.do(ctx, OpSubmit, http.MethodPost, c.sefinURL+"/nfse", body, "application/json")
	if err != nil {
		return nil, err
	}
	var out SubmitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.UpstreamError{StatusCode: http.StatusOK, Body: raw}
	}
	if out.TrackingID == "" && out.AccessKey == "" {
		return nil, &domain.UpstreamError{StatusCode: http.StatusOK, Body: raw}
	}
	out.Raw = raw
	return &out, nil
}

// QueryStatus consulta la situación de la DPS: GET {sefin}/dps/{id}.
func (c *Client) QueryStatus(ctx context.Context, trackingID string) (*StatusResponse, error) {
	if trackingID == "" {
		return nil, fmt.Errorf("nfse: trackingID vacío")
	}
	raw, err := c.do(ctx, OpStatus, http.MethodGet, c.sefinURL+"/dps/"+url.PathEscape(trackingID), nil, "")
	if err != nil {
		return nil, err
	}
	var out StatusResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.UpstreamError{StatusCode: http.StatusOK, Body: raw}
	}
	if out.TrackingID == "" {
		out.TrackingID = trackingID
	}
	out.Raw = raw
	return &out, nil
}

// FetchDocumentPDF descarga el DANFSe: GET {adn}/danfse/{chave}.
func (c *Client) FetchDocumentPDF(ctx context.Context, accessKey string) ([]byte, error) {
	if accessKey == "" {
		return nil, fmt.Errorf("nfse: chave de acesso vacía")
	}
	return c.do(ctx, OpPDF, http.MethodGet, c.adnURL+"/danfse/"+url.PathEscape(accessKey), nil, "")
}

// MunicipalParameters convenio del municipio: GET {parametros}/parametros_municipais/{cod}/convenio.
func (c *Client) MunicipalParameters(ctx context.Context, codigoMunicipio string) (json.RawMessage, error) {
	if codigoMunicipio == "" {
		return nil, fmt.Errorf("nfse: código de municipio vacío")
	}
	raw, err := c.do(ctx, OpParametros, http.MethodGet,
		c.parametrosURL+"/parametros_municipais/"+url.PathEscape(codigoMunicipio)+"/convenio", nil, "")
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, &domain.UpstreamError{StatusCode: http.StatusOK, Body: raw}
	}
	return json.RawMessage(raw), nil
}

// do ejecuta la llamada y traduce fallos: red -> TransportError, 4xx/5xx -> UpstreamError.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body []byte, contentType string) ([]byte, error) {
	started := time.Now()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("nfse: crear request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, application/pdf")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, "transport_error", started)
		return nil, &domain.TransportError{Op: op, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		c.observe(op, "transport_error", started)
		return nil, &domain.TransportError{Op: op, Err: fmt.Errorf("leer respuesta: %w", err)}
	}
	if int64(len(raw)) > c.maxBody {
		c.observe(op, "transport_error", started)
		return nil, &domain.TransportError{Op: op, Err: fmt.Errorf("%w: más de %d bytes (HTTP %d)", ErrResponseTooLarge, c.maxBody, resp.StatusCode)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.observe(op, "upstream_error", started)
		return nil, &domain.UpstreamError{StatusCode: resp.StatusCode, Body: raw}
	}
	c.observe(op, "ok", started)
	return raw, nil
}

func (c *Client) observe(op, result string, started time.Time) {
	if c.observer != nil {
		c.observer.ObserveCall(op, result, time.Since(started))
	}
}

func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
