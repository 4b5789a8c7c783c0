package emission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-api/internal/application/credential"
	"github.com/jhoicas/nfse-api/internal/application/dto"
	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

// Config parámetros del caso de uso de emisión.
type Config struct {
	SignatureAlgorithm nfse.SignatureAlgorithm
	AcceptPrebuilt     bool // habilita POST /nfse con dpsXmlGZipB64 ya firmado
}

// Deps colaboradores del Service.
type Deps struct {
	Emissions   repository.EmissionRepository
	Blobs       repository.BlobStore
	Credentials CredentialSource
	Builder     DocumentBuilder
	Signer      nfse.Signer
	Extract     credential.ExtractFunc // por defecto signer.Extract
	Authority   infranfse.Authority
	Receipts    ReceiptRenderer
	Observer    Observer
	Log         zerolog.Logger
}

// Service caso de uso síncrono de emisión:
//
//	validar → construir DPS → credencial activa → extraer llave → firmar → hash → enviar → registrar
//
// Si la autoridad falla (Upstream/Transport) no se escribe nada en el ledger.
type Service struct {
	Deps
	cfg   Config
	now   func() time.Time
	newID func() string
}

func NewService(deps Deps, cfg Config) *Service {
	if deps.Extract == nil {
		deps.Extract = signer.Extract
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if cfg.SignatureAlgorithm == "" {
		cfg.SignatureAlgorithm = nfse.AlgorithmRSASHA256
	}
	return &Service{Deps: deps, cfg: cfg, now: time.Now, newID: uuid.NewString}
}

// SetClock reemplaza el reloj (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Submit emite una NFS-e a partir de la DPS estructurada. Un envelope pre-firmado se deriva a SubmitPrebuilt.
func (s *Service) Submit(ctx context.Context, userID string, req *dto.SubmitNFSeRequest) (*entity.Emission, error) {
	if req == nil {
		return nil, &domain.ValidationError{Fields: []string{"body"}}
	}
	if req.IsPrebuilt() {
		return s.SubmitPrebuilt(ctx, userID, req.EnvelopeB64)
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 1. Construir la DPS (valida todos los campos antes de tocar credenciales)
	// ═══════════════════════════════════════════════════════════════════════════
	built, err := s.Builder.Build(&req.DPSRequest)
	if err != nil {
		return nil, err
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 2. Credencial activa → material de firma (vive solo en esta llamada)
	// ═══════════════════════════════════════════════════════════════════════════
	active, err := s.Credentials.FetchActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	container, err := s.Credentials.LoadContainer(ctx, active.Locator)
	if err != nil {
		return nil, err
	}
	material, err := s.Extract(container, active.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("credencial %s: %w", active.Credential.ID, err)
	}
	// los metadatos pueden estar desfasados; manda el certificado real.
	if !material.Certificate.NotAfter.After(s.now()) {
		return nil, fmt.Errorf("%w: el certificado de la credencial %s venció el %s", domain.ErrCredentialExpired,
			active.Credential.ID, material.Certificate.NotAfter.Format(time.RFC3339))
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 3. Firmar y enviar
	// ═══════════════════════════════════════════════════════════════════════════
	signed, err := s.Signer.Sign(built.XML, material, s.cfg.SignatureAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("firmar DPS %s: %w", built.ID, err)
	}
	hash := signer.ContentHash(signed)

	resp, err := s.Authority.Submit(ctx, infranfse.SubmitRequest{SignedXML: signed})
	if err != nil {
		s.Log.Warn().Err(err).Str("user_id", userID).Str("dps_id", built.ID).Msg("envío de DPS fallido")
		return nil, err
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 4. Registrar en el ledger
	// ═══════════════════════════════════════════════════════════════════════════
	e := s.newEmission(userID, resp, built.ID, hash)
	e.CredentialID = active.Credential.ID
	e.DPSNumber = req.Identificacao.Numero
	e.Series = req.Identificacao.Serie
	e.ValorServicos = built.ValorServicos
	e.ValorISS = built.ValorISS
	if err := s.record(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// SubmitPrebuilt envía una DPS ya firmada y comprimida por el cliente. No toca el Vault.
func (s *Service) SubmitPrebuilt(ctx context.Context, userID, envelopeB64 string) (*entity.Emission, error) {
	if !s.cfg.AcceptPrebuilt {
		return nil, fmt.Errorf("%w: envío de DPS pre-firmada deshabilitado", domain.ErrInvalidInvoiceRequest)
	}
	signed, err := infranfse.DecodeEnvelope(envelopeB64)
	if err != nil {
		return nil, &domain.ValidationError{Fields: []string{"dpsXmlGZipB64"}}
	}
	summary := summarizePrebuilt(signed)

	resp, err := s.Authority.Submit(ctx, infranfse.SubmitRequest{EnvelopeB64: envelopeB64})
	if err != nil {
		s.Log.Warn().Err(err).Str("user_id", userID).Msg("envío de DPS pre-firmada fallido")
		return nil, err
	}

	e := s.newEmission(userID, resp, summary.id, signer.ContentHash(signed))
	e.DPSNumber = summary.numero
	e.Series = summary.serie
	e.ValorServicos = summary.valorServicos
	e.ValorISS = summary.valorISS
	if err := s.record(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) newEmission(userID string, resp *infranfse.SubmitResponse, localID, hash string) *entity.Emission {
	now := s.now().UTC()
	status := entity.EmissionStatusQueued
	if resp.AccessKey != "" {
		status = entity.EmissionStatusAuthorized
	}
	id := s.newID()
	trackingID := firstNonEmpty(resp.TrackingID, localID, "LOCAL-"+id)
	return &entity.Emission{
		ID:              id,
		UserID:          userID,
		TrackingID:      trackingID,
		Status:          status,
		ContentHash:     hash,
		AccessKey:       resp.AccessKey,
		ResponsePayload: resp.Raw,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *Service) record(ctx context.Context, e *entity.Emission) error {
	if err := s.Emissions.Create(ctx, e); err != nil {
		// la autoridad ya aceptó la DPS: el idDps queda en el log para conciliación manual.
		s.Log.Error().Err(err).Str("user_id", e.UserID).Str("tracking_id", e.TrackingID).
			Str("content_hash", e.ContentHash).Msg("DPS aceptada pero no registrada en el ledger")
		var se *domain.StorageError
		if errors.As(err, &se) {
			return err
		}
		return &domain.StorageError{Op: "insert emission", Err: err}
	}
	s.Observer.ObserveEmissionCreated(e.Status)
	s.Log.Info().Str("emission_id", e.ID).Str("user_id", e.UserID).Str("tracking_id", e.TrackingID).
		Str("status", e.Status).Msg("emisión registrada")
	return nil
}

// Get devuelve la emisión si pertenece al usuario.
func (s *Service) Get(ctx context.Context, userID, id string) (*entity.Emission, error) {
	e, err := s.Emissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil || e.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

// Cancel cancelación local de una emisión no terminal. Una emisión terminal devuelve ErrInvalidTransition.
func (s *Service) Cancel(ctx context.Context, userID, id string) (*entity.Emission, error) {
	e, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	from := e.Status
	changed, err := e.Transition(entity.EmissionStatusCancelled, "")
	if err != nil {
		return nil, err
	}
	if !changed {
		return e, nil
	}
	now := s.now().UTC()
	ok, err := s.Emissions.UpdateStatus(ctx, e.ID, from, entity.EmissionStatusCancelled, "", nil, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: el estado de %s cambió durante la cancelación", domain.ErrInvalidTransition, e.ID)
	}
	e.UpdatedAt = now
	s.Log.Info().Str("emission_id", e.ID).Str("user_id", userID).Str("from", from).Msg("emisión cancelada")
	return e, nil
}

// PDF devuelve el DANFSe almacenado. Nunca lo descarga en el camino de la request.
func (s *Service) PDF(ctx context.Context, userID, id string) ([]byte, error) {
	e, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if e.PDFLocator.IsZero() {
		return nil, domain.ErrPDFNotAvailable
	}
	data, err := s.Blobs.GetObject(ctx, e.PDFLocator.Bucket, e.PDFLocator.Key)
	if err != nil {
		return nil, &domain.StorageError{Op: "load pdf", Err: err}
	}
	return data, nil
}

// Receipt comprovante local de envío generado a partir del ledger.
func (s *Service) Receipt(ctx context.Context, userID, id string) ([]byte, error) {
	e, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.Receipts.Generate(e)
}

// MunicipalParameters convenio del municipio (código IBGE de 7 dígitos).
func (s *Service) MunicipalParameters(ctx context.Context, codigoMunicipio string) ([]byte, error) {
	if len(codigoMunicipio) != nfse.MunicipioCodeLength || nfse.OnlyDigits(codigoMunicipio) != codigoMunicipio {
		return nil, fmt.Errorf("%w: código de municipio %q", domain.ErrInvalidInput, codigoMunicipio)
	}
	return s.Authority.MunicipalParameters(ctx, codigoMunicipio)
}

type prebuiltSummary struct {
	id, numero, serie       string
	valorServicos, valorISS decimal.Decimal
}

// summarizePrebuilt extrae lo que se pueda de la DPS firmada; campos ausentes quedan vacíos.
func summarizePrebuilt(signed []byte) prebuiltSummary {
	var out prebuiltSummary
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signed); err != nil {
		return out
	}
	if inf := doc.FindElement("//infDPS"); inf != nil {
		out.id = inf.SelectAttrValue("Id", "")
	}
	textOf := func(path string) string {
		if el := doc.FindElement(path); el != nil {
			return el.Text()
		}
		return ""
	}
	out.numero = textOf("//nDPS")
	out.serie = textOf("//serie")
	out.valorServicos, _ = decimal.NewFromString(textOf("//valorServicos"))
	out.valorISS, _ = decimal.NewFromString(textOf("//valorIss"))
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
