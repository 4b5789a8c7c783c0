package emission

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

const (
	defaultBatchSize   = 100
	defaultConcurrency = 4
	pollerLockKey      = "nfse-status-poller"
	pdfContentType     = "application/pdf"
)

// Resultados por emisión (etiqueta de métricas).
const (
	OutcomeTransitioned = "transitioned"
	OutcomeUnchanged    = "unchanged"
	OutcomeStale        = "stale"
	OutcomeUnknown      = "unknown_situacao"
	OutcomeError        = "error"
)

// situacaoToStatus traduce la situação de la autoridad al estado del ledger.
var situacaoToStatus = map[string]string{
	nfse.SituacaoRecebida:        entity.EmissionStatusProcessing,
	nfse.SituacaoEmProcessamento: entity.EmissionStatusProcessing,
	nfse.SituacaoProcessando:     entity.EmissionStatusProcessing,
	nfse.SituacaoAutorizada:      entity.EmissionStatusAuthorized,
	nfse.SituacaoEmitida:         entity.EmissionStatusAuthorized,
	nfse.SituacaoRejeitada:       entity.EmissionStatusRejected,
	nfse.SituacaoErro:            entity.EmissionStatusRejected,
	nfse.SituacaoCancelada:       entity.EmissionStatusCancelled,
	nfse.SituacaoSubstituida:     entity.EmissionStatusCancelled,
}

// MapSituacao devuelve el estado del ledger para una situação normalizada.
func MapSituacao(situacao string) (string, bool) {
	status, ok := situacaoToStatus[situacao]
	return status, ok
}

// PollerConfig tamaño de lote, concurrencia y bucket de PDFs.
type PollerConfig struct {
	BatchSize       int
	Concurrency     int
	DocumentsBucket string
}

// PollSummary resultado de un ciclo.
type PollSummary struct {
	Checked      int
	Transitioned int
	PDFsAttached int
	Errors       int
	Skipped      bool // otro ciclo tenía el lock
}

// Poller consulta la situação de las emisiones pendientes y descarga el PDF de las autorizadas.
// Los errores por emisión se registran y cuentan; nunca abortan el lote.
type Poller struct {
	emissions repository.EmissionRepository
	blobs     repository.BlobStore
	authority infranfse.Authority
	locker    Locker
	observer  Observer
	cfg       PollerConfig
	now       func() time.Time
	log       zerolog.Logger
	pdfs      singleflight.Group
}

func NewPoller(
	emissions repository.EmissionRepository,
	blobs repository.BlobStore,
	authority infranfse.Authority,
	locker Locker,
	observer Observer,
	cfg PollerConfig,
	log zerolog.Logger,
) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Poller{
		emissions: emissions,
		blobs:     blobs,
		authority: authority,
		locker:    locker,
		observer:  observer,
		cfg:       cfg,
		now:       time.Now,
		log:       log,
	}
}

// SetClock reemplaza el reloj (tests).
func (p *Poller) SetClock(now func() time.Time) { p.now = now }

// PDFKey clave determinística del DANFSe en el blob store.
func PDFKey(userID, accessKey string) string {
	return fmt.Sprintf("nfse/%s/%s.pdf", userID, accessKey)
}

// PollOnce ejecuta un ciclo. Solo devuelve error si no pudo listar pendientes o tomar el lock.
func (p *Poller) PollOnce(ctx context.Context) (PollSummary, error) {
	var summary PollSummary
	if p.locker != nil {
		release, acquired, err := p.locker.TryLock(ctx, pollerLockKey)
		if err != nil {
			return summary, fmt.Errorf("poller: lock: %w", err)
		}
		if !acquired {
			p.log.Debug().Msg("ciclo anterior en curso, se omite")
			summary.Skipped = true
			return summary, nil
		}
		defer release()
	}

	started := p.now()
	pending, err := p.emissions.ListPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("poller: listar pendientes: %w", err)
	}

	var transitioned, attached, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, e := range pending {
		g.Go(func() error {
			res := p.process(ctx, e)
			if res.transitioned {
				transitioned.Add(1)
			}
			if res.attached {
				attached.Add(1)
			}
			if res.failed {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Checked = len(pending)
	summary.Transitioned = int(transitioned.Load())
	summary.PDFsAttached = int(attached.Load())
	summary.Errors = int(failed.Load())
	p.observer.ObservePollCycle(p.now().Sub(started))
	p.log.Info().Int("checked", summary.Checked).Int("transitioned", summary.Transitioned).
		Int("pdfs", summary.PDFsAttached).Int("errors", summary.Errors).Msg("ciclo de polling completo")
	return summary, nil
}

type processResult struct {
	transitioned, attached, failed bool
}

func (p *Poller) process(ctx context.Context, e *entity.Emission) processResult {
	var res processResult
	log := p.log.With().Str("emission_id", e.ID).Str("tracking_id", e.TrackingID).Str("user_id", e.UserID).Logger()

	if e.NeedsPDF() {
		attached, err := p.attachPDF(ctx, e)
		res.attached = attached
		res.failed = err != nil
		if err != nil {
			log.Warn().Err(err).Msg("descarga de PDF fallida; se reintenta en el próximo ciclo")
		}
		return res
	}
	if e.IsTerminal() {
		return res
	}

	st, err := p.authority.QueryStatus(ctx, e.TrackingID)
	if err != nil {
		log.Warn().Err(err).Msg("consulta de situação fallida")
		p.observer.ObservePolled(OutcomeError)
		res.failed = true
		return res
	}

	situacao := st.NormalizedSituacao()
	target, known := MapSituacao(situacao)
	if !known {
		log.Warn().Str("situacao", situacao).Msg("situação desconocida, se ignora")
		p.observer.ObservePolled(OutcomeUnknown)
		return res
	}
	accessKey := firstNonEmpty(st.AccessKey, e.AccessKey)
	if target == entity.EmissionStatusAuthorized && accessKey == "" {
		log.Warn().Str("situacao", situacao).Msg("autorizada sin chave de acesso, se reintenta")
		p.observer.ObservePolled(OutcomeError)
		res.failed = true
		return res
	}

	from := e.Status
	changed, err := e.Transition(target, accessKey)
	if err != nil {
		log.Warn().Err(err).Msg("transición rechazada")
		p.observer.ObservePolled(OutcomeError)
		res.failed = true
		return res
	}
	if !changed {
		p.observer.ObservePolled(OutcomeUnchanged)
		return res
	}

	ok, err := p.emissions.UpdateStatus(ctx, e.ID, from, target, accessKey, st.Raw, p.now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("no se pudo persistir la transición")
		p.observer.ObservePolled(OutcomeError)
		res.failed = true
		return res
	}
	if !ok {
		// otro proceso ya movió el estado; esta respuesta es vieja.
		log.Debug().Str("from", from).Str("to", target).Msg("transición descartada por estado desactualizado")
		p.observer.ObservePolled(OutcomeStale)
		return res
	}
	res.transitioned = true
	p.observer.ObservePolled(OutcomeTransitioned)
	log.Info().Str("from", from).Str("to", target).Msg("emisión actualizada")

	if target == entity.EmissionStatusAuthorized {
		attached, err := p.attachPDF(ctx, e)
		res.attached = attached
		if err != nil {
			log.Warn().Err(err).Msg("descarga de PDF fallida; se reintenta en el próximo ciclo")
		}
	}
	return res
}

// attachPDF descarga, guarda y asocia el PDF una sola vez por emisión.
// singleflight colapsa llamadas simultáneas; la relectura del ledger evita repetir las secuenciales.
func (p *Poller) attachPDF(ctx context.Context, e *entity.Emission) (bool, error) {
	v, err, _ := p.pdfs.Do(e.ID, func() (any, error) {
		cur, err := p.emissions.GetByID(ctx, e.ID)
		if err != nil {
			return false, err
		}
		if cur == nil || !cur.NeedsPDF() {
			return false, nil
		}
		pdf, err := p.authority.FetchDocumentPDF(ctx, cur.AccessKey)
		if err != nil {
			return false, err
		}
		locator := entity.BlobLocator{Bucket: p.cfg.DocumentsBucket, Key: PDFKey(cur.UserID, cur.AccessKey)}
		if err := p.blobs.PutObject(ctx, locator.Bucket, locator.Key, pdf, pdfContentType); err != nil {
			return false, err
		}
		attached, err := p.emissions.AttachPDF(ctx, cur.ID, locator, p.now().UTC())
		if err != nil {
			return false, err
		}
		if attached {
			p.observer.ObservePDFAttached()
		}
		return attached, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
