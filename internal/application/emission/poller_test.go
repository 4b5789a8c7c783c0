package emission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/internal/application/emission"
	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/infrastructure/blob"
	"github.com/jhoicas/nfse-api/internal/infrastructure/lock"
	"github.com/jhoicas/nfse-api/internal/infrastructure/memory"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

const docsBucket = "nfse-documents"

type pollerFixture struct {
	ledger    *memory.EmissionRepo
	blobs     *blob.MemoryStore
	authority *fakeAuthority
	poller    *emission.Poller
}

func newPollerFixture(t *testing.T, locker emission.Locker) *pollerFixture {
	t.Helper()
	f := &pollerFixture{
		ledger:    memory.NewEmissionRepository(),
		blobs:     blob.NewMemoryStore(),
		authority: newFakeAuthority(),
	}
	f.poller = emission.NewPoller(f.ledger, f.blobs, f.authority, locker, nil,
		emission.PollerConfig{BatchSize: 50, Concurrency: 4, DocumentsBucket: docsBucket}, zerolog.Nop())
	return f
}

func (f *pollerFixture) seed(t *testing.T, id, userID, trackingID, status string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.ledger.Create(context.Background(), &entity.Emission{
		ID: id, UserID: userID, TrackingID: trackingID, Status: status,
		ContentHash: "hash-" + id, CreatedAt: now, UpdatedAt: now,
	}))
}

func (f *pollerFixture) get(t *testing.T, id string) *entity.Emission {
	t.Helper()
	e, err := f.ledger.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, e)
	return e
}

func TestPollOnce_AutorizadaAdjuntaPDFUnaVez(t *testing.T) {
	f := newPollerFixture(t, lock.NewLocalLocker())
	f.seed(t, "e1", "u1", "DPS-1", entity.EmissionStatusQueued)
	f.authority.setStatus("DPS-1", nfse.SituacaoAutorizada, "K1")

	summary, err := f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Transitioned)
	assert.Equal(t, 1, summary.PDFsAttached)
	assert.Zero(t, summary.Errors)

	e := f.get(t, "e1")
	assert.Equal(t, entity.EmissionStatusAuthorized, e.Status)
	assert.Equal(t, "K1", e.AccessKey)
	assert.Equal(t, entity.BlobLocator{Bucket: docsBucket, Key: "nfse/u1/K1.pdf"}, e.PDFLocator)
	assert.Contains(t, string(e.ResponsePayload), "AUTORIZADA")

	stored, err := f.blobs.GetObject(context.Background(), docsBucket, "nfse/u1/K1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 danfse", string(stored))

	// segundo ciclo: nada pendiente
	summary, err = f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Checked)
	_, pdfs := f.authority.calls()
	assert.Equal(t, 1, pdfs)
	assert.Equal(t, 1, f.blobs.Puts())
}

func TestPollOnce_ProcesandoLuegoRechazada(t *testing.T) {
	f := newPollerFixture(t, nil)
	f.seed(t, "e1", "u1", "DPS-1", entity.EmissionStatusQueued)
	f.authority.setStatus("DPS-1", "em processamento", "")

	_, err := f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.EmissionStatusProcessing, f.get(t, "e1").Status)

	// re-observar el mismo estado no cambia nada
	summary, err := f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Zero(t, summary.Transitioned)

	f.authority.setStatus("DPS-1", nfse.SituacaoRejeitada, "")
	summary, err = f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Transitioned)
	assert.Equal(t, entity.EmissionStatusRejected, f.get(t, "e1").Status)
	_, pdfs := f.authority.calls()
	assert.Zero(t, pdfs, "una rechazada no tiene PDF")
}

func TestPollOnce_ErrorDeUnaEmisionNoAbortaLote(t *testing.T) {
	f := newPollerFixture(t, nil)
	f.seed(t, "e1", "u1", "DPS-1", entity.EmissionStatusQueued)
	f.seed(t, "e2", "u1", "DPS-2", entity.EmissionStatusQueued)
	f.seed(t, "e3", "u2", "DPS-3", entity.EmissionStatusProcessing)
	f.authority.statusErr["DPS-1"] = &domain.TransportError{Op: "status", Err: context.DeadlineExceeded}
	f.authority.setStatus("DPS-2", nfse.SituacaoAutorizada, "K2")
	f.authority.setStatus("DPS-3", nfse.SituacaoCancelada, "")

	summary, err := f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 2, summary.Transitioned)
	assert.Equal(t, 1, summary.Errors)

	assert.Equal(t, entity.EmissionStatusQueued, f.get(t, "e1").Status)
	assert.Equal(t, entity.EmissionStatusAuthorized, f.get(t, "e2").Status)
	assert.Equal(t, entity.EmissionStatusCancelled, f.get(t, "e3").Status)
}

func TestPollOnce_SituacaoDesconocidaSeIgnora(t *testing.T) {
	f := newPollerFixture(t, nil)
	f.seed(t, "e1", "u1", "DPS-1", entity.EmissionStatusQueued)
	f.authority.setStatus("DPS-1", "SITUACAO_NOVA", "")

	summary, err := f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Transitioned)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, entity.EmissionStatusQueued, f.get(t, "e1").Status)
}

func TestPollOnce_AutorizadaSinChaveNoTransiciona(t *testing.T) {
	f := newPollerFixture(t, nil)
	f.seed(t, "e1", "u1", "DPS-1", entity.EmissionStatusQueued)
	f.authority.setStatus("DPS-1", nfse.SituacaoAutorizada, "")

	summary, err := f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, entity.EmissionStatusQueued, f.get(t, "e1").Status)
}

func TestPollOnce_FalloDePDFSeReintenta(t *testing.T) {
	f := newPollerFixture(t, nil)
	f.seed(t, "e1", "u1", "DPS-1", entity.EmissionStatusQueued)
	f.authority.setStatus("DPS-1", nfse.SituacaoAutorizada, "K1")
	f.authority.pdfErr = &domain.UpstreamError{StatusCode: 404, Body: []byte("nao encontrado")}

	summary, err := f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Transitioned)
	assert.Zero(t, summary.PDFsAttached)
	e := f.get(t, "e1")
	assert.Equal(t, entity.EmissionStatusAuthorized, e.Status)
	assert.True(t, e.NeedsPDF())

	f.authority.mu.Lock()
	f.authority.pdfErr = nil
	f.authority.mu.Unlock()

	summary, err = f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Zero(t, summary.Transitioned, "ya estaba autorizada")
	assert.Equal(t, 1, summary.PDFsAttached)
	assert.False(t, f.get(t, "e1").NeedsPDF())
}

func TestPollOnce_CiclosConcurrentesUnSoloPDF(t *testing.T) {
	f := newPollerFixture(t, nil) // sin lock: la exclusión recae en el ledger y singleflight
	f.seed(t, "e1", "u1", "DPS-1", entity.EmissionStatusQueued)
	f.authority.setStatus("DPS-1", nfse.SituacaoAutorizada, "K1")
	f.authority.pdfDelay = 30 * time.Millisecond

	var wg sync.WaitGroup
	transitioned := make([]int, 4)
	for i := range transitioned {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.poller.PollOnce(context.Background())
			assert.NoError(t, err)
			transitioned[i] = s.Transitioned
		}()
	}
	wg.Wait()

	total := 0
	for _, n := range transitioned {
		total += n
	}
	assert.Equal(t, 1, total, "una sola transición persistida")
	_, pdfs := f.authority.calls()
	assert.Equal(t, 1, pdfs, "el PDF se descarga una vez")
	assert.Equal(t, 1, f.blobs.Puts(), "el PDF se sube una vez")
	assert.Equal(t, "nfse/u1/K1.pdf", f.get(t, "e1").PDFLocator.Key)
}

func TestPollOnce_LockOcupadoOmiteCiclo(t *testing.T) {
	locker := lock.NewLocalLocker()
	f := newPollerFixture(t, locker)
	f.seed(t, "e1", "u1", "DPS-1", entity.EmissionStatusQueued)

	release, ok, err := locker.TryLock(context.Background(), "nfse-status-poller")
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	summary, err := f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Zero(t, summary.Checked)
}

func TestPollOnce_AutorizadaSinPDFNoConsultaSituacao(t *testing.T) {
	f := newPollerFixture(t, nil)
	f.seed(t, "e1", "u1", "DPS-1", entity.EmissionStatusQueued)
	ok, err := f.ledger.UpdateStatus(context.Background(), "e1", entity.EmissionStatusQueued,
		entity.EmissionStatusAuthorized, "K9", nil, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := f.poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PDFsAttached)
	assert.Zero(t, summary.Errors, "DPS-1 no tiene situação configurada y no se consulta")
	assert.Equal(t, "nfse/u1/K9.pdf", f.get(t, "e1").PDFLocator.Key)
}

func TestMapSituacao(t *testing.T) {
	tests := []struct {
		situacao string
		want     string
		known    bool
	}{
		{nfse.SituacaoRecebida, entity.EmissionStatusProcessing, true},
		{nfse.SituacaoEmProcessamento, entity.EmissionStatusProcessing, true},
		{nfse.SituacaoAutorizada, entity.EmissionStatusAuthorized, true},
		{nfse.SituacaoEmitida, entity.EmissionStatusAuthorized, true},
		{nfse.SituacaoRejeitada, entity.EmissionStatusRejected, true},
		{nfse.SituacaoErro, entity.EmissionStatusRejected, true},
		{nfse.SituacaoCancelada, entity.EmissionStatusCancelled, true},
		{nfse.SituacaoSubstituida, entity.EmissionStatusCancelled, true},
		{"OUTRA", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.situacao, func(t *testing.T) {
			got, ok := emission.MapSituacao(tt.situacao)
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
