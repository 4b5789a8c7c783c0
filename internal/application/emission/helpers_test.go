package emission_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/internal/application/credential"
	"github.com/jhoicas/nfse-api/internal/application/dto"
	"github.com/jhoicas/nfse-api/internal/application/emission"
	"github.com/jhoicas/nfse-api/internal/infrastructure/blob"
	"github.com/jhoicas/nfse-api/internal/infrastructure/memory"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer/signertest"
	"github.com/jhoicas/nfse-api/internal/infrastructure/pdf"
	"github.com/jhoicas/nfse-api/internal/infrastructure/vault"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

// fakeAuthority simula el Sistema Nacional NFS-e.
type fakeAuthority struct {
	mu         sync.Mutex
	submitResp *infranfse.SubmitResponse
	submitErr  error
	submitted  []infranfse.SubmitRequest
	statuses   map[string]*infranfse.StatusResponse
	statusErr  map[string]error
	pdf        []byte
	pdfErr     error
	pdfDelay   time.Duration
	pdfCalls   int
	params     json.RawMessage
}

var _ infranfse.Authority = (*fakeAuthority)(nil)

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{
		submitResp: &infranfse.SubmitResponse{TrackingID: "DPS-AUT-1", Raw: []byte(`{"idDps":"DPS-AUT-1"}`)},
		statuses:   map[string]*infranfse.StatusResponse{},
		statusErr:  map[string]error{},
		pdf:        []byte("%PDF-1.4 danfse"),
	}
}

func (f *fakeAuthority) Submit(_ context.Context, req infranfse.SubmitRequest) (*infranfse.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	cp := *f.submitResp
	return &cp, nil
}

func (f *fakeAuthority) QueryStatus(_ context.Context, trackingID string) (*infranfse.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[trackingID]; err != nil {
		return nil, err
	}
	st, ok := f.statuses[trackingID]
	if !ok {
		return nil, fmt.Errorf("idDps %s desconocido", trackingID)
	}
	cp := *st
	return &cp, nil
}

func (f *fakeAuthority) FetchDocumentPDF(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	f.pdfCalls++
	delay, data, err := f.pdfDelay, f.pdf, f.pdfErr
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return data, err
}

func (f *fakeAuthority) MunicipalParameters(_ context.Context, _ string) (json.RawMessage, error) {
	return f.params, nil
}

func (f *fakeAuthority) setStatus(trackingID, situacao, chave string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[trackingID] = &infranfse.StatusResponse{
		TrackingID: trackingID, Situacao: situacao, AccessKey: chave,
		Raw: []byte(fmt.Sprintf(`{"idDps":%q,"situacao":%q}`, trackingID, situacao)),
	}
}

func (f *fakeAuthority) calls() (submits, pdfs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted), f.pdfCalls
}

type harness struct {
	svc       *emission.Service
	vault     *credential.Vault
	ledger    *memory.EmissionRepo
	blobs     *blob.MemoryStore
	authority *fakeAuthority
	now       time.Time
}

func newHarness(t *testing.T, cfg emission.Config) *harness {
	t.Helper()
	cipher, err := vault.NewPassphraseCipher("secreto-test")
	require.NoError(t, err)
	h := &harness{
		ledger:    memory.NewEmissionRepository(),
		blobs:     blob.NewMemoryStore(),
		authority: newFakeAuthority(),
		now:       time.Now().UTC(),
	}
	clock := func() time.Time { return h.now }
	h.vault = credential.NewVault(memory.NewCredentialRepository(), h.blobs, cipher, "nfse-credentials",
		zerolog.Nop(), credential.WithClock(clock))
	h.svc = emission.NewService(emission.Deps{
		Emissions:   h.ledger,
		Blobs:       h.blobs,
		Credentials: h.vault,
		Builder:     infranfse.NewXMLBuilderService(nfse.AmbienteHomologacao, "nfse-api/test"),
		Signer:      signer.NewDigitalSignatureService(),
		Authority:   h.authority,
		Receipts:    pdf.NewReceiptGenerator(""),
		Log:         zerolog.Nop(),
	}, cfg)
	h.svc.SetClock(clock)
	return h
}

// storeCredential sube un A1 válido por un año para userID.
func (h *harness) storeCredential(t *testing.T, userID string, notAfter time.Time) {
	t.Helper()
	id := signertest.NewIdentity(t, "PRESTADORA EXEMPLO LTDA:11222333000181", notAfter)
	_, err := h.vault.Store(context.Background(), userID, id.PFX(t, "senha"), "senha", credential.Metadata{})
	require.NoError(t, err)
}

func submitRequest() *dto.SubmitNFSeRequest {
	return &dto.SubmitNFSeRequest{DPSRequest: nfse.DPSRequest{
		Identificacao: nfse.Identificacao{Numero: "42", Serie: "900", CodigoMunicipioEmissao: "3550308"},
		Prestador: nfse.Prestador{
			Documento:              "11.222.333/0001-81",
			Nome:                   "Prestadora Exemplo LTDA",
			OptanteSimplesNacional: nfse.SimplesNaoOptante,
		},
		Tomador: nfse.Tomador{
			Documento: "529.982.247-25",
			Nome:      "João da Silva",
			Endereco: &nfse.Endereco{
				Logradouro: "Rua das Flores", Numero: "100", Bairro: "Centro",
				CodigoMunicipio: "3550308", CEP: "01001-000",
			},
		},
		Servico: nfse.Servico{
			CodigoTributacaoNacional: "010101",
			Descricao:                "Desenvolvimento de software",
			CodigoMunicipioPrestacao: "3550308",
		},
		Valores: nfse.Valores{
			ValorServicos: decimal.NewFromInt(1000),
			ValorDeducoes: decimal.Zero,
			Aliquota:      decimal.NewFromInt(3),
		},
	}}
}
