package emission

import (
	"context"
	"time"

	"github.com/jhoicas/nfse-api/internal/application/credential"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

// CredentialSource selección y carga del certificado de firma (credential.Vault).
type CredentialSource interface {
	FetchActive(ctx context.Context, userID string) (*credential.ActiveCredential, error)
	LoadContainer(ctx context.Context, locator entity.BlobLocator) ([]byte, error)
}

// DocumentBuilder arma el XML de la DPS (infranfse.XMLBuilderService).
type DocumentBuilder interface {
	Build(req *nfse.DPSRequest) (*infranfse.BuiltDocument, error)
}

// ReceiptRenderer comprovante local en PDF (pdf.ReceiptGenerator).
type ReceiptRenderer interface {
	Generate(e *entity.Emission) ([]byte, error)
}

// Locker evita ciclos del poller solapados. acquired=false significa que otro ciclo está en curso.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// Observer métricas de emisión y polling. Opcional.
type Observer interface {
	ObserveEmissionCreated(status string)
	ObservePollCycle(d time.Duration)
	ObservePolled(outcome string)
	ObservePDFAttached()
}

type noopObserver struct{}

func (noopObserver) ObserveEmissionCreated(string)  {}
func (noopObserver) ObservePollCycle(time.Duration) {}
func (noopObserver) ObservePolled(string)           {}
func (noopObserver) ObservePDFAttached()            {}
