package credential

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

// ExpiryMonitor busca credenciales activas que vencen dentro de la ventana y emite un aviso por cada una.
// Solo lee: no modifica credenciales ni emisiones.
type ExpiryMonitor struct {
	repo     repository.CredentialRepository
	notifier Notifier
	observer ExpiryObserver
	now      func() time.Time
	log      zerolog.Logger
}

func NewExpiryMonitor(repo repository.CredentialRepository, notifier Notifier, observer ExpiryObserver, log zerolog.Logger) *ExpiryMonitor {
	return &ExpiryMonitor{repo: repo, notifier: notifier, observer: observer, now: time.Now, log: log}
}

// SetClock reemplaza el reloj (tests).
func (m *ExpiryMonitor) SetClock(now func() time.Time) { m.now = now }

// CheckExpiring devuelve cuántas credenciales vencen en [now, now+withinDays].
// Un aviso fallido se registra y no corta el recorrido.
func (m *ExpiryMonitor) CheckExpiring(ctx context.Context, withinDays int) (int, error) {
	if withinDays <= 0 {
		return 0, fmt.Errorf("expiry: withinDays debe ser positivo (%d)", withinDays)
	}
	now := m.now().UTC()
	list, err := m.repo.ListExpiring(ctx, now, now.AddDate(0, 0, withinDays))
	if err != nil {
		return 0, fmt.Errorf("expiry: listar credenciales: %w", err)
	}

	failed := 0
	for _, c := range list {
		notice := ExpiryNotice{
			CredentialID:   c.ID,
			UserID:         c.UserID,
			SubjectName:    c.SubjectName,
			DocumentNumber: c.DocumentNumber,
			NotAfter:       c.NotAfter,
			DaysLeft:       int(math.Ceil(c.NotAfter.Sub(now).Hours() / 24)),
		}
		if err := m.notifier.NotifyExpiring(ctx, notice); err != nil {
			failed++
			m.log.Error().Err(err).Str("credential_id", c.ID).Str("user_id", c.UserID).Msg("no se pudo notificar vencimiento")
		}
	}
	if m.observer != nil {
		m.observer.ObserveExpiring(len(list), failed)
	}
	m.log.Info().Int("found", len(list)).Int("failed", failed).Int("within_days", withinDays).Msg("revisión de vencimientos completa")
	return len(list), nil
}
