package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-api/internal/application/credential"
)

// LogNotifier registra el aviso en el log estructurado. Es el notificador por defecto sin Kafka.
type LogNotifier struct {
	log zerolog.Logger
}

var _ credential.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyExpiring(_ context.Context, notice credential.ExpiryNotice) error {
	n.log.Warn().
		Str("credential_id", notice.CredentialID).
		Str("user_id", notice.UserID).
		Str("subject", notice.SubjectName).
		Time("not_after", notice.NotAfter).
		Int("days_left", notice.DaysLeft).
		Msg("certificado próximo a vencer")
	return nil
}
