package postgres

import (
	"context"
	"fmt"
)

// schemaStatements DDL idempotente del ledger y de las credenciales.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS nfse_credentials (
		id                    UUID PRIMARY KEY,
		user_id               TEXT NOT NULL,
		type                  TEXT NOT NULL,
		subject_name          TEXT NOT NULL DEFAULT '',
		document_number       TEXT NOT NULL DEFAULT '',
		not_after             TIMESTAMPTZ NOT NULL,
		blob_locator          TEXT NOT NULL,
		passphrase_ciphertext BYTEA NOT NULL,
		passphrase_iv         BYTEA NOT NULL,
		passphrase_tag        BYTEA NOT NULL,
		status                TEXT NOT NULL,
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nfse_credentials_user_active
		ON nfse_credentials (user_id, status, not_after DESC)`,
	`CREATE TABLE IF NOT EXISTS nfse_emissions (
		id               UUID PRIMARY KEY,
		user_id          TEXT NOT NULL,
		credential_id    UUID NULL,
		tracking_id      TEXT NOT NULL,
		status           TEXT NOT NULL,
		content_hash     TEXT NOT NULL,
		access_key       TEXT NULL,
		pdf_locator      TEXT NULL,
		response_payload BYTEA NULL,
		dps_number       TEXT NOT NULL DEFAULT '',
		series           TEXT NOT NULL DEFAULT '',
		valor_servicos   NUMERIC(15,2) NOT NULL DEFAULT 0,
		valor_iss        NUMERIC(15,2) NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_nfse_emissions_tracking ON nfse_emissions (tracking_id)`,
	`CREATE INDEX IF NOT EXISTS idx_nfse_emissions_pending
		ON nfse_emissions (created_at)
		WHERE status IN ('QUEUED', 'PROCESSING') OR (status = 'AUTHORIZED' AND pdf_locator IS NULL)`,
}

// EnsureSchema crea tablas e índices si no existen.
func EnsureSchema(ctx context.Context, q Querier) error {
	for _, stmt := range schemaStatements {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
