package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

var _ repository.EmissionRepository = (*EmissionRepo)(nil)

// EmissionRepo ledger de emisiones en PostgreSQL.
type EmissionRepo struct {
	q Querier
}

func NewEmissionRepository(q Querier) *EmissionRepo {
	return &EmissionRepo{q: q}
}

const emissionColumns = `id, user_id, credential_id, tracking_id, status, content_hash, access_key, pdf_locator,
	response_payload, dps_number, series, valor_servicos, valor_iss, created_at, updated_at`

func (r *EmissionRepo) Create(ctx context.Context, e *entity.Emission) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	query := `INSERT INTO nfse_emissions (` + emissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.q.Exec(ctx, query,
		e.ID, e.UserID, nullIfEmpty(e.CredentialID), e.TrackingID, e.Status, e.ContentHash,
		nullIfEmpty(e.AccessKey), nullIfEmpty(e.PDFLocator.String()), e.ResponsePayload,
		e.DPSNumber, e.Series, e.ValorServicos, e.ValorISS, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return storageErr("insert emission", err)
	}
	return nil
}

func (r *EmissionRepo) GetByID(ctx context.Context, id string) (*entity.Emission, error) {
	e, err := scanEmission(r.q.QueryRow(ctx, `SELECT `+emissionColumns+` FROM nfse_emissions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get emission", err)
	}
	return e, nil
}

func (r *EmissionRepo) ListPending(ctx context.Context, limit int) ([]*entity.Emission, error) {
	query := `SELECT ` + emissionColumns + ` FROM nfse_emissions
		WHERE status IN ($1, $2) OR (status = $3 AND pdf_locator IS NULL)
		ORDER BY created_at ASC
		LIMIT $4`
	rows, err := r.q.Query(ctx, query,
		entity.EmissionStatusQueued, entity.EmissionStatusProcessing, entity.EmissionStatusAuthorized, limit)
	if err != nil {
		return nil, storageErr("list pending emissions", err)
	}
	defer rows.Close()
	var out []*entity.Emission
	for rows.Next() {
		e, err := scanEmission(rows)
		if err != nil {
			return nil, storageErr("list pending emissions", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list pending emissions", err)
	}
	return out, nil
}

// UpdateStatus compare-and-set sobre status: una respuesta tardía no pisa un estado más nuevo.
func (r *EmissionRepo) UpdateStatus(ctx context.Context, id, from, to, accessKey string, payload []byte, at time.Time) (bool, error) {
	query := `UPDATE nfse_emissions
		SET status           = $3,
		    access_key       = COALESCE($4, access_key),
		    response_payload = COALESCE($5, response_payload),
		    updated_at       = $6
		WHERE id = $1 AND status = $2`
	tag, err := r.q.Exec(ctx, query, id, from, to, nullIfEmpty(accessKey), payload, at)
	if err != nil {
		return false, storageErr("update emission status", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AttachPDF escribe el locator una sola vez.
func (r *EmissionRepo) AttachPDF(ctx context.Context, id string, locator entity.BlobLocator, at time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE nfse_emissions SET pdf_locator = $2, updated_at = $3 WHERE id = $1 AND pdf_locator IS NULL`,
		id, locator.String(), at)
	if err != nil {
		return false, storageErr("attach emission pdf", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanEmission(row pgx.Row) (*entity.Emission, error) {
	var e entity.Emission
	var credentialID, accessKey, pdfLocator *string
	err := row.Scan(&e.ID, &e.UserID, &credentialID, &e.TrackingID, &e.Status, &e.ContentHash, &accessKey, &pdfLocator,
		&e.ResponsePayload, &e.DPSNumber, &e.Series, &e.ValorServicos, &e.ValorISS, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.CredentialID = derefString(credentialID)
	e.AccessKey = derefString(accessKey)
	if e.PDFLocator, err = entity.ParseBlobLocator(derefString(pdfLocator)); err != nil {
		return nil, err
	}
	return &e, nil
}
