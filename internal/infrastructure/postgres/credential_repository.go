package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

var _ repository.CredentialRepository = (*CredentialRepo)(nil)

// CredentialRepo implementación de CredentialRepository (usable con pool o tx).
type CredentialRepo struct {
	q Querier
}

// NewCredentialRepository construye el adaptador. Pasar pool o tx (Querier).
func NewCredentialRepository(q Querier) *CredentialRepo {
	return &CredentialRepo{q: q}
}

const credentialColumns = `id, user_id, type, subject_name, document_number, not_after, blob_locator,
	passphrase_ciphertext, passphrase_iv, passphrase_tag, status, created_at, updated_at`

func (r *CredentialRepo) Create(ctx context.Context, c *entity.Credential) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	query := `INSERT INTO nfse_credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.q.Exec(ctx, query,
		c.ID, c.UserID, c.Type, c.SubjectName, c.DocumentNumber, c.NotAfter, c.BlobLocator.String(),
		c.PassphraseCiphertext, c.PassphraseIV, c.PassphraseTag, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return storageErr("insert credential", err)
	}
	return nil
}

func (r *CredentialRepo) GetByID(ctx context.Context, id string) (*entity.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM nfse_credentials WHERE id = $1`
	c, err := scanCredential(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get credential", err)
	}
	return c, nil
}

func (r *CredentialRepo) FindLatestActive(ctx context.Context, userID string) (*entity.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM nfse_credentials
		WHERE user_id = $1 AND status = $2
		ORDER BY not_after DESC, created_at DESC
		LIMIT 1`
	c, err := scanCredential(r.q.QueryRow(ctx, query, userID, entity.CredentialStatusActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find active credential", err)
	}
	return c, nil
}

func (r *CredentialRepo) ListByUser(ctx context.Context, userID string) ([]*entity.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM nfse_credentials
		WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, "list credentials", query, userID)
}

func (r *CredentialRepo) ListExpiring(ctx context.Context, from, until time.Time) ([]*entity.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM nfse_credentials
		WHERE status = $1 AND not_after >= $2 AND not_after <= $3
		ORDER BY not_after ASC`
	return r.list(ctx, "list expiring credentials", query, entity.CredentialStatusActive, from, until)
}

func (r *CredentialRepo) UpdateStatus(ctx context.Context, id, status string, at time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE nfse_credentials SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		return storageErr("update credential status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credencial %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *CredentialRepo) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM nfse_credentials WHERE id = $1`, id)
	if err != nil {
		return false, storageErr("delete credential", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *CredentialRepo) list(ctx context.Context, op, query string, args ...any) ([]*entity.Credential, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()
	var out []*entity.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

func scanCredential(row pgx.Row) (*entity.Credential, error) {
	var c entity.Credential
	var locator string
	err := row.Scan(&c.ID, &c.UserID, &c.Type, &c.SubjectName, &c.DocumentNumber, &c.NotAfter, &locator,
		&c.PassphraseCiphertext, &c.PassphraseIV, &c.PassphraseTag, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.BlobLocator, err = entity.ParseBlobLocator(locator); err != nil {
		return nil, err
	}
	return &c, nil
}
