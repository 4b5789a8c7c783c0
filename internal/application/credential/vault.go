package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
	"github.com/jhoicas/nfse-api/internal/infrastructure/vault"
)

const containerContentType = "application/x-pkcs12"

// Metadata datos declarados por el usuario al subir el certificado. Los vacíos se toman del propio certificado.
type Metadata struct {
	Type           string
	SubjectName    string
	DocumentNumber string
	NotAfter       *time.Time
}

// ActiveCredential credencial seleccionada para firmar, con la contraseña ya descifrada.
// No debe registrarse en logs ni sobrevivir a la operación de firma.
type ActiveCredential struct {
	Credential *entity.Credential
	Locator    entity.BlobLocator
	Passphrase string
}

// Vault custodia de certificados: contenedor en el blob store, metadatos y contraseña cifrada en el repositorio.
type Vault struct {
	repo    repository.CredentialRepository
	blobs   repository.BlobStore
	cipher  PassphraseCipher
	extract ExtractFunc
	bucket  string
	now     func() time.Time
	newID   func() string
	log     zerolog.Logger
}

// VaultOption personaliza el Vault (tests).
type VaultOption func(*Vault)

func WithClock(now func() time.Time) VaultOption { return func(v *Vault) { v.now = now } }

func WithExtractor(fn ExtractFunc) VaultOption { return func(v *Vault) { v.extract = fn } }

func NewVault(
	repo repository.CredentialRepository,
	blobs repository.BlobStore,
	cipher PassphraseCipher,
	bucket string,
	log zerolog.Logger,
	opts ...VaultOption,
) *Vault {
	v := &Vault{
		repo:    repo,
		blobs:   blobs,
		cipher:  cipher,
		extract: signer.Extract,
		bucket:  bucket,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     log,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Store valida el contenedor con la contraseña, sube el blob y luego inserta los metadatos.
// Si la inserción falla se borra el blob recién subido.
func (v *Vault) Store(ctx context.Context, userID string, container []byte, passphrase string, meta Metadata) (*entity.Credential, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id requerido", domain.ErrInvalidInput)
	}
	if len(container) == 0 {
		return nil, fmt.Errorf("%w: contenedor vacío", domain.ErrInvalidCredentialContainer)
	}

	mat, err := v.extract(container, passphrase)
	if err != nil {
		return nil, err
	}
	name, doc := signer.SubjectInfo(mat.Certificate)
	// la fecha declarada solo puede adelantar el vencimiento, nunca extenderlo.
	notAfter := mat.Certificate.NotAfter
	if meta.NotAfter != nil && meta.NotAfter.Before(notAfter) {
		notAfter = *meta.NotAfter
	}
	now := v.now().UTC()
	if !notAfter.After(now) {
		return nil, fmt.Errorf("%w: venció el %s", domain.ErrCredentialExpired, notAfter.Format(time.RFC3339))
	}
	credType := meta.Type
	if credType == "" {
		credType = entity.CredentialTypeA1
	}
	if credType != entity.CredentialTypeA1 && credType != entity.CredentialTypeA3 {
		return nil, fmt.Errorf("%w: tipo de certificado %q", domain.ErrInvalidInput, credType)
	}

	sealed, err := v.cipher.Seal(userID, passphrase)
	if err != nil {
		return nil, err
	}

	id := v.newID()
	c := &entity.Credential{
		ID:                   id,
		UserID:               userID,
		Type:                 credType,
		SubjectName:          firstNonEmpty(meta.SubjectName, name),
		DocumentNumber:       firstNonEmpty(meta.DocumentNumber, doc),
		NotAfter:             notAfter.UTC(),
		BlobLocator:          entity.BlobLocator{Bucket: v.bucket, Key: fmt.Sprintf("credentials/%s/%s.pfx", userID, id)},
		PassphraseCiphertext: sealed.Ciphertext,
		PassphraseIV:         sealed.IV,
		PassphraseTag:        sealed.Tag,
		Status:               entity.CredentialStatusActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := v.blobs.PutObject(ctx, c.BlobLocator.Bucket, c.BlobLocator.Key, container, containerContentType); err != nil {
		return nil, asStorageError("upload container", err)
	}
	if err := v.repo.Create(ctx, c); err != nil {
		if delErr := v.blobs.DeleteObject(ctx, c.BlobLocator.Bucket, c.BlobLocator.Key); delErr != nil {
			v.log.Error().Err(delErr).Str("credential_id", id).Str("blob", c.BlobLocator.String()).
				Msg("compensación fallida: blob huérfano")
		}
		return nil, asStorageError("insert credential", err)
	}

	v.log.Info().Str("credential_id", id).Str("user_id", userID).Time("not_after", c.NotAfter).Msg("certificado almacenado")
	return c, nil
}

// FetchActive selecciona la credencial ACTIVE con vencimiento más lejano y descifra su contraseña.
func (v *Vault) FetchActive(ctx context.Context, userID string) (*ActiveCredential, error) {
	c, err := v.repo.FindLatestActive(ctx, userID)
	if err != nil {
		return nil, asStorageError("find active credential", err)
	}
	if c == nil {
		return nil, domain.ErrNoCredential
	}
	if c.IsExpiredAt(v.now()) {
		return nil, fmt.Errorf("%w: credencial %s venció el %s", domain.ErrCredentialExpired, c.ID, c.NotAfter.Format(time.RFC3339))
	}
	pass, err := v.cipher.Open(userID, &vault.Sealed{
		Ciphertext: c.PassphraseCiphertext,
		IV:         c.PassphraseIV,
		Tag:        c.PassphraseTag,
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "open passphrase", Err: err}
	}
	return &ActiveCredential{Credential: c, Locator: c.BlobLocator, Passphrase: pass}, nil
}

// LoadContainer descarga el contenedor PKCS#12. Un blob ausente para una credencial existente es inconsistencia de almacenamiento.
func (v *Vault) LoadContainer(ctx context.Context, locator entity.BlobLocator) ([]byte, error) {
	data, err := v.blobs.GetObject(ctx, locator.Bucket, locator.Key)
	if err != nil {
		return nil, asStorageError("load container", err)
	}
	return data, nil
}

// Revoke marca la credencial como REVOKED; deja de ser elegible para firmar.
func (v *Vault) Revoke(ctx context.Context, userID, credentialID string) (*entity.Credential, error) {
	c, err := v.owned(ctx, userID, credentialID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrNotFound
	}
	now := v.now().UTC()
	if err := v.repo.UpdateStatus(ctx, c.ID, entity.CredentialStatusRevoked, now); err != nil {
		return nil, err
	}
	c.Status = entity.CredentialStatusRevoked
	c.UpdatedAt = now
	return c, nil
}

// Delete borra blob y fila, en ese orden: si el blob falla la fila sigue ahí y se puede reintentar.
// Si la fila ya no existe la llamada es exitosa.
func (v *Vault) Delete(ctx context.Context, userID, credentialID string) error {
	c, err := v.owned(ctx, userID, credentialID)
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	if err := v.blobs.DeleteObject(ctx, c.BlobLocator.Bucket, c.BlobLocator.Key); err != nil {
		return asStorageError("delete container", err)
	}
	if _, err := v.repo.Delete(ctx, c.ID); err != nil {
		return asStorageError("delete credential", err)
	}
	v.log.Info().Str("credential_id", c.ID).Str("user_id", userID).Msg("certificado eliminado")
	return nil
}

// List credenciales del usuario, más recientes primero.
func (v *Vault) List(ctx context.Context, userID string) ([]*entity.Credential, error) {
	list, err := v.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, asStorageError("list credentials", err)
	}
	return list, nil
}

// owned devuelve nil si no existe; ErrNotFound si pertenece a otro usuario.
func (v *Vault) owned(ctx context.Context, userID, credentialID string) (*entity.Credential, error) {
	c, err := v.repo.GetByID(ctx, credentialID)
	if err != nil {
		return nil, asStorageError("get credential", err)
	}
	if c == nil {
		return nil, nil
	}
	if c.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func asStorageError(op string, err error) error {
	var se *domain.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
