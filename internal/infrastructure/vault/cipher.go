package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
)

const (
	ivSize  = 12
	tagSize = 16
)

// Sealed contraseña cifrada: se persisten las tres partes por separado.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// PassphraseCipher cifra contraseñas de certificados en reposo con AES-256-GCM.
// La llave (SHA-256 del secreto del proceso) vive en un enclave de memguard y solo se abre para cada operación.
type PassphraseCipher struct {
	key  *memguard.Enclave
	rand io.Reader
}

// NewPassphraseCipher deriva la llave del secreto. Un secreto vacío es un error de configuración.
func NewPassphraseCipher(secret string) (*PassphraseCipher, error) {
	if secret == "" {
		return nil, errors.New("vault: VAULT_SECRET vacío")
	}
	sum := sha256.Sum256([]byte(secret))
	// NewEnclave borra el slice de origen.
	return &PassphraseCipher{key: memguard.NewEnclave(sum[:]), rand: rand.Reader}, nil
}

// Seal cifra la contraseña ligándola al usuario (AAD): no se puede descifrar bajo otro userID.
func (c *PassphraseCipher) Seal(userID, passphrase string) (*Sealed, error) {
	aead, release, err := c.aead()
	if err != nil {
		return nil, err
	}
	defer release()

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, fmt.Errorf("vault: generar IV: %w", err)
	}
	out := aead.Seal(nil, iv, []byte(passphrase), []byte(userID))
	split := len(out) - tagSize
	return &Sealed{Ciphertext: out[:split], IV: iv, Tag: out[split:]}, nil
}

// Open descifra y autentica. Datos alterados o userID distinto devuelven error.
func (c *PassphraseCipher) Open(userID string, s *Sealed) (string, error) {
	if s == nil || len(s.IV) != ivSize || len(s.Tag) != tagSize {
		return "", errors.New("vault: material cifrado incompleto")
	}
	aead, release, err := c.aead()
	if err != nil {
		return "", err
	}
	defer release()

	buf := make([]byte, 0, len(s.Ciphertext)+tagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)
	plain, err := aead.Open(nil, s.IV, buf, []byte(userID))
	if err != nil {
		return "", fmt.Errorf("vault: descifrar contraseña: %w", err)
	}
	return string(plain), nil
}

func (c *PassphraseCipher) aead() (cipher.AEAD, func(), error) {
	lb, err := c.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("vault: abrir enclave: %w", err)
	}
	block, err := aes.NewCipher(lb.Bytes())
	if err != nil {
		lb.Destroy()
		return nil, nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		lb.Destroy()
		return nil, nil, fmt.Errorf("vault: %w", err)
	}
	return aead, lb.Destroy, nil
}
