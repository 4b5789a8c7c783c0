// Extracción de llave privada y certificado desde contenedores PKCS#12 (A1 ICP-Brasil).

package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	xpkcs12 "golang.org/x/crypto/pkcs12"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

// Extract abre el contenedor con la contraseña y devuelve exactamente un par llave/certificado.
// Contraseña incorrecta -> domain.ErrWrongPassphrase; cualquier otra forma inválida -> domain.ErrInvalidCredentialContainer.
// No guarda nada entre llamadas.
func Extract(container []byte, passphrase string) (*nfse.SigningMaterial, error) {
	if len(container) == 0 {
		return nil, fmt.Errorf("%w: contenedor vacío", domain.ErrInvalidCredentialContainer)
	}

	keys, certs, err := decodeLegacy(container, passphrase)
	var notImpl xpkcs12.NotImplementedError
	if errors.As(err, &notImpl) {
		// PBES2/AES, MAC SHA-256 o safes con otra cantidad de items: go-pkcs12 los soporta.
		keys, certs, err = decodeModern(container, passphrase)
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return selectPair(keys, certs)
}

// decodeLegacy usa x/crypto/pkcs12 (3DES/RC2 con MAC SHA-1).
func decodeLegacy(container []byte, passphrase string) ([]crypto.Signer, []*x509.Certificate, error) {
	blocks, err := xpkcs12.ToPEM(container, passphrase)
	if err != nil {
		return nil, nil, err
	}
	var keys []crypto.Signer
	var certs []*x509.Certificate
	for _, b := range blocks {
		switch b.Type {
		case "PRIVATE KEY":
			key, err := parsePrivateKey(b)
			if err != nil {
				return nil, nil, err
			}
			keys = append(keys, key)
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, nil, err
			}
			certs = append(certs, cert)
		}
	}
	return keys, certs, nil
}

func decodeModern(container []byte, passphrase string) ([]crypto.Signer, []*x509.Certificate, error) {
	priv, leaf, ca, err := gopkcs12.DecodeChain(container, passphrase)
	if err != nil {
		return nil, nil, err
	}
	key, ok := priv.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("tipo de llave no soportado %T", priv)
	}
	return []crypto.Signer{key}, append([]*x509.Certificate{leaf}, ca...), nil
}

// parsePrivateKey: ToPEM entrega RSA en PKCS#1 y EC en SEC1.
func parsePrivateKey(b *pem.Block) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS1PrivateKey(b.Bytes); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(b.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(b.Bytes)
	if err != nil {
		return nil, fmt.Errorf("llave privada ilegible: %w", err)
	}
	switch k := k.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	}
	return nil, fmt.Errorf("tipo de llave no soportado %T", k)
}

// selectPair exige una sola llave y el único certificado cuya clave pública coincide (los de la cadena CA se ignoran).
func selectPair(keys []crypto.Signer, certs []*x509.Certificate) (*nfse.SigningMaterial, error) {
	switch {
	case len(keys) == 0:
		return nil, fmt.Errorf("%w: sin llave privada", domain.ErrInvalidCredentialContainer)
	case len(keys) > 1:
		return nil, fmt.Errorf("%w: %d llaves privadas", domain.ErrInvalidCredentialContainer, len(keys))
	case len(certs) == 0:
		return nil, fmt.Errorf("%w: sin certificado", domain.ErrInvalidCredentialContainer)
	}
	key := keys[0]
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return nil, fmt.Errorf("%w: llave pública no comparable", domain.ErrInvalidCredentialContainer)
	}
	var match *x509.Certificate
	for _, c := range certs {
		if !pub.Equal(c.PublicKey) {
			continue
		}
		if match != nil && !match.Equal(c) {
			return nil, fmt.Errorf("%w: más de un certificado para la llave", domain.ErrInvalidCredentialContainer)
		}
		match = c
	}
	if match == nil {
		return nil, fmt.Errorf("%w: ningún certificado corresponde a la llave", domain.ErrInvalidCredentialContainer)
	}
	return &nfse.SigningMaterial{PrivateKey: key, Certificate: match}, nil
}

func classifyError(err error) error {
	switch {
	case errors.Is(err, xpkcs12.ErrIncorrectPassword), errors.Is(err, gopkcs12.ErrIncorrectPassword),
		errors.Is(err, xpkcs12.ErrDecryption), errors.Is(err, gopkcs12.ErrDecryption):
		return domain.ErrWrongPassphrase
	case errors.Is(err, domain.ErrInvalidCredentialContainer):
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidCredentialContainer, err)
}

// SubjectInfo nombre y documento del titular. Los certificados ICP-Brasil usan CN "NOME:DOCUMENTO".
func SubjectInfo(cert *x509.Certificate) (name, document string) {
	cn := strings.TrimSpace(cert.Subject.CommonName)
	if i := strings.LastIndex(cn, ":"); i > 0 {
		if _, digits, err := nfse.ClassifyDocument(cn[i+1:]); err == nil {
			return strings.TrimSpace(cn[:i]), digits
		}
	}
	if _, digits, err := nfse.ClassifyDocument(cert.Subject.SerialNumber); err == nil {
		return cn, digits
	}
	return cn, ""
}
