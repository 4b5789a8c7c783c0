// Package signertest fabrica certificados y contenedores PKCS#12 para tests.
package signertest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Identity llave RSA y certificado autofirmado.
type Identity struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate
}

// NewIdentity genera una identidad con CN y vencimiento dados.
func NewIdentity(tb testing.TB, commonName string, notAfter time.Time) *Identity {
	tb.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("generar llave: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"ICP-Brasil"}},
		NotBefore:             notAfter.AddDate(-1, 0, 0),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		tb.Fatalf("crear certificado: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		tb.Fatalf("parsear certificado: %v", err)
	}
	return &Identity{Key: key, Cert: cert}
}

// PFX contenedor legado (3DES + MAC SHA-1) con la identidad y certificados CA opcionales.
func (id *Identity) PFX(tb testing.TB, passphrase string, ca ...*x509.Certificate) []byte {
	tb.Helper()
	data, err := gopkcs12.LegacyDES.Encode(id.Key, id.Cert, ca, passphrase)
	if err != nil {
		tb.Fatalf("codificar PKCS#12: %v", err)
	}
	return data
}

// ModernPFX contenedor PBES2/AES con MAC SHA-256.
func (id *Identity) ModernPFX(tb testing.TB, passphrase string) []byte {
	tb.Helper()
	data, err := gopkcs12.Modern2023.Encode(id.Key, id.Cert, nil, passphrase)
	if err != nil {
		tb.Fatalf("codificar PKCS#12 moderno: %v", err)
	}
	return data
}

// TrustStore contenedor solo con certificados (sin llave).
func TrustStore(tb testing.TB, passphrase string, certs ...*x509.Certificate) []byte {
	tb.Helper()
	data, err := gopkcs12.LegacyDES.EncodeTrustStore(certs, passphrase)
	if err != nil {
		tb.Fatalf("codificar trust store: %v", err)
	}
	return data
}
