package nfse

import (
	"crypto"
	"crypto/x509"
)

// SignatureAlgorithm par digest/firma de la assinatura XMLDSig.
type SignatureAlgorithm string

const (
	AlgorithmRSASHA256 SignatureAlgorithm = "rsa-sha256"
	AlgorithmRSASHA1   SignatureAlgorithm = "rsa-sha1" // legado
)

// ParseSignatureAlgorithm acepta "rsa-sha256" (por defecto si vacío) o "rsa-sha1".
func ParseSignatureAlgorithm(s string) (SignatureAlgorithm, error) {
	switch SignatureAlgorithm(s) {
	case "", AlgorithmRSASHA256:
		return AlgorithmRSASHA256, nil
	case AlgorithmRSASHA1:
		return AlgorithmRSASHA1, nil
	}
	return "", &UnsupportedAlgorithmError{Name: s}
}

// UnsupportedAlgorithmError algoritmo de firma no soportado.
type UnsupportedAlgorithmError struct{ Name string }

func (e *UnsupportedAlgorithmError) Error() string {
	return "nfse: algoritmo de firma no soportado: " + e.Name
}

// SigningMaterial llave privada y certificado del signatario extraídos del contenedor PKCS#12.
// Vive solo durante una operación de firma.
type SigningMaterial struct {
	PrivateKey  crypto.Signer
	Certificate *x509.Certificate
}

// Signer firma la DPS: devuelve el XML con <Signature> envuelta junto a infDPS.
type Signer interface {
	Sign(xmlBytes []byte, material *SigningMaterial, alg SignatureAlgorithm) ([]byte, error)
}
