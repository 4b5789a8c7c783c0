package nfse

import "fmt"

// DocumentKind tipo de documento fiscal de una persona (CPF o CNPJ).
type DocumentKind string

const (
	DocumentCPF  DocumentKind = "CPF"  // pessoa física
	DocumentCNPJ DocumentKind = "CNPJ" // pessoa jurídica
)

// Umbrales de clasificación por cantidad de dígitos.
const (
	CPFDigits  = 11
	CNPJDigits = 14
)

// ClassifyDocument clasifica un documento por su cantidad de dígitos (se ignoran puntos, guiones y barras).
// Devuelve los dígitos normalizados.
func ClassifyDocument(doc string) (DocumentKind, string, error) {
	digits := OnlyDigits(doc)
	switch len(digits) {
	case CPFDigits:
		return DocumentCPF, digits, nil
	case CNPJDigits:
		return DocumentCNPJ, digits, nil
	default:
		return "", digits, fmt.Errorf("nfse: documento con %d dígitos (esperado %d para CPF o %d para CNPJ)", len(digits), CPFDigits, CNPJDigits)
	}
}

// HasValidCheckDigits verifica los dígitos verificadores (módulo 11) de un CPF o CNPJ ya clasificado.
// Informativo: la clasificación no depende de esto.
func HasValidCheckDigits(kind DocumentKind, digits string) bool {
	if OnlyDigits(digits) != digits {
		return false
	}
	switch kind {
	case DocumentCPF:
		if len(digits) != CPFDigits || allSame(digits) {
			return false
		}
		d1 := mod11(digits[:9], weightsDesc(10, 9))
		d2 := mod11(digits[:10], weightsDesc(11, 10))
		return digits[9] == d1 && digits[10] == d2
	case DocumentCNPJ:
		if len(digits) != CNPJDigits || allSame(digits) {
			return false
		}
		w1 := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
		w2 := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
		return digits[12] == mod11(digits[:12], w1) && digits[13] == mod11(digits[:13], w2)
	}
	return false
}

// OnlyDigits conserva solo los dígitos ASCII '0'..'9'; otros sistemas numéricos se descartan.
func OnlyDigits(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			out = append(out, c)
		}
	}
	return string(out)
}

func mod11(digits string, weights []int) byte {
	var sum int
	for i := range digits {
		sum += int(digits[i]-'0') * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + 11 - r)
}

func weightsDesc(from, n int) []int {
	w := make([]int, n)
	for i := range w {
		w[i] = from - i
	}
	return w
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
