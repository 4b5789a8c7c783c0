package nfse

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Tamaño máximo del XML descomprimido aceptado desde un envelope externo.
const maxEnvelopeXML = 5 << 20

// EncodeEnvelope comprime el XML firmado con GZip y lo codifica en Base64 (campo dpsXmlGZipB64).
func EncodeEnvelope(xmlBytes []byte) (string, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", fmt.Errorf("nfse: crear gzip: %w", err)
	}
	if _, err := zw.Write(xmlBytes); err != nil {
		return "", fmt.Errorf("nfse: comprimir XML: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("nfse: cerrar gzip: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeEnvelope inverso de EncodeEnvelope. Rechaza contenidos mayores a 5 MB.
func DecodeEnvelope(b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("nfse: envelope no es Base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("nfse: envelope no es GZip: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxEnvelopeXML+1))
	if err != nil {
		return nil, fmt.Errorf("nfse: descomprimir envelope: %w", err)
	}
	if len(out) > maxEnvelopeXML {
		return nil, fmt.Errorf("nfse: envelope excede %d bytes", maxEnvelopeXML)
	}
	return out, nil
}
