package nfse

import "strings"

// SubmitRequest DPS firmada (se comprime aquí) o envelope ya comprimido en Base64.
type SubmitRequest struct {
	SignedXML   []byte
	EnvelopeB64 string
}

// Mensagem mensaje de la autoridad (errores, alertas).
type Mensagem struct {
	Codigo      string `json:"codigo,omitempty"`
	Descricao   string `json:"descricao,omitempty"`
	Complemento string `json:"complemento,omitempty"`
}

// SubmitResponse respuesta de la recepción de DPS.
type SubmitResponse struct {
	TrackingID string     `json:"idDps"`
	AccessKey  string     `json:"chaveAcesso,omitempty"`
	Situacao   string     `json:"situacao,omitempty"`
	Mensagens  []Mensagem `json:"mensagens,omitempty"`
	Alertas    []Mensagem `json:"alertas,omitempty"`
	Raw        []byte     `json:"-"`
}

// StatusResponse respuesta de la consulta por idDps.
type StatusResponse struct {
	TrackingID string     `json:"idDps"`
	Situacao   string     `json:"situacao"`
	AccessKey  string     `json:"chaveAcesso,omitempty"`
	Mensagens  []Mensagem `json:"mensagens,omitempty"`
	Raw        []byte     `json:"-"`
}

// NormalizedSituacao situação en mayúsculas y con '_' en lugar de espacios.
func (r *StatusResponse) NormalizedSituacao() string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(r.Situacao)), " ", "_")
}

type submitPayload struct {
	DPSXmlGZipB64 string `json:"dpsXmlGZipB64"`
}
