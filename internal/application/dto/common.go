package dto

// ErrorResponse cuerpo de error HTTP.
// Fields lista rutas inválidas (400); Upstream lleva la respuesta cruda de la autoridad (502).
type ErrorResponse struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Fields   []string `json:"fields,omitempty"`
	Upstream string   `json:"upstream,omitempty"`
}
