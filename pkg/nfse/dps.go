package nfse

import (
	"time"

	"github.com/shopspring/decimal"
)

// DPSRequest datos estructurados de una Declaração de Prestação de Serviço.
type DPSRequest struct {
	Identificacao Identificacao `json:"identificacao"`
	Prestador     Prestador     `json:"prestador"`
	Tomador       Tomador       `json:"tomador"`
	Servico       Servico       `json:"servico"`
	Valores       Valores       `json:"valores"`
}

// Identificacao bloque de identificación de la DPS.
type Identificacao struct {
	Numero                 string     `json:"numero"`
	Serie                  string     `json:"serie"`
	Competencia            string     `json:"competencia,omitempty"` // AAAA-MM-DD; por defecto la fecha de emisión
	DataHoraEmissao        *time.Time `json:"dataHoraEmissao,omitempty"`
	CodigoMunicipioEmissao string     `json:"codigoMunicipioEmissao"`
}

// Endereco dirección nacional.
type Endereco struct {
	Logradouro      string `json:"logradouro"`
	Numero          string `json:"numero"`
	Complemento     string `json:"complemento,omitempty"`
	Bairro          string `json:"bairro"`
	CodigoMunicipio string `json:"codigoMunicipio"`
	CEP             string `json:"cep"`
}

// Prestador emisor del servicio.
type Prestador struct {
	Documento              string    `json:"documento"`
	InscricaoMunicipal     string    `json:"inscricaoMunicipal,omitempty"`
	Nome                   string    `json:"nome"`
	Telefone               string    `json:"telefone,omitempty"`
	Email                  string    `json:"email,omitempty"`
	Endereco               *Endereco `json:"endereco,omitempty"`
	OptanteSimplesNacional string    `json:"optanteSimplesNacional"`
	RegimeEspecial         string    `json:"regimeEspecial,omitempty"`
}

// Tomador destinatario del servicio.
type Tomador struct {
	Documento string    `json:"documento"`
	Nome      string    `json:"nome"`
	Telefone  string    `json:"telefone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Endereco  *Endereco `json:"endereco"`
}

// Servico descripción y códigos de tributación.
type Servico struct {
	CodigoTributacaoNacional  string `json:"codigoTributacaoNacional"`
	CodigoTributacaoMunicipal string `json:"codigoTributacaoMunicipal,omitempty"`
	CodigoNBS                 string `json:"codigoNbs,omitempty"`
	Descricao                 string `json:"descricao"`
	CodigoMunicipioPrestacao  string `json:"codigoMunicipioPrestacao"`
}

// Valores montos del servicio. ValorISS se deriva si viene nulo.
type Valores struct {
	ValorServicos   decimal.Decimal  `json:"valorServicos"`
	ValorDeducoes   decimal.Decimal  `json:"valorDeducoes"`
	Aliquota        decimal.Decimal  `json:"aliquota"` // porcentaje
	ValorISS        *decimal.Decimal `json:"valorIss,omitempty"`
	TributacaoISSQN string           `json:"tributacaoIssqn,omitempty"`
	ISSRetido       bool             `json:"issRetido,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// BaseCalculo valorServicos - valorDeducoes.
func (v Valores) BaseCalculo() decimal.Decimal {
	return v.ValorServicos.Sub(v.ValorDeducoes)
}

// ISS devuelve el valor informado o (valorServicos - valorDeducoes) * aliquota / 100, redondeado a 2 decimales.
func (v Valores) ISS() decimal.Decimal {
	if v.ValorISS != nil {
		return v.ValorISS.Round(2)
	}
	return v.BaseCalculo().Mul(v.Aliquota).Div(hundred).Round(2)
}

// ValorLiquido valorServicos menos el ISS cuando es retenido por el tomador.
func (v Valores) ValorLiquido() decimal.Decimal {
	if v.ISSRetido {
		return v.ValorServicos.Sub(v.ISS())
	}
	return v.ValorServicos
}
