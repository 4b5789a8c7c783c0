package nfse

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

const (
	dhEmiLayout  = "2006-01-02T15:04:05-07:00"
	dateLayout   = "2006-01-02"
	targetPrefix = "DPS"
)

var (
	reMunicipio = regexp.MustCompile(`^\d{7}$`)
	reCEP       = regexp.MustCompile(`^\d{8}$`)
	reTribNac   = regexp.MustCompile(`^\d{6}$`)
)

// BuiltDocument XML canónico de la DPS (sin firma) y datos derivados.
type BuiltDocument struct {
	XML           []byte
	ID            string // atributo Id de infDPS, referencia de la firma
	IssuedAt      time.Time
	ValorServicos decimal.Decimal
	ValorISS      decimal.Decimal
}

// XMLBuilderService construye el XML de la DPS (leiaute nacional 1.00).
type XMLBuilderService struct {
	tipoAmbiente string
	verAplic     string
	newID        func() string
	now          func() time.Time
}

// BuilderOption personaliza el builder (tests).
type BuilderOption func(*XMLBuilderService)

// WithIDGenerator reemplaza el generador del Id de infDPS.
func WithIDGenerator(fn func() string) BuilderOption {
	return func(s *XMLBuilderService) { s.newID = fn }
}

// WithClock reemplaza el reloj usado cuando la solicitud no trae dhEmi.
func WithClock(fn func() time.Time) BuilderOption {
	return func(s *XMLBuilderService) { s.now = fn }
}

// NewXMLBuilderService crea el servicio. tipoAmbiente: "1" producción, "2" homologación.
func NewXMLBuilderService(tipoAmbiente, verAplic string, opts ...BuilderOption) *XMLBuilderService {
	s := &XMLBuilderService{
		tipoAmbiente: tipoAmbiente,
		verAplic:     verAplic,
		newID:        newDPSID,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newDPSID() string {
	return targetPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Validate revisa los campos obligatorios y devuelve *domain.ValidationError con todas las rutas inválidas.
func (s *XMLBuilderService) Validate(req *nfse.DPSRequest) error {
	if req == nil {
		return &domain.ValidationError{Fields: []string{"request"}}
	}
	var fields []string
	need := func(path, value string) {
		if strings.TrimSpace(value) == "" {
			fields = append(fields, path)
		}
	}
	match := func(path, value string, re *regexp.Regexp) {
		if !re.MatchString(nfse.OnlyDigits(value)) {
			fields = append(fields, path)
		}
	}

	id := req.Identificacao
	need("identificacao.numero", id.Numero)
	need("identificacao.serie", id.Serie)
	match("identificacao.codigoMunicipioEmissao", id.CodigoMunicipioEmissao, reMunicipio)
	if id.Competencia != "" {
		if _, err := time.Parse(dateLayout, id.Competencia); err != nil {
			fields = append(fields, "identificacao.competencia")
		}
	}

	p := req.Prestador
	if _, _, err := nfse.ClassifyDocument(p.Documento); err != nil {
		fields = append(fields, "prestador.documento")
	}
	need("prestador.nome", p.Nome)
	if !nfse.ValidSimplesNacional[p.OptanteSimplesNacional] {
		fields = append(fields, "prestador.optanteSimplesNacional")
	}
	if p.Endereco != nil {
		fields = append(fields, validateEndereco("prestador.endereco", p.Endereco)...)
	}

	t := req.Tomador
	if _, _, err := nfse.ClassifyDocument(t.Documento); err != nil {
		fields = append(fields, "tomador.documento")
	}
	need("tomador.nome", t.Nome)
	if t.Endereco == nil {
		fields = append(fields, "tomador.endereco")
	} else {
		fields = append(fields, validateEndereco("tomador.endereco", t.Endereco)...)
	}

	sv := req.Servico
	match("servico.codigoTributacaoNacional", sv.CodigoTributacaoNacional, reTribNac)
	need("servico.descricao", sv.Descricao)
	match("servico.codigoMunicipioPrestacao", sv.CodigoMunicipioPrestacao, reMunicipio)

	v := req.Valores
	if !v.ValorServicos.IsPositive() {
		fields = append(fields, "valores.valorServicos")
	}
	if v.ValorDeducoes.IsNegative() || v.ValorDeducoes.GreaterThan(v.ValorServicos) {
		fields = append(fields, "valores.valorDeducoes")
	}
	if v.Aliquota.IsNegative() || v.Aliquota.GreaterThan(decimal.NewFromInt(100)) {
		fields = append(fields, "valores.aliquota")
	}
	if v.ValorISS != nil && v.ValorISS.IsNegative() {
		fields = append(fields, "valores.valorIss")
	}
	if v.TributacaoISSQN != "" && !nfse.ValidTributacaoISSQN[v.TributacaoISSQN] {
		fields = append(fields, "valores.tributacaoIssqn")
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

func validateEndereco(prefix string, e *nfse.Endereco) []string {
	var out []string
	if strings.TrimSpace(e.Logradouro) == "" {
		out = append(out, prefix+".logradouro")
	}
	if strings.TrimSpace(e.Numero) == "" {
		out = append(out, prefix+".numero")
	}
	if strings.TrimSpace(e.Bairro) == "" {
		out = append(out, prefix+".bairro")
	}
	if !reMunicipio.MatchString(nfse.OnlyDigits(e.CodigoMunicipio)) {
		out = append(out, prefix+".codigoMunicipio")
	}
	if !reCEP.MatchString(nfse.OnlyDigits(e.CEP)) {
		out = append(out, prefix+".cep")
	}
	return out
}

// Build valida y genera el XML de la DPS. Determinista salvo el Id generado.
func (s *XMLBuilderService) Build(req *nfse.DPSRequest) (*BuiltDocument, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	issuedAt := s.now()
	if req.Identificacao.DataHoraEmissao != nil {
		issuedAt = *req.Identificacao.DataHoraEmissao
	}
	competencia := req.Identificacao.Competencia
	if competencia == "" {
		competencia = issuedAt.Format(dateLayout)
	}
	id := s.newID()
	iss := req.Valores.ISS()

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)

	// Root <DPS>: namespace por defecto como atributo literal para no repetir xmlns en cada hijo.
	root := xml.StartElement{
		Name: xml.Name{Local: "DPS"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: nfse.NamespaceNFSe},
			{Name: xml.Name{Local: "versao"}, Value: nfse.LayoutVersion},
		},
	}
	inf := xml.StartElement{
		Name: xml.Name{Local: "infDPS"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "Id"}, Value: id}},
	}
	_ = enc.EncodeToken(root)
	_ = enc.EncodeToken(inf)

	writeEl(enc, "tpAmb", s.tipoAmbiente)
	writeEl(enc, "dhEmi", issuedAt.Format(dhEmiLayout))
	writeEl(enc, "verAplic", s.verAplic)
	writeEl(enc, "serie", text(req.Identificacao.Serie))
	writeEl(enc, "nDPS", text(req.Identificacao.Numero))
	writeEl(enc, "dCompet", competencia)
	writeEl(enc, "tpEmit", nfse.EmitentePrestador)
	writeEl(enc, "cLocEmi", nfse.OnlyDigits(req.Identificacao.CodigoMunicipioEmissao))

	s.writePrestador(enc, &req.Prestador)
	s.writeTomador(enc, &req.Tomador)
	s.writeServico(enc, &req.Servico)
	s.writeValores(enc, &req.Valores, iss)

	_ = enc.EncodeToken(inf.End())
	_ = enc.EncodeToken(root.End())
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("nfse: serializar DPS: %w", err)
	}

	return &BuiltDocument{
		XML:           buf.Bytes(),
		ID:            id,
		IssuedAt:      issuedAt,
		ValorServicos: req.Valores.ValorServicos,
		ValorISS:      iss,
	}, nil
}

func (s *XMLBuilderService) writePrestador(enc *xml.Encoder, p *nfse.Prestador) {
	start(enc, "prest")
	writeDocumento(enc, p.Documento)
	writeOpt(enc, "IM", text(p.InscricaoMunicipal))
	writeEl(enc, "xNome", text(p.Nome))
	if p.Endereco != nil {
		writeEndereco(enc, p.Endereco)
	}
	writeOpt(enc, "fone", nfse.OnlyDigits(p.Telefone))
	writeOpt(enc, "email", text(p.Email))
	start(enc, "regTrib")
	writeEl(enc, "opSimpNac", p.OptanteSimplesNacional)
	regEsp := p.RegimeEspecial
	if regEsp == "" {
		regEsp = nfse.RegimeEspecialNenhum
	}
	writeEl(enc, "regEspTrib", regEsp)
	end(enc, "regTrib")
	end(enc, "prest")
}

func (s *XMLBuilderService) writeTomador(enc *xml.Encoder, t *nfse.Tomador) {
	start(enc, "toma")
	writeDocumento(enc, t.Documento)
	writeEl(enc, "xNome", text(t.Nome))
	writeEndereco(enc, t.Endereco)
	writeOpt(enc, "fone", nfse.OnlyDigits(t.Telefone))
	writeOpt(enc, "email", text(t.Email))
	end(enc, "toma")
}

func (s *XMLBuilderService) writeServico(enc *xml.Encoder, sv *nfse.Servico) {
	start(enc, "serv")
	start(enc, "locPrest")
	writeEl(enc, "cLocPrestacao", nfse.OnlyDigits(sv.CodigoMunicipioPrestacao))
	end(enc, "locPrest")
	start(enc, "cServ")
	writeEl(enc, "cTribNac", nfse.OnlyDigits(sv.CodigoTributacaoNacional))
	writeOpt(enc, "cTribMun", text(sv.CodigoTributacaoMunicipal))
	writeEl(enc, "xDescServ", text(sv.Descricao))
	writeOpt(enc, "cNBS", text(sv.CodigoNBS))
	end(enc, "cServ")
	end(enc, "serv")
}

func (s *XMLBuilderService) writeValores(enc *xml.Encoder, v *nfse.Valores, iss decimal.Decimal) {
	trib := v.TributacaoISSQN
	if trib == "" {
		trib = nfse.TributacaoOperacaoTributavel
	}
	retido := "1" // 1 = não retido
	if v.ISSRetido {
		retido = "2"
	}
	start(enc, "valores")
	writeEl(enc, "valorServicos", money(v.ValorServicos))
	writeEl(enc, "valorDeducoes", money(v.ValorDeducoes))
	writeEl(enc, "baseCalculo", money(v.BaseCalculo()))
	writeEl(enc, "aliquota", money(v.Aliquota))
	writeEl(enc, "valorIss", money(iss))
	writeEl(enc, "valorLiquido", money(v.ValorLiquido()))
	writeEl(enc, "tribISSQN", trib)
	writeEl(enc, "tpRetISSQN", retido)
	end(enc, "valores")
}

// writeDocumento emite <CPF> o <CNPJ> según la cantidad de dígitos.
func writeDocumento(enc *xml.Encoder, doc string) {
	kind, digits, _ := nfse.ClassifyDocument(doc)
	writeEl(enc, string(kind), digits)
}

func writeEndereco(enc *xml.Encoder, e *nfse.Endereco) {
	start(enc, "end")
	start(enc, "endNac")
	writeEl(enc, "cMun", nfse.OnlyDigits(e.CodigoMunicipio))
	writeEl(enc, "CEP", nfse.OnlyDigits(e.CEP))
	end(enc, "endNac")
	writeEl(enc, "xLgr", text(e.Logradouro))
	writeEl(enc, "nro", text(e.Numero))
	writeOpt(enc, "xCpl", text(e.Complemento))
	writeEl(enc, "xBairro", text(e.Bairro))
	end(enc, "end")
}

func start(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: local}})
}

func end(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: local}})
}

// writeEl escribe <local>value</local>; el encoder escapa & < > " '.
func writeEl(enc *xml.Encoder, local, value string) {
	start(enc, local)
	_ = enc.EncodeToken(xml.CharData(value))
	end(enc, local)
}

func writeOpt(enc *xml.Encoder, local, value string) {
	if value != "" {
		writeEl(enc, local, value)
	}
}

// text normaliza texto libre a NFC y recorta espacios.
func text(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
