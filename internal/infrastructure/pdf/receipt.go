// Package pdf genera el comprovante local de envío de una DPS (no sustituye al DANFSe oficial).
//
// Layout A4:
//
//	┌──────────────────────────────────────────────────────┐
//	│  COMPROVANTE DE ENVIO DPS        │  Situação + data   │
//	│  ──────────────────────────────────────────────────  │
//	│  Identificação: emissão / idDps / série + número     │
//	│  Valores: serviços / ISS                             │
//	│  ──────────────────────────────────────────────────  │
//	│  Chave de acesso + QR (solo AUTHORIZED)              │
//	│  Hash SHA-256 del XML firmado                        │
//	└──────────────────────────────────────────────────────┘
package pdf

import (
	"fmt"
	"strings"
	"time"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
)

// ── Paleta ────────────────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 94, Blue: 62}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorAlert   = &props.Color{Red: 170, Green: 30, Blue: 30}
)

var statusLabels = map[string]string{
	entity.EmissionStatusQueued:     "RECEBIDA",
	entity.EmissionStatusProcessing: "EM PROCESSAMENTO",
	entity.EmissionStatusAuthorized: "AUTORIZADA",
	entity.EmissionStatusRejected:   "REJEITADA",
	entity.EmissionStatusCancelled:  "CANCELADA",
}

// ── Generator ─────────────────────────────────────────────────────────────────

// ReceiptGenerator arma el PDF con Maroto v2.
type ReceiptGenerator struct {
	// ConsultaURL base para el QR de consulta pública; la chave se agrega como parámetro.
	ConsultaURL string
	loc         *time.Location
}

func NewReceiptGenerator(consultaURL string) *ReceiptGenerator {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		loc = time.FixedZone("BRT", -3*60*60)
	}
	return &ReceiptGenerator{ConsultaURL: consultaURL, loc: loc}
}

// Generate devuelve los bytes del PDF.
func (g *ReceiptGenerator) Generate(e *entity.Emission) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("pdf: emisión nula")
	}
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(12).WithRightMargin(12).
		WithTopMargin(12).WithBottomMargin(12).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Comprovante de envio DPS", true).
		Build()

	m := maroto.New(cfg)
	m.AddRows(g.headerRow(e))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(identificationRows(e)...)
	m.AddRows(valuesRow(e))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(g.accessKeyRows(e)...)
	m.AddRows(hashRows(e)...)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar comprovante: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func (g *ReceiptGenerator) headerRow(e *entity.Emission) core.Row {
	status := nonEmpty(statusLabels[e.Status], e.Status)
	statusColor := colorPrimary
	if e.Status == entity.EmissionStatusRejected || e.Status == entity.EmissionStatusCancelled {
		statusColor = colorAlert
	}
	return row.New(18).Add(
		col.New(7).Add(
			text.New("COMPROVANTE DE ENVIO DPS", props.Text{Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1}),
			text.New("Sistema Nacional NFS-e", props.Text{Size: 8, Top: 9, Color: colorGray}),
		),
		col.New(5).Add(
			text.New(status, props.Text{Style: fontstyle.Bold, Size: 11, Align: align.Right, Color: statusColor, Top: 1}),
			text.New("Enviada em "+e.CreatedAt.In(g.loc).Format("02/01/2006 15:04"), props.Text{
				Size: 8, Align: align.Right, Top: 9, Color: colorGray,
			}),
		),
	)
}

func identificationRows(e *entity.Emission) []core.Row {
	field := func(label, value string) core.Row {
		return row.New(6).Add(
			col.New(4).Add(text.New(label, props.Text{Style: fontstyle.Bold, Size: 8, Top: 1})),
			col.New(8).Add(text.New(nonEmpty(value, "—"), props.Text{Size: 8, Top: 1})),
		)
	}
	serieNumero := strings.TrimLeft(e.Series+" / "+e.DPSNumber, " /")
	return []core.Row{
		row.New(7).Add(col.New(12).Add(text.New("IDENTIFICAÇÃO", props.Text{
			Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 2,
		}))),
		field("Emissão:", e.ID),
		field("Identificador da DPS:", e.TrackingID),
		field("Série / Número:", serieNumero),
	}
}

func valuesRow(e *entity.Emission) core.Row {
	label := func(s string) core.Component {
		return text.New(s, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2, Top: 2})
	}
	value := func(s string) core.Component {
		return text.New(s, props.Text{Size: 9, Align: align.Right, Right: 1, Top: 2})
	}
	return row.New(10).Add(
		col.New(3).Add(label("Valor dos serviços:")),
		col.New(3).Add(value(FormatBRL(e.ValorServicos))),
		col.New(3).Add(label("ISSQN:")),
		col.New(3).Add(value(FormatBRL(e.ValorISS))),
	)
}

func (g *ReceiptGenerator) accessKeyRows(e *entity.Emission) []core.Row {
	if e.AccessKey == "" {
		return []core.Row{row.New(10).Add(col.New(12).Add(text.New(
			"Chave de acesso ainda não disponível. Consulte novamente após o processamento.",
			props.Text{Size: 8, Color: colorGray, Top: 3},
		)))}
	}
	rows := []core.Row{
		row.New(6).Add(col.New(12).Add(text.New("CHAVE DE ACESSO", props.Text{
			Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
		}))),
		row.New(6).Add(col.New(12).Add(text.New(groupDigits(e.AccessKey, 4), props.Text{Size: 9, Top: 1}))),
	}
	if g.ConsultaURL != "" {
		rows = append(rows, row.New(40).Add(
			col.New(4).Add(code.NewQr(g.ConsultaURL+"?chave="+e.AccessKey, props.Rect{Percent: 95, Center: true})),
			col.New(8).Add(text.New("Consulte a autenticidade desta NFS-e\nno portal nacional.", props.Text{
				Size: 8, Top: 4, Left: 3, Color: colorGray,
			})),
		))
	}
	return rows
}

func hashRows(e *entity.Emission) []core.Row {
	rows := []core.Row{row.New(6).Add(col.New(12).Add(text.New("HASH SHA-256 DA DPS ASSINADA", props.Text{
		Style: fontstyle.Bold, Size: 7, Top: 2,
	})))}
	for _, chunk := range splitEvery(e.ContentHash, 64) {
		rows = append(rows, row.New(4).Add(col.New(12).Add(
			text.New(chunk, props.Text{Size: 6.5, Color: colorGray, Top: 0.5, Left: 2}),
		)))
	}
	return rows
}

// ── helpers ───────────────────────────────────────────────────────────────────

// FormatBRL formatea en reales: 1234.5 -> "R$ 1.234,50".
func FormatBRL(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	n := len(intPart)
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(intPart) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	out := "R$ " + string(buf) + "," + frac
	if neg {
		out = "-" + out
	}
	return out
}

func groupDigits(s string, n int) string {
	return strings.Join(splitEvery(s, n), " ")
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
