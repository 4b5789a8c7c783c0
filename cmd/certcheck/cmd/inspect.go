package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

// expiringSoon margen a partir del cual se avisa que el certificado está por vencer.
const expiringSoon = 30 * 24 * time.Hour

type inspectReport struct {
	File         string    `json:"file"`
	Size         int       `json:"size"`
	Subject      string    `json:"subject"`
	Document     string    `json:"document,omitempty"`
	DocumentKind string    `json:"document_kind,omitempty"`
	DocumentOK   bool      `json:"document_check_digits_ok"`
	Issuer       string    `json:"issuer"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	DaysLeft     int       `json:"days_left"`
	Status       string    `json:"status"` // valid | expiring | expired | not_yet_valid
}

type inspectOptions struct {
	file     string
	password string
	asJSON   bool
	now      func() time.Time
}

func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{now: time.Now}
	c := &cobra.Command{
		Use:   "inspect",
		Short: "Valida contenedor y contraseña, y muestra los datos del certificado",
		Example: `  certcheck inspect --file certificado.pfx --password 123456
  CERT_PASSWORD=123456 certcheck inspect --file certificado.pfx --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.password == "" {
				opts.password = os.Getenv("CERT_PASSWORD")
			}
			return runInspect(cmd.OutOrStdout(), opts)
		},
	}
	c.Flags().StringVarP(&opts.file, "file", "f", "", "ruta del .pfx/.p12")
	c.Flags().StringVarP(&opts.password, "password", "p", "", "contraseña del contenedor (o CERT_PASSWORD)")
	c.Flags().BoolVar(&opts.asJSON, "json", false, "salida en JSON")
	_ = c.MarkFlagRequired("file")
	return c
}

func runInspect(out io.Writer, opts *inspectOptions) error {
	data, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("no se pudo leer %s: %w", opts.file, err)
	}

	mat, err := signer.Extract(data, opts.password)
	switch {
	case errors.Is(err, domain.ErrWrongPassphrase):
		return fmt.Errorf("la contraseña no abre el contenedor: verifique la contraseña")
	case errors.Is(err, domain.ErrInvalidCredentialContainer):
		return fmt.Errorf("el archivo no contiene un certificado A1 utilizable (%v): vuelva a emitir el certificado", err)
	case err != nil:
		return err
	}

	cert := mat.Certificate
	name, doc := signer.SubjectInfo(cert)
	now := opts.now()
	r := inspectReport{
		File:      opts.file,
		Size:      len(data),
		Subject:   name,
		Document:  doc,
		Issuer:    cert.Issuer.CommonName,
		NotBefore: cert.NotBefore.UTC(),
		NotAfter:  cert.NotAfter.UTC(),
		DaysLeft:  int(cert.NotAfter.Sub(now).Hours() / 24),
	}
	if doc != "" {
		if kind, digits, err := nfse.ClassifyDocument(doc); err == nil {
			r.DocumentKind = string(kind)
			r.DocumentOK = nfse.HasValidCheckDigits(kind, digits)
		}
	}
	switch {
	case now.Before(cert.NotBefore):
		r.Status = "not_yet_valid"
	case !cert.NotAfter.After(now):
		r.Status = "expired"
	case cert.NotAfter.Sub(now) <= expiringSoon:
		r.Status = "expiring"
	default:
		r.Status = "valid"
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return err
		}
	} else {
		printReport(out, r)
	}
	if r.Status == "expired" {
		return fmt.Errorf("certificado vencido el %s: vuelva a emitir el certificado", r.NotAfter.Format(time.DateOnly))
	}
	return nil
}

func printReport(out io.Writer, r inspectReport) {
	fmt.Fprintf(out, "Archivo:   %s (%d bytes)\n", r.File, r.Size)
	fmt.Fprintf(out, "Titular:   %s\n", r.Subject)
	if r.Document != "" {
		fmt.Fprintf(out, "Documento: %s %s\n", r.DocumentKind, r.Document)
		if !r.DocumentOK {
			fmt.Fprintln(out, "[WARN] dígitos verificadores del documento inválidos: la autoridad rechazará la DPS")
		}
	} else {
		fmt.Fprintln(out, "Documento: [WARN] CPF/CNPJ no encontrado en el certificado")
	}
	fmt.Fprintf(out, "Emisor:    %s\n", r.Issuer)
	fmt.Fprintf(out, "Vigencia:  %s a %s\n", r.NotBefore.Format(time.DateOnly), r.NotAfter.Format(time.DateOnly))

	switch r.Status {
	case "valid":
		fmt.Fprintf(out, "[PASS] certificado válido, vence en %d días\n", r.DaysLeft)
	case "expiring":
		fmt.Fprintf(out, "[WARN] vence en %d días: programe la renovación\n", r.DaysLeft)
	case "not_yet_valid":
		fmt.Fprintln(out, "[WARN] el certificado aún no entró en vigencia")
	case "expired":
		fmt.Fprintln(out, "[FAIL] certificado vencido")
	}
}
