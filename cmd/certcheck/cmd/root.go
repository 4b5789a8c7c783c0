package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd arma el árbol de comandos (tests crean el suyo).
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "certcheck",
		Short: "Diagnóstico de certificados ICP-Brasil para emisión de NFS-e",
		Long: `Lee un contenedor PKCS#12 (.pfx/.p12) con su contraseña y muestra titular,
CPF/CNPJ y vigencia, usando el mismo extractor que el servicio de emisión.`,
		SilenceUsage: true,
	}
	root.AddCommand(newInspectCmd())
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
