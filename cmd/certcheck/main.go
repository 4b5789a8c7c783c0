// certcheck diagnostica un certificado A1 (PKCS#12) antes de subirlo al Vault.
package main

import "github.com/jhoicas/nfse-api/cmd/certcheck/cmd"

func main() {
	cmd.Execute()
}
