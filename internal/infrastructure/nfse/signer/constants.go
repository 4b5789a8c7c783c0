// Algoritmos y namespaces XMLDSig usados en la assinatura da DPS.

package signer

import (
	"crypto"

	"github.com/jhoicas/nfse-api/pkg/nfse"
)

const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	AlgRSASHA256    = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgDigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgRSASHA1      = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgDigestSHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
)

// Elemento firmado: infDPS con atributo Id.
const (
	TargetElement   = "infDPS"
	TargetAttribute = "Id"
)

type algorithmSpec struct {
	hash         crypto.Hash
	signatureURI string
	digestURI    string
}

var algorithms = map[nfse.SignatureAlgorithm]algorithmSpec{
	nfse.AlgorithmRSASHA256: {hash: crypto.SHA256, signatureURI: AlgRSASHA256, digestURI: AlgDigestSHA256},
	nfse.AlgorithmRSASHA1:   {hash: crypto.SHA1, signatureURI: AlgRSASHA1, digestURI: AlgDigestSHA1},
}
