// Firma XMLDSig envuelta de la DPS: <Signature> hermana de infDPS, referenciando su Id.

package signer

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

// DigitalSignatureService implementa nfse.Signer. Sin estado: no usa reloj, red ni disco.
type DigitalSignatureService struct{}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{}
}

// Sign firma el elemento infDPS (búsqueda por nombre local, con o sin prefijo) e inserta
// <Signature> justo después de él, dentro del mismo padre.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, material *nfse.SigningMaterial, alg nfse.SignatureAlgorithm) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("nfse: XML vacío")
	}
	if material == nil || material.Certificate == nil || material.PrivateKey == nil {
		return nil, fmt.Errorf("nfse: material de firma incompleto")
	}
	priv, ok := material.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("nfse: la firma requiere llave RSA, recibida %T", material.PrivateKey)
	}
	if alg == "" {
		alg = nfse.AlgorithmRSASHA256
	}
	spec, ok := algorithms[alg]
	if !ok {
		return nil, &nfse.UnsupportedAlgorithmError{Name: string(alg)}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("nfse: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("nfse: documento sin raíz")
	}
	target := findTarget(root)
	if target == nil {
		return nil, fmt.Errorf("%w: <%s %s=...>", domain.ErrSignatureTargetNotFound, TargetElement, TargetAttribute)
	}
	id := target.SelectAttrValue(TargetAttribute, "")

	// 1) Digest del elemento referenciado (la firma aún no existe: equivale a la transformada enveloped).
	canonicalTarget, err := canonicalize(target)
	if err != nil {
		return nil, fmt.Errorf("nfse: C14N de %s: %w", TargetElement, err)
	}
	digest := spec.hash.New()
	digest.Write(canonicalTarget)

	// 2) Estructura <Signature> insertada en contexto para que SignedInfo herede los namespaces correctos.
	sig := buildSignature(id, spec, base64.StdEncoding.EncodeToString(digest.Sum(nil)), material)
	if parent := target.Parent(); parent != nil {
		parent.InsertChildAt(target.Index()+1, sig)
	} else {
		target.AddChild(sig)
	}

	// 3) SignatureValue sobre SignedInfo canonicalizado.
	canonicalSI, err := canonicalize(sig.SelectElement("SignedInfo"))
	if err != nil {
		return nil, fmt.Errorf("nfse: C14N de SignedInfo: %w", err)
	}
	h := spec.hash.New()
	h.Write(canonicalSI)
	value, err := rsa.SignPKCS1v15(nil, priv, spec.hash, h.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("nfse: firmar SignedInfo: %w", err)
	}
	sig.SelectElement("SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("nfse: serializar XML firmado: %w", err)
	}
	return out, nil
}

// findTarget recorre el árbol en profundidad buscando infDPS con Id.
// etree guarda el prefijo en Space, así que Tag ya es el nombre local.
func findTarget(el *etree.Element) *etree.Element {
	if el.Tag == TargetElement && el.SelectAttrValue(TargetAttribute, "") != "" {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findTarget(child); found != nil {
			return found
		}
	}
	return nil
}

func buildSignature(id string, spec algorithmSpec, digestB64 string, material *nfse.SigningMaterial) *etree.Element {
	sig := etree.NewElement("Signature")
	sig.CreateAttr("xmlns", NamespaceDS)

	si := sig.CreateElement("SignedInfo")
	si.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", AlgC14N)
	si.CreateElement("SignatureMethod").CreateAttr("Algorithm", spec.signatureURI)
	ref := si.CreateElement("Reference")
	ref.CreateAttr("URI", "#"+id)
	transforms := ref.CreateElement("Transforms")
	transforms.CreateElement("Transform").CreateAttr("Algorithm", TransformEnveloped)
	transforms.CreateElement("Transform").CreateAttr("Algorithm", AlgC14N)
	ref.CreateElement("DigestMethod").CreateAttr("Algorithm", spec.digestURI)
	ref.CreateElement("DigestValue").SetText(digestB64)

	sig.CreateElement("SignatureValue")

	// DER en Base64 sin armadura PEM ni saltos de línea.
	x509Data := sig.CreateElement("KeyInfo").CreateElement("X509Data")
	x509Data.CreateElement("X509Certificate").SetText(base64.StdEncoding.EncodeToString(material.Certificate.Raw))
	return sig
}

// canonicalize aplica C14N inclusivo al subárbol, declarando los namespaces heredados
// de los ancestros (el más cercano gana) en la raíz de la copia.
func canonicalize(el *etree.Element) ([]byte, error) {
	if el == nil {
		return nil, fmt.Errorf("elemento nulo")
	}
	cp := el.Copy()
	for anc := el.Parent(); anc != nil; anc = anc.Parent() {
		for _, a := range anc.Attr {
			if !isNamespaceDecl(a) || hasAttr(cp, a) {
				continue
			}
			cp.CreateAttr(a.FullKey(), a.Value)
		}
	}
	raw, err := etree.NewDocumentWithRoot(cp).WriteToBytes()
	if err != nil {
		return nil, err
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func isNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

func hasAttr(el *etree.Element, a etree.Attr) bool {
	for _, x := range el.Attr {
		if x.Space == a.Space && x.Key == a.Key {
			return true
		}
	}
	return false
}

// ContentHash SHA-256 en hex del documento firmado (se guarda en la emisión).
func ContentHash(signed []byte) string {
	sum := sha256.Sum256(signed)
	return hex.EncodeToString(sum[:])
}

var _ nfse.Signer = (*DigitalSignatureService)(nil)
