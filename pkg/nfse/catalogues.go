// Package nfse contiene catálogos y reglas del leiaute nacional de NFS-e (DPS v1.00).
package nfse

// Namespace y versión del leiaute DPS.
const (
	NamespaceNFSe = "http://www.sped.fazenda.gov.br/nfse"
	LayoutVersion = "1.00"
)

// =============================================================================
// tpAmb - Tipo de ambiente
// =============================================================================

const (
	AmbienteProducao    = "1"
	AmbienteHomologacao = "2" // produção restrita
)

// =============================================================================
// tpEmit - Emitente da DPS
// =============================================================================

const (
	EmitentePrestador = "1"
	EmitenteTomador   = "2"
	EmitenteIntermed  = "3"
)

// =============================================================================
// opSimpNac / regEspTrib - Regimes tributários do prestador
// =============================================================================

const (
	SimplesNaoOptante       = "1"
	SimplesOptanteMEI       = "2"
	SimplesOptanteMEEPP     = "3"
	RegimeEspecialNenhum    = "0"
	RegimeEspecialCooperat  = "1" // Ato Cooperado
	RegimeEspecialEstimativ = "2"
	RegimeEspecialMicroMun  = "3" // Microempresa Municipal
	RegimeEspecialNotario   = "4"
	RegimeEspecialProfAuton = "5"
	RegimeEspecialSocProf   = "6"
)

// ValidSimplesNacional códigos aceptados en opSimpNac.
var ValidSimplesNacional = map[string]bool{
	SimplesNaoOptante: true, SimplesOptanteMEI: true, SimplesOptanteMEEPP: true,
}

// =============================================================================
// tribISSQN - Tributação do ISSQN
// =============================================================================

const (
	TributacaoOperacaoTributavel = "1"
	TributacaoImunidade          = "2"
	TributacaoExportacao         = "3"
	TributacaoNaoIncidencia      = "4"
)

// ValidTributacaoISSQN códigos aceptados en tribISSQN.
var ValidTributacaoISSQN = map[string]bool{
	TributacaoOperacaoTributavel: true, TributacaoImunidade: true,
	TributacaoExportacao: true, TributacaoNaoIncidencia: true,
}

// =============================================================================
// Situação devuelta por la consulta de DPS (Sefin Nacional)
// =============================================================================

const (
	SituacaoRecebida        = "RECEBIDA"
	SituacaoEmProcessamento = "EM_PROCESSAMENTO"
	SituacaoProcessando     = "PROCESSANDO"
	SituacaoAutorizada      = "AUTORIZADA"
	SituacaoEmitida         = "EMITIDA"
	SituacaoRejeitada       = "REJEITADA"
	SituacaoErro            = "ERRO"
	SituacaoCancelada       = "CANCELADA"
	SituacaoSubstituida     = "SUBSTITUIDA"
)

// Longitud de la chave de acesso de la NFS-e (50 dígitos).
const AccessKeyLength = 50

// Códigos IBGE de municipio: 7 dígitos.
const MunicipioCodeLength = 7
