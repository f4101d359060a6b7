package assembler

import "github.com/rezonia/cpe-emitter/internal/model"

// XML namespaces
const (
	NamespaceInvoice    = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NamespaceCreditNote = "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2"
	NamespaceDebitNote  = "urn:oasis:names:specification:ubl:schema:xsd:DebitNote-2"
	NamespaceDespatch   = "urn:oasis:names:specification:ubl:schema:xsd:DespatchAdvice-2"
	NamespaceSummary    = "urn:sunat:names:specification:ubl:peru:schema:xsd:SummaryDocuments-1"
	NamespaceVoided     = "urn:sunat:names:specification:ubl:peru:schema:xsd:VoidedDocuments-1"

	NamespaceCAC = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NamespaceCBC = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	NamespaceExt = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
	NamespaceDS  = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceSAC = "urn:sunat:names:specification:ubl:peru:schema:xsd:SunatAggregateComponents-1"
)

// Endpoint names the authority service a document is sent to
type Endpoint string

const (
	EndpointBills    Endpoint = "bills"
	EndpointDespatch Endpoint = "despatch"
	EndpointSummary  Endpoint = "summary"
)

// Mode is how a document travels to the authority
type Mode int

const (
	// ModeSync returns the signed response directly
	ModeSync Mode = iota
	// ModeAsync returns a ticket to poll
	ModeAsync
)

type documentBuilder func(b *builder, k Kind, doc *model.TaxDocument) error

type batchBuilder func(b *builder, k Kind, batch *model.BatchSubmission) error

// Kind is one entry of the dispatch table
type Kind struct {
	Code        string
	RootElement string
	Namespace   string
	Endpoint    Endpoint
	Mode        Mode
	Notes       NoteCatalog

	lineElement     string
	quantityElement string
	sunatAggregates bool

	buildDocument documentBuilder
	buildBatch    batchBuilder
}

var documentKinds = map[model.DocumentType]Kind{
	model.TypeInvoice: {
		Code:            string(model.TypeInvoice),
		RootElement:     "Invoice",
		Namespace:       NamespaceInvoice,
		Endpoint:        EndpointBills,
		Mode:            ModeSync,
		lineElement:     "cac:InvoiceLine",
		quantityElement: "cbc:InvoicedQuantity",
		buildDocument:   buildInvoice,
	},
	model.TypeReceipt: {
		Code:            string(model.TypeReceipt),
		RootElement:     "Invoice",
		Namespace:       NamespaceInvoice,
		Endpoint:        EndpointBills,
		Mode:            ModeSync,
		lineElement:     "cac:InvoiceLine",
		quantityElement: "cbc:InvoicedQuantity",
		buildDocument:   buildInvoice,
	},
	model.TypeCreditNote: {
		Code:            string(model.TypeCreditNote),
		RootElement:     "CreditNote",
		Namespace:       NamespaceCreditNote,
		Endpoint:        EndpointBills,
		Mode:            ModeSync,
		Notes:           CreditNoteReasons,
		lineElement:     "cac:CreditNoteLine",
		quantityElement: "cbc:CreditedQuantity",
		buildDocument:   buildNote,
	},
	model.TypeDebitNote: {
		Code:            string(model.TypeDebitNote),
		RootElement:     "DebitNote",
		Namespace:       NamespaceDebitNote,
		Endpoint:        EndpointBills,
		Mode:            ModeSync,
		Notes:           DebitNoteReasons,
		lineElement:     "cac:DebitNoteLine",
		quantityElement: "cbc:DebitedQuantity",
		buildDocument:   buildNote,
	},
	model.TypeDespatchAdvice: {
		Code:          string(model.TypeDespatchAdvice),
		RootElement:   "DespatchAdvice",
		Namespace:     NamespaceDespatch,
		Endpoint:      EndpointDespatch,
		Mode:          ModeSync,
		buildDocument: buildDespatch,
	},
}

var batchKinds = map[model.BatchKind]Kind{
	model.BatchSummary: {
		Code:            "RC",
		RootElement:     "SummaryDocuments",
		Namespace:       NamespaceSummary,
		Endpoint:        EndpointSummary,
		Mode:            ModeAsync,
		sunatAggregates: true,
		buildBatch:      buildSummary,
	},
	model.BatchVoided: {
		Code:            "RA",
		RootElement:     "VoidedDocuments",
		Namespace:       NamespaceVoided,
		Endpoint:        EndpointSummary,
		Mode:            ModeAsync,
		sunatAggregates: true,
		buildBatch:      buildVoided,
	},
}

// Lookup returns the dispatch entry of a document type
func Lookup(t model.DocumentType) (Kind, bool) {
	k, ok := documentKinds[t]
	return k, ok
}

// LookupBatch returns the dispatch entry of a batch kind
func LookupBatch(kind model.BatchKind) (Kind, bool) {
	k, ok := batchKinds[kind]
	return k, ok
}

// SupportedTypes lists the document types with a builder
func SupportedTypes() []model.DocumentType {
	return []model.DocumentType{
		model.TypeInvoice,
		model.TypeReceipt,
		model.TypeCreditNote,
		model.TypeDebitNote,
		model.TypeDespatchAdvice,
	}
}
