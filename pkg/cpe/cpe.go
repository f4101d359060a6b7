// Package cpe provides a public API for building Peruvian electronic tax documents.
//
// This package exposes the pure operations of the emitter: assembling UBL 2.1
// XML, signing it with a PKCS#12 certificate, reading the authority's CDR and
// naming artifacts. Persistence and submission live behind the cpe-emitter
// command and its HTTP API.
//
// Example usage:
//
//	xml, err := cpe.Assemble(doc)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	signed, err := cpe.Sign(xml, "acme.p12", "s3cret")
//	zip, err := cpe.Pack(doc.ArtifactName()+".xml", signed)
package cpe

import (
	"time"

	"github.com/rezonia/cpe-emitter/internal/archive"
	"github.com/rezonia/cpe-emitter/internal/assembler"
	"github.com/rezonia/cpe-emitter/internal/cdr"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/signature"
)

// Re-export core types for public API
type (
	TaxDocument       = model.TaxDocument
	Emitter           = model.Emitter
	Party             = model.Party
	Address           = model.Address
	Line              = model.Line
	Totals            = model.Totals
	DocumentReference = model.DocumentReference
	DocumentType      = model.DocumentType
	DocumentState     = model.DocumentState
	BatchSubmission   = model.BatchSubmission
	BatchLine         = model.BatchLine
	BatchKind         = model.BatchKind
	LineCondition     = model.LineCondition
	Response          = cdr.Response
	KeyPair           = signature.KeyPair
)

// Re-export document types
const (
	TypeInvoice        = model.TypeInvoice
	TypeReceipt        = model.TypeReceipt
	TypeCreditNote     = model.TypeCreditNote
	TypeDebitNote      = model.TypeDebitNote
	TypeDespatchAdvice = model.TypeDespatchAdvice
)

// Re-export batch kinds and line conditions
const (
	BatchSummary = model.BatchSummary
	BatchVoided  = model.BatchVoided

	ConditionAdd    = model.ConditionAdd
	ConditionModify = model.ConditionModify
	ConditionVoid   = model.ConditionVoid
)

// Re-export error types
type (
	ErrorKind       = model.ErrorKind
	ParseError      = model.ParseError
	ValidationError = model.ValidationError
	SignatureError  = signature.SignatureError
)

// KindOf classifies an error returned by this package
func KindOf(err error) ErrorKind {
	return model.KindOf(err)
}

var (
	defaultAssembler = assembler.New()
	defaultEngine    = signature.NewEngine(signature.NewCertificateCache())
)

// Assemble renders the unsigned XML of a document. Lines and totals must already be computed.
func Assemble(doc *TaxDocument) ([]byte, error) {
	return defaultAssembler.Assemble(doc)
}

// AssembleBatch renders the unsigned XML of a daily summary or void communication
func AssembleBatch(batch *BatchSubmission) ([]byte, error) {
	return defaultAssembler.AssembleBatch(batch)
}

// Calculate fills line amounts and document totals from quantities, prices and tax categories
func Calculate(doc *TaxDocument) {
	for i := range doc.Lines {
		doc.Lines[i].Calculate()
	}
	doc.RecalculateTotals()
}

// Sign embeds an enveloped signature made with the PKCS#12 file at certPath
func Sign(unsigned []byte, certPath, passphrase string) ([]byte, error) {
	return defaultEngine.Sign(unsigned, certPath, passphrase)
}

// SignWith embeds an enveloped signature made with an already loaded key pair
func SignWith(unsigned []byte, pair *KeyPair) ([]byte, error) {
	return defaultEngine.SignWith(unsigned, pair)
}

// LoadCertificate reads a PKCS#12 key pair
func LoadCertificate(path, passphrase string) (*KeyPair, error) {
	return signature.LoadPKCS12(path, passphrase)
}

// Digest returns the DigestValue of a signed document
func Digest(signed []byte) (string, error) {
	return signature.DigestValue(signed)
}

// ParseResponse reads a zipped CDR
func ParseResponse(artifact []byte) (*Response, error) {
	return cdr.Parse(artifact)
}

// Pack zips a signed document under its artifact name
func Pack(name string, data []byte) ([]byte, error) {
	return archive.Pack(name, data)
}

// ArtifactName returns {taxId}-{docTypeCode}-{series}-{sequence:08d}
func ArtifactName(taxID string, t DocumentType, series string, sequence int64) string {
	return model.DocumentArtifactName(taxID, t, series, sequence)
}

// BatchIdentifier returns RC-YYYYMMDD-n or RA-YYYYMMDD-n
func BatchIdentifier(kind BatchKind, date time.Time, n int) string {
	return model.BatchIdentifier(kind, date, n)
}

// BatchArtifactName returns {taxId}-RC-YYYYMMDD-n or {taxId}-RA-YYYYMMDD-n
func BatchArtifactName(taxID string, kind BatchKind, date time.Time, n int) string {
	return model.BatchArtifactName(taxID, kind, date, n)
}

// ResponseArtifactName is the name of the authority's response to an artifact
func ResponseArtifactName(name string) string {
	return model.ResponseArtifactName(name)
}
