package server

import (
	"time"

	"github.com/rezonia/cpe-emitter/internal/lifecycle"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/signature"
)

// SummaryRequest is the body of POST /summaries
type SummaryRequest struct {
	EmitterID int64 `json:"emitter_id" binding:"required"`
	// ReferenceDate is the issue day of the receipts, YYYY-MM-DD in Lima time
	ReferenceDate string               `json:"reference_date" binding:"required"`
	DocumentIDs   []int64              `json:"document_ids,omitempty"`
	Modifications []int64              `json:"modifications,omitempty"`
	Voids         []lifecycle.VoidLine `json:"voids,omitempty"`
}

// StatusResponse is the response for the document status endpoint
type StatusResponse struct {
	ID           int64               `json:"id"`
	Type         model.DocumentType  `json:"type"`
	Number       string              `json:"number"`
	ArtifactName string              `json:"artifact_name"`
	IssueDate    time.Time           `json:"issue_date"`
	Currency     string              `json:"currency"`
	Total        string              `json:"total"`
	State        model.DocumentState `json:"state"`
	Submission   model.Submission    `json:"submission"`
}

func newStatusResponse(doc *model.TaxDocument) StatusResponse {
	return StatusResponse{
		ID:           doc.ID,
		Type:         doc.Type,
		Number:       doc.Number(),
		ArtifactName: doc.ArtifactName(),
		IssueDate:    doc.IssueDate,
		Currency:     doc.Currency,
		Total:        doc.Totals.Total.StringFixed(2),
		State:        doc.State,
		Submission:   doc.Submission,
	}
}

// ErrorResponse is the standard error response. Result carries the partial
// outcome of an operation that failed after reaching the authority.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Kind    string      `json:"kind,omitempty"`
	Details string      `json:"details,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// VerifyResponse is the response for signature verification endpoint
type VerifyResponse struct {
	Valid          bool              `json:"valid"`
	Verdict        string            `json:"verdict"`
	SignatureFound bool              `json:"signature_found"`
	SignatureValid bool              `json:"signature_valid"`
	TrustChecked   bool              `json:"trust_checked"`
	CertChainValid bool              `json:"cert_chain_valid"`
	NotRevoked     bool              `json:"not_revoked"`
	DocumentID     string            `json:"document_id,omitempty"`
	DocumentKind   string            `json:"document_kind,omitempty"`
	Digest         string            `json:"digest,omitempty"`
	Signer         *SignerInfoOutput `json:"signer,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	Errors         []string          `json:"errors,omitempty"`
}

// SignerInfoOutput holds signer info for API response
type SignerInfoOutput struct {
	Name         string     `json:"name,omitempty"`
	Organization string     `json:"organization,omitempty"`
	RUC          string     `json:"ruc,omitempty"`
	SerialNumber string     `json:"serial_number,omitempty"`
	Issuer       string     `json:"issuer,omitempty"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidTo      *time.Time `json:"valid_to,omitempty"`
}

func newVerifyResponse(result *signature.VerificationResult) VerifyResponse {
	response := VerifyResponse{
		Valid:          result.Valid,
		Verdict:        string(result.Verdict),
		SignatureFound: result.SignatureFound,
		SignatureValid: result.SignatureValid,
		TrustChecked:   result.TrustChecked,
		CertChainValid: result.CertChainValid,
		NotRevoked:     result.NotRevoked,
		DocumentID:     result.DocumentID,
		DocumentKind:   result.DocumentKind,
		Digest:         result.Digest,
		Warnings:       result.Warnings,
		Errors:         result.Errors,
	}
	if result.Signer != nil {
		response.Signer = &SignerInfoOutput{
			Name:         result.Signer.Name,
			Organization: result.Signer.Organization,
			RUC:          result.Signer.RUC,
			SerialNumber: result.Signer.SerialNumber,
			Issuer:       result.Signer.Issuer,
			ValidFrom:    &result.Signer.ValidFrom,
			ValidTo:      &result.Signer.ValidTo,
		}
	}
	return response
}
