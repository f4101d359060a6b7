package signature

import (
	"crypto/x509"
	"fmt"
	"regexp"
	"time"
)

// Verdict summarizes a verification in one word
type Verdict string

const (
	VerdictValid     Verdict = "valid"
	VerdictInvalid   Verdict = "invalid"
	VerdictUntrusted Verdict = "untrusted"
	VerdictUnsigned  Verdict = "unsigned"
)

// VerificationResult is the outcome of verifying one signed CPE or response
type VerificationResult struct {
	Valid   bool    `json:"valid"`
	Verdict Verdict `json:"verdict"`

	SignatureFound bool `json:"signature_found"`
	SignatureValid bool `json:"signature_valid"`

	// TrustChecked is false when only the embedded certificate was used
	TrustChecked   bool `json:"trust_checked"`
	CertChainValid bool `json:"cert_chain_valid"`
	NotRevoked     bool `json:"not_revoked"`

	Signer *SignerInfo `json:"signer,omitempty"`

	// DocumentID is the cbc:ID of the signed document
	DocumentID   string `json:"document_id,omitempty"`
	DocumentKind string `json:"document_kind,omitempty"`
	Digest       string `json:"digest,omitempty"`

	CertChain []*x509.Certificate `json:"-"`

	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// SignerInfo describes the certificate that produced a signature
type SignerInfo struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	// RUC is the taxpayer number found in the certificate subject, if any
	RUC          string    `json:"ruc,omitempty"`
	SerialNumber string    `json:"serial_number"`
	Issuer       string    `json:"issuer"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
}

// NewVerificationResult creates an unsigned result
func NewVerificationResult() *VerificationResult {
	return &VerificationResult{Verdict: VerdictUnsigned}
}

// Warn records a non-fatal finding
func (r *VerificationResult) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Fail records a finding that makes the result invalid
func (r *VerificationResult) Fail(err error) {
	r.Errors = append(r.Errors, err.Error())
	r.Valid = false
}

// SetSigner records the signing certificate. A nil cert is ignored.
func (r *VerificationResult) SetSigner(cert *x509.Certificate) {
	if cert != nil {
		r.Signer = NewSignerInfo(cert)
	}
}

// NewSignerInfo extracts subject details from cert
func NewSignerInfo(cert *x509.Certificate) *SignerInfo {
	info := &SignerInfo{
		Name:         cert.Subject.CommonName,
		RUC:          subjectRUC(cert),
		SerialNumber: cert.SerialNumber.String(),
		Issuer:       cert.Issuer.CommonName,
		ValidFrom:    cert.NotBefore,
		ValidTo:      cert.NotAfter,
	}
	if len(cert.Subject.Organization) > 0 {
		info.Organization = cert.Subject.Organization[0]
	}
	if info.Issuer == "" && len(cert.Issuer.Organization) > 0 {
		info.Issuer = cert.Issuer.Organization[0]
	}
	return info
}

// ExpiredAt reports whether the signer certificate was outside its validity at t
func (s *SignerInfo) ExpiredAt(t time.Time) bool {
	return t.Before(s.ValidFrom) || t.After(s.ValidTo)
}

var rucPattern = regexp.MustCompile(`(?:^|\D)((?:10|15|16|17|20)\d{9})(?:\D|$)`)

// subjectRUC looks for an 11-digit taxpayer number in the subject serial
// number, common name and organizational units, in that order
func subjectRUC(cert *x509.Certificate) string {
	candidates := append([]string{cert.Subject.SerialNumber, cert.Subject.CommonName}, cert.Subject.OrganizationalUnit...)
	for _, c := range candidates {
		if m := rucPattern.FindStringSubmatch(c); m != nil {
			return m[1]
		}
	}
	return ""
}

// Finish derives Valid and Verdict from the recorded checks
func (r *VerificationResult) Finish() {
	switch {
	case !r.SignatureFound:
		r.Verdict = VerdictUnsigned
	case !r.SignatureValid:
		r.Verdict = VerdictInvalid
	case r.TrustChecked && !(r.CertChainValid && r.NotRevoked):
		r.Verdict = VerdictUntrusted
	case len(r.Errors) > 0:
		r.Verdict = VerdictInvalid
	default:
		r.Verdict = VerdictValid
	}
	r.Valid = r.Verdict == VerdictValid
}
