package xml

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/rezonia/cpe-emitter/internal/signature"
	"github.com/rezonia/cpe-emitter/internal/signature/trust"
)

// XMLVerifier verifies enveloped XMLDSig signatures of UBL documents and responses
type XMLVerifier struct {
	trustStore *trust.TrustStore
	extractor  *SignatureExtractor
	clock      clockwork.Clock
}

var _ signature.Verifier = (*XMLVerifier)(nil)

// Option configures an XMLVerifier
type Option func(*XMLVerifier)

// WithTrustStore requires the signer to chain to the store's roots.
// Without it only the embedded certificate is used.
func WithTrustStore(ts *trust.TrustStore) Option {
	return func(v *XMLVerifier) {
		v.trustStore = ts
	}
}

// WithClock sets the clock used for certificate validity
func WithClock(clock clockwork.Clock) Option {
	return func(v *XMLVerifier) {
		v.clock = clock
	}
}

// NewXMLVerifier creates a new XML signature verifier
func NewXMLVerifier(opts ...Option) *XMLVerifier {
	v := &XMLVerifier{
		extractor: NewSignatureExtractor(),
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify verifies the XMLDSig signature in the given XML data
func (v *XMLVerifier) Verify(ctx context.Context, data []byte) (*signature.VerificationResult, error) {
	result := signature.NewVerificationResult()

	extraction, err := v.extractor.Extract(data)
	if err != nil {
		result.Fail(err)
		result.Finish()
		return result, signature.ErrNoSignature()
	}

	result.SignatureFound = true
	result.DocumentID = extraction.DocumentID
	result.DocumentKind = extraction.Kind
	if extraction.ReferenceMismatch() {
		result.Warn("cac:Signature names %q but the signature is %q", extraction.SignatureRef, extraction.SignatureID)
	}
	result.Digest = ExtractDigestValue(extraction.SignatureElement)

	cert, err := parseCertificate(extraction.SignatureElement)
	if err != nil {
		result.Fail(fmt.Errorf("certificate extraction: %w", err))
		result.Finish()
		return result, nil
	}
	result.SetSigner(cert)
	if now := v.clock.Now(); result.Signer.ExpiredAt(now) {
		if now.Before(cert.NotBefore) {
			result.Fail(signature.ErrCertNotYetValid(cert.Subject.CommonName))
		} else {
			result.Fail(signature.ErrCertExpired(cert.Subject.CommonName))
		}
	}

	validationCtx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})
	validationCtx.Clock = dsig.NewFakeClock(v.clock)

	// The reference URI is empty, so validation starts at the document root
	if _, err := validationCtx.Validate(extraction.Document.Root()); err != nil {
		result.Fail(signature.ErrInvalidSignature(err))
	} else {
		result.SignatureValid = true
	}

	if v.trustStore != nil {
		result.TrustChecked = true
		v.checkTrust(ctx, cert, result)
	} else {
		result.Warn("trust chain not checked: embedded certificate only")
	}

	result.Finish()
	return result, nil
}

// CanVerify returns true if the data appears to be signed XML
func (v *XMLVerifier) CanVerify(data []byte) bool {
	return v.extractor.CanExtract(data)
}

func (v *XMLVerifier) checkTrust(ctx context.Context, cert *x509.Certificate, result *signature.VerificationResult) {
	chain, err := v.trustStore.VerifyChain(cert, nil)
	if err != nil {
		result.Fail(signature.ErrChainInvalid(err))
		return
	}
	result.CertChain = chain
	result.CertChainValid = true

	if len(chain) < 2 {
		result.NotRevoked = true
		result.Warn("revocation check skipped: signer is a trust root")
		return
	}

	notRevoked, err := v.trustStore.CheckRevocation(ctx, cert, chain[1])
	if err != nil {
		if v.trustStore.IsSoftFail() {
			result.Warn("OCSP check: %v (soft-fail enabled)", err)
			result.NotRevoked = true
			return
		}
		result.Fail(signature.ErrOCSPUnavailable(err))
		return
	}

	result.NotRevoked = notRevoked
	if !notRevoked {
		result.Fail(signature.ErrCertRevoked(cert.Subject.CommonName))
	}
}

// parseCertificate decodes the KeyInfo certificate of a Signature element
func parseCertificate(sig *etree.Element) (*x509.Certificate, error) {
	certData, err := ExtractCertificateData(sig)
	if err != nil {
		return nil, err
	}

	// Responses may wrap the base64 text
	derData, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(string(certData)), ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(derData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}
