package signature

import (
	"fmt"

	"github.com/rezonia/cpe-emitter/internal/model"
)

// Error codes for signing and signature verification
const (
	ErrCodeCertNotFound       = "CERT_NOT_FOUND"
	ErrCodeBadPassphrase      = "BAD_PASSPHRASE"
	ErrCodeNoKeyPair          = "NO_KEY_PAIR"
	ErrCodeMalformedXML       = "MALFORMED_XML"
	ErrCodePlaceholderMissing = "PLACEHOLDER_MISSING"
	ErrCodeSignFailed         = "SIGN_FAILED"

	ErrCodeNoSignature      = "NO_SIGNATURE"
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeCertExpired      = "CERT_EXPIRED"
	ErrCodeCertNotYetValid  = "CERT_NOT_YET_VALID"
	ErrCodeCertRevoked      = "CERT_REVOKED"
	ErrCodeChainInvalid     = "CHAIN_INVALID"
	ErrCodeOCSPUnavailable  = "OCSP_UNAVAILABLE"
)

// SignatureError represents signing and verification errors
type SignatureError struct {
	Code    string
	Field   string
	Message string
	Cause   error
}

func (e *SignatureError) Error() string {
	if e.Field != "" && e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.Field, e.Message, e.Cause)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SignatureError) Unwrap() error {
	return e.Cause
}

// Kind classifies every signature error as KindSignature
func (e *SignatureError) Kind() model.ErrorKind {
	return model.KindSignature
}

// NewSignatureError creates a new signature error
func NewSignatureError(code, field, message string, cause error) *SignatureError {
	return &SignatureError{
		Code:    code,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ErrCertNotFound returns error when the certificate container cannot be read
func ErrCertNotFound(path string, cause error) *SignatureError {
	return NewSignatureError(ErrCodeCertNotFound, "certificate", fmt.Sprintf("cannot read container %s", path), cause)
}

// ErrBadPassphrase returns error when the container passphrase is wrong
func ErrBadPassphrase(cause error) *SignatureError {
	return NewSignatureError(ErrCodeBadPassphrase, "certificate", "container passphrase is incorrect", cause)
}

// ErrNoKeyPair returns error when the container holds no usable RSA key and certificate
func ErrNoKeyPair(cause error) *SignatureError {
	return NewSignatureError(ErrCodeNoKeyPair, "certificate", "no signable key/certificate pair in container", cause)
}

// ErrMalformedXML returns error when the document to sign cannot be parsed
func ErrMalformedXML(cause error) *SignatureError {
	return NewSignatureError(ErrCodeMalformedXML, "document", "document is not well-formed XML", cause)
}

// ErrPlaceholderMissing returns error when the document has no extension placeholder
func ErrPlaceholderMissing() *SignatureError {
	return NewSignatureError(ErrCodePlaceholderMissing, "document", "UBLExtensions/UBLExtension/ExtensionContent not found", nil)
}

// ErrSignFailed returns error when the signature computation fails
func ErrSignFailed(cause error) *SignatureError {
	return NewSignatureError(ErrCodeSignFailed, "signature", "failed to compute signature", cause)
}

// ErrNoSignature returns error when no signature found in document
func ErrNoSignature() *SignatureError {
	return NewSignatureError(ErrCodeNoSignature, "", "no signature found in document", nil)
}

// ErrInvalidSignature returns error when signature validation fails
func ErrInvalidSignature(cause error) *SignatureError {
	return NewSignatureError(ErrCodeInvalidSignature, "signature", "signature validation failed", cause)
}

// ErrCertExpired returns error when certificate has expired
func ErrCertExpired(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertExpired, "certificate", fmt.Sprintf("certificate expired: %s", subject), nil)
}

// ErrCertNotYetValid returns error when certificate is not yet valid
func ErrCertNotYetValid(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertNotYetValid, "certificate", fmt.Sprintf("certificate not yet valid: %s", subject), nil)
}

// ErrCertRevoked returns error when certificate has been revoked
func ErrCertRevoked(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertRevoked, "certificate", fmt.Sprintf("certificate revoked: %s", subject), nil)
}

// ErrChainInvalid returns error when certificate chain is invalid
func ErrChainInvalid(cause error) *SignatureError {
	return NewSignatureError(ErrCodeChainInvalid, "chain", "certificate chain validation failed", cause)
}

// ErrOCSPUnavailable returns error when OCSP check fails
func ErrOCSPUnavailable(cause error) *SignatureError {
	return NewSignatureError(ErrCodeOCSPUnavailable, "ocsp", "OCSP check unavailable", cause)
}
