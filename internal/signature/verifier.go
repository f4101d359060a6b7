package signature

import "context"

// Verifier checks the signature embedded in a signed document or response
type Verifier interface {
	// Verify returns the detailed check outcomes. The error is non-nil only
	// when no signature could be located.
	Verify(ctx context.Context, data []byte) (*VerificationResult, error)
}
