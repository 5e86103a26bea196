// Package signature holds the types shared by the XML signature
// implementations: verification results, error kinds and the signer and
// verifier contracts.
package signature

import "context"

// Signer embeds an enveloped signature into an XML document on behalf of a
// tenant.
type Signer interface {
	Sign(ctx context.Context, document []byte, tenantID string) ([]byte, error)
}

// Verifier checks a signed document. Problems with the document itself are
// reported in the result; the error is reserved for the caller's context.
type Verifier interface {
	Verify(ctx context.Context, document []byte) (*VerificationResult, error)
}
