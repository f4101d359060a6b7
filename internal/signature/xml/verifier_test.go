package xml_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/cpe-emitter/internal/signature"
	"github.com/rezonia/cpe-emitter/internal/signature/signaturetest"
	"github.com/rezonia/cpe-emitter/internal/signature/trust"
	sigxml "github.com/rezonia/cpe-emitter/internal/signature/xml"
)

const unsignedResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ar:ApplicationResponse xmlns:ar="urn:oasis:names:specification:ubl:schema:xsd:ApplicationResponse-2" xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2" xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2" xmlns:ext="urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"><ext:UBLExtensions><ext:UBLExtension><ext:ExtensionContent/></ext:UBLExtension></ext:UBLExtensions><cbc:ID>171234567890</cbc:ID><cac:DocumentResponse><cac:Response><cbc:ReferenceID>F001-00000042</cbc:ReferenceID><cbc:ResponseCode>0</cbc:ResponseCode><cbc:Description>La Factura numero F001-00000042, ha sido aceptada</cbc:Description></cac:Response></cac:DocumentResponse></ar:ApplicationResponse>`

func signResponse(t *testing.T, pair *signature.KeyPair) []byte {
	t.Helper()
	signed, err := signature.NewEngine(nil).SignWith([]byte(unsignedResponse), pair)
	require.NoError(t, err)
	return signed
}

func TestXMLVerifier_EmbeddedCertificate(t *testing.T) {
	pair := signaturetest.SelfSigned(t, "SUNAT")

	result, err := sigxml.NewXMLVerifier().Verify(context.Background(), signResponse(t, pair))
	require.NoError(t, err)

	assert.True(t, result.SignatureFound)
	assert.True(t, result.SignatureValid, "errors: %v", result.Errors)
	assert.False(t, result.TrustChecked)
	assert.True(t, result.Valid)
	assert.Equal(t, signature.VerdictValid, result.Verdict)
	assert.Equal(t, "171234567890", result.DocumentID)
	assert.NotEmpty(t, result.Digest)
	assert.NotEmpty(t, result.Warnings)
}

func TestXMLVerifier_TrustedChain(t *testing.T) {
	root := signaturetest.SelfSigned(t, "Test Root CA")
	leaf := signaturetest.Issued(t, "SUNAT", root)

	store := trust.NewTrustStore()
	store.AddCertificate(root.Certificate)

	result, err := sigxml.NewXMLVerifier(sigxml.WithTrustStore(store)).Verify(context.Background(), signResponse(t, leaf))
	require.NoError(t, err)

	assert.True(t, result.TrustChecked)
	assert.True(t, result.CertChainValid, "errors: %v", result.Errors)
	assert.True(t, result.NotRevoked)
	assert.Len(t, result.CertChain, 2)
	assert.True(t, result.Valid)
	require.NotNil(t, result.Signer)
	assert.Equal(t, "Test Root CA", result.Signer.Issuer)
}

func TestXMLVerifier_UntrustedChain(t *testing.T) {
	root := signaturetest.SelfSigned(t, "Test Root CA")
	leaf := signaturetest.Issued(t, "SUNAT", root)

	result, err := sigxml.NewXMLVerifier(sigxml.WithTrustStore(trust.NewTrustStore())).Verify(context.Background(), signResponse(t, leaf))
	require.NoError(t, err)

	assert.True(t, result.SignatureValid, "the signature itself is intact")
	assert.False(t, result.CertChainValid)
	assert.False(t, result.Valid)
	assert.Equal(t, signature.VerdictUntrusted, result.Verdict)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], signature.ErrCodeChainInvalid)
}

func TestXMLVerifier_ExpiredCertificate(t *testing.T) {
	pair := signaturetest.SelfSigned(t, "SUNAT")
	clock := clockwork.NewFakeClockAt(time.Now().Add(72 * time.Hour))

	result, err := sigxml.NewXMLVerifier(sigxml.WithClock(clock)).Verify(context.Background(), signResponse(t, pair))
	require.NoError(t, err)

	assert.False(t, result.SignatureValid)
	assert.False(t, result.Valid)
	assert.Equal(t, signature.VerdictInvalid, result.Verdict)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], signature.ErrCodeCertExpired)
}

func TestXMLVerifier_NoSignature(t *testing.T) {
	result, err := sigxml.NewXMLVerifier().Verify(context.Background(), []byte(unsignedResponse))
	require.Error(t, err)

	var sigErr *signature.SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, signature.ErrCodeNoSignature, sigErr.Code)
	assert.False(t, result.Valid)
	assert.False(t, result.SignatureFound)
	assert.Equal(t, signature.VerdictUnsigned, result.Verdict)
}

func TestXMLVerifier_CanVerify(t *testing.T) {
	pair := signaturetest.SelfSigned(t, "SUNAT")
	verifier := sigxml.NewXMLVerifier()

	assert.True(t, verifier.CanVerify(signResponse(t, pair)))
	assert.False(t, verifier.CanVerify([]byte(unsignedResponse)))
}
