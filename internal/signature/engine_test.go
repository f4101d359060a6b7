package signature_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/cpe-emitter/internal/assembler"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/signature"
	"github.com/rezonia/cpe-emitter/internal/signature/signaturetest"
	sigxml "github.com/rezonia/cpe-emitter/internal/signature/xml"
)

const passphrase = "s3cret"

func unsignedInvoice(t *testing.T) []byte {
	t.Helper()

	line := model.Line{
		Description: "Servicio de consultoria",
		Quantity:    decimal.NewFromInt(1),
		UnitValue:   decimal.NewFromInt(100),
		Affectation: "10",
		TaxPercent:  decimal.NewFromInt(18),
	}
	line.Calculate()

	doc := &model.TaxDocument{
		Emitter: &model.Emitter{
			Party: model.Party{
				IdentityType:   "6",
				IdentityNumber: "20123456789",
				LegalName:      "ACME PERU S.A.C.",
			},
		},
		Counterparty: &model.Party{
			IdentityType:   "6",
			IdentityNumber: "20600000001",
			LegalName:      "CLIENTE S.A.",
		},
		Type:      model.TypeInvoice,
		Series:    "F001",
		Sequence:  42,
		IssueDate: time.Date(2026, 3, 9, 15, 30, 0, 0, time.UTC),
		Currency:  "PEN",
		Lines:     []model.Line{line},
		Payment:   model.PaymentTerms{Method: model.PaymentCash},
	}
	doc.RecalculateTotals()

	data, err := assembler.New().Assemble(doc)
	require.NoError(t, err)
	return data
}

func signatureError(t *testing.T, err error) *signature.SignatureError {
	t.Helper()
	var sigErr *signature.SignatureError
	require.True(t, errors.As(err, &sigErr), "expected SignatureError, got %v", err)
	assert.Equal(t, model.KindSignature, model.KindOf(err))
	return sigErr
}

func TestEngine_SignNestsSignatureInPlaceholder(t *testing.T) {
	pair := signaturetest.SelfSigned(t, "20123456789")
	path := signaturetest.WritePKCS12(t, pair, t.TempDir(), passphrase)

	signed, err := signature.NewEngine(nil).Sign(unsignedInvoice(t), path, passphrase)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(signed))
	root := doc.Root()

	sig := root.FindElement("./UBLExtensions/UBLExtension/ExtensionContent/Signature")
	require.NotNil(t, sig, "signature must sit inside ExtensionContent")
	assert.Equal(t, signature.DefaultSignatureID, sig.SelectAttrValue("Id", ""))
	assert.Equal(t, sigxml.XMLDSigNamespace, sig.NamespaceURI())

	children := root.ChildElements()
	last := children[len(children)-1]
	assert.Equal(t, "InvoiceLine", last.Tag, "signature must not be appended to the root")

	method := sig.FindElement("./SignedInfo/SignatureMethod")
	require.NotNil(t, method)
	assert.Equal(t, "http://www.w3.org/2000/09/xmldsig#rsa-sha1", method.SelectAttrValue("Algorithm", ""))
	c14n := sig.FindElement("./SignedInfo/CanonicalizationMethod")
	require.NotNil(t, c14n)
	assert.Equal(t, "http://www.w3.org/2001/10/xml-exc-c14n#", c14n.SelectAttrValue("Algorithm", ""))
	digest := sig.FindElement("./SignedInfo/Reference/DigestMethod")
	require.NotNil(t, digest)
	assert.Equal(t, "http://www.w3.org/2000/09/xmldsig#sha1", digest.SelectAttrValue("Algorithm", ""))
}

func TestEngine_SignTwiceBothVerify(t *testing.T) {
	pair := signaturetest.SelfSigned(t, "20123456789")
	engine := signature.NewEngine(nil)
	unsigned := unsignedInvoice(t)

	first, err := engine.SignWith(unsigned, pair)
	require.NoError(t, err)
	second, err := engine.SignWith(unsigned, pair)
	require.NoError(t, err)

	verifier := sigxml.NewXMLVerifier()
	for i, signed := range [][]byte{first, second} {
		result, err := verifier.Verify(context.Background(), signed)
		require.NoError(t, err)
		assert.True(t, result.SignatureValid, "signature %d: %v", i, result.Errors)
		assert.True(t, result.Valid, "signature %d: %v", i, result.Errors)
		assert.Equal(t, "F001-00000042", result.DocumentID)
		require.NotNil(t, result.Signer)
		assert.Equal(t, "20123456789", result.Signer.Name)
	}
}

func TestEngine_TamperedDocumentFailsVerification(t *testing.T) {
	pair := signaturetest.SelfSigned(t, "20123456789")

	signed, err := signature.NewEngine(nil).SignWith(unsignedInvoice(t), pair)
	require.NoError(t, err)

	tampered := []byte(strings.Replace(string(signed), ">118.00<", ">11.80<", 1))
	require.NotEqual(t, signed, tampered)

	result, err := sigxml.NewXMLVerifier().Verify(context.Background(), tampered)
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestEngine_DigestValue(t *testing.T) {
	pair := signaturetest.SelfSigned(t, "20123456789")

	signed, err := signature.NewEngine(nil).SignWith(unsignedInvoice(t), pair)
	require.NoError(t, err)

	digest, err := signature.DigestValue(signed)
	require.NoError(t, err)
	assert.NotEmpty(t, digest)

	_, err = signature.DigestValue(unsignedInvoice(t))
	assert.Equal(t, signature.ErrCodeNoSignature, signatureError(t, err).Code)
}

func TestEngine_SignFailures(t *testing.T) {
	pair := signaturetest.SelfSigned(t, "20123456789")
	dir := t.TempDir()
	path := signaturetest.WritePKCS12(t, pair, dir, passphrase)

	tests := []struct {
		name     string
		data     []byte
		path     string
		pass     string
		wantCode string
	}{
		{
			name:     "missing container",
			data:     unsignedInvoice(t),
			path:     filepath.Join(dir, "missing.p12"),
			pass:     passphrase,
			wantCode: signature.ErrCodeCertNotFound,
		},
		{
			name:     "wrong passphrase",
			data:     unsignedInvoice(t),
			path:     path,
			pass:     "wrong",
			wantCode: signature.ErrCodeBadPassphrase,
		},
		{
			name:     "malformed xml",
			data:     []byte("<Invoice attr=></Invoice>"),
			path:     path,
			pass:     passphrase,
			wantCode: signature.ErrCodeMalformedXML,
		},
		{
			name:     "no placeholder",
			data:     []byte(`<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"><ID>F001-1</ID></Invoice>`),
			path:     path,
			pass:     passphrase,
			wantCode: signature.ErrCodePlaceholderMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := signature.NewEngine(signature.NewCertificateCache())
			out, err := engine.Sign(tt.data, tt.path, tt.pass)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Equal(t, tt.wantCode, signatureError(t, err).Code)
		})
	}
}

func TestEngine_RefusesSignedDocument(t *testing.T) {
	pair := signaturetest.SelfSigned(t, "20123456789")
	engine := signature.NewEngine(nil)

	signed, err := engine.SignWith(unsignedInvoice(t), pair)
	require.NoError(t, err)

	_, err = engine.SignWith(signed, pair)
	assert.Equal(t, signature.ErrCodeSignFailed, signatureError(t, err).Code)
}

func TestEngine_NilKeyPair(t *testing.T) {
	_, err := signature.NewEngine(nil).SignWith(unsignedInvoice(t), nil)
	assert.Equal(t, signature.ErrCodeNoKeyPair, signatureError(t, err).Code)
}

func TestParsePKCS12_Chain(t *testing.T) {
	root := signaturetest.SelfSigned(t, "Test Root CA")
	leaf := signaturetest.Issued(t, "20123456789", root)

	pair, err := signature.ParsePKCS12(signaturetest.EncodePKCS12(t, leaf, passphrase), passphrase)
	require.NoError(t, err)
	assert.True(t, pair.Certificate.Equal(leaf.Certificate))
	require.Len(t, pair.Chain, 1)
	assert.True(t, pair.Chain[0].Equal(root.Certificate))

	_, err = signature.ParsePKCS12([]byte("not a container"), passphrase)
	assert.Equal(t, signature.ErrCodeNoKeyPair, signatureError(t, err).Code)
}
