package cdr_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/cpe-emitter/internal/archive"
	"github.com/rezonia/cpe-emitter/internal/cdr"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/signature"
	"github.com/rezonia/cpe-emitter/internal/signature/signaturetest"
	sigxml "github.com/rezonia/cpe-emitter/internal/signature/xml"
)

const responseFormat = `<?xml version="1.0" encoding="UTF-8"?>
<ar:ApplicationResponse xmlns:ar="urn:oasis:names:specification:ubl:schema:xsd:ApplicationResponse-2" xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2" xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2" xmlns:ext="urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"><ext:UBLExtensions><ext:UBLExtension><ext:ExtensionContent/></ext:UBLExtension></ext:UBLExtensions><cbc:UBLVersionID>2.0</cbc:UBLVersionID><cbc:ID>171234567890</cbc:ID><cbc:IssueDate>2026-03-09</cbc:IssueDate>%s<cac:DocumentResponse><cac:Response><cbc:ReferenceID>F001-00000042</cbc:ReferenceID><cbc:ResponseCode>%s</cbc:ResponseCode><cbc:Description>%s</cbc:Description></cac:Response><cac:DocumentReference><cbc:ID>F001-00000042</cbc:ID></cac:DocumentReference></cac:DocumentResponse></ar:ApplicationResponse>`

func responseXML(code, description string, notes ...string) string {
	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "<cbc:Note>%s</cbc:Note>", n)
	}
	return fmt.Sprintf(responseFormat, b.String(), code, description)
}

func packResponse(t *testing.T, xml string) []byte {
	t.Helper()
	data, err := archive.Pack("R-20123456789-01-F001-00000042.xml", []byte(xml))
	require.NoError(t, err)
	return data
}

func TestIsAccepted(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"0", true},
		{" 0 ", true},
		{"2000", true},
		{"2335", true},
		{"3999", true},
		{"1999", false},
		{"4000", false},
		{"98", false},
		{"99", false},
		{"1033", false},
		{"0151", false},
		{"Server", false},
		{"", false},
		{"-2000", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, cdr.IsAccepted(tt.code))
		})
	}
}

func TestParse_Accepted(t *testing.T) {
	xml := responseXML("0", "La Factura numero F001-00000042, ha sido aceptada")

	resp, err := cdr.Parse(packResponse(t, xml))
	require.NoError(t, err)

	assert.Equal(t, "171234567890", resp.ID)
	assert.Equal(t, "F001-00000042", resp.ReferenceID)
	assert.Equal(t, "0", resp.Code)
	assert.Equal(t, "La Factura numero F001-00000042, ha sido aceptada", resp.Description)
	assert.True(t, resp.Accepted)
	assert.Empty(t, resp.Notes)
	assert.Equal(t, "R-20123456789-01-F001-00000042.xml", resp.FileName)
	assert.Equal(t, []byte(xml), resp.XML)
	require.Len(t, resp.Lines, 1)
	assert.True(t, resp.Lines[0].Accepted)
	assert.Nil(t, resp.Verification)
}

func TestParse_ObservationsAndRejection(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		notes     []string
		wantNotes int
		accepted  bool
	}{
		{
			name:      "accepted with observations",
			code:      "0",
			notes:     []string{"4252 - El dato ingresado como atributo @listName es incorrecto.", "4287 - El precio unitario no coincide"},
			wantNotes: 2,
			accepted:  true,
		},
		{
			name:      "observation code",
			code:      "2800",
			notes:     []string{" "},
			wantNotes: 0,
			accepted:  true,
		},
		{
			name:     "low observation code",
			code:     "2017",
			accepted: true,
		},
		{
			name:     "rejection code",
			code:     "1033",
			accepted: false,
		},
		{
			name:     "exception code",
			code:     "0109",
			accepted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := cdr.Parse(packResponse(t, responseXML(tt.code, "respuesta", tt.notes...)))
			require.NoError(t, err)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.accepted, resp.Accepted)
			assert.Len(t, resp.Notes, tt.wantNotes)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		artifact []byte
	}{
		{name: "nil", artifact: nil},
		{name: "not a zip", artifact: []byte("not a zip")},
		{name: "not xml", artifact: packResponse(t, "<Response code=>")},
		{name: "no response code", artifact: packResponse(t, `<ApplicationResponse><ID>1</ID></ApplicationResponse>`)},
		{name: "empty response code", artifact: packResponse(t, `<ApplicationResponse><DocumentResponse><Response><ResponseCode> </ResponseCode></Response></DocumentResponse></ApplicationResponse>`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := cdr.Parse(tt.artifact)
			require.Error(t, err)
			assert.Nil(t, resp)

			var parseErr *model.ParseError
			assert.True(t, errors.As(err, &parseErr))
			assert.Equal(t, model.KindParse, model.KindOf(err))
		})
	}
}

func TestParser_VerifiesSignature(t *testing.T) {
	pair := signaturetest.SelfSigned(t, "SUNAT")
	signed, err := signature.NewEngine(nil).SignWith([]byte(responseXML("0", "aceptada")), pair)
	require.NoError(t, err)

	parser := cdr.NewParser(cdr.WithVerifier(sigxml.NewXMLVerifier()))

	resp, err := parser.Parse(context.Background(), packResponse(t, string(signed)))
	require.NoError(t, err)
	require.NotNil(t, resp.Verification)
	assert.True(t, resp.Verification.Valid, "errors: %v", resp.Verification.Errors)
	assert.Equal(t, resp.Verification.Digest, resp.Digest)

	tampered := strings.Replace(string(signed), "aceptada", "rechazada", 1)
	resp, err = parser.Parse(context.Background(), packResponse(t, tampered))
	require.NoError(t, err)
	assert.False(t, resp.Verification.Valid)
	assert.True(t, resp.Accepted, "classification does not depend on the signature check")

	resp, err = parser.Parse(context.Background(), packResponse(t, responseXML("0", "sin firma")))
	require.NoError(t, err)
	assert.False(t, resp.Verification.Valid)
	assert.True(t, resp.Accepted)
}
