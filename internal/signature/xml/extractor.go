package xml

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// XMLDSigNamespace is the xmldsig namespace URI
const XMLDSigNamespace = "http://www.w3.org/2000/09/xmldsig#"

// Document kinds recognised by root element
const (
	KindInvoice    = "Invoice"
	KindCreditNote = "CreditNote"
	KindDebitNote  = "DebitNote"
	KindDespatch   = "DespatchAdvice"
	KindSummary    = "SummaryDocuments"
	KindVoided     = "VoidedDocuments"
	KindResponse   = "ApplicationResponse"
	KindUnknown    = "Unknown"
)

var knownKinds = map[string]bool{
	KindInvoice: true, KindCreditNote: true, KindDebitNote: true, KindDespatch: true,
	KindSummary: true, KindVoided: true, KindResponse: true,
}

var errNoSignature = errors.New("no Signature element found in document")

// SignatureExtractor locates the ds:Signature of a UBL document or response
type SignatureExtractor struct{}

func NewSignatureExtractor() *SignatureExtractor {
	return &SignatureExtractor{}
}

// ExtractionResult is a parsed signed document
type ExtractionResult struct {
	Document         *etree.Document
	SignatureElement *etree.Element
	// Kind is the root element's local name, or KindUnknown
	Kind       string
	DocumentID string
	// SignatureID is the Id attribute of ds:Signature
	SignatureID string
	// SignatureRef is the cbc:ID of the document's cac:Signature block, if any
	SignatureRef string
}

// ReferenceMismatch reports whether the cac:Signature block names a
// signature other than the one present
func (r *ExtractionResult) ReferenceMismatch() bool {
	return r.SignatureRef != "" && r.SignatureRef != r.SignatureID
}

// Extract parses data and finds its signature. The UBL extension placeholder
// is preferred; otherwise the first ds:Signature in document order wins.
func (e *SignatureExtractor) Extract(data []byte) (*ExtractionResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("empty XML document")
	}

	sig := firstDSig(root.FindElements("./UBLExtensions/UBLExtension/ExtensionContent/Signature"))
	if sig == nil {
		sig = walkDSig(root)
	}
	if sig == nil {
		return nil, errNoSignature
	}

	result := &ExtractionResult{
		Document:         doc,
		SignatureElement: sig,
		Kind:             KindUnknown,
		DocumentID:       childText(root, "ID"),
		SignatureID:      sig.SelectAttrValue("Id", ""),
	}
	if knownKinds[root.Tag] {
		result.Kind = root.Tag
	}
	for _, block := range root.SelectElements("Signature") {
		if !isDSig(block) {
			result.SignatureRef = childText(block, "ID")
			break
		}
	}
	return result, nil
}

// isDSig tells ds:Signature from cac:Signature, which shares the local name
func isDSig(el *etree.Element) bool {
	return el.NamespaceURI() == XMLDSigNamespace
}

func firstDSig(candidates []*etree.Element) *etree.Element {
	for _, el := range candidates {
		if isDSig(el) {
			return el
		}
	}
	return nil
}

func walkDSig(el *etree.Element) *etree.Element {
	if el.Tag == "Signature" && isDSig(el) {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := walkDSig(child); found != nil {
			return found
		}
	}
	return nil
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

// ExtractCertificateData returns the base64 KeyInfo certificate of a Signature element
func ExtractCertificateData(sig *etree.Element) ([]byte, error) {
	if text := childPath(sig, "./KeyInfo/X509Data/X509Certificate"); text != "" {
		return []byte(text), nil
	}
	return nil, errors.New("no X509Certificate found in Signature")
}

// ExtractDigestValue returns the first reference digest of a Signature element
func ExtractDigestValue(sig *etree.Element) string {
	return childPath(sig, "./SignedInfo/Reference/DigestValue")
}

func childPath(el *etree.Element, path string) string {
	if found := el.FindElement(path); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}

// CanExtract reports whether data looks like signed XML. The cac:Signature
// block appears in unsigned documents too, so the check keys on SignatureValue.
func (e *SignatureExtractor) CanExtract(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return bytes.HasPrefix(trimmed, []byte("<")) && bytes.Contains(trimmed, []byte("SignatureValue"))
}
