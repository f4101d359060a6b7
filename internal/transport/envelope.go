package transport

import (
	"strings"

	"github.com/beevik/etree"
)

// SOAP namespaces of the authority's bill service
const (
	NamespaceSOAP    = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceService = "http://service.sunat.gob.pe"
	NamespaceWSSE    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"

	passwordTextType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
)

// field is one child of the operation element, kept in order
type field struct {
	name  string
	value string
}

// buildEnvelope renders a SOAP 1.1 request with a WS-Security UsernameToken header
func buildEnvelope(operation, username, password string, fields ...field) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", NamespaceSOAP)
	env.CreateAttr("xmlns:ser", NamespaceService)
	env.CreateAttr("xmlns:wsse", NamespaceWSSE)

	token := env.CreateElement("soapenv:Header").
		CreateElement("wsse:Security").
		CreateElement("wsse:UsernameToken")
	token.CreateElement("wsse:Username").SetText(username)
	pw := token.CreateElement("wsse:Password")
	pw.CreateAttr("Type", passwordTextType)
	pw.SetText(password)

	op := env.CreateElement("soapenv:Body").CreateElement("ser:" + operation)
	for _, f := range fields {
		op.CreateElement(f.name).SetText(f.value)
	}

	return doc.WriteToBytes()
}

// envelopeBody returns the Body of a SOAP response
func envelopeBody(data []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, errNotEnvelope
	}
	body := root.SelectElement("Body")
	if body == nil {
		return nil, errNotEnvelope
	}
	return body, nil
}

// parseFault returns the code and message of a soap Fault, if body holds one
func parseFault(body *etree.Element) (code, message string, ok bool) {
	fault := body.SelectElement("Fault")
	if fault == nil {
		return "", "", false
	}

	if el := fault.SelectElement("faultcode"); el != nil {
		code = normalizeFaultCode(el.Text())
	}
	if el := fault.SelectElement("faultstring"); el != nil {
		message = strings.TrimSpace(el.Text())
	}
	if el := fault.FindElement("./detail//message"); el != nil && message == "" {
		message = strings.TrimSpace(el.Text())
	}
	if code == "" {
		code = "SOAP_FAULT"
	}
	return code, message, true
}

// normalizeFaultCode reduces "soap-env:Client.0151" to "0151" and "env:Server" to "Server"
func normalizeFaultCode(raw string) string {
	code := strings.TrimSpace(raw)
	if i := strings.LastIndexByte(code, '.'); i >= 0 {
		return code[i+1:]
	}
	if i := strings.LastIndexByte(code, ':'); i >= 0 {
		return code[i+1:]
	}
	return code
}

// childText returns the trimmed text of the first descendant with the given local name
func childText(el *etree.Element, path string) string {
	if found := el.FindElement(path); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}
