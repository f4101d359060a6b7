// Package cdr decodes and classifies the authority's signed response (CDR)
package cdr

import (
	"context"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/rezonia/cpe-emitter/internal/archive"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/observability"
	"github.com/rezonia/cpe-emitter/internal/signature"
)

const source = "cdr"

// CodeAccepted is the response code of a clean acceptance
const CodeAccepted = "0"

// Observation codes are accepted with notes
const (
	ObservationMin = 2000
	ObservationMax = 3999
)

// Response is a parsed CDR
type Response struct {
	// ID is the authority's response identifier
	ID string `json:"id,omitempty"`
	// ReferenceID is the document or batch the response is about
	ReferenceID string   `json:"reference_id,omitempty"`
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Notes       []string `json:"notes,omitempty"`
	Digest      string   `json:"digest,omitempty"`
	Accepted    bool     `json:"accepted"`
	// Lines are the per-document responses of a batch
	Lines []LineResponse `json:"lines,omitempty"`

	FileName     string                        `json:"file_name,omitempty"`
	XML          []byte                        `json:"-"`
	Verification *signature.VerificationResult `json:"verification,omitempty"`
}

// LineResponse is one cac:DocumentResponse of a CDR
type LineResponse struct {
	ReferenceID string `json:"reference_id"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Accepted    bool   `json:"accepted"`
}

// IsAccepted classifies a response code: "0" or an observation code in [2000, 3999]
func IsAccepted(code string) bool {
	code = strings.TrimSpace(code)
	if code == CodeAccepted {
		return true
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return n >= ObservationMin && n <= ObservationMax
}

// Parser decodes response archives, optionally verifying their signature
type Parser struct {
	verifier signature.Verifier
	log      *zap.Logger
	metrics  *observability.Metrics
}

// Option configures a Parser
type Option func(*Parser)

// WithVerifier checks the response signature with v. A failed check is logged and
// reported on Response.Verification; it never changes the classification.
func WithVerifier(v signature.Verifier) Option {
	return func(p *Parser) {
		p.verifier = v
	}
}

// WithLogger sets the parser logger
func WithLogger(log *zap.Logger) Option {
	return func(p *Parser) {
		p.log = log
	}
}

// WithMetrics records verification outcomes on m
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Parser) {
		p.metrics = m
	}
}

// NewParser creates a new parser
func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	p.log = observability.OrNop(p.log)
	return p
}

// Parse decodes a response archive without signature verification
func Parse(artifact []byte) (*Response, error) {
	return NewParser().Parse(context.Background(), artifact)
}

// Parse decodes a response archive
func (p *Parser) Parse(ctx context.Context, artifact []byte) (*Response, error) {
	if len(artifact) == 0 {
		return nil, model.NewParseError(source, "artifact", "response artifact is empty", nil)
	}
	entry, err := archive.Unpack(artifact)
	if err != nil {
		return nil, model.NewParseError(source, "artifact", "response artifact is not a readable archive", err)
	}

	resp, err := p.ParseXML(ctx, entry.Data)
	if err != nil {
		return nil, err
	}
	resp.FileName = entry.Name
	return resp, nil
}

// ParseXML decodes an already extracted ApplicationResponse document
func (p *Parser) ParseXML(ctx context.Context, data []byte) (*Response, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, model.NewParseError(source, "xml", "response document is not well-formed", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, model.NewParseError(source, "xml", "response document is empty", nil)
	}

	resp := &Response{
		ID:  text(root.SelectElement("ID")),
		XML: data,
	}

	for _, dr := range root.SelectElements("DocumentResponse") {
		line := LineResponse{
			ReferenceID: text(dr.FindElement("./Response/ReferenceID")),
			Code:        text(dr.FindElement("./Response/ResponseCode")),
			Description: text(dr.FindElement("./Response/Description")),
		}
		if line.ReferenceID == "" {
			line.ReferenceID = text(dr.FindElement("./DocumentReference/ID"))
		}
		line.Accepted = IsAccepted(line.Code)
		resp.Lines = append(resp.Lines, line)
	}

	// The first response code anywhere is the overall result
	code := root.FindElement(".//ResponseCode")
	if code == nil || text(code) == "" {
		return nil, model.NewParseError(source, "ResponseCode", "response has no ResponseCode", nil)
	}
	resp.Code = text(code)
	if len(resp.Lines) > 0 {
		resp.ReferenceID = resp.Lines[0].ReferenceID
		resp.Description = resp.Lines[0].Description
	} else {
		resp.Description = text(root.FindElement(".//Description"))
	}

	for _, note := range root.FindElements(".//Note") {
		if s := text(note); s != "" {
			resp.Notes = append(resp.Notes, s)
		}
	}
	resp.Digest = text(root.FindElement(".//DigestValue"))
	resp.Accepted = IsAccepted(resp.Code)

	p.verify(ctx, resp)
	return resp, nil
}

func (p *Parser) verify(ctx context.Context, resp *Response) {
	if p.verifier == nil {
		return
	}

	result, err := p.verifier.Verify(ctx, resp.XML)
	resp.Verification = result
	switch {
	case err != nil:
		p.metrics.CDRVerification("error")
		p.log.Warn("response signature check failed",
			zap.String("response", resp.ID),
			zap.Error(err),
		)
	case result == nil || !result.Valid:
		p.metrics.CDRVerification("invalid")
		fields := []zap.Field{zap.String("response", resp.ID)}
		if result != nil {
			fields = append(fields, zap.Strings("errors", result.Errors))
		}
		p.log.Warn("response signature is not valid", fields...)
	default:
		p.metrics.CDRVerification("valid")
	}
}

func text(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
