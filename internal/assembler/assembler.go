package assembler

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	dec "github.com/rezonia/cpe-emitter/internal/decimal"
	"github.com/rezonia/cpe-emitter/internal/model"
)

// Lima is the authority's local time zone (no daylight saving)
var Lima = time.FixedZone("America/Lima", -5*60*60)

// Assembler builds unsigned UBL documents with an empty signature placeholder
type Assembler struct {
	location *time.Location
	indent   int
}

// Option configures an Assembler
type Option func(*Assembler)

// WithLocation sets the zone used to render dates and times
func WithLocation(loc *time.Location) Option {
	return func(a *Assembler) {
		a.location = loc
	}
}

// WithIndent sets the indentation of the produced XML; zero disables it
func WithIndent(spaces int) Option {
	return func(a *Assembler) {
		a.indent = spaces
	}
}

// New creates an assembler
func New(opts ...Option) *Assembler {
	a := &Assembler{
		location: Lima,
		indent:   2,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble renders a single document
func (a *Assembler) Assemble(doc *model.TaxDocument) ([]byte, error) {
	if doc == nil {
		return nil, model.NewAssemblyError("document", nil, "required", "document is nil")
	}
	kind, ok := Lookup(doc.Type)
	if !ok {
		return nil, model.NewValidationError("type", doc.Type, "supported", "unsupported document type")
	}
	if err := validateEmitter(doc.Emitter); err != nil {
		return nil, err
	}

	b := a.newBuilder(kind, currencyOf(doc.Currency))
	if err := kind.buildDocument(b, kind, doc); err != nil {
		return nil, err
	}
	return b.bytes(a.indent)
}

// AssembleBatch renders a daily summary or a void communication.
// Every line must carry its resolved Document.
func (a *Assembler) AssembleBatch(batch *model.BatchSubmission) ([]byte, error) {
	if batch == nil {
		return nil, model.NewAssemblyError("batch", nil, "required", "batch is nil")
	}
	kind, ok := LookupBatch(batch.Kind)
	if !ok {
		return nil, model.NewValidationError("kind", batch.Kind, "supported", "unsupported batch kind")
	}
	if err := validateEmitter(batch.Emitter); err != nil {
		return nil, err
	}
	if len(batch.Lines) == 0 {
		return nil, model.NewAssemblyError("lines", 0, "min=1", "batch has no lines")
	}
	for i, line := range batch.Lines {
		if line.Document == nil {
			return nil, model.NewAssemblyError(fmt.Sprintf("lines[%d].document", i), line.DocumentID, "required", "batch line is not resolved")
		}
	}

	b := a.newBuilder(kind, defaultCurrency)
	if err := kind.buildBatch(b, kind, batch); err != nil {
		return nil, err
	}
	return b.bytes(a.indent)
}

func validateEmitter(e *model.Emitter) error {
	if e == nil {
		return model.NewAssemblyError("emitter", nil, "required", "emitter is missing")
	}
	if e.TaxID() == "" {
		return model.NewAssemblyError("emitter.tax_id", nil, "required", "emitter has no tax id")
	}
	if e.Party.LegalName == "" {
		return model.NewAssemblyError("emitter.legal_name", nil, "required", "emitter has no legal name")
	}
	return nil
}

func currencyOf(c string) string {
	if c == "" {
		return defaultCurrency
	}
	return c
}

// builder wraps the etree document under construction
type builder struct {
	doc      *etree.Document
	root     *etree.Element
	currency string
	location *time.Location
}

func (a *Assembler) newBuilder(k Kind, currency string) *builder {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement(k.RootElement)
	root.CreateAttr("xmlns", k.Namespace)
	root.CreateAttr("xmlns:cac", NamespaceCAC)
	root.CreateAttr("xmlns:cbc", NamespaceCBC)
	root.CreateAttr("xmlns:ds", NamespaceDS)
	root.CreateAttr("xmlns:ext", NamespaceExt)
	if k.sunatAggregates {
		root.CreateAttr("xmlns:sac", NamespaceSAC)
	}

	// Placeholder the signature engine fills in
	root.CreateElement("ext:UBLExtensions").
		CreateElement("ext:UBLExtension").
		CreateElement("ext:ExtensionContent")

	return &builder{
		doc:      doc,
		root:     root,
		currency: currency,
		location: a.location,
	}
}

func (b *builder) bytes(indent int) ([]byte, error) {
	if indent > 0 {
		b.doc.Indent(indent)
	}
	out, err := b.doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return out, nil
}

func text(parent *etree.Element, tag, value string) *etree.Element {
	e := parent.CreateElement(tag)
	e.SetText(value)
	return e
}

func (b *builder) amount(parent *etree.Element, tag string, v decimal.Decimal) *etree.Element {
	e := text(parent, tag, dec.FormatAmount(v))
	e.CreateAttr("currencyID", b.currency)
	return e
}

func (b *builder) price(parent *etree.Element, tag string, v decimal.Decimal) *etree.Element {
	e := text(parent, tag, dec.FormatQuantity(v))
	e.CreateAttr("currencyID", b.currency)
	return e
}

func (b *builder) date(t time.Time) string {
	return t.In(b.location).Format("2006-01-02")
}

func (b *builder) clock(t time.Time) string {
	return t.In(b.location).Format("15:04:05")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
