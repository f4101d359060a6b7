package assembler

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	dec "github.com/rezonia/cpe-emitter/internal/decimal"
	"github.com/rezonia/cpe-emitter/internal/model"
)

// buildInvoice renders invoices (01) and receipts (03)
func buildInvoice(b *builder, k Kind, doc *model.TaxDocument) error {
	customer := doc.Counterparty
	if customer == nil {
		if doc.Type == model.TypeInvoice {
			return model.NewAssemblyError("counterparty", nil, "required", "invoice needs a customer")
		}
		customer = &anonymousCustomer
	}
	if err := validateTotals(doc); err != nil {
		return err
	}
	credit := doc.Payment.Method == model.PaymentCredit
	if credit && len(doc.Payment.Installments) == 0 {
		return model.NewAssemblyError("payment.installments", 0, "min=1", "credit sale needs at least one installment")
	}

	b.header("2.1", "2.0", doc.Number())
	text(b.root, "cbc:IssueDate", b.date(doc.IssueDate))
	text(b.root, "cbc:IssueTime", b.clock(doc.IssueDate))
	if doc.DueDate != nil {
		text(b.root, "cbc:DueDate", b.date(*doc.DueDate))
	}

	tc := text(b.root, "cbc:InvoiceTypeCode", k.Code)
	tc.CreateAttr("listAgencyName", "PE:SUNAT")
	tc.CreateAttr("listName", "Tipo de Documento")
	tc.CreateAttr("listURI", "urn:pe:gob:sunat:cpe:see:gem:catalogos:catalogo01")
	tc.CreateAttr("listID", operationListID(doc.Type, credit))

	cur := text(b.root, "cbc:DocumentCurrencyCode", b.currency)
	cur.CreateAttr("listID", "ISO 4217 Alpha")
	cur.CreateAttr("listName", "Currency")
	cur.CreateAttr("listAgencyName", "United Nations Economic Commission for Europe")
	text(b.root, "cbc:LineCountNumeric", strconv.Itoa(len(doc.Lines)))

	b.signatureBlock(doc.Emitter)
	b.supplierParty(doc.Emitter)
	b.customerParty(customer)
	b.paymentTerms(doc)
	b.taxTotal(b.root, doc.Totals)

	lmt := b.root.CreateElement("cac:LegalMonetaryTotal")
	b.monetaryTotal(lmt, doc.Totals)
	b.amount(lmt, "cbc:AllowanceTotalAmount", dec.Zero)
	b.amount(lmt, "cbc:ChargeTotalAmount", dec.Zero)
	b.amount(lmt, "cbc:PayableAmount", doc.Totals.Total)

	for i, l := range doc.Lines {
		if err := b.line(k, l, i+1); err != nil {
			return err
		}
	}
	return nil
}

var anonymousCustomer = model.Party{IdentityType: "0", IdentityNumber: "-", LegalName: "CLIENTES VARIOS"}

// operationListID is 0101/0102 for invoices and 0301/0302 for receipts
func operationListID(t model.DocumentType, credit bool) string {
	suffix := "01"
	if credit {
		suffix = "02"
	}
	if t == model.TypeReceipt {
		return "03" + suffix
	}
	return "01" + suffix
}

func (b *builder) paymentTerms(doc *model.TaxDocument) {
	if doc.Payment.Method != model.PaymentCredit {
		pt := b.root.CreateElement("cac:PaymentTerms")
		text(pt, "cbc:ID", "FormaPago")
		text(pt, "cbc:PaymentMeansID", "Contado")
		return
	}

	pt := b.root.CreateElement("cac:PaymentTerms")
	text(pt, "cbc:ID", "FormaPago")
	text(pt, "cbc:PaymentMeansID", "Credito")
	b.amount(pt, "cbc:Amount", doc.Totals.Total)

	for i, inst := range doc.Payment.Installments {
		number := inst.Number
		if number == 0 {
			number = i + 1
		}
		q := b.root.CreateElement("cac:PaymentTerms")
		text(q, "cbc:ID", "FormaPago")
		text(q, "cbc:PaymentMeansID", fmt.Sprintf("Cuota%03d", number))
		b.amount(q, "cbc:Amount", inst.Amount)
		text(q, "cbc:PaymentDueDate", b.date(inst.DueDate))
	}
}

func (b *builder) monetaryTotal(parent *etree.Element, t model.Totals) {
	b.amount(parent, "cbc:LineExtensionAmount", t.LineExtension())
	b.amount(parent, "cbc:TaxExclusiveAmount", t.LineExtension())
	b.amount(parent, "cbc:TaxInclusiveAmount", t.Total)
}
