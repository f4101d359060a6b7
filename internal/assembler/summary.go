package assembler

import (
	"fmt"
	"strconv"

	"github.com/rezonia/cpe-emitter/internal/model"
)

// buildSummary renders a daily summary (RC) with one line per receipt
func buildSummary(b *builder, k Kind, batch *model.BatchSubmission) error {
	b.header("2.0", "1.1", batch.Identifier)
	text(b.root, "cbc:ReferenceDate", b.date(batch.ReferenceDate))
	text(b.root, "cbc:IssueDate", b.date(batch.IssueDate))
	b.signatureBlock(batch.Emitter)
	b.batchSupplierParty(batch.Emitter)

	for i, line := range batch.Lines {
		doc := line.Document
		field := fmt.Sprintf("lines[%d]", i)
		if !summarizable(doc) {
			return model.NewAssemblyError(field+".type", doc.Type, "summary", "only receipts and their notes go in a daily summary")
		}
		if !line.Condition.Valid() {
			return model.NewAssemblyError(field+".condition", int(line.Condition), "oneof=1 2 3", "unknown summary condition")
		}
		if !doc.Totals.Total.IsPositive() && !doc.Totals.Free.IsPositive() {
			return model.NewAssemblyError(field+".totals.total", doc.Totals.Total.String(), "required", "receipt total is missing")
		}

		b.currency = currencyOf(doc.Currency)
		el := b.root.CreateElement("sac:SummaryDocumentsLine")
		text(el, "cbc:LineID", strconv.Itoa(i+1))
		text(el, "cbc:DocumentTypeCode", string(doc.Type))
		text(el, "cbc:ID", doc.Number())

		customer := doc.Counterparty
		if customer == nil {
			customer = &anonymousCustomer
		}
		cp := el.CreateElement("cac:AccountingCustomerParty")
		text(cp, "cbc:CustomerAssignedAccountID", orDefault(customer.IdentityNumber, "0"))
		text(cp, "cbc:AdditionalAccountID", identityType(customer.IdentityType))

		if doc.Type.IsNote() {
			br := el.CreateElement("cac:BillingReference").CreateElement("cac:InvoiceDocumentReference")
			text(br, "cbc:ID", doc.Reference.ID())
			text(br, "cbc:DocumentTypeCode", string(doc.Reference.Type))
		}

		text(el.CreateElement("cac:Status"), "cbc:ConditionCode", strconv.Itoa(int(line.Condition)))
		b.amount(el, "sac:TotalAmount", doc.Totals.Total)

		for _, st := range documentSubtotals(doc.Totals) {
			if !st.taxable.IsPositive() {
				continue
			}
			bp := el.CreateElement("sac:BillingPayment")
			b.amount(bp, "cbc:PaidAmount", st.taxable)
			text(bp, "cbc:InstructionID", billingInstructions[st.category])
		}

		b.taxTotal(el, doc.Totals)
	}
	b.currency = defaultCurrency
	return nil
}

var billingInstructions = map[model.TaxCategory]string{
	model.CategoryTaxed:      "01",
	model.CategoryExempt:     "02",
	model.CategoryUnaffected: "03",
	model.CategoryFree:       "05",
}

func summarizable(doc *model.TaxDocument) bool {
	switch doc.Type {
	case model.TypeReceipt:
		return true
	case model.TypeCreditNote, model.TypeDebitNote:
		return doc.Reference != nil && doc.Reference.Type == model.TypeReceipt
	default:
		return false
	}
}

// buildVoided renders a void communication (RA)
func buildVoided(b *builder, k Kind, batch *model.BatchSubmission) error {
	b.header("2.0", "1.0", batch.Identifier)
	text(b.root, "cbc:ReferenceDate", b.date(batch.ReferenceDate))
	text(b.root, "cbc:IssueDate", b.date(batch.IssueDate))
	b.signatureBlock(batch.Emitter)
	b.batchSupplierParty(batch.Emitter)

	for i, line := range batch.Lines {
		doc := line.Document
		if !doc.Type.Voidable() {
			return model.NewAssemblyError(fmt.Sprintf("lines[%d].type", i), doc.Type, "voidable", "document type cannot be voided by communication")
		}
		el := b.root.CreateElement("sac:VoidedDocumentsLine")
		text(el, "cbc:LineID", strconv.Itoa(i+1))
		text(el, "cbc:DocumentTypeCode", string(doc.Type))
		text(el, "sac:DocumentSerialID", doc.Series)
		text(el, "sac:DocumentNumberID", fmt.Sprintf("%08d", doc.Sequence))
		text(el, "sac:VoidReasonDescription", orDefault(line.Reason, defaultVoidReason))
	}
	return nil
}
