package assembler

import (
	"github.com/rezonia/cpe-emitter/internal/model"
)

// buildNote renders credit (07) and debit (08) notes
func buildNote(b *builder, k Kind, doc *model.TaxDocument) error {
	ref := doc.Reference
	if ref == nil || ref.Series == "" || ref.Sequence <= 0 || ref.Type == "" {
		return model.NewAssemblyError("reference", nil, "required", "note must reference the original document")
	}
	if !k.Notes.Contains(doc.ReasonCode) {
		return model.NewAssemblyError("reason_code", doc.ReasonCode, "catalog", "reason code is not in the note catalog")
	}
	if doc.Counterparty == nil {
		return model.NewAssemblyError("counterparty", nil, "required", "note needs a customer")
	}
	if err := validateTotals(doc); err != nil {
		return err
	}

	b.header("2.1", "2.0", doc.Number())
	text(b.root, "cbc:IssueDate", b.date(doc.IssueDate))
	text(b.root, "cbc:IssueTime", b.clock(doc.IssueDate))
	if doc.ReasonDescription != "" {
		note := text(b.root, "cbc:Note", doc.ReasonDescription)
		note.CreateAttr("languageLocaleID", "2006")
	}
	text(b.root, "cbc:DocumentCurrencyCode", b.currency)

	catalogName, catalogURI := "Tipo de nota de credito", "urn:pe:gob:sunat:cpe:see:gem:catalogos:catalogo09"
	if doc.Type == model.TypeDebitNote {
		catalogName, catalogURI = "Tipo de nota de debito", "urn:pe:gob:sunat:cpe:see:gem:catalogos:catalogo10"
	}
	dr := b.root.CreateElement("cac:DiscrepancyResponse")
	text(dr, "cbc:ReferenceID", ref.ID())
	rc := text(dr, "cbc:ResponseCode", doc.ReasonCode)
	rc.CreateAttr("listAgencyName", "PE:SUNAT")
	rc.CreateAttr("listName", catalogName)
	rc.CreateAttr("listURI", catalogURI)
	text(dr, "cbc:Description", orDefault(doc.ReasonDescription, k.Notes[doc.ReasonCode]))

	br := b.root.CreateElement("cac:BillingReference").CreateElement("cac:InvoiceDocumentReference")
	text(br, "cbc:ID", ref.ID())
	text(br, "cbc:DocumentTypeCode", string(ref.Type))

	b.signatureBlock(doc.Emitter)
	b.supplierParty(doc.Emitter)
	b.customerParty(doc.Counterparty)
	b.taxTotal(b.root, doc.Totals)

	rmt := b.root.CreateElement("cac:RequestedMonetaryTotal")
	b.monetaryTotal(rmt, doc.Totals)
	b.amount(rmt, "cbc:PayableAmount", doc.Totals.Total)

	for i, l := range doc.Lines {
		if err := b.line(k, l, i+1); err != nil {
			return err
		}
	}
	return nil
}
