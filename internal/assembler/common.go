package assembler

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	dec "github.com/rezonia/cpe-emitter/internal/decimal"
	"github.com/rezonia/cpe-emitter/internal/model"
)

func (b *builder) header(ublVersion, customization, id string) {
	text(b.root, "cbc:UBLVersionID", ublVersion)
	text(b.root, "cbc:CustomizationID", customization)
	text(b.root, "cbc:ID", id)
}

// signatureBlock emits the cac:Signature metadata referencing the embedded signature
func (b *builder) signatureBlock(e *model.Emitter) {
	sig := b.root.CreateElement("cac:Signature")
	text(sig, "cbc:ID", signatureID)
	party := sig.CreateElement("cac:SignatoryParty")
	text(party.CreateElement("cac:PartyIdentification"), "cbc:ID", e.TaxID())
	text(party.CreateElement("cac:PartyName"), "cbc:Name", e.Party.LegalName)
	ref := sig.CreateElement("cac:DigitalSignatureAttachment").CreateElement("cac:ExternalReference")
	text(ref, "cbc:URI", "#"+signatureID)
}

func (b *builder) supplierParty(e *model.Emitter) {
	sp := b.root.CreateElement("cac:AccountingSupplierParty")
	party := sp.CreateElement("cac:Party")

	id := text(party.CreateElement("cac:PartyIdentification"), "cbc:ID", e.TaxID())
	id.CreateAttr("schemeID", "6")
	text(party.CreateElement("cac:PartyName"), "cbc:Name", orDefault(e.Party.TradeName, e.Party.LegalName))

	addr := e.Party.Address
	postal := party.CreateElement("cac:PostalAddress")
	text(postal, "cbc:ID", orDefault(addr.Ubigeo, defaultUbigeo))
	text(postal, "cbc:StreetName", addr.Street)
	text(postal, "cbc:CitySubdivisionName", addr.District)
	text(postal, "cbc:CityName", addr.Province)
	text(postal, "cbc:CountrySubentity", addr.Department)
	text(postal.CreateElement("cac:Country"), "cbc:IdentificationCode", orDefault(addr.Country, defaultCountry))

	legal := party.CreateElement("cac:PartyLegalEntity")
	text(legal, "cbc:RegistrationName", e.Party.LegalName)
	text(legal.CreateElement("cac:RegistrationAddress"), "cbc:AddressTypeCode", "0000")
}

// batchSupplierParty is the reduced supplier block of summary documents
func (b *builder) batchSupplierParty(e *model.Emitter) {
	sp := b.root.CreateElement("cac:AccountingSupplierParty")
	text(sp, "cbc:CustomerAssignedAccountID", e.TaxID())
	text(sp, "cbc:AdditionalAccountID", "6")
	text(sp.CreateElement("cac:Party").CreateElement("cac:PartyLegalEntity"), "cbc:RegistrationName", e.Party.LegalName)
}

func (b *builder) customerParty(p *model.Party) {
	cp := b.root.CreateElement("cac:AccountingCustomerParty")
	party := cp.CreateElement("cac:Party")
	number := p.IdentityNumber
	if number == "" {
		number = "-"
	}
	id := text(party.CreateElement("cac:PartyIdentification"), "cbc:ID", number)
	id.CreateAttr("schemeID", identityType(p.IdentityType))
	text(party.CreateElement("cac:PartyLegalEntity"), "cbc:RegistrationName", p.LegalName)
}

type subtotal struct {
	category model.TaxCategory
	taxable  decimal.Decimal
	tax      decimal.Decimal
}

func documentSubtotals(t model.Totals) []subtotal {
	return []subtotal{
		{model.CategoryTaxed, t.Taxed, t.Tax},
		{model.CategoryExempt, t.Exempt, dec.Zero},
		{model.CategoryUnaffected, t.Unaffected, dec.Zero},
		{model.CategoryFree, t.Free, dec.Zero},
	}
}

// taxTotal emits the document TaxTotal with one subtotal per non-empty category
func (b *builder) taxTotal(parent *etree.Element, t model.Totals) {
	tt := parent.CreateElement("cac:TaxTotal")
	b.amount(tt, "cbc:TaxAmount", t.Tax)
	for _, s := range documentSubtotals(t) {
		if !s.taxable.IsPositive() {
			continue
		}
		scheme, _ := model.SchemeFor(s.category)
		st := tt.CreateElement("cac:TaxSubtotal")
		b.amount(st, "cbc:TaxableAmount", s.taxable)
		b.amount(st, "cbc:TaxAmount", s.tax)
		b.taxScheme(st.CreateElement("cac:TaxCategory"), scheme)
	}
}

func (b *builder) taxScheme(category *etree.Element, s model.TaxScheme) {
	ts := category.CreateElement("cac:TaxScheme")
	text(ts, "cbc:ID", s.ID)
	text(ts, "cbc:Name", s.Name)
	text(ts, "cbc:TaxTypeCode", s.TypeCode)
}

// line emits an invoice, credit or debit note line
func (b *builder) line(k Kind, l model.Line, n int) error {
	category := model.AffectationCategory(l.Affectation)
	scheme, ok := model.SchemeFor(category)
	if !ok {
		return model.NewAssemblyError(fmt.Sprintf("lines[%d].affectation", n-1), l.Affectation, "catalog07", "unknown tax affectation code")
	}
	free := category == model.CategoryFree

	el := b.root.CreateElement(k.lineElement)
	text(el, "cbc:ID", strconv.Itoa(n))
	qty := text(el, k.quantityElement, dec.FormatQuantity(l.Quantity))
	qty.CreateAttr("unitCode", orDefault(l.UnitCode, defaultUnitCode))
	b.amount(el, "cbc:LineExtensionAmount", l.Taxable)

	alt := el.CreateElement("cac:PricingReference").CreateElement("cac:AlternativeConditionPrice")
	if free {
		b.price(alt, "cbc:PriceAmount", l.UnitValue)
		text(alt, "cbc:PriceTypeCode", priceTypeFree)
	} else {
		b.price(alt, "cbc:PriceAmount", l.UnitPrice)
		text(alt, "cbc:PriceTypeCode", priceTypeOnerous)
	}

	tt := el.CreateElement("cac:TaxTotal")
	b.amount(tt, "cbc:TaxAmount", l.TaxAmount)
	st := tt.CreateElement("cac:TaxSubtotal")
	b.amount(st, "cbc:TaxableAmount", l.Taxable)
	b.amount(st, "cbc:TaxAmount", l.TaxAmount)
	cat := st.CreateElement("cac:TaxCategory")
	percent := l.TaxPercent
	if category == model.CategoryTaxed && percent.IsZero() {
		percent = dec.DefaultIGVRate
	}
	text(cat, "cbc:Percent", dec.FormatAmount(percent))
	text(cat, "cbc:TaxExemptionReasonCode", l.Affectation)
	b.taxScheme(cat, scheme)

	item := el.CreateElement("cac:Item")
	text(item, "cbc:Description", l.Description)
	text(item.CreateElement("cac:SellersItemIdentification"), "cbc:ID", orDefault(l.ProductCode, strconv.Itoa(n)))

	unitValue := l.UnitValue
	if free {
		unitValue = dec.Zero
	}
	b.price(el.CreateElement("cac:Price"), "cbc:PriceAmount", unitValue)
	return nil
}

// validateTotals checks totals exist and match the line sums within rounding
func validateTotals(doc *model.TaxDocument) error {
	if len(doc.Lines) == 0 {
		return model.NewAssemblyError("lines", 0, "min=1", "document has no lines")
	}

	t := doc.Totals
	if !t.Total.IsPositive() && !t.Free.IsPositive() {
		return model.NewAssemblyError("totals.total", t.Total.String(), "required", "document total is missing")
	}

	var sums [5]decimal.Decimal
	tax := dec.Zero
	for i, l := range doc.Lines {
		if l.Description == "" {
			return model.NewAssemblyError(fmt.Sprintf("lines[%d].description", i), nil, "required", "line has no description")
		}
		if !l.Quantity.IsPositive() {
			return model.NewAssemblyError(fmt.Sprintf("lines[%d].quantity", i), l.Quantity.String(), "gt=0", "line quantity must be positive")
		}
		c := model.AffectationCategory(l.Affectation)
		if c == model.CategoryUnknown {
			return model.NewAssemblyError(fmt.Sprintf("lines[%d].affectation", i), l.Affectation, "catalog07", "unknown tax affectation code")
		}
		sums[c] = sums[c].Add(l.Taxable)
		tax = tax.Add(l.TaxAmount)
	}

	checks := []struct {
		field string
		lines decimal.Decimal
		total decimal.Decimal
	}{
		{"totals.taxed", sums[model.CategoryTaxed], t.Taxed},
		{"totals.exempt", sums[model.CategoryExempt], t.Exempt},
		{"totals.unaffected", sums[model.CategoryUnaffected], t.Unaffected},
		{"totals.free", sums[model.CategoryFree], t.Free},
		{"totals.tax", tax, t.Tax},
		{"totals.total", t.LineExtension().Add(t.Tax), t.Total},
	}
	for _, c := range checks {
		if !dec.WithinTolerance(c.lines, c.total) {
			return model.NewAssemblyError(c.field, c.total.String(), "consistent",
				fmt.Sprintf("does not match line sum %s", dec.FormatAmount(c.lines)))
		}
	}
	return nil
}
