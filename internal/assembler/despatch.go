package assembler

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	dec "github.com/rezonia/cpe-emitter/internal/decimal"
	"github.com/rezonia/cpe-emitter/internal/model"
)

const (
	transportPublic  = "01"
	transportPrivate = "02"
)

// buildDespatch renders a dispatch advice (09)
func buildDespatch(b *builder, k Kind, doc *model.TaxDocument) error {
	s := doc.Shipment
	if s == nil {
		return model.NewAssemblyError("shipment", nil, "required", "dispatch advice needs shipment details")
	}
	if doc.Counterparty == nil {
		return model.NewAssemblyError("counterparty", nil, "required", "dispatch advice needs a recipient")
	}
	if len(doc.Lines) == 0 {
		return model.NewAssemblyError("lines", 0, "min=1", "document has no lines")
	}
	mode := orDefault(s.TransportMode, transportPrivate)
	if mode == transportPublic && s.Carrier == nil {
		return model.NewAssemblyError("shipment.carrier", nil, "required", "public transport needs a carrier")
	}
	if mode == transportPrivate && s.Driver == nil {
		return model.NewAssemblyError("shipment.driver", nil, "required", "private transport needs a driver")
	}

	b.header("2.1", "2.0", doc.Number())
	text(b.root, "cbc:IssueDate", b.date(doc.IssueDate))
	text(b.root, "cbc:IssueTime", b.clock(doc.IssueDate))
	tc := text(b.root, "cbc:DespatchAdviceTypeCode", k.Code)
	tc.CreateAttr("listAgencyName", "PE:SUNAT")
	tc.CreateAttr("listName", "Tipo de Documento")
	tc.CreateAttr("listURI", "urn:pe:gob:sunat:cpe:see:gem:catalogos:catalogo01")
	text(b.root, "cbc:Note", orDefault(s.Description, "Traslado de bienes"))

	if s.Related != nil {
		ar := b.root.CreateElement("cac:AdditionalDocumentReference")
		text(ar, "cbc:ID", s.Related.ID())
		text(ar, "cbc:DocumentTypeCode", string(s.Related.Type))
	}

	b.signatureBlock(doc.Emitter)

	dp := b.root.CreateElement("cac:DespatchSupplierParty").CreateElement("cac:Party")
	supplierID := text(dp.CreateElement("cac:PartyIdentification"), "cbc:ID", doc.Emitter.TaxID())
	supplierID.CreateAttr("schemeID", "6")
	text(dp.CreateElement("cac:PartyLegalEntity"), "cbc:RegistrationName", doc.Emitter.Party.LegalName)

	dc := b.root.CreateElement("cac:DeliveryCustomerParty").CreateElement("cac:Party")
	customerID := text(dc.CreateElement("cac:PartyIdentification"), "cbc:ID", doc.Counterparty.IdentityNumber)
	customerID.CreateAttr("schemeID", identityType(doc.Counterparty.IdentityType))
	text(dc.CreateElement("cac:PartyLegalEntity"), "cbc:RegistrationName", doc.Counterparty.LegalName)

	b.shipment(s, mode)

	for i, l := range doc.Lines {
		if l.Description == "" {
			return model.NewAssemblyError(fmt.Sprintf("lines[%d].description", i), nil, "required", "line has no description")
		}
		el := b.root.CreateElement("cac:DespatchLine")
		text(el, "cbc:ID", strconv.Itoa(i+1))
		qty := text(el, "cbc:DeliveredQuantity", dec.FormatQuantity(l.Quantity))
		qty.CreateAttr("unitCode", orDefault(l.UnitCode, defaultUnitCode))
		text(el.CreateElement("cac:OrderLineReference"), "cbc:LineID", strconv.Itoa(i+1))
		item := el.CreateElement("cac:Item")
		text(item, "cbc:Description", l.Description)
		if l.ProductCode != "" {
			text(item.CreateElement("cac:SellersItemIdentification"), "cbc:ID", l.ProductCode)
		}
	}
	return nil
}

func (b *builder) shipment(s *model.Shipment, mode string) {
	sh := b.root.CreateElement("cac:Shipment")
	text(sh, "cbc:ID", "SUNAT_Envio")
	hc := text(sh, "cbc:HandlingCode", orDefault(s.ReasonCode, "01"))
	hc.CreateAttr("listAgencyName", "PE:SUNAT")
	hc.CreateAttr("listName", "Motivo de traslado")
	hc.CreateAttr("listURI", "urn:pe:gob:sunat:cpe:see:gem:catalogos:catalogo20")
	if s.Description != "" {
		text(sh, "cbc:Information", s.Description)
	}
	gw := text(sh, "cbc:GrossWeightMeasure", dec.FormatWeight(s.GrossWeight))
	gw.CreateAttr("unitCode", orDefault(s.WeightUnit, "KGM"))
	packages := s.Packages
	if packages == 0 {
		packages = 1
	}
	text(sh, "cbc:TotalTransportHandlingUnitQuantity", strconv.Itoa(packages))

	stage := sh.CreateElement("cac:ShipmentStage")
	text(stage, "cbc:TransportModeCode", mode)
	text(stage.CreateElement("cac:TransitPeriod"), "cbc:StartDate", b.date(s.StartDate))

	if mode == transportPublic {
		carrier := stage.CreateElement("cac:CarrierParty")
		id := text(carrier.CreateElement("cac:PartyIdentification"), "cbc:ID", s.Carrier.IdentityNumber)
		id.CreateAttr("schemeID", orDefault(s.Carrier.IdentityType, "6"))
		text(carrier.CreateElement("cac:PartyLegalEntity"), "cbc:RegistrationName", s.Carrier.LegalName)
	}
	if s.Driver != nil {
		driver := stage.CreateElement("cac:DriverPerson")
		id := text(driver, "cbc:ID", s.Driver.IdentityNumber)
		id.CreateAttr("schemeID", orDefault(s.Driver.IdentityType, "1"))
		text(driver, "cbc:FirstName", s.Driver.Name)
		text(driver, "cbc:JobTitle", "Principal")
		if s.Driver.License != "" {
			text(driver.CreateElement("cac:IdentityDocumentReference"), "cbc:ID", s.Driver.License)
		}
	}
	if s.VehiclePlate != "" {
		text(stage.CreateElement("cac:TransportMeans").CreateElement("cac:RoadTransport"), "cbc:LicensePlateID", s.VehiclePlate)
	}

	delivery := sh.CreateElement("cac:Delivery")
	address(delivery.CreateElement("cac:DeliveryAddress"), s.Delivery)
	address(sh.CreateElement("cac:OriginAddress"), s.Origin)
}

func address(el *etree.Element, a model.Address) {
	text(el, "cbc:ID", orDefault(a.Ubigeo, defaultUbigeo))
	text(el.CreateElement("cac:AddressLine"), "cbc:Line", a.Street)
}
