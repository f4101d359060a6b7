package model

import (
	"time"

	"github.com/shopspring/decimal"

	dec "github.com/rezonia/cpe-emitter/internal/decimal"
)

// DocumentType is the authority's catalog 01 code
type DocumentType string

const (
	TypeInvoice        DocumentType = "01"
	TypeReceipt        DocumentType = "03"
	TypeCreditNote     DocumentType = "07"
	TypeDebitNote      DocumentType = "08"
	TypeDespatchAdvice DocumentType = "09"
)

// IsNote reports whether the type modifies another document
func (t DocumentType) IsNote() bool {
	return t == TypeCreditNote || t == TypeDebitNote
}

// Voidable reports whether the type may be listed in a void communication
func (t DocumentType) Voidable() bool {
	switch t {
	case TypeInvoice, TypeCreditNote, TypeDebitNote:
		return true
	default:
		return false
	}
}

// DocumentState is the lifecycle state of a TaxDocument
type DocumentState string

const (
	StatePending     DocumentState = "PENDING"
	StateInTransit   DocumentState = "IN_TRANSIT"
	StateAccepted    DocumentState = "ACCEPTED"
	StateRejected    DocumentState = "REJECTED"
	StateVoidPending DocumentState = "VOID_PENDING"
	StateVoided      DocumentState = "VOIDED"
)

// Submittable reports whether a fresh submission may start from the state
func (s DocumentState) Submittable() bool {
	return s == StatePending || s == StateRejected
}

// Address is a postal address with its ubigeo code
type Address struct {
	Ubigeo     string `json:"ubigeo,omitempty"`
	Street     string `json:"street,omitempty"`
	District   string `json:"district,omitempty"`
	Province   string `json:"province,omitempty"`
	Department string `json:"department,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Party identifies a legal or natural person by catalog 06 identity type
type Party struct {
	IdentityType   string  `json:"identity_type"`
	IdentityNumber string  `json:"identity_number"`
	LegalName      string  `json:"legal_name"`
	TradeName      string  `json:"trade_name,omitempty"`
	Address        Address `json:"address"`
}

// Credentials authenticate an emitter against the authority's services
type Credentials struct {
	TaxID        string `json:"-"`
	PortalUser   string `json:"-"`
	PortalSecret string `json:"-"`
}

// Username is the tax id concatenated with the portal user
func (c Credentials) Username() string {
	return c.TaxID + c.PortalUser
}

// Emitter is the taxpayer issuing documents
type Emitter struct {
	ID                  int64  `json:"id"`
	Party               Party  `json:"party"`
	PortalUser          string `json:"-"`
	PortalSecret        string `json:"-"`
	CertificatePath     string `json:"-"`
	CertificatePassword string `json:"-"`
}

// TaxID returns the emitter's RUC
func (e *Emitter) TaxID() string {
	return e.Party.IdentityNumber
}

// Credentials returns the portal credentials of the emitter
func (e *Emitter) Credentials() Credentials {
	return Credentials{
		TaxID:        e.TaxID(),
		PortalUser:   e.PortalUser,
		PortalSecret: e.PortalSecret,
	}
}

// Line is one document line
type Line struct {
	Number      int             `json:"number"`
	ProductCode string          `json:"product_code,omitempty"`
	Description string          `json:"description"`
	UnitCode    string          `json:"unit_code"`
	Quantity    decimal.Decimal `json:"quantity"`
	// UnitValue excludes tax, UnitPrice includes it
	UnitValue   decimal.Decimal `json:"unit_value"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Affectation string          `json:"affectation"`
	TaxPercent  decimal.Decimal `json:"tax_percent"`
	Taxable     decimal.Decimal `json:"taxable"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Total       decimal.Decimal `json:"total"`
}

// Calculate derives taxable amount, tax and total from quantity and unit value.
// A taxed line given only its tax-inclusive unit price gets its unit value
// from that price first.
func (l *Line) Calculate() {
	if l.UnitValue.IsZero() && l.UnitPrice.IsPositive() && IsTaxedAffectation(l.Affectation) {
		l.UnitValue = dec.UnitValueFromPrice(l.UnitPrice, l.TaxPercent)
	}
	l.Taxable = dec.Mul(l.Quantity, l.UnitValue)
	if IsTaxedAffectation(l.Affectation) {
		l.TaxAmount = dec.CalculateIGV(l.Taxable, l.TaxPercent)
	} else {
		l.TaxAmount = dec.Zero
	}
	l.Total = l.Taxable.Add(l.TaxAmount)
	if l.Quantity.IsPositive() {
		l.UnitPrice = l.Total.Div(l.Quantity).Round(6)
	}
}

// Totals holds the per-category document totals
type Totals struct {
	Taxed      decimal.Decimal `json:"taxed"`
	Exempt     decimal.Decimal `json:"exempt"`
	Unaffected decimal.Decimal `json:"unaffected"`
	Free       decimal.Decimal `json:"free"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
}

// LineExtension is the sum of the priced categories
func (t Totals) LineExtension() decimal.Decimal {
	return t.Taxed.Add(t.Exempt).Add(t.Unaffected)
}

// PaymentMethod distinguishes cash from credit sales
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentCredit PaymentMethod = "CREDIT"
)

// Installment is one credit payment
type Installment struct {
	Number  int             `json:"number"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate time.Time       `json:"due_date"`
}

// PaymentTerms describes how the document is paid
type PaymentTerms struct {
	Method       PaymentMethod `json:"method"`
	Installments []Installment `json:"installments,omitempty"`
}

// DocumentReference points at the document a note modifies
type DocumentReference struct {
	Type     DocumentType `json:"type"`
	Series   string       `json:"series"`
	Sequence int64        `json:"sequence"`
}

// ID renders the referenced series-sequence identifier
func (r DocumentReference) ID() string {
	return SeriesNumber(r.Series, r.Sequence)
}

// Driver is the vehicle driver of a private transport
type Driver struct {
	IdentityType   string `json:"identity_type"`
	IdentityNumber string `json:"identity_number"`
	Name           string `json:"name"`
	License        string `json:"license,omitempty"`
}

// Shipment carries dispatch advice specifics
type Shipment struct {
	ReasonCode    string             `json:"reason_code"`
	Description   string             `json:"description,omitempty"`
	TransportMode string             `json:"transport_mode"`
	GrossWeight   decimal.Decimal    `json:"gross_weight"`
	WeightUnit    string             `json:"weight_unit,omitempty"`
	Packages      int                `json:"packages,omitempty"`
	StartDate     time.Time          `json:"start_date"`
	Origin        Address            `json:"origin"`
	Delivery      Address            `json:"delivery"`
	Carrier       *Party             `json:"carrier,omitempty"`
	Driver        *Driver            `json:"driver,omitempty"`
	VehiclePlate  string             `json:"vehicle_plate,omitempty"`
	Related       *DocumentReference `json:"related,omitempty"`
}

// Submission holds what the authority answered for a document
type Submission struct {
	ArtifactName    string     `json:"artifact_name,omitempty"`
	ResponseCode    string     `json:"response_code,omitempty"`
	ResponseMessage string     `json:"response_message,omitempty"`
	Digest          string     `json:"digest,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	Attempts        int        `json:"attempts"`
}

// TaxDocument is a fiscal document and its lifecycle metadata
type TaxDocument struct {
	ID           int64        `json:"id"`
	Emitter      *Emitter     `json:"emitter,omitempty"`
	Counterparty *Party       `json:"counterparty,omitempty"`
	Type         DocumentType `json:"type"`
	SeriesID     int64        `json:"series_id"`
	Series       string       `json:"series"`
	Sequence     int64        `json:"sequence"`
	IssueDate    time.Time    `json:"issue_date"`
	DueDate      *time.Time   `json:"due_date,omitempty"`
	Currency     string       `json:"currency"`
	Totals       Totals       `json:"totals"`
	Lines        []Line       `json:"lines"`
	Payment      PaymentTerms `json:"payment"`

	Reference         *DocumentReference `json:"reference,omitempty"`
	ReasonCode        string             `json:"reason_code,omitempty"`
	ReasonDescription string             `json:"reason_description,omitempty"`

	Shipment *Shipment `json:"shipment,omitempty"`

	State      DocumentState `json:"state"`
	Submission Submission    `json:"submission"`
}

// Number renders the series-sequence identifier, e.g. F001-00000001
func (d *TaxDocument) Number() string {
	return SeriesNumber(d.Series, d.Sequence)
}

// ArtifactName is the bit-exact file name of the document's artifacts
func (d *TaxDocument) ArtifactName() string {
	taxID := ""
	if d.Emitter != nil {
		taxID = d.Emitter.TaxID()
	}
	return DocumentArtifactName(taxID, d.Type, d.Series, d.Sequence)
}

// RecalculateTotals sums line amounts into the per-category totals
func (d *TaxDocument) RecalculateTotals() {
	t := Totals{}
	for _, l := range d.Lines {
		switch AffectationCategory(l.Affectation) {
		case CategoryTaxed:
			t.Taxed = t.Taxed.Add(l.Taxable)
		case CategoryExempt:
			t.Exempt = t.Exempt.Add(l.Taxable)
		case CategoryUnaffected:
			t.Unaffected = t.Unaffected.Add(l.Taxable)
		case CategoryFree:
			t.Free = t.Free.Add(l.Taxable)
		}
		t.Tax = t.Tax.Add(l.TaxAmount)
	}
	t.Total = t.LineExtension().Add(t.Tax)
	d.Totals = t
}

// DocumentUpdate lists the fields the lifecycle controller mutates.
// Empty strings and nil pointers leave the stored value unchanged.
type DocumentUpdate struct {
	State             DocumentState
	ArtifactName      string
	ResponseCode      string
	ResponseMessage   string
	Digest            string
	SubmittedAt       *time.Time
	IncrementAttempts bool
}
