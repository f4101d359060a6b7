package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/cpe-emitter/internal/model"
)

// EmitterRecord is a taxpayer with its portal and signing credentials
type EmitterRecord struct {
	ID                  int64  `gorm:"primaryKey"`
	TaxID               string `gorm:"size:11;uniqueIndex"`
	LegalName           string `gorm:"size:255;not null"`
	TradeName           string `gorm:"size:255"`
	Ubigeo              string `gorm:"size:6"`
	Street              string `gorm:"size:255"`
	District            string `gorm:"size:100"`
	Province            string `gorm:"size:100"`
	Department          string `gorm:"size:100"`
	PortalUser          string `gorm:"size:50"`
	PortalSecret        string `gorm:"size:100"`
	CertificatePath     string `gorm:"size:500"`
	CertificatePassword string `gorm:"size:100"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (EmitterRecord) TableName() string { return "emitters" }

// SeriesRecord is the numbering counter of one document series
type SeriesRecord struct {
	ID           int64  `gorm:"primaryKey"`
	EmitterID    int64  `gorm:"not null;uniqueIndex:ux_series_code"`
	DocumentType string `gorm:"size:2;not null;uniqueIndex:ux_series_code"`
	Code         string `gorm:"size:4;not null;uniqueIndex:ux_series_code"`
	NextValue    int64  `gorm:"not null;default:1"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (SeriesRecord) TableName() string { return "series" }

// DocumentRecord is a TaxDocument row. Counterparty and reference columns are flattened.
type DocumentRecord struct {
	ID        int64      `gorm:"primaryKey"`
	EmitterID int64      `gorm:"not null;uniqueIndex:ux_document_number"`
	SeriesID  int64      `gorm:"not null;index"`
	Type      string     `gorm:"size:2;not null;uniqueIndex:ux_document_number"`
	Series    string     `gorm:"size:4;not null;uniqueIndex:ux_document_number"`
	Sequence  int64      `gorm:"not null;uniqueIndex:ux_document_number"`
	IssueDate time.Time  `gorm:"not null;index"`
	DueDate   *time.Time
	Currency  string     `gorm:"size:3;not null;default:PEN"`

	CustomerIdentityType   string `gorm:"size:1"`
	CustomerIdentityNumber string `gorm:"size:20"`
	CustomerName           string `gorm:"size:255"`
	CustomerStreet         string `gorm:"size:255"`
	CustomerUbigeo         string `gorm:"size:6"`

	TotalTaxed      decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	TotalExempt     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	TotalUnaffected decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	TotalFree       decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	TotalTax        decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	Total           decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`

	PaymentMethod string              `gorm:"size:10;not null;default:CASH"`
	Installments  []model.Installment `gorm:"type:text;serializer:json"`

	ReferenceType     string `gorm:"size:2"`
	ReferenceSeries   string `gorm:"size:4"`
	ReferenceSequence int64
	ReasonCode        string `gorm:"size:2"`
	ReasonDescription string `gorm:"size:500"`

	Shipment *model.Shipment `gorm:"type:text;serializer:json"`

	State           string `gorm:"size:20;not null;index"`
	ArtifactName    string `gorm:"size:100"`
	ResponseCode    string `gorm:"size:10"`
	ResponseMessage string `gorm:"size:1000"`
	Digest          string `gorm:"size:100"`
	SubmittedAt     *time.Time
	Attempts        int `gorm:"not null;default:0"`

	Lines     []LineRecord `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DocumentRecord) TableName() string { return "documents" }

// LineRecord is one document line
type LineRecord struct {
	ID          int64           `gorm:"primaryKey"`
	DocumentID  int64           `gorm:"not null;index"`
	Number      int             `gorm:"not null"`
	ProductCode string          `gorm:"size:30"`
	Description string          `gorm:"size:500;not null"`
	UnitCode    string          `gorm:"size:5"`
	Quantity    decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	UnitValue   decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	Affectation string          `gorm:"size:2;not null"`
	TaxPercent  decimal.Decimal `gorm:"type:numeric(5,2);not null"`
	Taxable     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	TaxAmount   decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Total       decimal.Decimal `gorm:"type:numeric(14,2);not null"`
}

func (LineRecord) TableName() string { return "document_lines" }

// BatchRecord is a daily summary or void communication
type BatchRecord struct {
	ID              int64             `gorm:"primaryKey"`
	Correlator      string            `gorm:"size:36;uniqueIndex"`
	Kind            string            `gorm:"size:10;not null;uniqueIndex:ux_batch_identifier,priority:2"`
	EmitterID       int64             `gorm:"not null;uniqueIndex:ux_batch_identifier,priority:1"`
	Identifier      string            `gorm:"size:30;not null;uniqueIndex:ux_batch_identifier,priority:3"`
	ReferenceDate   time.Time         `gorm:"not null"`
	IssueDate       time.Time         `gorm:"not null"`
	ArtifactName    string            `gorm:"size:100"`
	Ticket          string            `gorm:"size:50;index"`
	State           string            `gorm:"size:20;not null"`
	StatusCode      string            `gorm:"size:10"`
	ResponseCode    string            `gorm:"size:10"`
	ResponseMessage string            `gorm:"size:1000"`
	Lines           []BatchLineRecord `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (BatchRecord) TableName() string { return "batches" }

// BatchLineRecord links a document to a batch
type BatchLineRecord struct {
	ID         int64  `gorm:"primaryKey"`
	BatchID    int64  `gorm:"not null;uniqueIndex:ux_batch_line"`
	LineNumber int    `gorm:"not null;uniqueIndex:ux_batch_line"`
	DocumentID int64  `gorm:"not null;index"`
	Condition  int    `gorm:"not null;default:0"`
	Reason     string `gorm:"size:500"`
}

func (BatchLineRecord) TableName() string { return "batch_lines" }

// Models lists every table, in migration order
func Models() []interface{} {
	return []interface{}{
		&EmitterRecord{},
		&SeriesRecord{},
		&DocumentRecord{},
		&LineRecord{},
		&BatchRecord{},
		&BatchLineRecord{},
	}
}

func (r *EmitterRecord) toModel() *model.Emitter {
	return &model.Emitter{
		ID: r.ID,
		Party: model.Party{
			IdentityType:   "6",
			IdentityNumber: r.TaxID,
			LegalName:      r.LegalName,
			TradeName:      r.TradeName,
			Address: model.Address{
				Ubigeo:     r.Ubigeo,
				Street:     r.Street,
				District:   r.District,
				Province:   r.Province,
				Department: r.Department,
				Country:    "PE",
			},
		},
		PortalUser:          r.PortalUser,
		PortalSecret:        r.PortalSecret,
		CertificatePath:     r.CertificatePath,
		CertificatePassword: r.CertificatePassword,
	}
}

func emitterRecord(e *model.Emitter) *EmitterRecord {
	a := e.Party.Address
	return &EmitterRecord{
		ID:                  e.ID,
		TaxID:               e.TaxID(),
		LegalName:           e.Party.LegalName,
		TradeName:           e.Party.TradeName,
		Ubigeo:              a.Ubigeo,
		Street:              a.Street,
		District:            a.District,
		Province:            a.Province,
		Department:          a.Department,
		PortalUser:          e.PortalUser,
		PortalSecret:        e.PortalSecret,
		CertificatePath:     e.CertificatePath,
		CertificatePassword: e.CertificatePassword,
	}
}

func (r *DocumentRecord) toModel() *model.TaxDocument {
	doc := &model.TaxDocument{
		ID:        r.ID,
		Type:      model.DocumentType(r.Type),
		SeriesID:  r.SeriesID,
		Series:    r.Series,
		Sequence:  r.Sequence,
		IssueDate: r.IssueDate,
		DueDate:   r.DueDate,
		Currency:  r.Currency,
		Totals: model.Totals{
			Taxed:      r.TotalTaxed,
			Exempt:     r.TotalExempt,
			Unaffected: r.TotalUnaffected,
			Free:       r.TotalFree,
			Tax:        r.TotalTax,
			Total:      r.Total,
		},
		Payment: model.PaymentTerms{
			Method:       model.PaymentMethod(r.PaymentMethod),
			Installments: r.Installments,
		},
		ReasonCode:        r.ReasonCode,
		ReasonDescription: r.ReasonDescription,
		Shipment:          r.Shipment,
		State:             model.DocumentState(r.State),
		Submission: model.Submission{
			ArtifactName:    r.ArtifactName,
			ResponseCode:    r.ResponseCode,
			ResponseMessage: r.ResponseMessage,
			Digest:          r.Digest,
			SubmittedAt:     r.SubmittedAt,
			Attempts:        r.Attempts,
		},
	}
	if r.CustomerIdentityNumber != "" {
		doc.Counterparty = &model.Party{
			IdentityType:   r.CustomerIdentityType,
			IdentityNumber: r.CustomerIdentityNumber,
			LegalName:      r.CustomerName,
			Address: model.Address{
				Street: r.CustomerStreet,
				Ubigeo: r.CustomerUbigeo,
			},
		}
	}
	if r.ReferenceType != "" {
		doc.Reference = &model.DocumentReference{
			Type:     model.DocumentType(r.ReferenceType),
			Series:   r.ReferenceSeries,
			Sequence: r.ReferenceSequence,
		}
	}
	for _, l := range r.Lines {
		doc.Lines = append(doc.Lines, model.Line{
			Number:      l.Number,
			ProductCode: l.ProductCode,
			Description: l.Description,
			UnitCode:    l.UnitCode,
			Quantity:    l.Quantity,
			UnitValue:   l.UnitValue,
			UnitPrice:   l.UnitPrice,
			Affectation: l.Affectation,
			TaxPercent:  l.TaxPercent,
			Taxable:     l.Taxable,
			TaxAmount:   l.TaxAmount,
			Total:       l.Total,
		})
	}
	return doc
}

func documentRecord(doc *model.TaxDocument) *DocumentRecord {
	state := doc.State
	if state == "" {
		state = model.StatePending
	}
	r := &DocumentRecord{
		ID:                doc.ID,
		SeriesID:          doc.SeriesID,
		Type:              string(doc.Type),
		Series:            doc.Series,
		Sequence:          doc.Sequence,
		IssueDate:         doc.IssueDate.UTC(),
		DueDate:           doc.DueDate,
		Currency:          doc.Currency,
		TotalTaxed:        doc.Totals.Taxed,
		TotalExempt:       doc.Totals.Exempt,
		TotalUnaffected:   doc.Totals.Unaffected,
		TotalFree:         doc.Totals.Free,
		TotalTax:          doc.Totals.Tax,
		Total:             doc.Totals.Total,
		PaymentMethod:     string(doc.Payment.Method),
		Installments:      doc.Payment.Installments,
		ReasonCode:        doc.ReasonCode,
		ReasonDescription: doc.ReasonDescription,
		Shipment:          doc.Shipment,
		State:             string(state),
		ArtifactName:      doc.Submission.ArtifactName,
		ResponseCode:      doc.Submission.ResponseCode,
		ResponseMessage:   doc.Submission.ResponseMessage,
		Digest:            doc.Submission.Digest,
		SubmittedAt:       doc.Submission.SubmittedAt,
		Attempts:          doc.Submission.Attempts,
	}
	if doc.Emitter != nil {
		r.EmitterID = doc.Emitter.ID
	}
	if r.Currency == "" {
		r.Currency = "PEN"
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = string(model.PaymentCash)
	}
	if c := doc.Counterparty; c != nil {
		r.CustomerIdentityType = c.IdentityType
		r.CustomerIdentityNumber = c.IdentityNumber
		r.CustomerName = c.LegalName
		r.CustomerStreet = c.Address.Street
		r.CustomerUbigeo = c.Address.Ubigeo
	}
	if ref := doc.Reference; ref != nil {
		r.ReferenceType = string(ref.Type)
		r.ReferenceSeries = ref.Series
		r.ReferenceSequence = ref.Sequence
	}
	for i, l := range doc.Lines {
		number := l.Number
		if number == 0 {
			number = i + 1
		}
		r.Lines = append(r.Lines, LineRecord{
			Number:      number,
			ProductCode: l.ProductCode,
			Description: l.Description,
			UnitCode:    l.UnitCode,
			Quantity:    l.Quantity,
			UnitValue:   l.UnitValue,
			UnitPrice:   l.UnitPrice,
			Affectation: l.Affectation,
			TaxPercent:  l.TaxPercent,
			Taxable:     l.Taxable,
			TaxAmount:   l.TaxAmount,
			Total:       l.Total,
		})
	}
	return r
}

func (r *BatchRecord) toModel() *model.BatchSubmission {
	b := &model.BatchSubmission{
		ID:              r.ID,
		Correlator:      r.Correlator,
		Kind:            model.BatchKind(r.Kind),
		EmitterID:       r.EmitterID,
		Identifier:      r.Identifier,
		ReferenceDate:   r.ReferenceDate,
		IssueDate:       r.IssueDate,
		ArtifactName:    r.ArtifactName,
		Ticket:          r.Ticket,
		State:           model.BatchState(r.State),
		StatusCode:      r.StatusCode,
		ResponseCode:    r.ResponseCode,
		ResponseMessage: r.ResponseMessage,
	}
	for _, l := range r.Lines {
		b.Lines = append(b.Lines, model.BatchLine{
			LineNumber: l.LineNumber,
			DocumentID: l.DocumentID,
			Condition:  model.LineCondition(l.Condition),
			Reason:     l.Reason,
		})
	}
	return b
}
