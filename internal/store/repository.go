package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rezonia/cpe-emitter/internal/model"
)

// CreateEmitter inserts an emitter and sets its ID
func (s *Store) CreateEmitter(ctx context.Context, e *model.Emitter) error {
	rec := emitterRecord(e)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create emitter %s: %w", e.TaxID(), err)
	}
	e.ID = rec.ID
	return nil
}

// LoadEmitter returns the emitter with the given ID
func (s *Store) LoadEmitter(ctx context.Context, id int64) (*model.Emitter, error) {
	var rec EmitterRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err, "emitter", id)
	}
	return rec.toModel(), nil
}

// CreateSeries registers a numbering series starting at next
func (s *Store) CreateSeries(ctx context.Context, emitterID int64, docType model.DocumentType, code string, next int64) (*SeriesRecord, error) {
	if next < 1 {
		next = 1
	}
	rec := &SeriesRecord{EmitterID: emitterID, DocumentType: string(docType), Code: code, NextValue: next}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create series %s: %w", code, err)
	}
	return rec, nil
}

// LoadSeries returns the series counter with the given ID
func (s *Store) LoadSeries(ctx context.Context, id int64) (*SeriesRecord, error) {
	var rec SeriesRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err, "series", id)
	}
	return &rec, nil
}

// ReserveNextSequence increments the series counter and returns the value it held.
// The increment and the read back run in one transaction.
func (s *Store) ReserveNextSequence(ctx context.Context, seriesID int64) (int64, error) {
	var reserved int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&SeriesRecord{}).
			Where("id = ?", seriesID).
			Update("next_value", gorm.Expr("next_value + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("series %d: %w", seriesID, model.ErrNotFound)
		}

		var rec SeriesRecord
		if err := tx.Select("next_value").First(&rec, seriesID).Error; err != nil {
			return err
		}
		reserved = rec.NextValue - 1
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reserve sequence: %w", err)
	}
	return reserved, nil
}

// CreateDocument inserts a document with its lines. A zero Sequence gets a
// provisional number above both the series counter and every number already
// handed out in the series, so documents created before an acceptance never
// share one. The number is final only once the authority accepts it.
func (s *Store) CreateDocument(ctx context.Context, doc *model.TaxDocument) error {
	if doc.Emitter == nil {
		return model.NewValidationError("emitter", nil, "required", "document has no emitter")
	}
	if doc.SeriesID == 0 {
		return model.NewValidationError("series_id", nil, "required", "document has no series")
	}
	if doc.State == "" {
		doc.State = model.StatePending
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// writing the counter row locks it, which serializes numbering per series
		res := tx.Model(&SeriesRecord{}).
			Where("id = ?", doc.SeriesID).
			Update("updated_at", time.Now().UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("series %d: %w", doc.SeriesID, model.ErrNotFound)
		}
		var series SeriesRecord
		if err := tx.First(&series, doc.SeriesID).Error; err != nil {
			return err
		}
		if series.EmitterID != doc.Emitter.ID {
			return model.NewValidationError("series_id", doc.SeriesID, "emitter", "series belongs to another emitter")
		}
		if doc.Series == "" {
			doc.Series = series.Code
		}
		if doc.Type == "" {
			doc.Type = model.DocumentType(series.DocumentType)
		}
		if string(doc.Type) != series.DocumentType || doc.Series != series.Code {
			return model.NewValidationError("series", doc.Series, "match", "document type and series differ from the series record")
		}

		numbered := tx.Model(&DocumentRecord{}).
			Where("emitter_id = ? AND type = ? AND series = ?", doc.Emitter.ID, string(doc.Type), doc.Series)
		if doc.Sequence == 0 {
			var highest int64
			if err := numbered.Select("COALESCE(MAX(sequence), 0)").Scan(&highest).Error; err != nil {
				return err
			}
			doc.Sequence = max(series.NextValue, highest+1)
		} else {
			var taken int64
			if err := numbered.Where("sequence = ?", doc.Sequence).Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				return &model.DuplicateError{Entity: "document", Key: doc.Number()}
			}
		}

		rec := documentRecord(doc)
		if err := tx.Create(rec).Error; err != nil {
			if isDuplicate(err) {
				return &model.DuplicateError{Entity: "document", Key: doc.Number()}
			}
			return err
		}
		doc.ID = rec.ID
		return nil
	})
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.Number(), err)
	}
	return nil
}

// LoadDocument returns the document with its emitter and lines
func (s *Store) LoadDocument(ctx context.Context, id int64) (*model.TaxDocument, error) {
	var rec DocumentRecord
	err := s.db.WithContext(ctx).
		Preload("Lines", orderBy("number")).
		First(&rec, id).Error
	if err != nil {
		return nil, notFound(err, "document", id)
	}
	doc := rec.toModel()
	if doc.Emitter, err = s.LoadEmitter(ctx, rec.EmitterID); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocumentState applies the non-empty fields of u
func (s *Store) UpdateDocumentState(ctx context.Context, id int64, u model.DocumentUpdate) error {
	return s.updateDocument(s.db.WithContext(ctx), id, u)
}

func (s *Store) updateDocument(tx *gorm.DB, id int64, u model.DocumentUpdate) error {
	fields := documentFields(u)
	if len(fields) == 0 {
		return nil
	}
	res := tx.Model(&DocumentRecord{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update document %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %d: %w", id, model.ErrNotFound)
	}
	return nil
}

func documentFields(u model.DocumentUpdate) map[string]interface{} {
	fields := map[string]interface{}{}
	if u.State != "" {
		fields["state"] = string(u.State)
	}
	if u.ArtifactName != "" {
		fields["artifact_name"] = u.ArtifactName
	}
	if u.ResponseCode != "" {
		fields["response_code"] = u.ResponseCode
	}
	if u.ResponseMessage != "" {
		fields["response_message"] = u.ResponseMessage
	}
	if u.Digest != "" {
		fields["digest"] = u.Digest
	}
	if u.SubmittedAt != nil {
		fields["submitted_at"] = *u.SubmittedAt
	}
	if u.IncrementAttempts {
		fields["attempts"] = gorm.Expr("attempts + 1")
	}
	return fields
}

// FindSummaryCandidates lists the emitter's receipts, and notes on receipts, issued in
// [from, to) that have not been accepted yet
func (s *Store) FindSummaryCandidates(ctx context.Context, emitterID int64, from, to time.Time) ([]*model.TaxDocument, error) {
	var recs []DocumentRecord
	err := s.db.WithContext(ctx).
		Preload("Lines", orderBy("number")).
		Where("emitter_id = ?", emitterID).
		Where("state IN ?", []string{string(model.StatePending), string(model.StateRejected)}).
		Where("issue_date >= ? AND issue_date < ?", from.UTC(), to.UTC()).
		Where("(type = ? OR (type IN ? AND reference_type = ?))",
			string(model.TypeReceipt),
			[]string{string(model.TypeCreditNote), string(model.TypeDebitNote)},
			string(model.TypeReceipt)).
		Order("type, series, sequence").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("find summary candidates: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	emitter, err := s.LoadEmitter(ctx, emitterID)
	if err != nil {
		return nil, err
	}
	docs := make([]*model.TaxDocument, 0, len(recs))
	for i := range recs {
		doc := recs[i].toModel()
		doc.Emitter = emitter
		docs = append(docs, doc)
	}
	return docs, nil
}

// CreateBatch inserts the batch header and any lines it already carries.
// An identifier already used by the emitter for the same kind fails with
// *model.DuplicateError.
func (s *Store) CreateBatch(ctx context.Context, b *model.BatchSubmission) error {
	if b.Emitter != nil && b.EmitterID == 0 {
		b.EmitterID = b.Emitter.ID
	}
	if b.State == "" {
		b.State = model.BatchPending
	}
	rec := &BatchRecord{
		Correlator:      b.Correlator,
		Kind:            string(b.Kind),
		EmitterID:       b.EmitterID,
		Identifier:      b.Identifier,
		ReferenceDate:   b.ReferenceDate.UTC(),
		IssueDate:       b.IssueDate.UTC(),
		ArtifactName:    b.ArtifactName,
		Ticket:          b.Ticket,
		State:           string(b.State),
		StatusCode:      b.StatusCode,
		ResponseCode:    b.ResponseCode,
		ResponseMessage: b.ResponseMessage,
	}
	for _, l := range b.Lines {
		rec.Lines = append(rec.Lines, batchLineRecord(0, l))
	}
	duplicate := &model.DuplicateError{Entity: "batch", Key: b.Identifier}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		err := tx.Model(&BatchRecord{}).
			Where("emitter_id = ? AND kind = ? AND identifier = ?", rec.EmitterID, rec.Kind, rec.Identifier).
			Count(&taken).Error
		if err != nil {
			return err
		}
		if taken > 0 {
			return duplicate
		}
		if err := tx.Create(rec).Error; err != nil {
			if isDuplicate(err) {
				return duplicate
			}
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create batch %s: %w", b.Identifier, err)
	}
	b.ID = rec.ID
	return nil
}

// AppendBatchLine adds one document to a batch
func (s *Store) AppendBatchLine(ctx context.Context, batchID int64, line model.BatchLine) error {
	rec := batchLineRecord(batchID, line)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append line %d to batch %d: %w", line.LineNumber, batchID, err)
	}
	return nil
}

func batchLineRecord(batchID int64, l model.BatchLine) BatchLineRecord {
	return BatchLineRecord{
		BatchID:    batchID,
		LineNumber: l.LineNumber,
		DocumentID: l.DocumentID,
		Condition:  int(l.Condition),
		Reason:     l.Reason,
	}
}

// LoadBatch returns the batch with its emitter, lines and contained documents
func (s *Store) LoadBatch(ctx context.Context, id int64) (*model.BatchSubmission, error) {
	var rec BatchRecord
	err := s.db.WithContext(ctx).
		Preload("Lines", orderBy("line_number")).
		First(&rec, id).Error
	if err != nil {
		return nil, notFound(err, "batch", id)
	}
	b := rec.toModel()
	if b.Emitter, err = s.LoadEmitter(ctx, rec.EmitterID); err != nil {
		return nil, err
	}
	if len(b.Lines) == 0 {
		return b, nil
	}

	ids := make([]int64, 0, len(b.Lines))
	for _, l := range b.Lines {
		ids = append(ids, l.DocumentID)
	}
	var docs []DocumentRecord
	err = s.db.WithContext(ctx).
		Preload("Lines", orderBy("number")).
		Where("id IN ?", ids).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("load batch %d documents: %w", id, err)
	}
	byID := make(map[int64]*model.TaxDocument, len(docs))
	for i := range docs {
		doc := docs[i].toModel()
		doc.Emitter = b.Emitter
		byID[doc.ID] = doc
	}
	for i := range b.Lines {
		doc, ok := byID[b.Lines[i].DocumentID]
		if !ok {
			return nil, fmt.Errorf("batch %d line %d document %d: %w", id, b.Lines[i].LineNumber, b.Lines[i].DocumentID, model.ErrNotFound)
		}
		b.Lines[i].Document = doc
	}
	return b, nil
}

// UpdateBatch applies the non-empty fields of u
func (s *Store) UpdateBatch(ctx context.Context, id int64, u model.BatchUpdate) error {
	fields := batchFields(u)
	if len(fields) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&BatchRecord{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update batch %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("batch %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// ResolveBatch settles a pending batch and its documents in one transaction.
// It returns false without touching anything when the batch was already resolved.
func (s *Store) ResolveBatch(ctx context.Context, id int64, u model.BatchUpdate, documents map[int64]model.DocumentUpdate) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BatchRecord{}).
			Where("id = ? AND state = ?", id, string(model.BatchPending)).
			Updates(batchFields(u))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&BatchRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("batch %d: %w", id, model.ErrNotFound)
			}
			return nil
		}

		for docID, du := range documents {
			if err := s.updateDocument(tx, docID, du); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("resolve batch: %w", err)
	}
	if !applied {
		s.log.Debug("batch already resolved", zap.Int64("batch_id", id))
	}
	return applied, nil
}

func batchFields(u model.BatchUpdate) map[string]interface{} {
	fields := map[string]interface{}{}
	if u.State != "" {
		fields["state"] = string(u.State)
	}
	if u.Ticket != "" {
		fields["ticket"] = u.Ticket
	}
	if u.StatusCode != "" {
		fields["status_code"] = u.StatusCode
	}
	if u.ResponseCode != "" {
		fields["response_code"] = u.ResponseCode
	}
	if u.ResponseMessage != "" {
		fields["response_message"] = u.ResponseMessage
	}
	return fields
}

// CountBatches counts the emitter's batches of a kind whose identifier carries date
func (s *Store) CountBatches(ctx context.Context, emitterID int64, kind model.BatchKind, date time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&BatchRecord{}).
		Where("emitter_id = ? AND kind = ?", emitterID, string(kind)).
		Where("identifier LIKE ?", model.BatchIdentifierPrefix(kind, date)+"%").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return int(count), nil
}

func orderBy(column string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(column)
	}
}

// isDuplicate recognises unique violations. Postgres errors arrive translated;
// the sqlite driver only reports them in the message.
func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error, entity string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", entity, id, model.ErrNotFound)
	}
	return fmt.Errorf("load %s %d: %w", entity, id, err)
}
