package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/cpe-emitter/internal/assembler"
	"github.com/rezonia/cpe-emitter/internal/cdr"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/transport"
)

// SummaryRequest asks for a daily summary of an emitter's receipts.
// Without DocumentIDs the receipts of ReferenceDate still waiting for acceptance are used.
// Modifications lists accepted receipts informed again with corrected data.
type SummaryRequest struct {
	EmitterID     int64      `json:"emitter_id"`
	ReferenceDate time.Time  `json:"reference_date"`
	DocumentIDs   []int64    `json:"document_ids,omitempty"`
	Modifications []int64    `json:"modifications,omitempty"`
	Voids         []VoidLine `json:"voids,omitempty"`
}

// VoidLine names one document to annul
type VoidLine struct {
	DocumentID int64  `json:"document_id"`
	Reason     string `json:"reason,omitempty"`
}

// VoidRequest asks for a void communication of accepted invoices and notes
type VoidRequest struct {
	EmitterID int64      `json:"emitter_id"`
	Lines     []VoidLine `json:"lines"`
	// Reason applies to lines that carry none
	Reason string `json:"reason,omitempty"`
}

const errorStatusMessage = "authority reported an error for the ticket"

// SubmitSummary sends receipts in a daily summary: new ones with condition 1,
// corrections of accepted ones with condition 2 and voids with condition 3
func (c *Controller) SubmitSummary(ctx context.Context, req SummaryRequest) (*BatchOutcome, error) {
	if req.ReferenceDate.IsZero() {
		return nil, model.NewValidationError("reference_date", nil, "required", "summary needs a reference date")
	}
	emitter, err := c.repo.LoadEmitter(ctx, req.EmitterID)
	if err != nil {
		return nil, err
	}
	ref := c.day(req.ReferenceDate)

	var docs []*model.TaxDocument
	if len(req.DocumentIDs) == 0 {
		docs, err = c.repo.FindSummaryCandidates(ctx, emitter.ID, ref, ref.AddDate(0, 0, 1))
		if err != nil {
			return nil, err
		}
	} else {
		for _, id := range req.DocumentIDs {
			doc, err := c.repo.LoadDocument(ctx, id)
			if err != nil {
				return nil, err
			}
			if !doc.State.Submittable() {
				return nil, c.resubmitConflict(doc, "summarize")
			}
			docs = append(docs, doc)
		}
	}

	lines := make([]model.BatchLine, 0, len(docs)+len(req.Modifications)+len(req.Voids))
	seen := map[int64]bool{}
	add := func(doc *model.TaxDocument, cond model.LineCondition, reason string) error {
		field := fmt.Sprintf("lines[%d]", len(lines))
		if seen[doc.ID] {
			return model.NewValidationError(field+".document_id", doc.ID, "unique", "document is listed twice")
		}
		if err := checkOwner(field, emitter, doc); err != nil {
			return err
		}
		if !onReceipt(doc) {
			return model.NewValidationError(field+".type", doc.Type, "summary", "only receipts and their notes go in a daily summary")
		}
		if !c.day(doc.IssueDate).Equal(ref) {
			return model.NewValidationError(field+".issue_date", doc.IssueDate.Format("2006-01-02"), "reference_date", "document was not issued on the reference date")
		}
		seen[doc.ID] = true
		lines = append(lines, model.BatchLine{
			LineNumber: len(lines) + 1,
			DocumentID: doc.ID,
			Condition:  cond,
			Reason:     reason,
			Document:   doc,
		})
		return nil
	}

	for _, doc := range docs {
		if err := add(doc, model.ConditionAdd, ""); err != nil {
			return nil, err
		}
	}
	for _, id := range req.Modifications {
		doc, err := c.repo.LoadDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.State != model.StateAccepted {
			return nil, model.NewConflictError(doc.ID, doc.State, "modify", "only accepted receipts can be modified")
		}
		if err := add(doc, model.ConditionModify, ""); err != nil {
			return nil, err
		}
	}
	for _, v := range req.Voids {
		doc, err := c.repo.LoadDocument(ctx, v.DocumentID)
		if err != nil {
			return nil, err
		}
		if err := voidable(doc); err != nil {
			return nil, err
		}
		if err := add(doc, model.ConditionVoid, v.Reason); err != nil {
			return nil, err
		}
	}
	if len(lines) == 0 {
		return nil, model.NewValidationError("lines", 0, "min=1", "no receipts to summarize")
	}

	return c.submitBatch(ctx, model.BatchSummary, emitter, ref, c.day(c.now()), ref, lines)
}

// SubmitVoid sends a void communication. Receipts, and notes on receipts, are refused:
// they are voided with a daily summary line of condition 3.
func (c *Controller) SubmitVoid(ctx context.Context, req VoidRequest) (*BatchOutcome, error) {
	if len(req.Lines) == 0 {
		return nil, model.NewValidationError("lines", 0, "min=1", "void communication has no documents")
	}
	docs := make([]*model.TaxDocument, 0, len(req.Lines))
	for _, l := range req.Lines {
		doc, err := c.repo.LoadDocument(ctx, l.DocumentID)
		if err != nil {
			return nil, err
		}
		if onReceipt(doc) {
			return nil, model.ErrReceiptVoid(doc.ID, doc.State)
		}
		if !doc.Type.Voidable() {
			return nil, model.NewValidationError("type", doc.Type, "voidable", "document type cannot be voided by communication")
		}
		if err := voidable(doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	emitter, err := c.repo.LoadEmitter(ctx, req.EmitterID)
	if err != nil {
		return nil, err
	}
	ref := c.day(docs[0].IssueDate)
	seen := map[int64]bool{}
	lines := make([]model.BatchLine, 0, len(docs))
	for i, doc := range docs {
		field := fmt.Sprintf("lines[%d]", i)
		if seen[doc.ID] {
			return nil, model.NewValidationError(field+".document_id", doc.ID, "unique", "document is listed twice")
		}
		seen[doc.ID] = true
		if err := checkOwner(field, emitter, doc); err != nil {
			return nil, err
		}
		if !c.day(doc.IssueDate).Equal(ref) {
			return nil, model.NewValidationError(field+".issue_date", doc.IssueDate.Format("2006-01-02"), "same_day", "documents of one void communication must share their issue date")
		}
		reason := req.Lines[i].Reason
		if reason == "" {
			reason = req.Reason
		}
		lines = append(lines, model.BatchLine{
			LineNumber: i + 1,
			DocumentID: doc.ID,
			Reason:     reason,
			Document:   doc,
		})
	}

	issue := c.day(c.now())
	return c.submitBatch(ctx, model.BatchVoided, emitter, ref, issue, issue, lines)
}

// identifierAttempts bounds how many batch numbers submitBatch tries when a
// concurrent submission claims the one it counted
const identifierAttempts = 5

// submitBatch assembles, signs and sends a batch. idDate dates its identifier.
func (c *Controller) submitBatch(ctx context.Context, kind model.BatchKind, emitter *model.Emitter, ref, issue, idDate time.Time, lines []model.BatchLine) (*BatchOutcome, error) {
	n, err := c.repo.CountBatches(ctx, emitter.ID, kind, idDate)
	if err != nil {
		return nil, err
	}
	label := batchLabel(kind)

	var (
		batch  *model.BatchSubmission
		signed []byte
	)
	for attempt := 1; ; attempt++ {
		n++
		batch, signed, err = c.claimBatch(ctx, kind, emitter, ref, issue, idDate, n, lines)
		if err == nil {
			break
		}
		var dup *model.DuplicateError
		if !errors.As(err, &dup) || attempt == identifierAttempts {
			return nil, err
		}
		c.log.Info("batch identifier taken, trying the next one",
			zap.String("identifier", dup.Key),
			zap.Int("attempt", attempt),
		)
	}

	if err := c.artifacts.SaveSigned(batch.ArtifactName, model.BatchOwner(batch.Correlator), signed); err != nil {
		if uerr := c.repo.UpdateBatch(ctx, batch.ID, model.BatchUpdate{
			State:           model.BatchError,
			ResponseMessage: "signed artifact not stored",
		}); uerr != nil {
			return nil, errors.Join(err, uerr)
		}
		return nil, err
	}
	for _, l := range lines {
		if err := c.repo.AppendBatchLine(ctx, batch.ID, l); err != nil {
			return nil, err
		}
	}

	// documents are held before sending so no other batch can pick them
	previous := make(map[int64]model.DocumentState, len(lines))
	sentAt := c.now()
	for _, l := range lines {
		to := heldState(kind, l.Condition)
		previous[l.DocumentID] = l.Document.State
		if err := c.repo.UpdateDocumentState(ctx, l.DocumentID, model.DocumentUpdate{State: to, SubmittedAt: &sentAt}); err != nil {
			return nil, err
		}
		c.transition(l.Document, batch.ArtifactName, to)
	}

	ticket, err := c.transport.SendSummary(ctx, batch.ArtifactName, signed, emitter.Credentials())
	if err != nil {
		c.metrics.Submission(label, outcomeFault)
		return c.recordBatchFault(ctx, batch, previous, err)
	}

	if err := c.repo.UpdateBatch(ctx, batch.ID, model.BatchUpdate{Ticket: ticket}); err != nil {
		return nil, err
	}
	batch.Ticket = ticket
	c.metrics.Submission(label, outcomeTicket)
	c.log.Info("batch sent",
		zap.Int64("batch_id", batch.ID),
		zap.String("artifact", batch.ArtifactName),
		zap.String("ticket", ticket),
		zap.Int("lines", len(lines)),
	)
	return newBatchOutcome(batch), nil
}

// claimBatch builds and signs batch number n, then records its header. A
// number already taken fails with *model.DuplicateError.
func (c *Controller) claimBatch(ctx context.Context, kind model.BatchKind, emitter *model.Emitter, ref, issue, idDate time.Time, n int, lines []model.BatchLine) (*model.BatchSubmission, []byte, error) {
	batch := &model.BatchSubmission{
		Correlator:    c.correlator(),
		Kind:          kind,
		Emitter:       emitter,
		EmitterID:     emitter.ID,
		Identifier:    model.BatchIdentifier(kind, idDate, n),
		ReferenceDate: ref,
		IssueDate:     issue,
		ArtifactName:  model.BatchArtifactName(emitter.TaxID(), kind, idDate, n),
		State:         model.BatchPending,
		Lines:         lines,
	}
	unsigned, err := c.assembler.AssembleBatch(batch)
	if err != nil {
		return nil, nil, err
	}
	signed, err := c.signer.Sign(unsigned, emitter.CertificatePath, emitter.CertificatePassword)
	if err != nil {
		return nil, nil, err
	}

	header := *batch
	header.Lines = nil
	if err := c.repo.CreateBatch(ctx, &header); err != nil {
		return nil, nil, err
	}
	batch.ID = header.ID
	return batch, signed, nil
}

func (c *Controller) recordBatchFault(ctx context.Context, batch *model.BatchSubmission, previous map[int64]model.DocumentState, cause error) (*BatchOutcome, error) {
	code, message := faultDetails(cause)
	errs := []error{cause}
	if err := c.repo.UpdateBatch(ctx, batch.ID, model.BatchUpdate{
		State:           model.BatchError,
		ResponseCode:    code,
		ResponseMessage: message,
	}); err != nil {
		errs = append(errs, err)
	}
	batch.State = model.BatchError
	batch.ResponseCode = code
	batch.ResponseMessage = message

	for _, l := range batch.Lines {
		back := previous[l.DocumentID]
		if err := c.repo.UpdateDocumentState(ctx, l.DocumentID, model.DocumentUpdate{State: back}); err != nil {
			errs = append(errs, err)
			continue
		}
		c.transition(l.Document, batch.ArtifactName, back)
	}
	return newBatchOutcome(batch), errors.Join(errs...)
}

// Poll asks the authority for the status of a batch ticket. A batch that was
// already resolved is returned as stored without contacting the authority.
func (c *Controller) Poll(ctx context.Context, batchID int64) (*BatchOutcome, error) {
	batch, err := c.repo.LoadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.State.Resolved() {
		out := newBatchOutcome(batch)
		out.Cached = true
		return out, nil
	}
	if batch.Ticket == "" {
		return nil, model.NewValidationError("ticket", nil, "required", "batch has no ticket to poll")
	}

	status, err := c.transport.GetStatus(ctx, batch.Ticket, batch.Emitter.Credentials())
	if err != nil {
		return nil, err
	}
	c.metrics.Poll(status.Code)

	if status.InProgress() {
		if err := c.repo.UpdateBatch(ctx, batch.ID, model.BatchUpdate{StatusCode: status.Code}); err != nil {
			return nil, err
		}
		batch.StatusCode = status.Code
		c.log.Debug("ticket still in progress", zap.Int64("batch_id", batch.ID), zap.String("ticket", batch.Ticket))
		return newBatchOutcome(batch), nil
	}
	return c.resolve(ctx, batch, status)
}

func (c *Controller) resolve(ctx context.Context, batch *model.BatchSubmission, status *transport.Status) (*BatchOutcome, error) {
	processed := status.Processed()

	var resp *cdr.Response
	if len(status.Artifact) > 0 {
		if err := c.artifacts.SaveResponse(batch.ArtifactName, status.Artifact); err != nil {
			c.log.Error("response artifact not stored", zap.String("artifact", batch.ArtifactName), zap.Error(err))
		}
		parsed, err := c.parser.Parse(ctx, status.Artifact)
		switch {
		case err == nil:
			resp = parsed
		case processed:
			c.log.Warn("batch response could not be parsed",
				zap.Int64("batch_id", batch.ID),
				zap.String("artifact", batch.ArtifactName),
				zap.Error(err),
			)
			return nil, err
		default:
			c.log.Warn("error response could not be parsed", zap.Int64("batch_id", batch.ID), zap.Error(err))
		}
	} else if processed {
		return nil, model.NewParseError("cdr", "artifact", "processed ticket carries no response", nil)
	}

	u := model.BatchUpdate{State: model.BatchProcessed, StatusCode: status.Code}
	if !processed {
		u.State = model.BatchError
	}
	if resp != nil {
		u.ResponseCode = resp.Code
		u.ResponseMessage = responseMessage(resp)
	} else {
		u.ResponseCode = status.Code
		u.ResponseMessage = errorStatusMessage
	}

	documents := make(map[int64]model.DocumentUpdate, len(batch.Lines))
	targets := make([]model.DocumentState, len(batch.Lines))
	for i, l := range batch.Lines {
		accepted := processed && resp.Accepted
		if lr := lineResponse(resp, l.Document); lr != nil {
			accepted = processed && lr.Accepted
		}
		to := resolvedState(batch.Kind, l.Condition, accepted)
		targets[i] = to

		du := model.DocumentUpdate{State: to}
		if carriesResponse(batch.Kind, l.Condition, accepted) {
			du.ResponseCode = u.ResponseCode
			du.ResponseMessage = u.ResponseMessage
			du.IncrementAttempts = true
			if resp != nil {
				du.Digest = resp.Digest
			}
		}
		documents[l.DocumentID] = du
	}

	applied, err := c.repo.ResolveBatch(ctx, batch.ID, u, documents)
	if err != nil {
		return nil, err
	}
	if !applied {
		// resolved by a concurrent poll
		stored, err := c.repo.LoadBatch(ctx, batch.ID)
		if err != nil {
			return nil, err
		}
		out := newBatchOutcome(stored)
		out.Cached = true
		return out, nil
	}

	batch.State = u.State
	batch.StatusCode = u.StatusCode
	batch.ResponseCode = u.ResponseCode
	batch.ResponseMessage = u.ResponseMessage
	label := batchLabel(batch.Kind)
	if batch.State == model.BatchProcessed && resp.Accepted {
		c.metrics.Submission(label, outcomeAccepted)
	} else {
		c.metrics.Submission(label, outcomeRejected)
	}

	var errs []error
	for i := range batch.Lines {
		doc := batch.Lines[i].Document
		c.transition(doc, batch.ArtifactName, targets[i])
		if targets[i] == model.StateAccepted && batch.Lines[i].Condition == model.ConditionAdd {
			if err := c.reserveSequence(ctx, doc); err != nil {
				errs = append(errs, err)
			}
		}
	}
	c.log.Info("batch resolved",
		zap.Int64("batch_id", batch.ID),
		zap.String("artifact", batch.ArtifactName),
		zap.String("state", string(batch.State)),
		zap.String("response_code", batch.ResponseCode),
	)

	out := newBatchOutcome(batch)
	out.Response = resp
	return out, errors.Join(errs...)
}

// heldState is the state a document waits in while its batch is with the authority
func heldState(kind model.BatchKind, cond model.LineCondition) model.DocumentState {
	if kind == model.BatchVoided || cond == model.ConditionVoid {
		return model.StateVoidPending
	}
	return model.StateInTransit
}

// resolvedState is the state a document takes once its batch is answered
func resolvedState(kind model.BatchKind, cond model.LineCondition, accepted bool) model.DocumentState {
	voiding := kind == model.BatchVoided || cond == model.ConditionVoid
	switch {
	case voiding && accepted:
		return model.StateVoided
	case voiding, cond == model.ConditionModify:
		// a refused void or correction leaves the earlier acceptance standing
		return model.StateAccepted
	case accepted:
		return model.StateAccepted
	default:
		return model.StateRejected
	}
}

// carriesResponse reports whether the batch answer replaces the document's own response.
// Void lines, and refused corrections, keep the response of the original acceptance.
func carriesResponse(kind model.BatchKind, cond model.LineCondition, accepted bool) bool {
	if kind != model.BatchSummary {
		return false
	}
	return cond == model.ConditionAdd || (cond == model.ConditionModify && accepted)
}

func lineResponse(resp *cdr.Response, doc *model.TaxDocument) *cdr.LineResponse {
	if resp == nil || doc == nil {
		return nil
	}
	number := doc.Number()
	for i := range resp.Lines {
		if resp.Lines[i].ReferenceID == number {
			return &resp.Lines[i]
		}
	}
	return nil
}

func voidable(doc *model.TaxDocument) error {
	switch doc.State {
	case model.StateAccepted:
		return nil
	case model.StateVoidPending, model.StateVoided:
		return model.NewConflictError(doc.ID, doc.State, "void", "document is already voided or being voided")
	default:
		return model.NewConflictError(doc.ID, doc.State, "void", "only accepted documents can be voided")
	}
}

// onReceipt reports receipts and notes modifying a receipt
func onReceipt(doc *model.TaxDocument) bool {
	if doc.Type == model.TypeReceipt {
		return true
	}
	return doc.Type.IsNote() && doc.Reference != nil && doc.Reference.Type == model.TypeReceipt
}

func checkOwner(field string, emitter *model.Emitter, doc *model.TaxDocument) error {
	if doc.Emitter == nil || doc.Emitter.ID != emitter.ID {
		return model.NewValidationError(field+".emitter", doc.ID, "owner", "document belongs to another emitter")
	}
	return nil
}

func faultDetails(err error) (code, message string) {
	var fault *transport.TransportFault
	if errors.As(err, &fault) {
		return fault.Code, fault.Message
	}
	return transport.FaultCodeNetwork, err.Error()
}

func batchLabel(kind model.BatchKind) string {
	if k, ok := assembler.LookupBatch(kind); ok {
		return k.Code
	}
	return string(kind)
}

// day is the calendar date of t in the controller's zone
func (c *Controller) day(t time.Time) time.Time {
	t = t.In(c.location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.location)
}
