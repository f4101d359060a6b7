package lifecycle

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rezonia/cpe-emitter/internal/assembler"
	"github.com/rezonia/cpe-emitter/internal/cdr"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/signature"
)

// Submission outcome labels
const (
	outcomeAccepted     = "accepted"
	outcomeRejected     = "rejected"
	outcomeFault        = "fault"
	outcomeUndetermined = "undetermined"
	outcomeTicket       = "ticket"
)

const fallbackDescription = "response could not be read; accepted by configuration"

// Submit assembles, signs and sends a document, then classifies the authority's response.
// A rejected document is resent with its previously signed artifact.
// Failures after transmission return the Outcome alongside the error.
func (c *Controller) Submit(ctx context.Context, documentID int64) (*Outcome, error) {
	doc, err := c.repo.LoadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	switch {
	case doc.State == model.StatePending:
		return c.send(ctx, doc, false)
	case doc.State == model.StateRejected:
		return c.send(ctx, doc, true)
	default:
		return nil, c.resubmitConflict(doc, "submit")
	}
}

// Retry resends a rejected document, or one whose last response could not be read.
// The stored signed artifact is reused when present.
func (c *Controller) Retry(ctx context.Context, documentID int64) (*Outcome, error) {
	doc, err := c.repo.LoadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.State != model.StateRejected && !undetermined(doc) {
		return nil, c.resubmitConflict(doc, "retry")
	}
	return c.send(ctx, doc, true)
}

// undetermined is a synchronously sent document whose response was never classified
func undetermined(doc *model.TaxDocument) bool {
	return doc.State == model.StateInTransit &&
		doc.Submission.ArtifactName == doc.ArtifactName() &&
		doc.Submission.ResponseCode == ""
}

func (c *Controller) resubmitConflict(doc *model.TaxDocument, op string) error {
	switch doc.State {
	case model.StateAccepted:
		return model.NewConflictError(doc.ID, doc.State, op, "document was already accepted")
	case model.StateVoidPending, model.StateVoided:
		return model.NewConflictError(doc.ID, doc.State, op, "document is voided or being voided")
	case model.StateInTransit:
		return model.NewConflictError(doc.ID, doc.State, op, "document is waiting for the authority")
	case model.StatePending:
		return model.NewConflictError(doc.ID, doc.State, op, "document was never submitted")
	default:
		return model.NewConflictError(doc.ID, doc.State, op, "unknown document state")
	}
}

func (c *Controller) send(ctx context.Context, doc *model.TaxDocument, reuse bool) (*Outcome, error) {
	kind, ok := assembler.Lookup(doc.Type)
	if !ok {
		return nil, model.NewValidationError("type", doc.Type, "supported", "unsupported document type")
	}
	if kind.Mode != assembler.ModeSync {
		return nil, model.NewValidationError("type", doc.Type, "sync", "document type is only sent in batches")
	}
	if doc.Emitter == nil {
		return nil, model.NewValidationError("emitter", nil, "required", "document has no emitter")
	}

	name := doc.ArtifactName()
	signed, reused, err := c.signedArtifact(doc, name, reuse)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		DocumentID:   doc.ID,
		ArtifactName: name,
		Sequence:     doc.Sequence,
		Attempts:     doc.Submission.Attempts,
		Reused:       reused,
	}

	sentAt := c.now()
	if err := c.repo.UpdateDocumentState(ctx, doc.ID, model.DocumentUpdate{
		State:        model.StateInTransit,
		ArtifactName: name,
		SubmittedAt:  &sentAt,
	}); err != nil {
		return nil, err
	}
	c.transition(doc, name, model.StateInTransit)
	out.State = doc.State

	artifact, err := c.transport.SendBill(ctx, serviceFor(kind.Endpoint), name, signed, doc.Emitter.Credentials())
	out.Attempts++
	if err != nil {
		return c.recordFault(ctx, doc, out, err)
	}
	if err := c.artifacts.SaveResponse(name, artifact); err != nil {
		c.log.Error("response artifact not stored", zap.String("artifact", name), zap.Error(err))
	}

	resp, err := c.parser.Parse(ctx, artifact)
	if err != nil {
		if !c.acceptUnparseable {
			return c.recordUndetermined(ctx, doc, out, err)
		}
		c.log.Warn("unreadable response accepted by configuration",
			zap.Int64("document_id", doc.ID),
			zap.String("artifact", name),
			zap.Error(err),
		)
		resp = &cdr.Response{Code: cdr.CodeAccepted, Description: fallbackDescription, Accepted: true}
		out.Fallback = true
	}
	out.Response = resp

	digest := resp.Digest
	if digest == "" {
		digest, _ = signature.DigestValue(signed)
	}
	state := model.StateRejected
	if resp.Accepted {
		state = model.StateAccepted
	}
	if err := c.repo.UpdateDocumentState(ctx, doc.ID, model.DocumentUpdate{
		State:             state,
		ResponseCode:      resp.Code,
		ResponseMessage:   responseMessage(resp),
		Digest:            digest,
		IncrementAttempts: true,
	}); err != nil {
		return out, err
	}
	c.transition(doc, name, state)
	out.State = state

	if !resp.Accepted {
		c.metrics.Submission(string(doc.Type), outcomeRejected)
		return out, nil
	}
	c.metrics.Submission(string(doc.Type), outcomeAccepted)
	if err := c.reserveSequence(ctx, doc); err != nil {
		return out, err
	}
	return out, nil
}

// signedArtifact returns the stored signed XML on reuse, otherwise assembles and signs afresh
func (c *Controller) signedArtifact(doc *model.TaxDocument, name string, reuse bool) ([]byte, bool, error) {
	if reuse {
		signed, err := c.artifacts.LoadSigned(name, model.DocumentOwner(doc.ID))
		if err == nil {
			return signed, true, nil
		}
		if model.KindOf(err) != model.KindNotFound {
			return nil, false, err
		}
		c.log.Info("signed artifact missing, signing again", zap.String("artifact", name))
	}

	unsigned, err := c.assembler.Assemble(doc)
	if err != nil {
		return nil, false, err
	}
	signed, err := c.signer.Sign(unsigned, doc.Emitter.CertificatePath, doc.Emitter.CertificatePassword)
	if err != nil {
		return nil, false, err
	}
	if err := c.artifacts.SaveSigned(name, model.DocumentOwner(doc.ID), signed); err != nil {
		return nil, false, err
	}
	return signed, false, nil
}

func (c *Controller) recordFault(ctx context.Context, doc *model.TaxDocument, out *Outcome, cause error) (*Outcome, error) {
	code, message := faultDetails(cause)
	c.metrics.Submission(string(doc.Type), outcomeFault)

	if err := c.repo.UpdateDocumentState(ctx, doc.ID, model.DocumentUpdate{
		State:             model.StateRejected,
		ResponseCode:      code,
		ResponseMessage:   message,
		IncrementAttempts: true,
	}); err != nil {
		return out, errors.Join(cause, err)
	}
	c.transition(doc, out.ArtifactName, model.StateRejected)
	out.State = doc.State
	return out, cause
}

func (c *Controller) recordUndetermined(ctx context.Context, doc *model.TaxDocument, out *Outcome, cause error) (*Outcome, error) {
	c.log.Warn("response could not be parsed",
		zap.Int64("document_id", doc.ID),
		zap.String("artifact", out.ArtifactName),
		zap.Error(cause),
	)
	c.metrics.Submission(string(doc.Type), outcomeUndetermined)
	if err := c.repo.UpdateDocumentState(ctx, doc.ID, model.DocumentUpdate{IncrementAttempts: true}); err != nil {
		return out, errors.Join(cause, err)
	}
	return out, cause
}

// reserveSequence advances the series counter for an accepted document and checks
// the counter handed out the document's own number
func (c *Controller) reserveSequence(ctx context.Context, doc *model.TaxDocument) error {
	reserved, err := c.repo.ReserveNextSequence(ctx, doc.SeriesID)
	if err != nil {
		return err
	}
	if reserved == doc.Sequence {
		return nil
	}

	c.metrics.SequenceConflict()
	conflict := &model.SequenceConflictError{
		DocumentID: doc.ID,
		SeriesID:   doc.SeriesID,
		Assigned:   doc.Sequence,
		Reserved:   reserved,
	}
	c.log.Error("series sequence conflict",
		zap.Int64("document_id", doc.ID),
		zap.Int64("series_id", doc.SeriesID),
		zap.Int64("assigned", doc.Sequence),
		zap.Int64("reserved", reserved),
	)
	return conflict
}

func responseMessage(resp *cdr.Response) string {
	if resp.Description != "" {
		return resp.Description
	}
	if len(resp.Notes) > 0 {
		return resp.Notes[0]
	}
	return ""
}
