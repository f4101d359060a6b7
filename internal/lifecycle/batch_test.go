package lifecycle_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/cpe-emitter/internal/lifecycle"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/transport"
)

var reference = time.Date(2026, 3, 9, 0, 0, 0, 0, lima)

func (f *fixture) processed(t *testing.T, out *lifecycle.BatchOutcome, code string) *transport.Status {
	return &transport.Status{
		Code:     "0",
		Artifact: cdrArtifact(t, out.ArtifactName, out.Identifier, code, "El Resumen "+out.Identifier+", ha sido aceptado"),
	}
}

func TestSubmitSummary_PollLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	receipts := []*model.TaxDocument{f.receipt(1, ""), f.receipt(2, ""), f.receipt(3, "")}
	// issued the day after, not a candidate
	late := f.receipt(4, "")
	f.repo.mu.Lock()
	f.repo.docs[late.ID].IssueDate = reference.AddDate(0, 0, 1).Add(8 * time.Hour)
	f.repo.mu.Unlock()

	out, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference})
	require.NoError(t, err)
	assert.Equal(t, model.BatchSummary, out.Kind)
	assert.Equal(t, "RC-20260309-1", out.Identifier)
	assert.Equal(t, "20123456789-RC-20260309-1", out.ArtifactName)
	assert.Equal(t, "1711234567890", out.Ticket)
	assert.Equal(t, model.BatchPending, out.State)
	require.Len(t, out.Documents, 3)
	for i, d := range out.Documents {
		assert.Equal(t, receipts[i].ID, d.DocumentID)
		assert.Equal(t, model.ConditionAdd, d.Condition)
	}
	for _, r := range receipts {
		assert.Equal(t, model.StateInTransit, f.repo.document(r.ID).State)
	}
	assert.Equal(t, model.StatePending, f.repo.document(late.ID).State)
	assert.Equal(t, float64(1), f.submissions(t, "RC", "ticket"))

	f.authority.statuses = []*transport.Status{{Code: "98"}, f.processed(t, out, "0")}

	polled, err := f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchPending, polled.State)
	assert.Equal(t, "98", polled.StatusCode)
	for _, r := range receipts {
		assert.Equal(t, model.StateInTransit, f.repo.document(r.ID).State, "in progress changes nothing")
	}
	assert.Equal(t, int64(1), f.repo.nextValue(f.receipts))

	polled, err = f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchProcessed, polled.State)
	assert.Equal(t, "0", polled.ResponseCode)
	assert.False(t, polled.Cached)
	for _, r := range receipts {
		stored := f.repo.document(r.ID)
		assert.Equal(t, model.StateAccepted, stored.State)
		assert.Equal(t, "0", stored.Submission.ResponseCode)
		assert.Equal(t, 1, stored.Submission.Attempts)
	}
	assert.Equal(t, int64(4), f.repo.nextValue(f.receipts))
	assert.Equal(t, model.BatchProcessed, f.repo.batch(out.BatchID).State)
	assert.Equal(t, float64(1), counterValue(t, f.registry, "cpe_polls_total", map[string]string{"status": "98"}))

	// a resolved batch is answered from storage
	again, err := f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, model.BatchProcessed, again.State)
	_, statuses := f.authority.calls()
	assert.Equal(t, 2, statuses)
	for _, r := range receipts {
		assert.Equal(t, 1, f.repo.document(r.ID).Submission.Attempts)
	}
	assert.Equal(t, int64(4), f.repo.nextValue(f.receipts))
}

func TestSubmitSummary_ReceiptVoid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.setNextValue(f.receipts, 2)
	accepted := f.receipt(1, model.StateAccepted)

	out, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{
		EmitterID:     f.emitter.ID,
		ReferenceDate: reference,
		Voids:         []lifecycle.VoidLine{{DocumentID: accepted.ID, Reason: "Error en el monto"}},
	})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)
	assert.Equal(t, model.ConditionVoid, out.Documents[0].Condition)
	assert.Equal(t, model.StateVoidPending, f.repo.document(accepted.ID).State)

	assert.Contains(t, f.files.signedXML(t, out.ArtifactName), "<cbc:ConditionCode>3</cbc:ConditionCode>")

	f.authority.statuses = []*transport.Status{f.processed(t, out, "0")}
	polled, err := f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchProcessed, polled.State)

	stored := f.repo.document(accepted.ID)
	assert.Equal(t, model.StateVoided, stored.State)
	assert.Equal(t, int64(2), f.repo.nextValue(f.receipts), "voids do not reserve numbers")

	// second summary of the same reference date
	pending := f.receipt(2, "")
	out, err = f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference})
	require.NoError(t, err)
	assert.Equal(t, "RC-20260309-2", out.Identifier)
	require.Len(t, out.Documents, 1)
	assert.Equal(t, pending.ID, out.Documents[0].DocumentID)
}

func TestSubmitSummary_ReceiptModification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.setNextValue(f.receipts, 2)
	corrected := f.receipt(1, model.StateAccepted)
	fresh := f.receipt(2, "")

	out, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{
		EmitterID:     f.emitter.ID,
		ReferenceDate: reference,
		DocumentIDs:   []int64{fresh.ID},
		Modifications: []int64{corrected.ID},
	})
	require.NoError(t, err)
	require.Len(t, out.Documents, 2)
	assert.Equal(t, model.ConditionAdd, out.Documents[0].Condition)
	assert.Equal(t, corrected.ID, out.Documents[1].DocumentID)
	assert.Equal(t, model.ConditionModify, out.Documents[1].Condition)
	assert.Equal(t, model.StateInTransit, f.repo.document(corrected.ID).State)
	assert.Contains(t, f.files.signedXML(t, out.ArtifactName), "<cbc:ConditionCode>2</cbc:ConditionCode>")

	f.authority.statuses = []*transport.Status{f.processed(t, out, "0")}
	_, err = f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.StateAccepted, f.repo.document(corrected.ID).State)
	assert.Equal(t, model.StateAccepted, f.repo.document(fresh.ID).State)
	assert.Equal(t, int64(3), f.repo.nextValue(f.receipts), "only the new receipt takes a number")
}

func TestSubmitSummary_RefusedModificationKeepsAcceptance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.setNextValue(f.receipts, 2)
	corrected := f.receipt(1, model.StateAccepted)

	out, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{
		EmitterID:     f.emitter.ID,
		ReferenceDate: reference,
		Modifications: []int64{corrected.ID},
	})
	require.NoError(t, err)

	f.authority.statuses = []*transport.Status{{Code: "99"}}
	polled, err := f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchError, polled.State)
	stored := f.repo.document(corrected.ID)
	assert.Equal(t, model.StateAccepted, stored.State)
	assert.Empty(t, stored.Submission.ResponseCode, "the earlier acceptance's response is kept")
	assert.Equal(t, int64(2), f.repo.nextValue(f.receipts))

	pending := f.receipt(2, "")
	_, err = f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{
		EmitterID:     f.emitter.ID,
		ReferenceDate: reference,
		Modifications: []int64{pending.ID},
	})
	assert.Equal(t, model.KindConflict, model.KindOf(err), "only accepted receipts are modified")
}

func TestSubmitSummary_IdentifierTaken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receipt(1, "")
	// a concurrent submission claimed RC-20260309-2 after this one counted
	f.repo.mu.Lock()
	taken := &model.BatchSubmission{
		ID:         f.repo.id(),
		Kind:       model.BatchSummary,
		EmitterID:  f.emitter.ID,
		Identifier: "RC-20260309-2",
		State:      model.BatchPending,
	}
	f.repo.batches[taken.ID] = taken
	f.repo.mu.Unlock()

	out, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference})
	require.NoError(t, err)
	assert.Equal(t, "RC-20260309-3", out.Identifier)
	assert.Equal(t, "20123456789-RC-20260309-3", out.ArtifactName)
	assert.Equal(t, 2, f.signer.count(), "the identifier is part of the signed XML")
	assert.Contains(t, f.files.signedXML(t, out.ArtifactName), "<cbc:ID>RC-20260309-3</cbc:ID>")
	assert.Equal(t, []string{out.ArtifactName}, f.authority.summaries)
}

func TestSubmitSummary_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("no candidates", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference})
		assert.Equal(t, model.KindValidation, model.KindOf(err))
		assert.Empty(t, f.authority.summaries)
	})

	t.Run("invoice listed", func(t *testing.T) {
		f := newFixture(t)
		inv := f.invoice(42, "")
		_, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference, DocumentIDs: []int64{inv.ID}})
		assert.Equal(t, model.KindValidation, model.KindOf(err))
		assert.Equal(t, model.StatePending, f.repo.document(inv.ID).State)
	})

	t.Run("other day", func(t *testing.T) {
		f := newFixture(t)
		r := f.receipt(1, "")
		_, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{
			EmitterID:     f.emitter.ID,
			ReferenceDate: reference.AddDate(0, 0, -1),
			DocumentIDs:   []int64{r.ID},
		})
		assert.Equal(t, model.KindValidation, model.KindOf(err))
	})

	t.Run("already accepted", func(t *testing.T) {
		f := newFixture(t)
		r := f.receipt(1, model.StateAccepted)
		_, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference, DocumentIDs: []int64{r.ID}})
		assert.Equal(t, model.KindConflict, model.KindOf(err))
	})

	t.Run("void of pending receipt", func(t *testing.T) {
		f := newFixture(t)
		r := f.receipt(1, "")
		_, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{
			EmitterID:     f.emitter.ID,
			ReferenceDate: reference,
			DocumentIDs:   []int64{r.ID},
			Voids:         []lifecycle.VoidLine{{DocumentID: r.ID}},
		})
		assert.Equal(t, model.KindConflict, model.KindOf(err))
		assert.Equal(t, model.StatePending, f.repo.document(r.ID).State)
	})

	t.Run("missing reference date", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID})
		assert.Equal(t, model.KindValidation, model.KindOf(err))
	})
}

func TestSubmitSummary_SendFaultRevertsDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.authority.summaryErr = transport.NewTransportFault("sendSummary", "0402", "El resumen tiene errores", nil)
	a, b := f.receipt(1, ""), f.receipt(2, model.StateRejected)

	out, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference})
	require.Error(t, err)
	assert.Equal(t, model.KindTransport, model.KindOf(err))
	require.NotNil(t, out)
	assert.Equal(t, model.BatchError, out.State)
	assert.Equal(t, "0402", out.ResponseCode)

	assert.Equal(t, model.StatePending, f.repo.document(a.ID).State)
	assert.Equal(t, model.StateRejected, f.repo.document(b.ID).State)
	assert.Equal(t, model.BatchError, f.repo.batch(out.BatchID).State)

	polled, err := f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.True(t, polled.Cached)
	_, statuses := f.authority.calls()
	assert.Zero(t, statuses)

	// the reverted receipts are candidates again
	f.authority.summaryErr = nil
	out, err = f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference})
	require.NoError(t, err)
	assert.Equal(t, "RC-20260309-2", out.Identifier)
	assert.Len(t, out.Documents, 2)
}

func TestPoll_ErrorStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.receipt(1, ""), f.receipt(2, "")

	out, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference})
	require.NoError(t, err)

	f.authority.statuses = []*transport.Status{{
		Code:     "99",
		Artifact: cdrArtifact(t, out.ArtifactName, out.Identifier, "2223", "El archivo ya fue presentado anteriormente"),
	}}
	polled, err := f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchError, polled.State)
	assert.Equal(t, "2223", polled.ResponseCode)

	for _, id := range []int64{a.ID, b.ID} {
		stored := f.repo.document(id)
		assert.Equal(t, model.StateRejected, stored.State)
		assert.Equal(t, "2223", stored.Submission.ResponseCode)
	}
	assert.Equal(t, int64(1), f.repo.nextValue(f.receipts))
	assert.Equal(t, float64(1), counterValue(t, f.registry, "cpe_polls_total", map[string]string{"status": "99"}))
}

func TestPoll_ErrorStatusWithoutArtifact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.receipt(1, "")

	out, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference})
	require.NoError(t, err)

	f.authority.statuses = []*transport.Status{{Code: "99"}}
	polled, err := f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchError, polled.State)
	assert.Equal(t, "99", polled.ResponseCode)
	assert.Equal(t, model.StateRejected, f.repo.document(r.ID).State)
}

func TestPoll_ProcessedWithoutResponse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.receipt(1, "")

	out, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference})
	require.NoError(t, err)

	for _, status := range []*transport.Status{{Code: "0"}, {Code: "0", Artifact: []byte("garbage")}} {
		f.authority.statuses = []*transport.Status{status}
		_, err = f.ctl.Poll(ctx, out.BatchID)
		assert.Equal(t, model.KindParse, model.KindOf(err))
		assert.Equal(t, model.BatchPending, f.repo.batch(out.BatchID).State)
		assert.Equal(t, model.StateInTransit, f.repo.document(r.ID).State)
	}
}

func TestPoll_TransportFault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receipt(1, "")

	out, err := f.ctl.SubmitSummary(ctx, lifecycle.SummaryRequest{EmitterID: f.emitter.ID, ReferenceDate: reference})
	require.NoError(t, err)

	// no status queued answers with a network fault
	_, err = f.ctl.Poll(ctx, out.BatchID)
	assert.Equal(t, model.KindTransport, model.KindOf(err))
	assert.Equal(t, model.BatchPending, f.repo.batch(out.BatchID).State)

	_, err = f.ctl.Poll(ctx, 999)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestSubmitVoid_Receipts(t *testing.T) {
	for _, state := range []model.DocumentState{model.StatePending, model.StateAccepted, model.StateRejected} {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture(t)
			r := f.receipt(1, state)

			_, err := f.ctl.SubmitVoid(context.Background(), lifecycle.VoidRequest{
				EmitterID: f.emitter.ID,
				Lines:     []lifecycle.VoidLine{{DocumentID: r.ID}},
			})
			require.Error(t, err)
			assert.Equal(t, model.KindVoidIneligible, model.KindOf(err))
			assert.True(t, strings.Contains(err.Error(), "summary"), err.Error())
			assert.Empty(t, f.authority.summaries)
			assert.Equal(t, state, f.repo.document(r.ID).State)
		})
	}
}

func TestSubmitVoid_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.setNextValue(f.invoices, 43)
	inv := f.invoice(42, model.StateAccepted)

	out, err := f.ctl.SubmitVoid(ctx, lifecycle.VoidRequest{
		EmitterID: f.emitter.ID,
		Lines:     []lifecycle.VoidLine{{DocumentID: inv.ID}},
		Reason:    "Error en el RUC del cliente",
	})
	require.NoError(t, err)
	assert.Equal(t, model.BatchVoided, out.Kind)
	// dated by the day the communication is sent
	assert.Equal(t, "RA-20260310-1", out.Identifier)
	assert.Equal(t, "20123456789-RA-20260310-1", out.ArtifactName)
	assert.Equal(t, model.StateVoidPending, f.repo.document(inv.ID).State)

	signed := f.files.signedXML(t, out.ArtifactName)
	assert.Contains(t, signed, "Error en el RUC del cliente")
	assert.Contains(t, signed, "<cbc:ReferenceDate>2026-03-09</cbc:ReferenceDate>")

	_, err = f.ctl.SubmitVoid(ctx, lifecycle.VoidRequest{EmitterID: f.emitter.ID, Lines: []lifecycle.VoidLine{{DocumentID: inv.ID}}})
	assert.Equal(t, model.KindConflict, model.KindOf(err), "void already in progress")

	f.authority.statuses = []*transport.Status{f.processed(t, out, "0")}
	polled, err := f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchProcessed, polled.State)

	stored := f.repo.document(inv.ID)
	assert.Equal(t, model.StateVoided, stored.State)
	assert.Equal(t, int64(43), f.repo.nextValue(f.invoices))

	_, err = f.ctl.SubmitVoid(ctx, lifecycle.VoidRequest{EmitterID: f.emitter.ID, Lines: []lifecycle.VoidLine{{DocumentID: inv.ID}}})
	assert.Equal(t, model.KindConflict, model.KindOf(err))
}

func TestSubmitVoid_RejectedKeepsAccepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.invoice(42, model.StateAccepted)

	out, err := f.ctl.SubmitVoid(ctx, lifecycle.VoidRequest{EmitterID: f.emitter.ID, Lines: []lifecycle.VoidLine{{DocumentID: inv.ID}}})
	require.NoError(t, err)

	f.authority.statuses = []*transport.Status{{Code: "99"}}
	polled, err := f.ctl.Poll(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchError, polled.State)
	assert.Equal(t, model.StateAccepted, f.repo.document(inv.ID).State, "a failed void leaves the document accepted")
}

func TestSubmitVoid_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pending := f.invoice(42, "")
	accepted := f.invoice(43, model.StateAccepted)

	_, err := f.ctl.SubmitVoid(ctx, lifecycle.VoidRequest{EmitterID: f.emitter.ID})
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = f.ctl.SubmitVoid(ctx, lifecycle.VoidRequest{EmitterID: f.emitter.ID, Lines: []lifecycle.VoidLine{{DocumentID: pending.ID}}})
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	_, err = f.ctl.SubmitVoid(ctx, lifecycle.VoidRequest{
		EmitterID: f.emitter.ID,
		Lines:     []lifecycle.VoidLine{{DocumentID: accepted.ID}, {DocumentID: accepted.ID}},
	})
	assert.Equal(t, model.KindValidation, model.KindOf(err))
	assert.Empty(t, f.authority.summaries)
}
