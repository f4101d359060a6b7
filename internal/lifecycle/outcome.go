package lifecycle

import (
	"github.com/rezonia/cpe-emitter/internal/cdr"
	"github.com/rezonia/cpe-emitter/internal/model"
)

// Outcome is the result of a single document submission
type Outcome struct {
	DocumentID   int64               `json:"document_id"`
	ArtifactName string              `json:"artifact_name"`
	State        model.DocumentState `json:"state"`
	Sequence     int64               `json:"sequence"`
	Attempts     int                 `json:"attempts"`
	// Reused is set when a retry resent the previously signed artifact
	Reused   bool          `json:"reused,omitempty"`
	Response *cdr.Response `json:"response,omitempty"`
	// Fallback is set when an unreadable response was accepted by configuration
	Fallback bool `json:"fallback,omitempty"`
}

// Accepted reports whether the document ended up accepted
func (o *Outcome) Accepted() bool {
	return o != nil && o.State == model.StateAccepted
}

// DocumentResult is the state a batch left one of its documents in
type DocumentResult struct {
	DocumentID int64               `json:"document_id"`
	Number     string              `json:"number"`
	Condition  model.LineCondition `json:"condition,omitempty"`
	State      model.DocumentState `json:"state"`
}

// BatchOutcome is the result of a batch submission or poll
type BatchOutcome struct {
	BatchID      int64            `json:"batch_id"`
	Kind         model.BatchKind  `json:"kind"`
	Identifier   string           `json:"identifier"`
	ArtifactName string           `json:"artifact_name"`
	Ticket       string           `json:"ticket,omitempty"`
	State        model.BatchState `json:"state"`
	StatusCode   string           `json:"status_code,omitempty"`
	ResponseCode string           `json:"response_code,omitempty"`
	Message      string           `json:"message,omitempty"`
	// Cached is set when a poll returned an already resolved batch without contacting the authority
	Cached    bool             `json:"cached,omitempty"`
	Documents []DocumentResult `json:"documents,omitempty"`
	Response  *cdr.Response    `json:"response,omitempty"`
}

func newBatchOutcome(b *model.BatchSubmission) *BatchOutcome {
	out := &BatchOutcome{
		BatchID:      b.ID,
		Kind:         b.Kind,
		Identifier:   b.Identifier,
		ArtifactName: b.ArtifactName,
		Ticket:       b.Ticket,
		State:        b.State,
		StatusCode:   b.StatusCode,
		ResponseCode: b.ResponseCode,
		Message:      b.ResponseMessage,
	}
	for _, l := range b.Lines {
		r := DocumentResult{DocumentID: l.DocumentID, Condition: l.Condition}
		if l.Document != nil {
			r.Number = l.Document.Number()
			r.State = l.Document.State
		}
		out.Documents = append(out.Documents, r)
	}
	return out
}
