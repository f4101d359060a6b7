package model

import "time"

// BatchKind distinguishes daily summaries from void communications
type BatchKind string

const (
	BatchSummary BatchKind = "SUMMARY"
	BatchVoided  BatchKind = "VOIDED"
)

func (k BatchKind) prefix() string {
	if k == BatchVoided {
		return voidedPrefix
	}
	return summaryPrefix
}

// BatchState is the lifecycle state of a BatchSubmission
type BatchState string

const (
	BatchPending   BatchState = "PENDING"
	BatchProcessed BatchState = "PROCESSED"
	BatchError     BatchState = "ERROR"
)

// Resolved reports whether a poll already settled the batch
func (s BatchState) Resolved() bool {
	return s == BatchProcessed || s == BatchError
}

// LineCondition is the summary line status code
type LineCondition int

const (
	ConditionAdd    LineCondition = 1
	ConditionModify LineCondition = 2
	ConditionVoid   LineCondition = 3
)

// Valid reports whether c is one of the three known conditions
func (c LineCondition) Valid() bool {
	return c >= ConditionAdd && c <= ConditionVoid
}

// BatchLine is one contained document. Document is populated when the batch is loaded for assembly.
type BatchLine struct {
	LineNumber int           `json:"line_number"`
	DocumentID int64         `json:"document_id"`
	Condition  LineCondition `json:"condition,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Document   *TaxDocument  `json:"-"`
}

// BatchSubmission is a daily summary or a void communication
type BatchSubmission struct {
	ID              int64       `json:"id"`
	Correlator      string      `json:"correlator"`
	Kind            BatchKind   `json:"kind"`
	Emitter         *Emitter    `json:"-"`
	EmitterID       int64       `json:"emitter_id"`
	Identifier      string      `json:"identifier"`
	ReferenceDate   time.Time   `json:"reference_date"`
	IssueDate       time.Time   `json:"issue_date"`
	ArtifactName    string      `json:"artifact_name"`
	Ticket          string      `json:"ticket,omitempty"`
	State           BatchState  `json:"state"`
	StatusCode      string      `json:"status_code,omitempty"`
	ResponseCode    string      `json:"response_code,omitempty"`
	ResponseMessage string      `json:"response_message,omitempty"`
	Lines           []BatchLine `json:"lines"`
}

// BatchUpdate lists the batch fields a poll mutates
type BatchUpdate struct {
	State           BatchState
	Ticket          string
	StatusCode      string
	ResponseCode    string
	ResponseMessage string
}
