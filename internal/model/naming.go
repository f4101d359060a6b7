package model

import (
	"fmt"
	"time"
)

const (
	summaryPrefix = "RC"
	voidedPrefix  = "RA"
)

// SeriesNumber renders series and sequence as F001-00000001
func SeriesNumber(series string, sequence int64) string {
	return fmt.Sprintf("%s-%08d", series, sequence)
}

// DocumentArtifactName returns {taxId}-{docTypeCode}-{series}-{sequence:08d}
func DocumentArtifactName(taxID string, t DocumentType, series string, sequence int64) string {
	return fmt.Sprintf("%s-%s-%s-%08d", taxID, t, series, sequence)
}

// BatchIdentifier returns RC-YYYYMMDD-n or RA-YYYYMMDD-n
func BatchIdentifier(kind BatchKind, date time.Time, n int) string {
	return fmt.Sprintf("%s%d", BatchIdentifierPrefix(kind, date), n)
}

// BatchIdentifierPrefix is the identifier shared by every batch of a kind and date, e.g. RC-20260309-
func BatchIdentifierPrefix(kind BatchKind, date time.Time) string {
	return fmt.Sprintf("%s-%s-", kind.prefix(), date.Format("20060102"))
}

// BatchArtifactName returns {taxId}-RC-{YYYYMMDD}-{n} or {taxId}-RA-{YYYYMMDD}-{n}
func BatchArtifactName(taxID string, kind BatchKind, date time.Time, n int) string {
	return taxID + "-" + BatchIdentifier(kind, date, n)
}

// ResponseArtifactName is the authority's name for the response to an artifact
func ResponseArtifactName(name string) string {
	return "R-" + name
}

// DocumentOwner keys the signed artifact of a document in the artifact store
func DocumentOwner(id int64) string {
	return fmt.Sprintf("document/%d", id)
}

// BatchOwner keys the signed artifact of a batch by its correlator
func BatchOwner(correlator string) string {
	return "batch/" + correlator
}
