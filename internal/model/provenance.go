package model

import "time"

// ProvenanceKind tells which part of a record a provenance entry describes.
type ProvenanceKind string

const (
	ProvenanceAttribute   ProvenanceKind = "attribute"
	ProvenanceReferentiel ProvenanceKind = "referentiel"
	ProvenanceScore       ProvenanceKind = "score"
)

// ProvenanceAttempt is one source's contribution to a field.
type ProvenanceAttempt struct {
	Source      string     `json:"source"`
	Value       string     `json:"value"`
	Referentiel bool       `json:"referentiel,omitempty"`
	DataAsOf    *time.Time `json:"data_as_of,omitempty"`
}

// FieldProvenance is the per-run audit trail of one field of one record.
type FieldProvenance struct {
	RunID         string              `json:"run_id"`
	ProductID     string              `json:"product_id"`
	Kind          ProvenanceKind      `json:"kind"`
	FieldKey      string              `json:"field_key"`
	WinnerValue   string              `json:"winner_value"`
	HasConflicts  bool                `json:"has_conflicts"`
	Attempts      []ProvenanceAttempt `json:"attempts"`
	PreviousValue string              `json:"previous_value,omitempty"`
	ValueChanged  bool                `json:"value_changed"`
}
