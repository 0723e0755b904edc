package model

import (
	"strings"
	"time"
)

// AttributeType is the value type of an aggregated attribute.
type AttributeType string

const (
	AttributeText    AttributeType = "TEXT"
	AttributeNumeric AttributeType = "NUMERIC"
	AttributeBoolean AttributeType = "BOOLEAN"
)

// ParseAttributeType maps a config label to an AttributeType, defaulting to TEXT.
func ParseAttributeType(s string) AttributeType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NUMERIC", "NUMBER", "FLOAT", "INTEGER", "INT":
		return AttributeNumeric
	case "BOOLEAN", "BOOL":
		return AttributeBoolean
	default:
		return AttributeText
	}
}

// SourcedValue is one source's contribution to an aggregated attribute.
type SourcedValue struct {
	Source      string    `json:"source"`
	Value       string    `json:"value"`
	Raw         string    `json:"raw"`
	Referentiel bool      `json:"referentiel,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// AggregatedAttribute is the cross-source view of one attribute of a record.
type AggregatedAttribute struct {
	Name         string         `json:"name"`
	Value        string         `json:"value"`
	Type         AttributeType  `json:"type"`
	NumericValue *float64       `json:"numeric_value,omitempty"`
	SourceCount  int            `json:"source_count"`
	HasConflicts bool           `json:"has_conflicts"`
	Sources      []SourcedValue `json:"sources"`
}

// AddSource appends a contribution unless the same source already reported
// the same value.
func (a *AggregatedAttribute) AddSource(sv SourcedValue) bool {
	for _, existing := range a.Sources {
		if existing.Source == sv.Source && existing.Value == sv.Value {
			return false
		}
	}
	a.Sources = append(a.Sources, sv)
	return true
}

// DistinctValues returns the number of distinct contributed values.
func (a *AggregatedAttribute) DistinctValues() int {
	seen := make(map[string]struct{}, len(a.Sources))
	for _, s := range a.Sources {
		seen[s.Value] = struct{}{}
	}
	return len(seen)
}

// SourceNames returns the distinct contributing sources in contribution order.
func (a *AggregatedAttribute) SourceNames() []string {
	var names []string
	seen := make(map[string]struct{}, len(a.Sources))
	for _, s := range a.Sources {
		if _, ok := seen[s.Source]; ok {
			continue
		}
		seen[s.Source] = struct{}{}
		names = append(names, s.Source)
	}
	return names
}
