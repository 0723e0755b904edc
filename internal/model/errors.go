package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrorCategory classifies contained failures.
type ErrorCategory string

const (
	// ErrorParse: a single attribute, score or price was rejected.
	ErrorParse ErrorCategory = "parse"
	// ErrorInsufficientData: a field could not be elected or composed.
	ErrorInsufficientData ErrorCategory = "insufficient_data"
	// ErrorConfig: a rule or parser is missing or malformed.
	ErrorConfig ErrorCategory = "config"
	// ErrorStatistical: relativization was skipped.
	ErrorStatistical ErrorCategory = "statistical"
	// ErrorFatal: the record itself is structurally invalid.
	ErrorFatal ErrorCategory = "fatal"
)

var (
	ErrInsufficientData = eris.New("insufficient data")
	ErrNoIdentity       = eris.New("observation has no product identity")
	ErrInvalidPrice     = eris.New("invalid price")
	ErrStaleOffer       = eris.New("offer older than validity window")
	ErrUnknownParser    = eris.New("unknown attribute parser")
	ErrZeroWidth        = eris.New("cardinality range has zero width")
	ErrMissingValue     = eris.New("score has no raw value")
	ErrNoCardinality    = eris.New("no cardinality for score")
)

// RejectionError is a contained failure attached to one field of one record.
type RejectionError struct {
	Field    string
	Source   string
	Category ErrorCategory
	Reason   string
	Err      error
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("%s rejected %q", e.Category, e.Field)
	if e.Source != "" {
		msg += " from " + e.Source
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Reject builds a RejectionError.
func Reject(category ErrorCategory, field, source, reason string) *RejectionError {
	return &RejectionError{Field: field, Source: source, Category: category, Reason: reason}
}

// CategoryOf returns the category of err. Unknown errors are fatal.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Category
	}
	switch {
	case errors.Is(err, ErrInsufficientData):
		return ErrorInsufficientData
	case errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrStaleOffer):
		return ErrorParse
	case errors.Is(err, ErrUnknownParser):
		return ErrorConfig
	case errors.Is(err, ErrZeroWidth), errors.Is(err, ErrMissingValue), errors.Is(err, ErrNoCardinality):
		return ErrorStatistical
	default:
		return ErrorFatal
	}
}

// Rejection is the persisted audit entry of a contained failure.
type Rejection struct {
	Stage    string        `json:"stage"`
	Field    string        `json:"field"`
	Source   string        `json:"source,omitempty"`
	Category ErrorCategory `json:"category"`
	Reason   string        `json:"reason"`
}

// NewRejection converts err into an audit entry for stage.
func NewRejection(stage string, err error) Rejection {
	r := Rejection{Stage: stage, Category: CategoryOf(err), Reason: err.Error()}
	var re *RejectionError
	if errors.As(err, &re) {
		r.Field = re.Field
		r.Source = re.Source
	}
	return r
}
