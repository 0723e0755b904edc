package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("x")), true},
		{"wrapped explicit", fmt.Errorf("save: %w", NewTransientError(errors.New("x"))), true},
		{"net timeout", timeoutErr{}, true},
		{"conn reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"sqlite locked", errors.New("database is locked (5)"), true},
		{"sqlite busy", errors.New("SQLITE_BUSY: retry"), true},
		{"pg deadlock", errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{"constraint", errors.New("UNIQUE constraint failed: records.id"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner)
	assert.Equal(t, "inner", te.Error())
	assert.ErrorIs(t, te, inner)
}
