package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeUnset, "unset"},
		{OutcomeSuccess, "success"},
		{OutcomeFailure, "failure"},
		{OutcomeSkipped, "skipped"},
		{OutcomeTooLarge, "too_large"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.outcome.String())
	}
}

func TestOutcome_IsFailure(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    bool
	}{
		{OutcomeUnset, false},
		{OutcomeSuccess, false},
		{OutcomeSkipped, false},
		{OutcomeFailure, true},
		{OutcomeTooLarge, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.outcome.IsFailure(), "outcome %q", tt.outcome)
	}
}
