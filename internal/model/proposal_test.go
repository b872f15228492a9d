package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProposalStatusTerminal(t *testing.T) {
	assert.False(t, ProposalPending.Terminal())
	assert.False(t, ProposalApproved.Terminal())
	assert.True(t, ProposalRejected.Terminal())
	assert.True(t, ProposalApplied.Terminal())
	assert.True(t, ProposalFailed.Terminal())
}

func TestProposalStatusCanTransition(t *testing.T) {
	tests := []struct {
		from ProposalStatus
		to   ProposalStatus
		ok   bool
	}{
		{ProposalPending, ProposalApproved, true},
		{ProposalPending, ProposalRejected, true},
		{ProposalPending, ProposalApplied, false},
		{ProposalPending, ProposalFailed, false},
		{ProposalApproved, ProposalRejected, true},
		{ProposalApproved, ProposalApplied, true},
		{ProposalApproved, ProposalFailed, true},
		{ProposalApproved, ProposalPending, false},
		{ProposalRejected, ProposalApproved, false},
		{ProposalApplied, ProposalFailed, false},
		{ProposalFailed, ProposalApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}
