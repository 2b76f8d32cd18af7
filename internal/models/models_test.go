package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAckLevelMerge(t *testing.T) {
	assert.Equal(t, AckRead, AckSent.Merge(AckRead))
	assert.Equal(t, AckRead, AckRead.Merge(AckSent))
	assert.Equal(t, AckDelivered, AckDelivered.Merge(AckDelivered))
	assert.Equal(t, AckPlayed, AckNone.Merge(AckPlayed))

	// Merge is commutative whatever the arrival order.
	levels := []AckLevel{AckNone, AckSent, AckDelivered, AckRead, AckPlayed}
	for _, a := range levels {
		for _, b := range levels {
			assert.Equal(t, a.Merge(b), b.Merge(a))
		}
	}
}

func TestTicketStatusValid(t *testing.T) {
	assert.True(t, TicketStatusPending.Valid())
	assert.True(t, TicketStatusOpen.Valid())
	assert.True(t, TicketStatusClosed.Valid())
	assert.False(t, TicketStatus("archived").Valid())
	assert.False(t, TicketStatus("").Valid())
}

func TestQueueAssistantModes(t *testing.T) {
	off := &Queue{Mode: QueueModeOff, AutoReply: true}
	triage := &Queue{Mode: QueueModeTriage, AutoReply: true}
	reply := &Queue{Mode: QueueModeReply}
	replyAuto := &Queue{Mode: QueueModeReply, AutoReply: true}

	assert.False(t, off.AssistantEnabled())
	assert.True(t, triage.AssistantEnabled())
	assert.True(t, reply.AssistantEnabled())

	assert.False(t, off.RepliesAllowed())
	assert.False(t, triage.RepliesAllowed())
	assert.False(t, reply.RepliesAllowed())
	assert.True(t, replyAuto.RepliesAllowed())

	var nilQueue *Queue
	assert.False(t, nilQueue.AssistantEnabled())
	assert.False(t, nilQueue.RepliesAllowed())
}

func TestAssistantDecisionEmpty(t *testing.T) {
	assert.True(t, (&AssistantDecision{}).Empty())
	assert.False(t, (&AssistantDecision{Reply: "hi"}).Empty())
	assert.False(t, (&AssistantDecision{CloseTicket: true}).Empty())
	assert.False(t, (&AssistantDecision{Tags: []string{"vip"}}).Empty())
}

func TestResolveLeadScore(t *testing.T) {
	score := func(v int) *int { return &v }

	tests := []struct {
		name     string
		decision AssistantDecision
		current  int
		want     int
		changed  bool
	}{
		{"absolute", AssistantDecision{LeadScore: score(80)}, 10, 80, true},
		{"delta", AssistantDecision{LeadScoreDelta: score(5)}, 10, 15, true},
		{"negative delta floors at zero", AssistantDecision{LeadScoreDelta: score(-50)}, 10, 0, true},
		{"negative absolute floors at zero", AssistantDecision{LeadScore: score(-1)}, 10, 0, true},
		{"absolute wins over delta", AssistantDecision{LeadScore: score(80), LeadScoreDelta: score(5)}, 10, 80, true},
		{"neither", AssistantDecision{}, 10, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := tt.decision.ResolveLeadScore(tt.current)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}
