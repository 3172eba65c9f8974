package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	all := []SessionStatus{SessionStatusPending, SessionStatusConfirmed, SessionStatusCompleted, SessionStatusCancelled}
	allowed := map[[2]SessionStatus]bool{
		{SessionStatusPending, SessionStatusConfirmed}:   true,
		{SessionStatusPending, SessionStatusCancelled}:   true,
		{SessionStatusConfirmed, SessionStatusCompleted}: true,
		{SessionStatusConfirmed, SessionStatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]SessionStatus{from, to}], CanTransitionTo(from, to), "%s -> %s", from, to)
		}
	}

	assert.False(t, CanTransitionTo("paid", SessionStatusCompleted), "unknown states have no edges")
}

func TestSessionStatus_Predicates(t *testing.T) {
	assert.True(t, SessionStatusPending.HoldsReservation())
	assert.True(t, SessionStatusConfirmed.HoldsReservation())
	assert.False(t, SessionStatusCompleted.HoldsReservation())
	assert.False(t, SessionStatusCancelled.HoldsReservation())

	assert.True(t, SessionStatusCompleted.Terminal())
	assert.True(t, SessionStatusCancelled.Terminal())
	assert.False(t, SessionStatusPending.Terminal())

	assert.False(t, SessionStatus("expired").Valid())
}

func TestSessionRecord_Counterparty(t *testing.T) {
	s := &SessionRecord{TeacherID: "t1", LearnerID: "l1"}

	assert.Equal(t, "l1", s.Counterparty("t1"))
	assert.Equal(t, "t1", s.Counterparty("l1"))
	assert.Equal(t, "", s.Counterparty("someone"))

	assert.True(t, s.IsParticipant("t1"))
	assert.False(t, s.IsParticipant(""))
	assert.False(t, s.IsParticipant("someone"))
}
