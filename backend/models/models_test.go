package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentReminderState(t *testing.T) {
	fresh := &SentReminder{}
	assert.Equal(t, StateSent, fresh.State())

	followedUp := &SentReminder{FollowupSent: true}
	assert.Equal(t, StateFollowedUp, followedUp.State())

	completed := &SentReminder{Completed: true}
	assert.Equal(t, StateCompleted, completed.State())

	// Completed after the follow-up went out: completed wins.
	both := &SentReminder{FollowupSent: true, Completed: true}
	assert.Equal(t, StateCompleted, both.State())
}

func TestReminderStateString(t *testing.T) {
	assert.Equal(t, "sent", StateSent.String())
	assert.Equal(t, "followed_up", StateFollowedUp.String())
	assert.Equal(t, "completed", StateCompleted.String())
}

func TestFollowupDelayMinutes(t *testing.T) {
	rule := &ReminderRule{}
	assert.Equal(t, DefaultFollowupDelayMinutes, rule.FollowupDelayMinutes())

	rule.FollowupDelay = -10
	assert.Equal(t, DefaultFollowupDelayMinutes, rule.FollowupDelayMinutes())

	rule.FollowupDelay = 30
	assert.Equal(t, 30, rule.FollowupDelayMinutes())
}
