package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		changed  bool
		code     ErrorCode
	}{
		{StatusPending, StatusApproved, true, ""},
		{StatusPending, StatusRejected, true, ""},
		{StatusApproved, StatusApproved, false, ""},
		{StatusRejected, StatusRejected, false, ""},
		{StatusApproved, StatusRejected, false, ErrCodeInvalidTransition},
		{StatusRejected, StatusApproved, false, ErrCodeInvalidTransition},
		{StatusApproved, StatusPending, false, ErrCodeInvalidTransition},
		{StatusPending, StatusPending, false, ErrCodeInvalidTransition},
		{StatusPending, "shipped", false, ErrCodeValidation},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			changed, err := Transition(tc.from, tc.to)
			assert.Equal(t, tc.changed, changed)
			if tc.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, IsDomainError(err, tc.code), "got %v", err)
		})
	}
}

func TestErrorsMatchByCode(t *testing.T) {
	wrapped := WrapError(ErrCodeRemoteUnavailable, "remote store unavailable", assert.AnError)
	assert.ErrorIs(t, wrapped, ErrRemoteUnavailable)
	assert.NotErrorIs(t, wrapped, ErrStaleWrite)
	assert.Equal(t, ErrCodeInternal, CodeOf(assert.AnError))
	assert.Equal(t, ErrCodeSuperseded, CodeOf(ErrSuperseded))
}

func TestTransitionErrorMatchesSentinel(t *testing.T) {
	_, err := Transition(StatusApproved, StatusRejected)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Transition(StatusPending, "shipped")
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.NotErrorIs(t, err, ErrInvalidTransition)

	assert.NotErrorIs(t, ErrProfileNotFound, ErrDocumentNotFound)
	assert.NotErrorIs(t, NewError(ErrCodeNotFound, "listing not found"), ErrProfileNotFound)
	assert.ErrorIs(t, WrapError(ErrCodeNotFound, "profile not found", assert.AnError), ErrProfileNotFound)
}
