package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide_BackoffDoubles(t *testing.T) {
	cases := []struct {
		attempts int
		backoff  time.Duration
	}{
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
	}
	for _, tc := range cases {
		d := Decide(tc.attempts, 10)
		assert.True(t, d.Requeue, "attempt %d should requeue", tc.attempts)
		assert.Equal(t, tc.backoff, d.Backoff, "attempt %d", tc.attempts)
	}
}

func TestDecide_DeadLetterAtMax(t *testing.T) {
	d := Decide(3, 3)
	assert.False(t, d.Requeue)

	d = Decide(4, 3)
	assert.False(t, d.Requeue)

	d = Decide(2, 3)
	assert.True(t, d.Requeue)
}

func TestDecide_SingleAttemptNeverRetries(t *testing.T) {
	d := Decide(1, 1)
	assert.False(t, d.Requeue)
}
