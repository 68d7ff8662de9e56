package worker

import "time"

// Decision tells the dispatcher what to do with a failed job.
type Decision struct {
	Requeue bool
	Backoff time.Duration
}

// Decide applies the retry policy after a handler failure. Attempts
// already includes the failed attempt. Backoff doubles per attempt:
// 2, 4, 8 minutes and so on.
func Decide(attempts, maxAttempts int) Decision {
	if attempts >= maxAttempts {
		return Decision{Requeue: false}
	}
	return Decision{
		Requeue: true,
		Backoff: time.Duration(1<<attempts) * time.Minute,
	}
}
