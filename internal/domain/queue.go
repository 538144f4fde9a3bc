package domain

import "time"

// Queue priorities. Lower is more urgent.
const (
	PriorityStatusChange  = 0
	PriorityUpdate        = 1
	PriorityInformational = 2
)

// PriorityFor derives the queue priority of an event from what it reports.
func PriorityFor(e *WebhookEvent) int {
	if e.Informational {
		return PriorityInformational
	}
	if e.ReportedStatus.PaymentStatus().IsTerminal() {
		return PriorityStatusChange
	}
	return PriorityUpdate
}

// QueueEntry is a prioritized pointer to a WebhookEvent awaiting processing.
type QueueEntry struct {
	EventKey       string     `json:"event_idempotency_key"`
	Gateway        Gateway    `json:"gateway"`
	Priority       int        `json:"priority"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	ClaimToken     *string    `json:"claim_token,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
	NextEligibleAt time.Time  `json:"next_eligible_at"`
	LastErrorKind  *ErrorKind `json:"last_error_kind,omitempty"`
}

// Token returns the claim token or an empty string when unclaimed.
func (q QueueEntry) Token() string {
	if q.ClaimToken == nil {
		return ""
	}
	return *q.ClaimToken
}

// NewQueueEntry builds the entry that accompanies a freshly stored event.
func NewQueueEntry(e *WebhookEvent, now time.Time) QueueEntry {
	return QueueEntry{
		EventKey:       e.IdempotencyKey,
		Gateway:        e.Gateway,
		Priority:       PriorityFor(e),
		EnqueuedAt:     now,
		NextEligibleAt: now,
	}
}

// RetryRecord is the backoff state written when a processing attempt fails.
// AttemptCount and NextEligibleAt are always persisted together.
type RetryRecord struct {
	EventKey       string    `json:"event_idempotency_key"`
	AttemptCount   int       `json:"attempt_count"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
	LastErrorKind  ErrorKind `json:"last_error_kind"`
	LastError      string    `json:"last_error"`
}
