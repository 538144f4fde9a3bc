package domain

import "time"

// PaymentStatus is the ledger status of a payment.
type PaymentStatus string

const (
	PaymentCreated  PaymentStatus = "created"
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentReversed PaymentStatus = "reversed"
)

// Payment is a ledger record. Only its status is mutated by the pipeline.
type Payment struct {
	Reference        string        `json:"reference"`
	Gateway          Gateway       `json:"gateway"`
	Status           PaymentStatus `json:"status"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	LastEventKey     *string       `json:"last_event_key,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	LastTransitionAt time.Time     `json:"last_transition_at"`
}

// PaymentTransition is one applied status change, kept for audit.
type PaymentTransition struct {
	Reference      string        `json:"reference"`
	FromStatus     PaymentStatus `json:"from_status"`
	ToStatus       PaymentStatus `json:"to_status"`
	SourceEventKey string        `json:"source_event_key"`
	CreatedAt      time.Time     `json:"created_at"`
}

// rank orders statuses along the state machine
// created -> pending -> {success, failed} -> reversed.
func (s PaymentStatus) rank() int {
	switch s {
	case PaymentCreated:
		return 0
	case PaymentPending:
		return 1
	case PaymentSuccess, PaymentFailed:
		return 2
	case PaymentReversed:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether s is a final gateway outcome.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentSuccess || s == PaymentFailed || s == PaymentReversed
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	return s.rank() >= 0
}

// TransitionDecision is the outcome of checking a reported status against the
// current ledger status.
type TransitionDecision int

const (
	// DecisionApply means the reported status is ahead and must be written.
	DecisionApply TransitionDecision = iota
	// DecisionStale means the reported status is equal or behind; it is dropped.
	DecisionStale
	// DecisionDefer means the transition is not reachable yet (a reversal
	// arriving before the success it reverses) and should be retried later.
	DecisionDefer
)

// DecideTransition applies the monotonic state machine. Terminal statuses never
// regress: success and failed are final with respect to each other, and
// reversed is only reachable from success.
func DecideTransition(current, reported PaymentStatus) TransitionDecision {
	if !reported.Valid() || !current.Valid() {
		return DecisionStale
	}
	if reported == PaymentReversed {
		switch current {
		case PaymentSuccess:
			return DecisionApply
		case PaymentCreated, PaymentPending:
			return DecisionDefer
		default:
			return DecisionStale
		}
	}
	if current.IsTerminal() {
		return DecisionStale
	}
	if reported.rank() > current.rank() {
		return DecisionApply
	}
	return DecisionStale
}

// TransitionOutcome is what the ledger did with a requested transition.
type TransitionOutcome string

const (
	TransitionApplied  TransitionOutcome = "applied"
	TransitionNoOp     TransitionOutcome = "noop"
	TransitionConflict TransitionOutcome = "conflict"
)

// TransitionResult reports the ledger outcome and the statuses involved.
type TransitionResult struct {
	Outcome    TransitionOutcome
	FromStatus PaymentStatus
	ToStatus   PaymentStatus
}
