package domain

// EventFilter narrows event listings. Zero values match everything.
type EventFilter struct {
	Gateway   Gateway
	Reference string
	State     ProcessingState
	Limit     int
}

// PipelineMetrics is a point-in-time summary for operators.
type PipelineMetrics struct {
	QueueDepth       int64                     `json:"queue_depth"`
	ClaimedEntries   int64                     `json:"claimed_entries"`
	DeferredEntries  int64                     `json:"deferred_entries"`
	EventsByState    map[ProcessingState]int64 `json:"events_by_state"`
	PaymentsByStatus map[PaymentStatus]int64   `json:"payments_by_status"`
	DeadLetterCount  int64                     `json:"dead_letter_count"`
	TotalEvents      int64                     `json:"total_events"`
}
