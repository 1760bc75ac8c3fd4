package domain

import "context"

// HistorySource provides previously collected observations. An empty table
// (no history yet) is a valid answer, not an error.
type HistorySource interface {
	FetchHistory(ctx context.Context) (RawTable, error)
}

// ObservationRecorder persists a reading back to the history store.
type ObservationRecorder interface {
	AppendObservation(ctx context.Context, obs Observation) error
}
