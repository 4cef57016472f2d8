package temporal

import (
	"context"
	"time"
)

// RefreshScheduleID is the ID of the single schedule that triggers RefreshWorkflow.
const RefreshScheduleID = "tokensync-refresh"

// Scheduler manages the Temporal schedule that keeps the cache warm.
type Scheduler interface {
	// UpsertRefreshSchedule creates the refresh schedule, or updates its
	// interval if it already exists.
	UpsertRefreshSchedule(ctx context.Context, interval time.Duration) error

	// DeleteRefreshSchedule deletes the refresh schedule.
	DeleteRefreshSchedule(ctx context.Context) error
}
