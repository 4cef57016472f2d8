package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	interval  time.Duration
	exists    bool
	upserts   int
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// UpsertRefreshSchedule creates or updates the schedule.
func (m *MockScheduler) UpsertRefreshSchedule(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	m.interval = interval
	m.exists = true
	m.upserts++
	return nil
}

// DeleteRefreshSchedule records that the schedule was deleted.
func (m *MockScheduler) DeleteRefreshSchedule(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	if !m.exists {
		return fmt.Errorf("schedule %q not found", RefreshScheduleID)
	}
	m.exists = false
	m.interval = 0
	return nil
}

// SetCreateError makes UpsertRefreshSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeleteRefreshSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Interval returns the schedule interval and whether the schedule exists.
func (m *MockScheduler) Interval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval, m.exists
}

// Upserts returns how many times UpsertRefreshSchedule succeeded.
func (m *MockScheduler) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}
