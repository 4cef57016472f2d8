package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

func (c *Client) refreshAction() *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        RefreshScheduleID + "-run",
		Workflow:  RefreshWorkflowName,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{RefreshInput{Force: true}},
	}
}

// UpsertRefreshSchedule creates the refresh schedule, or updates its interval
// if it already exists.
func (c *Client) UpsertRefreshSchedule(ctx context.Context, interval time.Duration) error {
	c.logger.Debug("upserting refresh schedule",
		"schedule_id", RefreshScheduleID,
		"interval", interval,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, RefreshScheduleID)
	desc, err := handle.Describe(ctx)
	if err != nil {
		// Schedule doesn't exist or error getting it - create new one
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", RefreshScheduleID,
			"error", err,
		)
		return c.createRefreshSchedule(ctx, interval)
	}

	var oldInterval time.Duration
	if intervals := desc.Schedule.Spec.Intervals; len(intervals) > 0 {
		oldInterval = intervals[0].Every
	}
	c.logger.Debug("schedule exists, updating interval",
		"schedule_id", RefreshScheduleID,
		"old_interval", oldInterval,
		"new_interval", interval,
	)

	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			input.Description.Schedule.Action = c.refreshAction()
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", RefreshScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", RefreshScheduleID, err)
	}

	c.logger.Info("refresh schedule updated",
		"schedule_id", RefreshScheduleID,
		"interval", interval,
	)
	return nil
}

func (c *Client) createRefreshSchedule(ctx context.Context, interval time.Duration) error {
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: RefreshScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: c.refreshAction(),
		Memo: map[string]interface{}{
			"created_by": "tokensync",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", RefreshScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", RefreshScheduleID, err)
	}

	c.logger.Info("refresh schedule created",
		"schedule_id", RefreshScheduleID,
		"interval", interval,
	)
	return nil
}

// DeleteRefreshSchedule deletes the refresh schedule.
func (c *Client) DeleteRefreshSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, RefreshScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", RefreshScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", RefreshScheduleID, err)
	}

	c.logger.Info("refresh schedule deleted", "schedule_id", RefreshScheduleID)
	return nil
}

// RunRefresh starts RefreshWorkflow immediately and waits for its result.
func (c *Client) RunRefresh(ctx context.Context, input RefreshInput) (*RefreshResult, error) {
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("%s-manual-%d", RefreshScheduleID, time.Now().UnixNano()),
		TaskQueue: c.taskQueue,
	}, RefreshWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start refresh workflow: %w", err)
	}

	c.logger.Info("refresh workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	var result RefreshResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("refresh workflow failed: %w", err)
	}
	return &result, nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
