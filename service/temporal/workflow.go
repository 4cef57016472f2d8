package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// RefreshWorkflowName is the name the worker registers RefreshWorkflow under.
const RefreshWorkflowName = "RefreshWorkflow"

// RefreshWorkflow refreshes the cached token list and then the cached
// balances. It is triggered by the refresh schedule or on demand.
//
// The workflow performs these steps:
// 1. Refresh the top token list (RefreshTopTokens activity)
// 2. Refresh the balance of the requested tokens, or of every listed token
// (RefreshBalances activity)
func RefreshWorkflow(ctx workflow.Context, input RefreshInput) (*RefreshResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RefreshWorkflow started", "force", input.Force, "addresses", len(input.Addresses))

	result := &RefreshResult{
		StartedAt: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: refresh the token list
	var listResult *RefreshTopTokensResult
	err := workflow.ExecuteActivity(ctx, a.RefreshTopTokens, RefreshTopTokensInput{Force: input.Force}).Get(ctx, &listResult)
	if err != nil {
		logger.Error("failed to refresh top tokens", "error", err)
		errMsg := fmt.Sprintf("failed to refresh top tokens: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to refresh top tokens: %w", err)
	}
	result.TokenCount = len(listResult.Addresses)

	addresses := input.Addresses
	if len(addresses) == 0 {
		addresses = listResult.Addresses
	}
	if len(addresses) == 0 {
		logger.Info("no tokens listed, skipping balance refresh")
		return result, nil
	}

	// Step 2: refresh balances
	var balanceResult *RefreshBalancesResult
	err = workflow.ExecuteActivity(ctx, a.RefreshBalances, RefreshBalancesInput{
		Addresses: addresses,
		Force:     input.Force,
	}).Get(ctx, &balanceResult)
	if err != nil {
		logger.Error("failed to refresh balances", "error", err)
		errMsg := fmt.Sprintf("failed to refresh balances: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to refresh balances: %w", err)
	}

	result.BalancesRefreshed = balanceResult.Refreshed
	result.BalancesFailed = len(balanceResult.Failed)

	logger.Info("RefreshWorkflow completed",
		"token_count", result.TokenCount,
		"balances_refreshed", result.BalancesRefreshed,
		"balances_failed", result.BalancesFailed,
	)

	return result, nil
}
