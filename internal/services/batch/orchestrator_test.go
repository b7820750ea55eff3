package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/adsum/internal/common"
	"github.com/ternarybob/adsum/internal/models"
	"github.com/ternarybob/adsum/internal/services/site"
)

// fakeWorkflow fails the configured usernames until they have been
// attempted succeedAfter times.
type fakeWorkflow struct {
	calls        map[string]int
	failUntil    map[string]int // username -> attempts that must fail (-1 = always)
	processOrder []string
}

func newFakeWorkflow(failUntil map[string]int) *fakeWorkflow {
	return &fakeWorkflow{
		calls:     make(map[string]int),
		failUntil: failUntil,
	}
}

func (f *fakeWorkflow) Run(ctx context.Context, descriptor models.SiteDescriptor, account models.Account) models.AccountResult {
	f.calls[account.Username]++
	f.processOrder = append(f.processOrder, account.Username)

	result := models.AccountResult{
		AccountKey: models.AccountKey(descriptor, account.Username),
		Username:   account.Username,
		BaseURL:    descriptor.BaseURL,
		Success:    true,
	}
	if limit, ok := f.failUntil[account.Username]; ok {
		if limit < 0 || f.calls[account.Username] <= limit {
			result.Success = false
			result.FailureReason = "induced failure"
		}
	}
	return result
}

func testOrchestrator(workflow WorkflowRunner, maxRetries int) (*Orchestrator, *[]time.Duration) {
	o := New(workflow, site.Globals{}, Options{
		MinDelay:   time.Second,
		MaxDelay:   3 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: time.Hour,
	}, nil, common.GetLogger())

	var slept []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) {
		slept = append(slept, d)
	}
	return o, &slept
}

func accounts(n int) []models.Account {
	out := make([]models.Account, n)
	for i := range out {
		out[i] = models.Account{Username: fmt.Sprintf("user%d", i+1), Password: "pw"}
	}
	return out
}

func TestRunWithRetries_AllSucceedFirstRound(t *testing.T) {
	workflow := newFakeWorkflow(nil)
	o, slept := testOrchestrator(workflow, 3)

	run := o.RunWithRetries(context.Background(), accounts(3))

	require.Len(t, run.Results, 3)
	assert.Equal(t, 1, run.Rounds)
	assert.Equal(t, 3, run.SuccessCount)
	assert.Equal(t, 0, run.FailureCount)
	for _, r := range run.Results {
		assert.Equal(t, 1, r.Attempts)
	}
	// Two inter-account delays, no retry backoff.
	assert.Len(t, *slept, 2)
}

func TestRunWithRetries_PersistentFailures(t *testing.T) {
	workflow := newFakeWorkflow(map[string]int{"user2": -1, "user4": -1})
	o, _ := testOrchestrator(workflow, 2)

	run := o.RunWithRetries(context.Background(), accounts(5))

	// One merged result per account, in first-attempt order.
	require.Len(t, run.Results, 5)
	for i, r := range run.Results {
		assert.Equal(t, fmt.Sprintf("user%d", i+1), r.Username)
	}

	assert.Equal(t, 3, run.Rounds)
	assert.Equal(t, 3, run.SuccessCount)
	assert.Equal(t, 2, run.FailureCount)

	// Successes run once; only failures re-enter retry rounds.
	assert.Equal(t, 1, workflow.calls["user1"])
	assert.Equal(t, 3, workflow.calls["user2"])
	assert.Equal(t, 1, workflow.calls["user3"])
	assert.Equal(t, 3, workflow.calls["user4"])
	assert.Equal(t, 3, run.Results[1].Attempts)
	assert.Equal(t, 1, run.Results[0].Attempts)
}

func TestRunWithRetries_RecoveryOnRetry(t *testing.T) {
	workflow := newFakeWorkflow(map[string]int{"user2": 1})
	o, slept := testOrchestrator(workflow, 3)

	run := o.RunWithRetries(context.Background(), accounts(3))

	assert.Equal(t, 2, run.Rounds)
	assert.Equal(t, 3, run.SuccessCount)
	assert.Equal(t, 0, run.FailureCount)
	assert.Equal(t, 2, run.Results[1].Attempts)
	assert.True(t, run.Results[1].Success)

	// Exactly one retry backoff of the configured duration.
	backoffs := 0
	for _, d := range *slept {
		if d == time.Hour {
			backoffs++
		}
	}
	assert.Equal(t, 1, backoffs)
}

func TestRunWithRetries_ZeroRetries(t *testing.T) {
	workflow := newFakeWorkflow(map[string]int{"user1": -1})
	o, _ := testOrchestrator(workflow, 0)

	run := o.RunWithRetries(context.Background(), accounts(1))

	assert.Equal(t, 1, run.Rounds)
	assert.Equal(t, 1, run.FailureCount)
	assert.Equal(t, 1, workflow.calls["user1"])
}

func TestRunWithRetries_ContextCancelStopsRetrying(t *testing.T) {
	workflow := newFakeWorkflow(map[string]int{"user1": -1})
	o, _ := testOrchestrator(workflow, 5)

	ctx, cancel := context.WithCancel(context.Background())
	o.sleep = func(ctx context.Context, d time.Duration) {
		cancel() // cancellation arrives during the retry backoff
	}

	run := o.RunWithRetries(ctx, accounts(1))

	assert.Equal(t, 1, workflow.calls["user1"], "no further rounds after cancellation")
	assert.Equal(t, 1, run.FailureCount)
}

func TestInterAccountDelayBounds(t *testing.T) {
	o, _ := testOrchestrator(newFakeWorkflow(nil), 0)

	o.randF = func() float64 { return 0 }
	assert.Equal(t, time.Second, o.interAccountDelay())

	o.randF = func() float64 { return 0.999 }
	delay := o.interAccountDelay()
	assert.GreaterOrEqual(t, delay, time.Second)
	assert.LessOrEqual(t, delay, 3*time.Second)

	// Degenerate range pins to the minimum.
	o.opts.MaxDelay = o.opts.MinDelay
	assert.Equal(t, time.Second, o.interAccountDelay())
}
