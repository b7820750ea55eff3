// -----------------------------------------------------------------------
// Batch Orchestrator - sequential account processing with bounded
// retry rounds and result merging by account key
// -----------------------------------------------------------------------

package batch

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/adsum/internal/interfaces"
	"github.com/ternarybob/adsum/internal/models"
	"github.com/ternarybob/adsum/internal/services/site"
)

// WorkflowRunner processes one account against its resolved site.
// Satisfied by *checkin.Workflow; tests substitute a fake.
type WorkflowRunner interface {
	Run(ctx context.Context, descriptor models.SiteDescriptor, account models.Account) models.AccountResult
}

// Options holds the batch-level knobs from the settings block.
type Options struct {
	MinDelay   time.Duration // lower bound of the random inter-account delay
	MaxDelay   time.Duration
	MaxRetries int
	RetryDelay time.Duration // fixed backoff between retry rounds
}

// Orchestrator runs accounts strictly sequentially: one driver
// session at a time, randomized delays between accounts, failed
// accounts repeated across bounded retry rounds.
type Orchestrator struct {
	workflow WorkflowRunner
	globals  site.Globals
	opts     Options
	logger   arbor.ILogger
	store    interfaces.RunStorage // optional run history, may be nil

	// sleep is swapped out in tests; the default honors ctx
	// cancellation so an hours-long backoff still allows the host
	// process to be killed cleanly.
	sleep func(ctx context.Context, d time.Duration)
	randF func() float64
}

// New creates an orchestrator. store may be nil to disable history.
func New(workflow WorkflowRunner, globals site.Globals, opts Options, store interfaces.RunStorage, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		workflow: workflow,
		globals:  globals,
		opts:     opts,
		logger:   logger,
		store:    store,
		sleep:    sleepCtx,
		randF:    rand.Float64,
	}
}

// RunWithRetries processes all valid accounts, then re-runs only the
// still-failed subset across up to MaxRetries additional rounds with
// a fixed backoff. The returned run holds exactly one result per
// account key attempted at least once, reflecting the last attempt;
// successes leave the retry pool and are never re-run.
func (o *Orchestrator) RunWithRetries(ctx context.Context, accounts []models.Account) *models.RunRecord {
	run := &models.RunRecord{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}

	results := make(map[string]models.AccountResult)
	attempts := make(map[string]int)
	var order []string // account keys in first-attempt order

	pending := accounts
	for round := 0; ; round++ {
		run.Rounds = round + 1
		o.logger.Info().
			Int("round", round).
			Int("accounts", len(pending)).
			Msg("Starting check-in round")

		o.runRound(ctx, pending, results, attempts, &order)

		failed := o.failedSubset(pending, results)
		if len(failed) == 0 {
			o.logger.Info().Int("round", round).Msg("All accounts succeeded")
			break
		}
		if round >= o.opts.MaxRetries {
			o.logger.Warn().
				Int("failed", len(failed)).
				Int("rounds", round+1).
				Msg("Retry budget exhausted with failures remaining")
			break
		}

		o.logger.Info().
			Int("failed", len(failed)).
			Dur("backoff", o.opts.RetryDelay).
			Msg("Sleeping before retry round")
		o.sleep(ctx, o.opts.RetryDelay)
		if ctx.Err() != nil {
			break
		}
		pending = failed
	}

	final := make([]models.AccountResult, 0, len(order))
	for _, key := range order {
		result := results[key]
		result.Attempts = attempts[key]
		final = append(final, result)
	}

	run.FinishedAt = time.Now()
	run.Results = final
	run.Summarize()
	o.persistRun(ctx, run)
	o.logSummary(run)

	return run
}

// runRound processes one account list sequentially, merging each
// result into the map by account key (last write wins). A fresh
// driver session is opened per account inside the workflow, so no
// state bleeds between accounts.
func (o *Orchestrator) runRound(ctx context.Context, accounts []models.Account, results map[string]models.AccountResult, attempts map[string]int, order *[]string) {
	for i, account := range accounts {
		if ctx.Err() != nil {
			return
		}

		descriptor := site.Resolve(o.globals, account)

		o.logger.Info().
			Str("account", models.AccountLabel(descriptor, account.Username)).
			Int("position", i+1).
			Int("total", len(accounts)).
			Msg("Processing account")

		result := o.workflow.Run(ctx, descriptor, account)

		if _, seen := results[result.AccountKey]; !seen {
			*order = append(*order, result.AccountKey)
		}
		results[result.AccountKey] = result
		attempts[result.AccountKey]++

		if i < len(accounts)-1 {
			delay := o.interAccountDelay()
			o.logger.Info().Dur("delay", delay).Msg("Waiting before next account")
			o.sleep(ctx, delay)
		}
	}
}

// failedSubset returns the accounts from this round whose merged
// result is currently a failure, preserving input order.
func (o *Orchestrator) failedSubset(attempted []models.Account, results map[string]models.AccountResult) []models.Account {
	var failed []models.Account
	for _, account := range attempted {
		descriptor := site.Resolve(o.globals, account)
		key := models.AccountKey(descriptor, account.Username)
		if result, ok := results[key]; ok && !result.Success {
			failed = append(failed, account)
		}
	}
	return failed
}

// interAccountDelay draws uniformly from [MinDelay, MaxDelay].
func (o *Orchestrator) interAccountDelay() time.Duration {
	if o.opts.MaxDelay <= o.opts.MinDelay {
		return o.opts.MinDelay
	}
	spread := o.opts.MaxDelay - o.opts.MinDelay
	return o.opts.MinDelay + time.Duration(o.randF()*float64(spread))
}

func (o *Orchestrator) persistRun(ctx context.Context, run *models.RunRecord) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveRun(ctx, run); err != nil {
		o.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to persist run record")
	}
}

func (o *Orchestrator) logSummary(run *models.RunRecord) {
	o.logger.Info().
		Str("run_id", run.ID).
		Int("total", len(run.Results)).
		Int("success", run.SuccessCount).
		Int("failed", run.FailureCount).
		Int("rounds", run.Rounds).
		Msg("Check-in batch finished")
	if failed := run.FailedLabels(); len(failed) > 0 {
		o.logger.Warn().
			Strs("failed_accounts", failed).
			Msg("Accounts still failing after all rounds")
	}
}

// sleepCtx blocks for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
