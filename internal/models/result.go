package models

import "time"

// AccountResult is the outcome of one processing attempt for one
// account. The batch orchestrator keeps exactly one result per
// AccountKey; the most recent attempt wins.
type AccountResult struct {
	AccountKey     string        `json:"account_key" badgerhold:"index"`
	Username       string        `json:"username"`
	Site           string        `json:"site"`
	BaseURL        string        `json:"base_url"`
	AuthMode       AuthMode      `json:"auth_mode"`
	Success        bool          `json:"success"`
	Note           string        `json:"note,omitempty"`           // e.g. "check-in result could not be confirmed"
	FailureReason  string        `json:"failure_reason,omitempty"` // set when Success is false
	UserID         int64         `json:"user_id,omitempty"`
	QuotaRemaining int64         `json:"quota_remaining"`
	QuotaDelta     int64         `json:"quota_delta"`
	Tokens         []TokenRecord `json:"tokens,omitempty"`
	Attempts       int           `json:"attempts"` // total attempts across retry rounds
	CompletedAt    time.Time     `json:"completed_at"`
}

// Label returns the human-readable account identity.
func (r AccountResult) Label() string {
	return r.Username + " @ " + r.BaseURL
}

// RunRecord is one completed batch run, persisted for history.
type RunRecord struct {
	ID           string          `json:"id" badgerhold:"key"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Rounds       int             `json:"rounds"`
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
	Results      []AccountResult `json:"results"`
}

// Summarize derives run totals from a result set.
func (r *RunRecord) Summarize() {
	r.SuccessCount = 0
	r.FailureCount = 0
	for _, result := range r.Results {
		if result.Success {
			r.SuccessCount++
		} else {
			r.FailureCount++
		}
	}
}

// FailedLabels returns the labels of all failed accounts in the run.
func (r *RunRecord) FailedLabels() []string {
	var labels []string
	for _, result := range r.Results {
		if !result.Success {
			labels = append(labels, result.Label())
		}
	}
	return labels
}
