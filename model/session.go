/*
Copyright 2025 CrossCheck Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Session lifecycle statuses. A session moves created -> processing ->
// completed, with failed reachable from processing. Processing is re-entered
// when matching starts after file parsing; completed and failed are terminal.
const (
	StatusCreated    = "created"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// SessionCounters holds the aggregate record counts for one reconciliation run.
type SessionCounters struct {
	TotalLedgerRecords     int `json:"total_ledger_records"`
	TotalBankRecords       int `json:"total_bank_records"`
	MatchedRecords         int `json:"matched_records"`
	UnmatchedLedgerRecords int `json:"unmatched_ledger_records"`
	UnmatchedBankRecords   int `json:"unmatched_bank_records"`
}

// ReconciliationSession is one reconciliation run: two uploaded files, the
// tolerances used to compare them, and the resulting counts.
type ReconciliationSession struct {
	ID                int64           `json:"-"`
	SessionID         string          `json:"session_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Owner             string          `json:"owner,omitempty"`
	Status            string          `json:"status"`
	DateToleranceDays int             `json:"date_tolerance_days"`
	AmountTolerance   decimal.Decimal `json:"amount_tolerance"`
	SessionCounters
	LedgerFilePath string     `json:"-"`
	BankFilePath   string     `json:"-"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// sessionTransitions is the allowed status transition matrix. Processing is
// listed as its own successor because file parsing and matching both run under
// the same status.
var sessionTransitions = map[string][]string{
	StatusCreated:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// CanTransitionTo reports whether the session may move to the next status.
func (s *ReconciliationSession) CanTransitionTo(next string) bool {
	for _, allowed := range sessionTransitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session has reached a final status.
func (s *ReconciliationSession) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// MatchPercentage returns the share of ledger records that were matched,
// rounded to one decimal place. Zero ledger records yields 0.
func (s *ReconciliationSession) MatchPercentage() float64 {
	if s.TotalLedgerRecords == 0 {
		return 0
	}
	pct := float64(s.MatchedRecords) / float64(s.TotalLedgerRecords) * 100
	return math.Round(pct*10) / 10
}
