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

import "time"

// Exception types. The automatic pipeline only emits the two unmatched types;
// the remaining ones exist for manually-raised discrepancies.
const (
	ExceptionUnmatchedLedger   = "unmatched_ledger"
	ExceptionUnmatchedBank     = "unmatched_bank"
	ExceptionDuplicateMatch    = "duplicate_match"
	ExceptionAmountDiscrepancy = "amount_discrepancy"
	ExceptionDateDiscrepancy   = "date_discrepancy"
	ExceptionOther             = "other"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const (
	ExceptionStatusOpen     = "open"
	ExceptionStatusResolved = "resolved"
	ExceptionStatusIgnored  = "ignored"
)

// Exception resolutions accepted by the resolve endpoint.
const (
	ResolutionManualMatch = "manual_match"
	ResolutionIgnore      = "ignore"
	ResolutionResolved    = "resolved"
)

// ExceptionDescriptionLimit bounds the free-text description copied from the
// offending record.
const ExceptionDescriptionLimit = 100

// ReconciliationException is a record the matching engine could not pair, or a
// structural anomaly flagged for human review. Exactly one of LedgerRecordID
// and BankRecordID is set for the unmatched types.
type ReconciliationException struct {
	ID              int64      `json:"-"`
	ExceptionID     string     `json:"exception_id"`
	SessionID       string     `json:"session_id"`
	ExceptionType   string     `json:"exception_type"`
	Severity        string     `json:"severity"`
	LedgerRecordID  string     `json:"ledger_record_id,omitempty"`
	BankRecordID    string     `json:"bank_record_id,omitempty"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	Resolution      string     `json:"resolution,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
