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
	"time"

	"github.com/shopspring/decimal"
)

const (
	MatchTypeExact   = "exact"
	MatchTypePartial = "partial"
	MatchTypeManual  = "manual"
)

// TransactionMatch pairs exactly one ledger record with exactly one bank
// record within a session. Automatic matches come from the matching engine;
// manual ones from exception resolution.
type TransactionMatch struct {
	ID                 int64           `json:"-"`
	MatchID            string          `json:"match_id"`
	SessionID          string          `json:"session_id"`
	LedgerRecordID     string          `json:"ledger_record_id"`
	BankRecordID       string          `json:"bank_record_id"`
	MatchType          string          `json:"match_type"`
	ConfidenceScore    float64         `json:"confidence_score"`
	DateDifferenceDays int             `json:"date_difference_days"`
	AmountDifference   decimal.Decimal `json:"amount_difference"`
	IsConfirmed        bool            `json:"is_confirmed"`
	Notes              string          `json:"notes,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}
