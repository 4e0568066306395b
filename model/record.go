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

// RecordRole identifies which side of the reconciliation a source file feeds.
type RecordRole string

const (
	RoleLedger RecordRole = "ledger"
	RoleBank   RecordRole = "bank"
)

// SourceRow is one raw row from an uploaded file: the 1-based position in the
// source and the header->cell mapping, before any normalization.
type SourceRow struct {
	Number int               `json:"number"`
	Fields map[string]string `json:"fields"`
}

// NormalizedRecord is the canonical shape produced by the record normalizer.
// Ledger-only fields (account, category) and bank-only fields (balance) are
// simply left empty for the other role.
type NormalizedRecord struct {
	RowNumber   int
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Reference   string
	Account     string
	Category    string
	Balance     decimal.NullDecimal
	Raw         map[string]string
}

// LedgerRecord is one parsed row from the internal ledger file, owned by its
// session. Immutable once created except for IsMatched/MatchConfidence, which
// the matching engine sets exactly once per run.
type LedgerRecord struct {
	ID              int64             `json:"-"`
	LedgerRecordID  string            `json:"ledger_record_id"`
	SessionID       string            `json:"session_id"`
	RowNumber       int               `json:"row_number"`
	Date            time.Time         `json:"date"`
	Description     string            `json:"description"`
	Amount          decimal.Decimal   `json:"amount"`
	Reference       string            `json:"reference,omitempty"`
	Account         string            `json:"account,omitempty"`
	Category        string            `json:"category,omitempty"`
	RawData         map[string]string `json:"raw_data,omitempty"`
	IsMatched       bool              `json:"is_matched"`
	MatchConfidence *float64          `json:"match_confidence,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// BankRecord is one parsed row from the bank statement file.
type BankRecord struct {
	ID              int64               `json:"-"`
	BankRecordID    string              `json:"bank_record_id"`
	SessionID       string              `json:"session_id"`
	RowNumber       int                 `json:"row_number"`
	Date            time.Time           `json:"date"`
	Description     string              `json:"description"`
	Amount          decimal.Decimal     `json:"amount"`
	Reference       string              `json:"reference,omitempty"`
	Balance         decimal.NullDecimal `json:"balance,omitempty"`
	RawData         map[string]string   `json:"raw_data,omitempty"`
	IsMatched       bool                `json:"is_matched"`
	MatchConfidence *float64            `json:"match_confidence,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// ToLedgerRecord converts a normalized record into a session-owned ledger
// record with a fresh ID.
func (n *NormalizedRecord) ToLedgerRecord(sessionID string) *LedgerRecord {
	return &LedgerRecord{
		LedgerRecordID: GenerateUUIDWithSuffix("ldg"),
		SessionID:      sessionID,
		RowNumber:      n.RowNumber,
		Date:           n.Date,
		Description:    n.Description,
		Amount:         n.Amount,
		Reference:      n.Reference,
		Account:        n.Account,
		Category:       n.Category,
		RawData:        n.Raw,
		CreatedAt:      time.Now(),
	}
}

// ToBankRecord converts a normalized record into a session-owned bank record
// with a fresh ID.
func (n *NormalizedRecord) ToBankRecord(sessionID string) *BankRecord {
	return &BankRecord{
		BankRecordID: GenerateUUIDWithSuffix("bnk"),
		SessionID:    sessionID,
		RowNumber:    n.RowNumber,
		Date:         n.Date,
		Description:  n.Description,
		Amount:       n.Amount,
		Reference:    n.Reference,
		Balance:      n.Balance,
		RawData:      n.Raw,
		CreatedAt:    time.Now(),
	}
}
