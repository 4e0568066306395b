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

package crosscheck

import (
	"time"

	"github.com/crosscheck-finance/crosscheck/model"
)

// BuildExceptions emits one open exception for every record a matching pass
// left unmatched: unmatched_ledger for ledger records, unmatched_bank for
// bank records. Each exception references exactly one record, defaults to
// medium severity and carries the record's description truncated to
// model.ExceptionDescriptionLimit characters.
//
// The builder only looks at the records it is handed. Exceptions created by
// an earlier pass are not consulted, so rerunning matching without clearing
// them first produces duplicates for records that stay unmatched.
func BuildExceptions(sessionID string, ledgerRecords []*model.LedgerRecord, bankRecords []*model.BankRecord) []*model.ReconciliationException {
	var exceptions []*model.ReconciliationException

	for _, record := range ledgerRecords {
		if record.IsMatched {
			continue
		}
		exceptions = append(exceptions, &model.ReconciliationException{
			ExceptionID:    model.GenerateUUIDWithSuffix("exc"),
			SessionID:      sessionID,
			ExceptionType:  model.ExceptionUnmatchedLedger,
			Severity:       model.SeverityMedium,
			LedgerRecordID: record.LedgerRecordID,
			Description:    "Unmatched ledger transaction: " + model.TruncateString(record.Description, model.ExceptionDescriptionLimit),
			Status:         model.ExceptionStatusOpen,
			CreatedAt:      time.Now(),
		})
	}

	for _, record := range bankRecords {
		if record.IsMatched {
			continue
		}
		exceptions = append(exceptions, &model.ReconciliationException{
			ExceptionID:   model.GenerateUUIDWithSuffix("exc"),
			SessionID:     sessionID,
			ExceptionType: model.ExceptionUnmatchedBank,
			Severity:      model.SeverityMedium,
			BankRecordID:  record.BankRecordID,
			Description:   "Unmatched bank transaction: " + model.TruncateString(record.Description, model.ExceptionDescriptionLimit),
			Status:        model.ExceptionStatusOpen,
			CreatedAt:     time.Now(),
		})
	}

	return exceptions
}

// ComputeCounters recomputes session-level statistics from the records of a
// finished pass. Matched and unmatched ledger counts always sum to the ledger
// total, and likewise for the bank side.
func ComputeCounters(ledgerRecords []*model.LedgerRecord, bankRecords []*model.BankRecord) model.SessionCounters {
	counters := model.SessionCounters{
		TotalLedgerRecords: len(ledgerRecords),
		TotalBankRecords:   len(bankRecords),
	}
	for _, record := range ledgerRecords {
		if record.IsMatched {
			counters.MatchedRecords++
		} else {
			counters.UnmatchedLedgerRecords++
		}
	}
	for _, record := range bankRecords {
		if !record.IsMatched {
			counters.UnmatchedBankRecords++
		}
	}
	return counters
}
