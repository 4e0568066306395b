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
	"sort"
	"time"

	"github.com/crosscheck-finance/crosscheck/model"
)

// MatchRecords runs one greedy matching pass over a session's records.
//
// Ledger records are visited in ascending row number, i.e. source file order.
// Each unmatched ledger record scores every bank record that is still
// unmatched and claims the single best one, provided the score reaches
// MinimumConfidence. The best-candidate comparison is strictly greater-than,
// so when two bank records score identically the one encountered first (the
// lower row number) keeps the claim. A claimed bank record leaves the
// candidate pool immediately and cannot be claimed again in the same pass.
//
// This is a deliberate greedy simplification, not an optimal bipartite
// assignment: when several ledger records could plausibly claim the same bank
// record, iteration order decides which one wins, and no reassignment or
// backtracking happens afterwards. In exchange the pass is deterministic for
// a given input and runs in O(ledger x bank) score evaluations.
//
// Both input slices are mutated: consumed records get is_matched set and
// their match confidence recorded. A record that arrives already matched is
// skipped, never re-paired.
//
// Parameters:
// - session: The session whose tolerances drive scoring.
// - ledgerRecords: All ledger records loaded for the session.
// - bankRecords: All bank records loaded for the session.
//
// Returns:
// - []*model.TransactionMatch: The matches created by this pass.
// - []*model.ReconciliationException: One exception per record left unmatched.
// - model.SessionCounters: Recomputed totals for the session.
func MatchRecords(session *model.ReconciliationSession, ledgerRecords []*model.LedgerRecord, bankRecords []*model.BankRecord) ([]*model.TransactionMatch, []*model.ReconciliationException, model.SessionCounters) {
	// Fix the iteration order up front so reruns over the same records
	// always produce the same pairings.
	sort.SliceStable(ledgerRecords, func(i, j int) bool {
		return ledgerRecords[i].RowNumber < ledgerRecords[j].RowNumber
	})
	sort.SliceStable(bankRecords, func(i, j int) bool {
		return bankRecords[i].RowNumber < bankRecords[j].RowNumber
	})

	// Tokenize every description once; the scorer reuses the sets across the
	// whole candidate grid.
	bankTokens := make([]map[string]struct{}, len(bankRecords))
	for i, bank := range bankRecords {
		bankTokens[i] = tokenizeDescription(bank.Description)
	}

	var matches []*model.TransactionMatch
	for _, ledger := range ledgerRecords {
		if ledger.IsMatched {
			continue
		}
		ledgerTokens := tokenizeDescription(ledger.Description)

		bestIdx := -1
		bestScore := 0.0
		for i, bank := range bankRecords {
			if bank.IsMatched {
				continue
			}
			score := scoreRecords(ledger, bank, ledgerTokens, bankTokens[i], session.DateToleranceDays, session.AmountTolerance)
			if score > bestScore && score >= MinimumConfidence {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			// Nothing cleared the confidence threshold; the ledger record
			// stays unmatched for this run.
			continue
		}

		bank := bankRecords[bestIdx]
		matchType := model.MatchTypePartial
		if bestScore >= ExactMatchConfidence {
			matchType = model.MatchTypeExact
		}

		ledgerConfidence, bankConfidence := bestScore, bestScore
		ledger.IsMatched = true
		ledger.MatchConfidence = &ledgerConfidence
		bank.IsMatched = true
		bank.MatchConfidence = &bankConfidence

		matches = append(matches, &model.TransactionMatch{
			MatchID:            model.GenerateUUIDWithSuffix("match"),
			SessionID:          session.SessionID,
			LedgerRecordID:     ledger.LedgerRecordID,
			BankRecordID:       bank.BankRecordID,
			MatchType:          matchType,
			ConfidenceScore:    bestScore,
			DateDifferenceDays: DaysBetween(ledger.Date, bank.Date),
			AmountDifference:   ledger.Amount.Sub(bank.Amount).Abs(),
			CreatedAt:          time.Now(),
		})
	}

	exceptions := BuildExceptions(session.SessionID, ledgerRecords, bankRecords)
	counters := ComputeCounters(ledgerRecords, bankRecords)
	return matches, exceptions, counters
}
