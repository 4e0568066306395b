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
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosscheck-finance/crosscheck/model"
)

func matcherSession(dateToleranceDays int, amountTolerance string) *model.ReconciliationSession {
	return &model.ReconciliationSession{
		SessionID:         model.GenerateUUIDWithSuffix("session"),
		Status:            model.StatusProcessing,
		DateToleranceDays: dateToleranceDays,
		AmountTolerance:   decimal.RequireFromString(amountTolerance),
	}
}

func matcherLedgerRecord(row int, date time.Time, amount, description string) *model.LedgerRecord {
	return &model.LedgerRecord{
		LedgerRecordID: model.GenerateUUIDWithSuffix("ldg"),
		RowNumber:      row,
		Date:           date,
		Amount:         decimal.RequireFromString(amount),
		Description:    description,
	}
}

func matcherBankRecord(row int, date time.Time, amount, description string) *model.BankRecord {
	return &model.BankRecord{
		BankRecordID: model.GenerateUUIDWithSuffix("bnk"),
		RowNumber:    row,
		Date:         date,
		Amount:       decimal.RequireFromString(amount),
		Description:  description,
	}
}

func TestMatchRecords_ExactMatch(t *testing.T) {
	session := matcherSession(3, "0.01")
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	ledger := []*model.LedgerRecord{matcherLedgerRecord(1, day, "100.00", "Office Supplies ABC")}
	bank := []*model.BankRecord{matcherBankRecord(1, day, "100.00", "Office Supplies ABC")}

	matches, exceptions, counters := MatchRecords(session, ledger, bank)

	require.Len(t, matches, 1)
	match := matches[0]
	assert.Equal(t, model.MatchTypeExact, match.MatchType)
	assert.InDelta(t, 1.0, match.ConfidenceScore, 1e-9)
	assert.Equal(t, 0, match.DateDifferenceDays)
	assert.True(t, match.AmountDifference.IsZero())
	assert.Equal(t, ledger[0].LedgerRecordID, match.LedgerRecordID)
	assert.Equal(t, bank[0].BankRecordID, match.BankRecordID)

	assert.True(t, ledger[0].IsMatched)
	assert.True(t, bank[0].IsMatched)
	require.NotNil(t, ledger[0].MatchConfidence)
	assert.InDelta(t, 1.0, *ledger[0].MatchConfidence, 1e-9)

	assert.Empty(t, exceptions)
	assert.Equal(t, model.SessionCounters{
		TotalLedgerRecords: 1,
		TotalBankRecords:   1,
		MatchedRecords:     1,
	}, counters)
}

func TestMatchRecords_PartialMatchWithinTolerance(t *testing.T) {
	session := matcherSession(3, "0.01")
	ledger := []*model.LedgerRecord{
		matcherLedgerRecord(1, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), "100.00", "Office Supplies ABC"),
	}
	bank := []*model.BankRecord{
		matcherBankRecord(1, time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC), "100.00", "ABC Office Supplies Inc"),
	}

	matches, exceptions, _ := MatchRecords(session, ledger, bank)

	require.Len(t, matches, 1)
	assert.Equal(t, model.MatchTypePartial, matches[0].MatchType)
	assert.InDelta(t, 0.775, matches[0].ConfidenceScore, 1e-9)
	assert.Equal(t, 2, matches[0].DateDifferenceDays)
	assert.True(t, matches[0].AmountDifference.IsZero())
	assert.Empty(t, exceptions)
}

func TestMatchRecords_HighConfidencePartialDescription(t *testing.T) {
	session := matcherSession(3, "0.01")
	day := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	ledger := []*model.LedgerRecord{
		matcherLedgerRecord(1, day, "320.00", "alpha beta gamma delta epsilon zeta eta"),
	}
	bank := []*model.BankRecord{
		matcherBankRecord(1, day, "320.00", "alpha beta gamma delta epsilon zeta eta theta"),
	}

	// Same day, same amount, seven of eight words shared:
	// 0.3 + 0.4 + 0.3*0.875 = 0.9625, which clears the exact boundary.
	matches, _, _ := MatchRecords(session, ledger, bank)
	require.Len(t, matches, 1)
	assert.Equal(t, model.MatchTypeExact, matches[0].MatchType)
	assert.InDelta(t, 0.9625, matches[0].ConfidenceScore, 1e-9)
}

func TestMatchRecords_BelowThresholdStaysUnmatched(t *testing.T) {
	session := matcherSession(3, "0.01")
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	// Same date and identical description, but the amounts disagree far
	// beyond tolerance: 0.3 + 0 + 0.3 = 0.6 < 0.7.
	ledger := []*model.LedgerRecord{matcherLedgerRecord(1, day, "50.00", "Vendor payment")}
	bank := []*model.BankRecord{matcherBankRecord(1, day, "8000.00", "Vendor payment")}

	matches, exceptions, counters := MatchRecords(session, ledger, bank)

	assert.Empty(t, matches)
	assert.False(t, ledger[0].IsMatched)
	assert.False(t, bank[0].IsMatched)

	require.Len(t, exceptions, 2)
	assert.Equal(t, 1, counters.UnmatchedLedgerRecords)
	assert.Equal(t, 1, counters.UnmatchedBankRecords)
	assert.Zero(t, counters.MatchedRecords)
}

func TestMatchRecords_UnmatchedLedgerCreatesException(t *testing.T) {
	session := matcherSession(3, "0.01")
	ledger := []*model.LedgerRecord{
		matcherLedgerRecord(1, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), "50.00", "Unreconciled ledger entry"),
	}

	matches, exceptions, counters := MatchRecords(session, ledger, nil)

	assert.Empty(t, matches)
	require.Len(t, exceptions, 1)
	exc := exceptions[0]
	assert.Equal(t, model.ExceptionUnmatchedLedger, exc.ExceptionType)
	assert.Equal(t, model.SeverityMedium, exc.Severity)
	assert.Equal(t, model.ExceptionStatusOpen, exc.Status)
	assert.Equal(t, ledger[0].LedgerRecordID, exc.LedgerRecordID)
	assert.Empty(t, exc.BankRecordID)
	assert.Equal(t, "Unmatched ledger transaction: Unreconciled ledger entry", exc.Description)
	assert.Equal(t, session.SessionID, exc.SessionID)

	assert.Equal(t, 1, counters.TotalLedgerRecords)
	assert.Equal(t, 1, counters.UnmatchedLedgerRecords)
}

func TestMatchRecords_GreedyFirstRowWins(t *testing.T) {
	session := matcherSession(3, "0.01")
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	// Both ledger rows would happily claim the single bank record. The
	// pass visits rows in ascending order, so row 1 wins and row 2 is left
	// for the exception builder.
	ledger := []*model.LedgerRecord{
		matcherLedgerRecord(2, day, "100.00", "Office Supplies ABC"),
		matcherLedgerRecord(1, day, "100.00", "Office Supplies ABC"),
	}
	bank := []*model.BankRecord{matcherBankRecord(1, day, "100.00", "Office Supplies ABC")}

	matches, exceptions, counters := MatchRecords(session, ledger, bank)

	require.Len(t, matches, 1)
	var winner *model.LedgerRecord
	for _, record := range ledger {
		if record.RowNumber == 1 {
			winner = record
		}
	}
	require.NotNil(t, winner)
	assert.Equal(t, winner.LedgerRecordID, matches[0].LedgerRecordID)

	require.Len(t, exceptions, 1)
	assert.Equal(t, model.ExceptionUnmatchedLedger, exceptions[0].ExceptionType)
	assert.Equal(t, 1, counters.MatchedRecords)
	assert.Equal(t, 1, counters.UnmatchedLedgerRecords)
	assert.Zero(t, counters.UnmatchedBankRecords)
}

func TestMatchRecords_TieKeepsFirstBankRecord(t *testing.T) {
	session := matcherSession(3, "0.01")
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	ledger := []*model.LedgerRecord{matcherLedgerRecord(1, day, "100.00", "Office Supplies ABC")}
	// Two byte-identical candidates. Strict greater-than comparison means
	// the second can never displace the first.
	bank := []*model.BankRecord{
		matcherBankRecord(1, day, "100.00", "Office Supplies ABC"),
		matcherBankRecord(2, day, "100.00", "Office Supplies ABC"),
	}

	matches, _, _ := MatchRecords(session, ledger, bank)

	require.Len(t, matches, 1)
	assert.Equal(t, bank[0].BankRecordID, matches[0].BankRecordID)
	assert.True(t, bank[0].IsMatched)
	assert.False(t, bank[1].IsMatched)
}

func TestMatchRecords_Deterministic(t *testing.T) {
	build := func() (*model.ReconciliationSession, []*model.LedgerRecord, []*model.BankRecord) {
		session := matcherSession(3, "0.01")
		var ledger []*model.LedgerRecord
		var bank []*model.BankRecord
		day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
		for i := 5; i >= 1; i-- {
			// Deliberately appended in descending row order; the engine
			// must not care.
			ledger = append(ledger, &model.LedgerRecord{
				LedgerRecordID: fmt.Sprintf("ldg_%d", i),
				RowNumber:      i,
				Date:           day.AddDate(0, 0, i),
				Amount:         decimal.NewFromInt(int64(i * 10)),
				Description:    fmt.Sprintf("Payment batch %d", i),
			})
			bank = append(bank, &model.BankRecord{
				BankRecordID: fmt.Sprintf("bnk_%d", i),
				RowNumber:    i,
				Date:         day.AddDate(0, 0, i),
				Amount:       decimal.NewFromInt(int64(i * 10)),
				Description:  fmt.Sprintf("Payment batch %d", i),
			})
		}
		return session, ledger, bank
	}

	session1, ledger1, bank1 := build()
	matches1, _, counters1 := MatchRecords(session1, ledger1, bank1)
	session2, ledger2, bank2 := build()
	matches2, _, counters2 := MatchRecords(session2, ledger2, bank2)

	require.Equal(t, len(matches1), len(matches2))
	for i := range matches1 {
		assert.Equal(t, matches1[i].LedgerRecordID, matches2[i].LedgerRecordID)
		assert.Equal(t, matches1[i].BankRecordID, matches2[i].BankRecordID)
		assert.Equal(t, matches1[i].MatchType, matches2[i].MatchType)
		assert.Equal(t, matches1[i].ConfidenceScore, matches2[i].ConfidenceScore)
	}
	assert.Equal(t, counters1, counters2)
}

func TestMatchRecords_OneToOnePairing(t *testing.T) {
	session := matcherSession(3, "5.00")
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var ledger []*model.LedgerRecord
	var bank []*model.BankRecord
	for i := 1; i <= 20; i++ {
		ledger = append(ledger, matcherLedgerRecord(i, day.AddDate(0, 0, i%7), fmt.Sprintf("%d.00", 100+i%4), "Recurring vendor invoice"))
		bank = append(bank, matcherBankRecord(i, day.AddDate(0, 0, (i+1)%7), fmt.Sprintf("%d.00", 100+i%4), "Recurring vendor invoice"))
	}

	matches, exceptions, counters := MatchRecords(session, ledger, bank)

	seenLedger := make(map[string]bool)
	seenBank := make(map[string]bool)
	for _, match := range matches {
		assert.False(t, seenLedger[match.LedgerRecordID], "ledger record %s matched twice", match.LedgerRecordID)
		assert.False(t, seenBank[match.BankRecordID], "bank record %s matched twice", match.BankRecordID)
		seenLedger[match.LedgerRecordID] = true
		seenBank[match.BankRecordID] = true
		assert.GreaterOrEqual(t, match.ConfidenceScore, MinimumConfidence)
	}

	// Every unmatched record has exactly one exception and no matched
	// record has any.
	excByRecord := make(map[string]int)
	for _, exc := range exceptions {
		excByRecord[exc.LedgerRecordID+exc.BankRecordID]++
	}
	for _, record := range ledger {
		if record.IsMatched {
			assert.Zero(t, excByRecord[record.LedgerRecordID])
		} else {
			assert.Equal(t, 1, excByRecord[record.LedgerRecordID])
		}
	}
	for _, record := range bank {
		if record.IsMatched {
			assert.Zero(t, excByRecord[record.BankRecordID])
		} else {
			assert.Equal(t, 1, excByRecord[record.BankRecordID])
		}
	}

	assert.Equal(t, counters.TotalLedgerRecords, counters.MatchedRecords+counters.UnmatchedLedgerRecords)
	assert.Equal(t, counters.TotalBankRecords, counters.MatchedRecords+counters.UnmatchedBankRecords)
}

func TestMatchRecords_SkipsAlreadyMatchedRecords(t *testing.T) {
	session := matcherSession(3, "0.01")
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	confidence := 1.0
	matched := matcherLedgerRecord(1, day, "100.00", "Office Supplies ABC")
	matched.IsMatched = true
	matched.MatchConfidence = &confidence

	bank := []*model.BankRecord{matcherBankRecord(1, day, "100.00", "Office Supplies ABC")}

	matches, exceptions, counters := MatchRecords(session, []*model.LedgerRecord{matched}, bank)

	assert.Empty(t, matches)
	assert.False(t, bank[0].IsMatched)
	require.Len(t, exceptions, 1)
	assert.Equal(t, model.ExceptionUnmatchedBank, exceptions[0].ExceptionType)
	assert.Equal(t, 1, counters.MatchedRecords)
	assert.Equal(t, 1, counters.UnmatchedBankRecords)
}
