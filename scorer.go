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
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/crosscheck-finance/crosscheck/model"
)

// Weights applied to the three scoring dimensions. They sum to 1.0, so a
// candidate that agrees on date, amount and description scores exactly 1.0.
const (
	dateWeight        = 0.30
	amountWeight      = 0.40
	descriptionWeight = 0.30
)

// Confidence thresholds used by the matching engine.
const (
	// MinimumConfidence is the score a candidate pair must reach before the
	// engine records it as a match at all.
	MinimumConfidence = 0.70

	// ExactMatchConfidence is the score at or above which a recorded match is
	// classified as exact rather than partial.
	ExactMatchConfidence = 0.95
)

// MatchScore scores how likely a ledger record and a bank record describe the
// same transaction. The score is a weighted sum of three components:
//
//   - Date (0.30): full weight on the same day, linear decay to zero across
//     the tolerance window. A difference of d days inside a tolerance of t
//     days contributes weight * (1 - d/(t+1)).
//   - Amount (0.40): full weight on an exact amount, linear decay inside the
//     amount tolerance. The decay denominator adds 0.01 so a zero tolerance
//     never divides by zero.
//   - Description (0.30): Jaccard similarity of the lowercased,
//     punctuation-stripped word sets of both descriptions.
//
// The result is clamped to 1.0 to guard float rounding. MatchScore is pure
// and carries no ordering dependency, so callers may invoke it in any order.
func MatchScore(ledger *model.LedgerRecord, bank *model.BankRecord, dateToleranceDays int, amountTolerance decimal.Decimal) float64 {
	return scoreRecords(ledger, bank,
		tokenizeDescription(ledger.Description), tokenizeDescription(bank.Description),
		dateToleranceDays, amountTolerance)
}

// scoreRecords is MatchScore with the description token sets supplied by the
// caller. The matching engine tokenizes each record once and reuses the sets
// across the full candidate grid, which keeps the pass allocation-light.
func scoreRecords(ledger *model.LedgerRecord, bank *model.BankRecord, ledgerTokens, bankTokens map[string]struct{}, dateToleranceDays int, amountTolerance decimal.Decimal) float64 {
	score := 0.0

	dateDiff := DaysBetween(ledger.Date, bank.Date)
	switch {
	case dateDiff == 0:
		score += dateWeight
	case dateDiff <= dateToleranceDays:
		score += dateWeight * (1 - float64(dateDiff)/float64(dateToleranceDays+1))
	}

	amountDiff := ledger.Amount.Sub(bank.Amount).Abs()
	switch {
	case amountDiff.IsZero():
		score += amountWeight
	case amountDiff.LessThanOrEqual(amountTolerance):
		score += amountWeight * (1 - amountDiff.InexactFloat64()/(amountTolerance.InexactFloat64()+0.01))
	}

	score += descriptionWeight * jaccard(ledgerTokens, bankTokens)

	return math.Min(score, 1.0)
}

// DaysBetween returns the absolute whole-day difference between two dates.
// Both values are reduced to day precision in UTC first, so times of day
// never contribute.
func DaysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(a.Sub(b).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

// tokenizeDescription lowercases a description, strips punctuation and splits
// the remainder into a set of words. Digits and underscores count as word
// characters, so reference fragments like "inv_2041" survive intact.
func tokenizeDescription(description string) map[string]struct{} {
	var b strings.Builder
	b.Grow(len(description))
	for _, r := range strings.ToLower(description) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	words := strings.Fields(b.String())
	if len(words) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}

// jaccard computes |intersection| / |union| over two word sets. Either side
// empty scores zero.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for word := range a {
		if _, ok := b[word]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
