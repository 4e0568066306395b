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
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"github.com/wacul/ptr"

	"github.com/crosscheck-finance/crosscheck/internal/apierror"
	"github.com/crosscheck-finance/crosscheck/model"
)

const (
	// Suggestion ranking blends the matching score with description
	// similarity; the score dominates so tolerance-compatible candidates
	// surface before merely similar-sounding ones.
	suggestionScoreWeight      = 0.6
	suggestionSimilarityWeight = 0.4

	defaultSuggestionLimit = 5
)

// MatchSuggestion is one candidate counterpart for an unmatched record.
// Exactly one of LedgerRecord and BankRecord is set, depending on which side
// the exception's record came from.
type MatchSuggestion struct {
	LedgerRecord          *model.LedgerRecord `json:"ledger_record,omitempty"`
	BankRecord            *model.BankRecord   `json:"bank_record,omitempty"`
	Score                 float64             `json:"score"`
	DescriptionSimilarity float64             `json:"description_similarity"`
}

// SuggestMatches ranks the unmatched records on the opposite side of an
// exception as manual match candidates. Candidates that share nothing with
// the exception's record are dropped.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - exceptionID string: The ID of the exception to suggest counterparts for.
// - limit int: The maximum number of suggestions; non-positive uses the default of 5.
//
// Returns:
// - []*MatchSuggestion: The ranked suggestions, best first.
// - error: An error if the exception does not exist or is not an unmatched type.
func (c *CrossCheck) SuggestMatches(ctx context.Context, exceptionID string, limit int) ([]*MatchSuggestion, error) {
	ctx, span := tracer.Start(ctx, "Suggesting matches")
	defer span.End()

	if limit <= 0 {
		limit = defaultSuggestionLimit
	}

	exception, err := c.datasource.GetException(ctx, exceptionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	session, err := c.datasource.GetSession(ctx, exception.SessionID)
	if err != nil {
		return nil, logAndRecordError(span, "error fetching session", err)
	}

	switch exception.ExceptionType {
	case model.ExceptionUnmatchedLedger:
		return c.suggestBankCounterparts(ctx, session, exception, limit)
	case model.ExceptionUnmatchedBank:
		return c.suggestLedgerCounterparts(ctx, session, exception, limit)
	default:
		err := apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Exceptions of type '%s' have no match suggestions", exception.ExceptionType), nil)
		span.RecordError(err)
		return nil, err
	}
}

func (c *CrossCheck) suggestBankCounterparts(ctx context.Context, session *model.ReconciliationSession, exception *model.ReconciliationException, limit int) ([]*MatchSuggestion, error) {
	ledgerRecord, err := c.datasource.GetLedgerRecord(ctx, exception.LedgerRecordID)
	if err != nil {
		return nil, err
	}

	candidates, err := c.loadBankRecords(ctx, session.SessionID, ptr.Bool(false))
	if err != nil {
		return nil, err
	}

	suggestions := make([]*MatchSuggestion, 0, len(candidates))
	for _, candidate := range candidates {
		score := MatchScore(ledgerRecord, candidate, session.DateToleranceDays, session.AmountTolerance)
		similarity := descriptionSimilarity(ledgerRecord.Description, candidate.Description)
		ranked := suggestionScoreWeight*score + suggestionSimilarityWeight*similarity
		if ranked <= 0 {
			continue
		}
		suggestions = append(suggestions, &MatchSuggestion{
			BankRecord:            candidate,
			Score:                 ranked,
			DescriptionSimilarity: similarity,
		})
	}

	sortSuggestions(suggestions)
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

func (c *CrossCheck) suggestLedgerCounterparts(ctx context.Context, session *model.ReconciliationSession, exception *model.ReconciliationException, limit int) ([]*MatchSuggestion, error) {
	bankRecord, err := c.datasource.GetBankRecord(ctx, exception.BankRecordID)
	if err != nil {
		return nil, err
	}

	candidates, err := c.loadLedgerRecords(ctx, session.SessionID, ptr.Bool(false))
	if err != nil {
		return nil, err
	}

	suggestions := make([]*MatchSuggestion, 0, len(candidates))
	for _, candidate := range candidates {
		score := MatchScore(candidate, bankRecord, session.DateToleranceDays, session.AmountTolerance)
		similarity := descriptionSimilarity(candidate.Description, bankRecord.Description)
		ranked := suggestionScoreWeight*score + suggestionSimilarityWeight*similarity
		if ranked <= 0 {
			continue
		}
		suggestions = append(suggestions, &MatchSuggestion{
			LedgerRecord:          candidate,
			Score:                 ranked,
			DescriptionSimilarity: similarity,
		})
	}

	sortSuggestions(suggestions)
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

// descriptionSimilarity scores how close two descriptions are. Containment
// counts as a full match; otherwise the Levenshtein distance is scaled
// against the longer string.
func descriptionSimilarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 1.0
	}

	distance := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	maxLength := float64(max(len(a), len(b)))
	similarity := 1 - float64(distance)/maxLength
	if similarity < 0 {
		return 0
	}
	return similarity
}

// sortSuggestions orders by score descending, breaking ties by source row
// number so equal candidates keep file order.
func sortSuggestions(suggestions []*MatchSuggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestionRowNumber(suggestions[i]) < suggestionRowNumber(suggestions[j])
	})
}

func suggestionRowNumber(s *MatchSuggestion) int {
	if s.LedgerRecord != nil {
		return s.LedgerRecord.RowNumber
	}
	return s.BankRecord.RowNumber
}
