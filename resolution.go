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
	"time"

	"github.com/crosscheck-finance/crosscheck/internal/apierror"
	"github.com/crosscheck-finance/crosscheck/internal/notification"
	"github.com/crosscheck-finance/crosscheck/internal/search"
	"github.com/crosscheck-finance/crosscheck/model"
)

// GetSessionMatches retrieves a page of matches for a session.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the owning session.
// - limit int: The maximum number of matches to return.
// - offset int: The number of matches to skip.
//
// Returns:
// - []*model.TransactionMatch: The retrieved matches.
// - error: An error if the session does not exist or the matches could not be retrieved.
func (c *CrossCheck) GetSessionMatches(ctx context.Context, sessionID string, limit, offset int) ([]*model.TransactionMatch, error) {
	ctx, span := tracer.Start(ctx, "Getting session matches")
	defer span.End()

	if _, err := c.datasource.GetSession(ctx, sessionID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	matches, err := c.datasource.GetMatches(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, logAndRecordError(span, "error getting matches", err)
	}
	return matches, nil
}

// GetMatch retrieves a single match by ID.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - matchID string: The ID of the match to retrieve.
//
// Returns:
// - *model.TransactionMatch: The match if found.
// - error: An error if the match could not be retrieved.
func (c *CrossCheck) GetMatch(ctx context.Context, matchID string) (*model.TransactionMatch, error) {
	ctx, span := tracer.Start(ctx, "Getting match")
	defer span.End()

	match, err := c.datasource.GetMatch(ctx, matchID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return match, nil
}

// ConfirmMatch flags an automatic match as human-verified and re-indexes it.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - matchID string: The ID of the match to confirm.
// - notes string: Optional reviewer notes; empty leaves existing notes in place.
//
// Returns:
// - *model.TransactionMatch: The confirmed match.
// - error: An error if the match does not exist or cannot be updated.
func (c *CrossCheck) ConfirmMatch(ctx context.Context, matchID string, notes string) (*model.TransactionMatch, error) {
	ctx, span := tracer.Start(ctx, "Confirming match")
	defer span.End()

	if err := c.datasource.ConfirmMatch(ctx, matchID, notes); err != nil {
		span.RecordError(err)
		return nil, err
	}

	match, err := c.datasource.GetMatch(ctx, matchID)
	if err != nil {
		return nil, logAndRecordError(span, "error fetching confirmed match", err)
	}

	c.postResolutionActions(ctx, match.MatchID, search.CollectionMatches, match)
	return match, nil
}

// GetSessionExceptions retrieves a page of exceptions for a session,
// optionally filtered by status.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the owning session.
// - status string: The exception status to filter by; empty returns all.
// - limit int: The maximum number of exceptions to return.
// - offset int: The number of exceptions to skip.
//
// Returns:
// - []*model.ReconciliationException: The retrieved exceptions.
// - error: An error if the session does not exist or the exceptions could not be retrieved.
func (c *CrossCheck) GetSessionExceptions(ctx context.Context, sessionID string, status string, limit, offset int) ([]*model.ReconciliationException, error) {
	ctx, span := tracer.Start(ctx, "Getting session exceptions")
	defer span.End()

	if _, err := c.datasource.GetSession(ctx, sessionID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	exceptions, err := c.datasource.GetExceptions(ctx, sessionID, status, limit, offset)
	if err != nil {
		return nil, logAndRecordError(span, "error getting exceptions", err)
	}
	return exceptions, nil
}

// GetException retrieves a single exception by ID.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - exceptionID string: The ID of the exception to retrieve.
//
// Returns:
// - *model.ReconciliationException: The exception if found.
// - error: An error if the exception could not be retrieved.
func (c *CrossCheck) GetException(ctx context.Context, exceptionID string) (*model.ReconciliationException, error) {
	ctx, span := tracer.Start(ctx, "Getting exception")
	defer span.End()

	exception, err := c.datasource.GetException(ctx, exceptionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return exception, nil
}

// ResolveException closes an open exception. A manual_match resolution pairs
// the exception's record with the given counterpart and records the match
// first; ignore and resolved just close the exception. The counterpart's own
// exception, if one exists, stays open for its own review.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - exceptionID string: The ID of the exception to resolve.
// - resolution string: One of manual_match, ignore or resolved.
// - notes string: Optional resolution notes.
// - counterpartRecordID string: The record to pair with; required for manual_match.
//
// Returns:
// - *model.ReconciliationException: The resolved exception.
// - error: An error if the exception is not open, the resolution is unknown, or the manual match cannot be recorded.
func (c *CrossCheck) ResolveException(ctx context.Context, exceptionID, resolution, notes, counterpartRecordID string) (*model.ReconciliationException, error) {
	ctx, span := tracer.Start(ctx, "Resolving exception")
	defer span.End()

	exception, err := c.datasource.GetException(ctx, exceptionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if exception.Status != model.ExceptionStatusOpen {
		err := apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Exception with ID '%s' is already %s", exceptionID, exception.Status), nil)
		span.RecordError(err)
		return nil, err
	}

	var status string
	switch resolution {
	case model.ResolutionManualMatch:
		if err := c.createManualMatch(ctx, exception, counterpartRecordID, notes); err != nil {
			span.RecordError(err)
			return nil, err
		}
		status = model.ExceptionStatusResolved
	case model.ResolutionIgnore:
		status = model.ExceptionStatusIgnored
	case model.ResolutionResolved:
		status = model.ExceptionStatusResolved
	default:
		err := apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Unknown resolution '%s'", resolution), nil)
		span.RecordError(err)
		return nil, err
	}

	if err := c.datasource.ResolveException(ctx, exceptionID, status, resolution, notes); err != nil {
		return nil, logAndRecordError(span, "error resolving exception", err)
	}

	resolved, err := c.datasource.GetException(ctx, exceptionID)
	if err != nil {
		return nil, logAndRecordError(span, "error fetching resolved exception", err)
	}

	c.postResolutionActions(ctx, resolved.ExceptionID, search.CollectionExceptions, resolved)
	return resolved, nil
}

// createManualMatch pairs the exception's unmatched record with the
// caller-chosen counterpart and records the match. Both records must belong
// to the exception's session; the database rejects records that are already
// consumed by another match.
func (c *CrossCheck) createManualMatch(ctx context.Context, exception *model.ReconciliationException, counterpartRecordID, notes string) error {
	if counterpartRecordID == "" {
		return apierror.NewAPIError(apierror.ErrBadRequest, "A manual match requires the counterpart record ID", nil)
	}

	var ledgerRecord *model.LedgerRecord
	var bankRecord *model.BankRecord
	var err error

	switch exception.ExceptionType {
	case model.ExceptionUnmatchedLedger:
		ledgerRecord, err = c.datasource.GetLedgerRecord(ctx, exception.LedgerRecordID)
		if err != nil {
			return err
		}
		bankRecord, err = c.datasource.GetBankRecord(ctx, counterpartRecordID)
		if err != nil {
			return err
		}
	case model.ExceptionUnmatchedBank:
		bankRecord, err = c.datasource.GetBankRecord(ctx, exception.BankRecordID)
		if err != nil {
			return err
		}
		ledgerRecord, err = c.datasource.GetLedgerRecord(ctx, counterpartRecordID)
		if err != nil {
			return err
		}
	default:
		return apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Exceptions of type '%s' cannot be manually matched", exception.ExceptionType), nil)
	}

	if ledgerRecord.SessionID != exception.SessionID || bankRecord.SessionID != exception.SessionID {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Both records of a manual match must belong to the exception's session", nil)
	}

	match := &model.TransactionMatch{
		MatchID:            model.GenerateUUIDWithSuffix("match"),
		SessionID:          exception.SessionID,
		LedgerRecordID:     ledgerRecord.LedgerRecordID,
		BankRecordID:       bankRecord.BankRecordID,
		MatchType:          model.MatchTypeManual,
		ConfidenceScore:    1.0,
		DateDifferenceDays: DaysBetween(ledgerRecord.Date, bankRecord.Date),
		AmountDifference:   ledgerRecord.Amount.Sub(bankRecord.Amount).Abs(),
		IsConfirmed:        true,
		Notes:              notes,
		CreatedAt:          time.Now(),
	}

	if err := c.datasource.RecordManualMatch(ctx, match); err != nil {
		return err
	}

	c.postResolutionActions(ctx, match.MatchID, search.CollectionMatches, match)
	return nil
}

// postResolutionActions queues search indexing for one updated document.
func (c *CrossCheck) postResolutionActions(_ context.Context, id, collection string, data interface{}) {
	go func() {
		if err := c.queue.queueIndexData(id, collection, data); err != nil {
			notification.NotifyError(err)
		}
	}()
}
