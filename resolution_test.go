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
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/crosscheck-finance/crosscheck/internal/apierror"
	"github.com/crosscheck-finance/crosscheck/model"
)

func TestGetSessionMatches(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	session := &model.ReconciliationSession{SessionID: "session_matches", Status: model.StatusCompleted}
	matches := []*model.TransactionMatch{{MatchID: "match_1", SessionID: "session_matches"}}

	mockDS.On("GetSession", mock.Anything, "session_matches").Return(session, nil)
	mockDS.On("GetMatches", mock.Anything, "session_matches", 20, 0).Return(matches, nil)

	got, err := crosscheck.GetSessionMatches(ctx, "session_matches", 20, 0)
	assert.NoError(t, err)
	assert.Equal(t, matches, got)
	mockDS.AssertExpectations(t)
}

func TestConfirmMatch(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	confirmed := &model.TransactionMatch{
		MatchID:     "match_1",
		SessionID:   "session_x",
		MatchType:   model.MatchTypePartial,
		IsConfirmed: true,
		Notes:       "checked against statement",
	}
	mockDS.On("ConfirmMatch", mock.Anything, "match_1", "checked against statement").Return(nil)
	mockDS.On("GetMatch", mock.Anything, "match_1").Return(confirmed, nil)

	match, err := crosscheck.ConfirmMatch(ctx, "match_1", "checked against statement")
	assert.NoError(t, err)
	assert.True(t, match.IsConfirmed)
	mockDS.AssertExpectations(t)
}

func TestConfirmMatchNotFound(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	notFound := apierror.NewAPIError(apierror.ErrNotFound, "Match with ID 'match_ghost' not found", nil)
	mockDS.On("ConfirmMatch", mock.Anything, "match_ghost", "").Return(notFound)

	_, err := crosscheck.ConfirmMatch(ctx, "match_ghost", "")
	assert.Error(t, err)
	mockDS.AssertNotCalled(t, "GetMatch", mock.Anything, mock.Anything)
}

func TestGetSessionExceptions(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	session := &model.ReconciliationSession{SessionID: "session_exc", Status: model.StatusCompleted}
	exceptions := []*model.ReconciliationException{
		{ExceptionID: "exc_1", SessionID: "session_exc", Status: model.ExceptionStatusOpen},
	}

	mockDS.On("GetSession", mock.Anything, "session_exc").Return(session, nil)
	mockDS.On("GetExceptions", mock.Anything, "session_exc", model.ExceptionStatusOpen, 20, 0).Return(exceptions, nil)

	got, err := crosscheck.GetSessionExceptions(ctx, "session_exc", model.ExceptionStatusOpen, 20, 0)
	assert.NoError(t, err)
	assert.Equal(t, exceptions, got)
	mockDS.AssertExpectations(t)
}

func TestResolveExceptionIgnore(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	open := &model.ReconciliationException{
		ExceptionID:   "exc_1",
		SessionID:     "session_x",
		ExceptionType: model.ExceptionUnmatchedBank,
		Status:        model.ExceptionStatusOpen,
	}
	now := time.Now()
	ignored := &model.ReconciliationException{
		ExceptionID:   "exc_1",
		SessionID:     "session_x",
		ExceptionType: model.ExceptionUnmatchedBank,
		Status:        model.ExceptionStatusIgnored,
		Resolution:    model.ResolutionIgnore,
		ResolvedAt:    &now,
	}
	mockDS.On("GetException", mock.Anything, "exc_1").Return(open, nil).Once()
	mockDS.On("ResolveException", mock.Anything, "exc_1", model.ExceptionStatusIgnored, model.ResolutionIgnore, "duplicate entry").Return(nil)
	mockDS.On("GetException", mock.Anything, "exc_1").Return(ignored, nil).Once()

	resolved, err := crosscheck.ResolveException(ctx, "exc_1", model.ResolutionIgnore, "duplicate entry", "")
	assert.NoError(t, err)
	assert.Equal(t, model.ExceptionStatusIgnored, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
	mockDS.AssertExpectations(t)
}

func TestResolveExceptionAlreadyResolved(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	resolved := &model.ReconciliationException{
		ExceptionID: "exc_done",
		Status:      model.ExceptionStatusResolved,
	}
	mockDS.On("GetException", mock.Anything, "exc_done").Return(resolved, nil)

	_, err := crosscheck.ResolveException(ctx, "exc_done", model.ResolutionIgnore, "", "")
	assert.Error(t, err)
	var apiErr apierror.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	mockDS.AssertNotCalled(t, "ResolveException", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveExceptionUnknownResolution(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	open := &model.ReconciliationException{
		ExceptionID: "exc_1",
		Status:      model.ExceptionStatusOpen,
	}
	mockDS.On("GetException", mock.Anything, "exc_1").Return(open, nil)

	_, err := crosscheck.ResolveException(ctx, "exc_1", "wontfix", "", "")
	assert.Error(t, err)
	var apiErr apierror.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
}

func TestResolveExceptionManualMatch(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	open := &model.ReconciliationException{
		ExceptionID:    "exc_1",
		SessionID:      "session_x",
		ExceptionType:  model.ExceptionUnmatchedLedger,
		LedgerRecordID: "ldg_1",
		Status:         model.ExceptionStatusOpen,
	}
	ledgerRecord := &model.LedgerRecord{
		LedgerRecordID: "ldg_1",
		SessionID:      "session_x",
		Date:           day,
		Amount:         decimal.NewFromFloat(150.25),
	}
	bankRecord := &model.BankRecord{
		BankRecordID: "bnk_9",
		SessionID:    "session_x",
		Date:         day.AddDate(0, 0, 2),
		Amount:       decimal.NewFromFloat(150.00),
	}
	now := time.Now()
	resolved := &model.ReconciliationException{
		ExceptionID:    "exc_1",
		SessionID:      "session_x",
		ExceptionType:  model.ExceptionUnmatchedLedger,
		LedgerRecordID: "ldg_1",
		Status:         model.ExceptionStatusResolved,
		Resolution:     model.ResolutionManualMatch,
		ResolvedAt:     &now,
	}

	mockDS.On("GetException", mock.Anything, "exc_1").Return(open, nil).Once()
	mockDS.On("GetLedgerRecord", mock.Anything, "ldg_1").Return(ledgerRecord, nil)
	mockDS.On("GetBankRecord", mock.Anything, "bnk_9").Return(bankRecord, nil)
	mockDS.On("RecordManualMatch", mock.Anything, mock.MatchedBy(func(match *model.TransactionMatch) bool {
		return match.SessionID == "session_x" &&
			match.LedgerRecordID == "ldg_1" &&
			match.BankRecordID == "bnk_9" &&
			match.MatchType == model.MatchTypeManual &&
			match.ConfidenceScore == 1.0 &&
			match.DateDifferenceDays == 2 &&
			match.AmountDifference.Equal(decimal.NewFromFloat(0.25)) &&
			match.IsConfirmed
	})).Return(nil)
	mockDS.On("ResolveException", mock.Anything, "exc_1", model.ExceptionStatusResolved, model.ResolutionManualMatch, "same invoice").Return(nil)
	mockDS.On("GetException", mock.Anything, "exc_1").Return(resolved, nil).Once()

	got, err := crosscheck.ResolveException(ctx, "exc_1", model.ResolutionManualMatch, "same invoice", "bnk_9")
	assert.NoError(t, err)
	assert.Equal(t, model.ExceptionStatusResolved, got.Status)
	assert.Equal(t, model.ResolutionManualMatch, got.Resolution)
	mockDS.AssertExpectations(t)
}

func TestResolveExceptionManualMatchRequiresCounterpart(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	open := &model.ReconciliationException{
		ExceptionID:    "exc_1",
		SessionID:      "session_x",
		ExceptionType:  model.ExceptionUnmatchedLedger,
		LedgerRecordID: "ldg_1",
		Status:         model.ExceptionStatusOpen,
	}
	mockDS.On("GetException", mock.Anything, "exc_1").Return(open, nil)

	_, err := crosscheck.ResolveException(ctx, "exc_1", model.ResolutionManualMatch, "", "")
	assert.Error(t, err)
	var apiErr apierror.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
	mockDS.AssertNotCalled(t, "RecordManualMatch", mock.Anything, mock.Anything)
}

func TestResolveExceptionManualMatchRejectsForeignRecord(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	open := &model.ReconciliationException{
		ExceptionID:    "exc_1",
		SessionID:      "session_x",
		ExceptionType:  model.ExceptionUnmatchedLedger,
		LedgerRecordID: "ldg_1",
		Status:         model.ExceptionStatusOpen,
	}
	ledgerRecord := &model.LedgerRecord{LedgerRecordID: "ldg_1", SessionID: "session_x", Amount: decimal.NewFromInt(10)}
	foreignBank := &model.BankRecord{BankRecordID: "bnk_other", SessionID: "session_other", Amount: decimal.NewFromInt(10)}

	mockDS.On("GetException", mock.Anything, "exc_1").Return(open, nil)
	mockDS.On("GetLedgerRecord", mock.Anything, "ldg_1").Return(ledgerRecord, nil)
	mockDS.On("GetBankRecord", mock.Anything, "bnk_other").Return(foreignBank, nil)

	_, err := crosscheck.ResolveException(ctx, "exc_1", model.ResolutionManualMatch, "", "bnk_other")
	assert.Error(t, err)
	var apiErr apierror.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
	mockDS.AssertNotCalled(t, "RecordManualMatch", mock.Anything, mock.Anything)
}

func TestResolveExceptionManualMatchWrongType(t *testing.T) {
	crosscheck, mockDS := newTestService(t)
	ctx := context.Background()

	open := &model.ReconciliationException{
		ExceptionID:   "exc_1",
		SessionID:     "session_x",
		ExceptionType: model.ExceptionAmountDiscrepancy,
		Status:        model.ExceptionStatusOpen,
	}
	mockDS.On("GetException", mock.Anything, "exc_1").Return(open, nil)

	_, err := crosscheck.ResolveException(ctx, "exc_1", model.ResolutionManualMatch, "", "bnk_1")
	assert.Error(t, err)
	var apiErr apierror.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
}
