package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crosscheck-finance/crosscheck/internal/apierror"
	"github.com/crosscheck-finance/crosscheck/model"
)

func TestGetSessionMatchesEndpoint(t *testing.T) {
	router, mockDS := setupRouter(t)

	matches := []*model.TransactionMatch{
		{MatchID: "match_1", SessionID: "session_abc", LedgerRecordID: "ldg_1", BankRecordID: "bnk_1", MatchType: model.MatchTypeExact, ConfidenceScore: 0.95},
	}
	mockDS.On("GetSession", mock.Anything, "session_abc").
		Return(&model.ReconciliationSession{SessionID: "session_abc", Status: model.StatusCompleted}, nil)
	mockDS.On("GetMatches", mock.Anything, "session_abc", defaultListLimit, 0).Return(matches, nil)

	var response []model.TransactionMatch
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    "/reconciliation/sessions/session_abc/matches",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, response, 1)
	assert.Equal(t, "match_1", response[0].MatchID)
}

func TestConfirmMatchEndpoint(t *testing.T) {
	router, mockDS := setupRouter(t)

	confirmed := &model.TransactionMatch{
		MatchID:         "match_1",
		SessionID:       "session_abc",
		MatchType:       model.MatchTypePartial,
		ConfidenceScore: 0.9,
		IsConfirmed:     true,
		Notes:           "looks right",
	}
	mockDS.On("ConfirmMatch", mock.Anything, "match_1", "looks right").Return(nil)
	mockDS.On("GetMatch", mock.Anything, "match_1").Return(confirmed, nil)

	var response model.TransactionMatch
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  strings.NewReader(`{"notes": "looks right"}`),
		Response: &response,
		Method:   "POST",
		Route:    "/reconciliation/matches/match_1/confirm",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, response.IsConfirmed)
	assert.Equal(t, "looks right", response.Notes)
}

func TestConfirmMatchEndpointWithoutBody(t *testing.T) {
	router, mockDS := setupRouter(t)

	confirmed := &model.TransactionMatch{MatchID: "match_1", IsConfirmed: true}
	mockDS.On("ConfirmMatch", mock.Anything, "match_1", "").Return(nil)
	mockDS.On("GetMatch", mock.Anything, "match_1").Return(confirmed, nil)

	var response model.TransactionMatch
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "POST",
		Route:    "/reconciliation/matches/match_1/confirm",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, response.IsConfirmed)
}

func TestConfirmMatchEndpointNotFound(t *testing.T) {
	router, mockDS := setupRouter(t)

	mockDS.On("ConfirmMatch", mock.Anything, "match_missing", "").
		Return(apierror.NewAPIError(apierror.ErrNotFound, "Match with ID 'match_missing' not found", nil))

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "POST",
		Route:    "/reconciliation/matches/match_missing/confirm",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "NOT_FOUND", response["code"])
}

func TestGetSessionExceptionsEndpoint(t *testing.T) {
	router, mockDS := setupRouter(t)

	exceptions := []*model.ReconciliationException{
		{ExceptionID: "exc_1", SessionID: "session_abc", ExceptionType: model.ExceptionUnmatchedLedger, Status: model.ExceptionStatusOpen},
	}
	mockDS.On("GetSession", mock.Anything, "session_abc").
		Return(&model.ReconciliationSession{SessionID: "session_abc", Status: model.StatusCompleted}, nil)
	mockDS.On("GetExceptions", mock.Anything, "session_abc", "open", defaultListLimit, 0).Return(exceptions, nil)

	var response []model.ReconciliationException
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    "/reconciliation/sessions/session_abc/exceptions?status=open",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, response, 1)
	assert.Equal(t, "exc_1", response[0].ExceptionID)
}

func TestResolveExceptionEndpoint(t *testing.T) {
	router, mockDS := setupRouter(t)

	open := &model.ReconciliationException{
		ExceptionID:   "exc_1",
		SessionID:     "session_abc",
		ExceptionType: model.ExceptionUnmatchedLedger,
		Status:        model.ExceptionStatusOpen,
	}
	ignored := &model.ReconciliationException{
		ExceptionID:   "exc_1",
		SessionID:     "session_abc",
		ExceptionType: model.ExceptionUnmatchedLedger,
		Status:        model.ExceptionStatusIgnored,
		Resolution:    model.ResolutionIgnore,
	}
	mockDS.On("GetException", mock.Anything, "exc_1").Return(open, nil).Once()
	mockDS.On("ResolveException", mock.Anything, "exc_1", model.ExceptionStatusIgnored, model.ResolutionIgnore, "duplicate entry").Return(nil)
	mockDS.On("GetException", mock.Anything, "exc_1").Return(ignored, nil).Once()

	var response model.ReconciliationException
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  strings.NewReader(`{"resolution": "ignore", "notes": "duplicate entry"}`),
		Response: &response,
		Method:   "POST",
		Route:    "/reconciliation/exceptions/exc_1/resolve",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.ExceptionStatusIgnored, response.Status)
}

func TestResolveExceptionEndpointManualMatch(t *testing.T) {
	router, mockDS := setupRouter(t)

	open := &model.ReconciliationException{
		ExceptionID:    "exc_1",
		SessionID:      "session_abc",
		ExceptionType:  model.ExceptionUnmatchedLedger,
		LedgerRecordID: "ldg_1",
		Status:         model.ExceptionStatusOpen,
	}
	resolved := &model.ReconciliationException{
		ExceptionID:   "exc_1",
		SessionID:     "session_abc",
		ExceptionType: model.ExceptionUnmatchedLedger,
		Status:        model.ExceptionStatusResolved,
		Resolution:    model.ResolutionManualMatch,
	}
	ledgerDate := mustParseDate(t, "2024-03-01")
	bankDate := mustParseDate(t, "2024-03-03")
	mockDS.On("GetException", mock.Anything, "exc_1").Return(open, nil).Once()
	mockDS.On("GetLedgerRecord", mock.Anything, "ldg_1").Return(&model.LedgerRecord{
		LedgerRecordID: "ldg_1",
		SessionID:      "session_abc",
		Date:           ledgerDate,
		Amount:         decimal.NewFromFloat(250.00),
	}, nil)
	mockDS.On("GetBankRecord", mock.Anything, "bnk_9").Return(&model.BankRecord{
		BankRecordID: "bnk_9",
		SessionID:    "session_abc",
		Date:         bankDate,
		Amount:       decimal.NewFromFloat(250.25),
	}, nil)
	mockDS.On("RecordManualMatch", mock.Anything, mock.MatchedBy(func(match *model.TransactionMatch) bool {
		return match.LedgerRecordID == "ldg_1" && match.BankRecordID == "bnk_9" &&
			match.MatchType == model.MatchTypeManual && match.ConfidenceScore == 1.0
	})).Return(nil)
	mockDS.On("ResolveException", mock.Anything, "exc_1", model.ExceptionStatusResolved, model.ResolutionManualMatch, "").Return(nil)
	mockDS.On("GetException", mock.Anything, "exc_1").Return(resolved, nil).Once()

	var response model.ReconciliationException
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  strings.NewReader(`{"resolution": "manual_match", "bank_record_id": "bnk_9"}`),
		Response: &response,
		Method:   "POST",
		Route:    "/reconciliation/exceptions/exc_1/resolve",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.ExceptionStatusResolved, response.Status)
	assert.Equal(t, model.ResolutionManualMatch, response.Resolution)
}

func TestResolveExceptionEndpointValidation(t *testing.T) {
	router, mockDS := setupRouter(t)

	tests := []struct {
		name    string
		payload string
	}{
		{"Unknown resolution", `{"resolution": "wontfix"}`},
		{"Missing resolution", `{"notes": "no resolution"}`},
		{"Manual match without counterpart", `{"resolution": "manual_match"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var response map[string]interface{}
			resp, err := SetUpTestRequest(TestRequest{
				Payload:  strings.NewReader(tt.payload),
				Response: &response,
				Method:   "POST",
				Route:    "/reconciliation/exceptions/exc_1/resolve",
				Router:   router,
			})
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}

	mockDS.AssertNotCalled(t, "GetException", mock.Anything, "exc_1")
}

func TestGetMatchSuggestionsEndpoint(t *testing.T) {
	router, mockDS := setupRouter(t)

	exception := &model.ReconciliationException{
		ExceptionID:    "exc_1",
		SessionID:      "session_abc",
		ExceptionType:  model.ExceptionUnmatchedLedger,
		LedgerRecordID: "ldg_1",
		Status:         model.ExceptionStatusOpen,
	}
	session := &model.ReconciliationSession{
		SessionID:         "session_abc",
		Status:            model.StatusCompleted,
		DateToleranceDays: 3,
		AmountTolerance:   decimal.NewFromFloat(0.01),
	}
	date := mustParseDate(t, "2024-03-01")
	unmatched := false
	mockDS.On("GetException", mock.Anything, "exc_1").Return(exception, nil)
	mockDS.On("GetSession", mock.Anything, "session_abc").Return(session, nil)
	mockDS.On("GetLedgerRecord", mock.Anything, "ldg_1").Return(&model.LedgerRecord{
		LedgerRecordID: "ldg_1",
		SessionID:      "session_abc",
		Date:           date,
		Description:    "Invoice 1001",
		Amount:         decimal.NewFromFloat(250.00),
	}, nil)
	mockDS.On("GetBankRecords", mock.Anything, "session_abc", &unmatched, mock.Anything, int64(0)).
		Return([]*model.BankRecord{
			{BankRecordID: "bnk_1", SessionID: "session_abc", Date: date, Description: "INVOICE 1001 PAYMENT", Amount: decimal.NewFromFloat(250.00)},
		}, nil)

	var response []map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    "/reconciliation/exceptions/exc_1/suggestions?limit=3",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, response, 1)
	record, ok := response[0]["bank_record"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "bnk_1", record["bank_record_id"])
}
