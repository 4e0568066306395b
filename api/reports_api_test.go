package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crosscheck-finance/crosscheck/database/mocks"
	"github.com/crosscheck-finance/crosscheck/model"
)

func reportSessionFixture() *model.ReconciliationSession {
	processedAt := time.Now()
	return &model.ReconciliationSession{
		SessionID:         "session_report",
		Name:              "March close",
		Status:            model.StatusCompleted,
		DateToleranceDays: 3,
		AmountTolerance:   decimal.NewFromFloat(0.01),
		SessionCounters: model.SessionCounters{
			TotalLedgerRecords:     2,
			TotalBankRecords:       2,
			MatchedRecords:         1,
			UnmatchedLedgerRecords: 1,
			UnmatchedBankRecords:   1,
		},
		CreatedAt:   time.Now(),
		ProcessedAt: &processedAt,
	}
}

func mockReportData(mockDS *mocks.MockDataSource) {
	mockDS.On("GetSession", mock.Anything, "session_report").Return(reportSessionFixture(), nil)
	mockDS.On("GetMatches", mock.Anything, "session_report", mock.Anything, mock.Anything).
		Return([]*model.TransactionMatch{
			{MatchID: "match_1", SessionID: "session_report", LedgerRecordID: "ldg_1", BankRecordID: "bnk_1", MatchType: model.MatchTypeExact, ConfidenceScore: 0.95},
		}, nil)
	mockDS.On("GetExceptions", mock.Anything, "session_report", "", mock.Anything, mock.Anything).
		Return([]*model.ReconciliationException{
			{ExceptionID: "exc_1", SessionID: "session_report", ExceptionType: model.ExceptionUnmatchedBank, Severity: model.SeverityMedium, Status: model.ExceptionStatusOpen},
		}, nil)
}

func TestDownloadSessionReportEndpoint(t *testing.T) {
	router, mockDS := setupRouter(t)
	mockReportData(mockDS)

	t.Run("JSON report", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/reconciliation/sessions/session_report/report?format=json", nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
		assert.Contains(t, resp.Header().Get("Content-Disposition"), "session_report-report.json")

		var report map[string]interface{}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &report))
		session, ok := report["session"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "session_report", session["session_id"])
	})

	t.Run("CSV report", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/reconciliation/sessions/session_report/report?format=csv", nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
		assert.Contains(t, resp.Body.String(), "session_report")
		assert.Contains(t, resp.Body.String(), "match_1")
		assert.Contains(t, resp.Body.String(), "exc_1")
	})

	t.Run("Unknown format", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/reconciliation/sessions/session_report/report?format=xml", nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestDownloadSessionReportEndpointBeforeCompletion(t *testing.T) {
	router, mockDS := setupRouter(t)

	mockDS.On("GetSession", mock.Anything, "session_open").
		Return(&model.ReconciliationSession{SessionID: "session_open", Status: model.StatusProcessing}, nil)

	req := httptest.NewRequest("GET", "/reconciliation/sessions/session_open/report", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusPreconditionFailed, resp.Code)
	mockDS.AssertNotCalled(t, "GetMatches", mock.Anything, "session_open", mock.Anything, mock.Anything)
}

func TestExportSessionReportToS3Endpoint(t *testing.T) {
	router, mockDS := setupRouter(t)
	mockReportData(mockDS)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "POST",
		Route:    "/reconciliation/sessions/session_report/report/s3?format=csv",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)

	filePath, ok := response["file_path"].(string)
	require.True(t, ok)
	assert.FileExists(t, filePath)
	// No bucket is configured in tests, so the report stays local.
	assert.Equal(t, "", response["object_key"])
}
