package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/crosscheck-finance/crosscheck"
	model2 "github.com/crosscheck-finance/crosscheck/api/model"
	"github.com/crosscheck-finance/crosscheck/config"
	"github.com/crosscheck-finance/crosscheck/internal/apierror"
)

const defaultListLimit = 50

// serviceError writes a failed service call to the response, mapping
// classified errors to their HTTP status and everything else to 500.
func serviceError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apierror.MapErrorToHTTPStatus(apiErr), apiErr)
		return
	}
	logrus.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// pagination reads limit and offset query values, falling back to defaults
// for missing or unusable values.
func pagination(c *gin.Context, defaultLimit int) (int, int) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// matchedFilter reads the optional matched query value. Nil means the caller
// did not filter.
func matchedFilter(c *gin.Context) (*bool, error) {
	raw := c.Query("matched")
	if raw == "" {
		return nil, nil
	}
	matched, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.New("matched must be true or false")
	}
	return &matched, nil
}

// CreateReconciliationSession handles the multipart upload that starts a
// reconciliation. It binds the form fields, validates them, and hands both
// files to the service, which stores them and queues parsing.
//
// Parameters:
// - c: The Gin context containing the request and response.
//
// Responses:
// - 400 Bad Request: If the form fields are invalid or a file is missing.
// - 201 Created: If the session is successfully created.
func (a Api) CreateReconciliationSession(c *gin.Context) {
	var newSession model2.CreateReconciliationSession
	if err := c.ShouldBind(&newSession); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newSession.ValidateCreateReconciliationSession(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	ledgerFile, ledgerHeader, err := c.Request.FormFile("ledger_file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ledger_file upload failed"})
		return
	}
	defer ledgerFile.Close()

	bankFile, bankHeader, err := c.Request.FormFile("bank_statement_file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bank_statement_file upload failed"})
		return
	}
	defer bankFile.Close()

	conf, err := config.Fetch()
	if err != nil {
		serviceError(c, err)
		return
	}

	session, err := a.crosscheck.CreateReconciliationSession(c.Request.Context(), newSession.ToSession(conf),
		&crosscheck.UploadedSource{Filename: ledgerHeader.Filename, Size: ledgerHeader.Size, Reader: ledgerFile},
		&crosscheck.UploadedSource{Filename: bankHeader.Filename, Size: bankHeader.Size, Reader: bankFile})
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// GetAllReconciliationSessions lists sessions, newest first. An optional
// status query narrows the list to one lifecycle status.
func (a Api) GetAllReconciliationSessions(c *gin.Context) {
	limit, offset := pagination(c, defaultListLimit)
	sessions, err := a.crosscheck.ListReconciliationSessions(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// GetReconciliationSession retrieves a single session by ID.
func (a Api) GetReconciliationSession(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	session, err := a.crosscheck.GetReconciliationSession(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// StartSessionMatching queues the matching run for a session whose files
// have been parsed.
//
// Parameters:
// - c: The Gin context containing the request and response.
//
// Responses:
// - 409 Conflict: If the session already finished or matching is queued.
// - 412 Precondition Failed: If the files have not been parsed yet.
// - 200 OK: If matching was queued.
func (a Api) StartSessionMatching(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.crosscheck.StartMatching(c.Request.Context(), id); err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": id, "message": "matching queued"})
}

// GetSessionStatus reports where a session is in its lifecycle together with
// its record counters.
func (a Api) GetSessionStatus(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	session, err := a.crosscheck.GetReconciliationSession(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":               session.SessionID,
		"status":                   session.Status,
		"error_message":            session.ErrorMessage,
		"total_ledger_records":     session.TotalLedgerRecords,
		"total_bank_records":       session.TotalBankRecords,
		"matched_records":          session.MatchedRecords,
		"unmatched_ledger_records": session.UnmatchedLedgerRecords,
		"unmatched_bank_records":   session.UnmatchedBankRecords,
		"match_percentage":         session.MatchPercentage(),
	})
}

// GetSessionSummary returns the session together with its match percentage
// and exception counts grouped by status.
func (a Api) GetSessionSummary(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	summary, err := a.crosscheck.GetSessionSummary(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetSessionLedgerRecords lists a session's parsed ledger records with an
// optional matched filter.
func (a Api) GetSessionLedgerRecords(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	matched, err := matchedFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, offset := pagination(c, defaultListLimit)
	records, err := a.crosscheck.GetSessionLedgerRecords(c.Request.Context(), id, matched, limit, int64(offset))
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, records)
}

// GetSessionBankRecords lists a session's parsed bank records with an
// optional matched filter.
func (a Api) GetSessionBankRecords(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	matched, err := matchedFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, offset := pagination(c, defaultListLimit)
	records, err := a.crosscheck.GetSessionBankRecords(c.Request.Context(), id, matched, limit, int64(offset))
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, records)
}
