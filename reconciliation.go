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
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/crosscheck-finance/crosscheck/config"
	"github.com/crosscheck-finance/crosscheck/internal/apierror"
	"github.com/crosscheck-finance/crosscheck/internal/files"
	redlock "github.com/crosscheck-finance/crosscheck/internal/lock"
	"github.com/crosscheck-finance/crosscheck/internal/notification"
	"github.com/crosscheck-finance/crosscheck/internal/search"
	"github.com/crosscheck-finance/crosscheck/model"
)

var (
	tracer = otel.Tracer("Reconciliation session")
)

const (
	// matchingLockTTL bounds how long one matching run may hold its session
	// lock before the lock expires on its own.
	matchingLockTTL = time.Minute * 30

	// loadBatchSize is the page size used when streaming parsed records out
	// of the database for matching.
	loadBatchSize = 1000

	// sessionErrorLimit bounds the error text stored on a failed session.
	sessionErrorLimit = 500
)

// UploadedSource is one uploaded source file as received from the API layer:
// the original filename, the declared size and the content stream.
type UploadedSource struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// SessionSummary combines a session with its match rate and its exception
// counts grouped by status.
type SessionSummary struct {
	Session            *model.ReconciliationSession `json:"session"`
	MatchPercentage    float64                      `json:"match_percentage"`
	OpenExceptions     int                          `json:"open_exceptions"`
	ResolvedExceptions int                          `json:"resolved_exceptions"`
	IgnoredExceptions  int                          `json:"ignored_exceptions"`
}

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// mapUploadError converts upload failures into API errors. A size violation
// is the client's fault and maps to a bad request; anything else is internal.
func mapUploadError(span trace.Span, role string, err error) error {
	if errors.Is(err, files.ErrFileTooLarge) {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("The %s file exceeds the upload size limit", role), err.Error())
	}
	return logAndRecordError(span, fmt.Sprintf("error storing %s file", role), err)
}

// CreateReconciliationSession stores both uploaded source files, records the
// session and queues file processing. The session comes back in the created
// status; parsing and matching progress it asynchronously.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - session *model.ReconciliationSession: The session to create. Name, tolerances and ownership come from the caller.
// - ledgerFile *UploadedSource: The internal ledger file.
// - bankFile *UploadedSource: The bank statement file.
//
// Returns:
// - *model.ReconciliationSession: The created session.
// - error: An error if a file cannot be stored or the session cannot be recorded.
func (c *CrossCheck) CreateReconciliationSession(ctx context.Context, session *model.ReconciliationSession, ledgerFile, bankFile *UploadedSource) (*model.ReconciliationSession, error) {
	ctx, span := tracer.Start(ctx, "Creating reconciliation session")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	session.SessionID = model.GenerateUUIDWithSuffix("session")
	session.Status = model.StatusCreated
	session.CreatedAt = time.Now()

	maxBytes := cnf.Reconciliation.MaxFileSizeMB * 1024 * 1024
	ledgerPath, err := files.SaveUpload(cnf.Reconciliation.UploadDir, session.SessionID, string(model.RoleLedger), ledgerFile.Filename, ledgerFile.Size, maxBytes, ledgerFile.Reader)
	if err != nil {
		return nil, mapUploadError(span, string(model.RoleLedger), err)
	}
	session.LedgerFilePath = ledgerPath

	bankPath, err := files.SaveUpload(cnf.Reconciliation.UploadDir, session.SessionID, string(model.RoleBank), bankFile.Filename, bankFile.Size, maxBytes, bankFile.Reader)
	if err != nil {
		c.removeUploads(ledgerPath)
		return nil, mapUploadError(span, string(model.RoleBank), err)
	}
	session.BankFilePath = bankPath

	if err := c.datasource.RecordSession(ctx, session); err != nil {
		c.removeUploads(ledgerPath, bankPath)
		return nil, logAndRecordError(span, "error recording session", err)
	}

	if err := c.queue.queueFileProcessing(ctx, session.SessionID); err != nil {
		if markErr := c.datasource.MarkSessionFailed(ctx, session.SessionID, "failed to queue file processing"); markErr != nil {
			logrus.Errorf("error marking session %s failed: %v", session.SessionID, markErr)
		}
		return nil, logAndRecordError(span, "error queueing file processing", err)
	}

	c.postSessionActions(ctx, session)

	return session, nil
}

// GetReconciliationSession retrieves a single session by ID.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session to retrieve.
//
// Returns:
// - *model.ReconciliationSession: The session if found.
// - error: An error if the session could not be retrieved.
func (c *CrossCheck) GetReconciliationSession(ctx context.Context, sessionID string) (*model.ReconciliationSession, error) {
	ctx, span := tracer.Start(ctx, "Getting reconciliation session")
	defer span.End()

	session, err := c.datasource.GetSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return session, nil
}

// ListReconciliationSessions retrieves sessions newest first, optionally
// filtered by status.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - status string: The status to filter by; empty returns all sessions.
// - limit int: The maximum number of sessions to return.
// - offset int: The number of sessions to skip.
//
// Returns:
// - []*model.ReconciliationSession: The retrieved sessions.
// - error: An error if the sessions could not be retrieved.
func (c *CrossCheck) ListReconciliationSessions(ctx context.Context, status string, limit, offset int) ([]*model.ReconciliationSession, error) {
	ctx, span := tracer.Start(ctx, "Listing reconciliation sessions")
	defer span.End()

	sessions, err := c.datasource.GetAllSessions(ctx, status, limit, offset)
	if err != nil {
		return nil, logAndRecordError(span, "error listing sessions", err)
	}
	return sessions, nil
}

// GetSessionSummary retrieves a session together with its match percentage
// and exception counts.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session to summarize.
//
// Returns:
// - *SessionSummary: The summary of the session.
// - error: An error if the session or its counts could not be retrieved.
func (c *CrossCheck) GetSessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	ctx, span := tracer.Start(ctx, "Getting session summary")
	defer span.End()

	session, err := c.datasource.GetSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	counts, err := c.datasource.GetExceptionCounts(ctx, sessionID)
	if err != nil {
		return nil, logAndRecordError(span, "error counting exceptions", err)
	}

	return &SessionSummary{
		Session:            session,
		MatchPercentage:    session.MatchPercentage(),
		OpenExceptions:     counts[model.ExceptionStatusOpen],
		ResolvedExceptions: counts[model.ExceptionStatusResolved],
		IgnoredExceptions:  counts[model.ExceptionStatusIgnored],
	}, nil
}

// StartMatching queues the matching run for a session whose files have been
// processed. Matching normally starts on its own once parsing finishes; this
// entry point re-runs it, for example after a stuck run was recovered.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session to match.
//
// Returns:
// - error: An error if the session is not in a matchable state or the task could not be enqueued.
func (c *CrossCheck) StartMatching(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "Starting matching run")
	defer span.End()

	session, err := c.datasource.GetSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if session.IsTerminal() {
		err := apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Session with ID '%s' is already %s", sessionID, session.Status), nil)
		span.RecordError(err)
		return err
	}
	if session.Status == model.StatusCreated {
		err := apierror.NewAPIError(apierror.ErrPreconditionFailed, fmt.Sprintf("Files for session '%s' have not been processed yet", sessionID), nil)
		span.RecordError(err)
		return err
	}

	if err := c.queue.queueMatching(ctx, sessionID); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Matching for session '%s' is already queued", sessionID), nil)
		}
		return logAndRecordError(span, "error queueing matching", err)
	}
	return nil
}

// GetSessionLedgerRecords retrieves a page of parsed ledger records for a
// session, optionally filtered by matched state.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the owning session.
// - matched *bool: Filters by matched state when set; nil returns all records.
// - limit int: The maximum number of records to return.
// - offset int64: The number of records to skip.
//
// Returns:
// - []*model.LedgerRecord: The retrieved records.
// - error: An error if the session does not exist or the records could not be retrieved.
func (c *CrossCheck) GetSessionLedgerRecords(ctx context.Context, sessionID string, matched *bool, limit int, offset int64) ([]*model.LedgerRecord, error) {
	ctx, span := tracer.Start(ctx, "Getting session ledger records")
	defer span.End()

	if _, err := c.datasource.GetSession(ctx, sessionID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	records, err := c.datasource.GetLedgerRecords(ctx, sessionID, matched, limit, offset)
	if err != nil {
		return nil, logAndRecordError(span, "error getting ledger records", err)
	}
	return records, nil
}

// GetSessionBankRecords retrieves a page of parsed bank records for a
// session, optionally filtered by matched state.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the owning session.
// - matched *bool: Filters by matched state when set; nil returns all records.
// - limit int: The maximum number of records to return.
// - offset int64: The number of records to skip.
//
// Returns:
// - []*model.BankRecord: The retrieved records.
// - error: An error if the session does not exist or the records could not be retrieved.
func (c *CrossCheck) GetSessionBankRecords(ctx context.Context, sessionID string, matched *bool, limit int, offset int64) ([]*model.BankRecord, error) {
	ctx, span := tracer.Start(ctx, "Getting session bank records")
	defer span.End()

	if _, err := c.datasource.GetSession(ctx, sessionID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	records, err := c.datasource.GetBankRecords(ctx, sessionID, matched, limit, offset)
	if err != nil {
		return nil, logAndRecordError(span, "error getting bank records", err)
	}
	return records, nil
}

// ProcessSessionFiles parses both stored source files for a session,
// normalizes the rows and inserts the resulting records. It is the handler
// behind the file processing queue. Parse failures fail the session and are
// not retried; database errors are returned so the task retries.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session whose files should be parsed.
//
// Returns:
// - error: An error if a transient failure should trigger a retry.
func (c *CrossCheck) ProcessSessionFiles(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "Processing session files")
	defer span.End()

	session, err := c.datasource.GetSession(ctx, sessionID)
	if err != nil {
		return logAndRecordError(span, "error fetching session", err)
	}
	if session.IsTerminal() {
		log.Printf("session %s is already %s, skipping file processing", sessionID, session.Status)
		return nil
	}

	if err := c.datasource.UpdateSessionStatus(ctx, sessionID, model.StatusProcessing); err != nil {
		return logAndRecordError(span, "error updating session status", err)
	}

	// A retried task starts clean: drop any rows a previous attempt inserted.
	if err := c.datasource.DeleteSessionRecords(ctx, sessionID); err != nil {
		return logAndRecordError(span, "error clearing session records", err)
	}

	ledgerRows, err := c.parseSourceRows(ctx, session.LedgerFilePath, model.RoleLedger)
	if err != nil {
		c.failSession(ctx, session, err)
		return nil
	}
	bankRows, err := c.parseSourceRows(ctx, session.BankFilePath, model.RoleBank)
	if err != nil {
		c.failSession(ctx, session, err)
		return nil
	}

	ledgerRecords := make([]*model.LedgerRecord, 0, len(ledgerRows))
	for _, normalized := range ledgerRows {
		ledgerRecords = append(ledgerRecords, normalized.ToLedgerRecord(sessionID))
	}
	bankRecords := make([]*model.BankRecord, 0, len(bankRows))
	for _, normalized := range bankRows {
		bankRecords = append(bankRecords, normalized.ToBankRecord(sessionID))
	}

	if err := c.datasource.RecordLedgerRecords(ctx, ledgerRecords); err != nil {
		return logAndRecordError(span, "error saving ledger records", err)
	}
	if err := c.datasource.RecordBankRecords(ctx, bankRecords); err != nil {
		return logAndRecordError(span, "error saving bank records", err)
	}

	counters := model.SessionCounters{
		TotalLedgerRecords:     len(ledgerRecords),
		TotalBankRecords:       len(bankRecords),
		UnmatchedLedgerRecords: len(ledgerRecords),
		UnmatchedBankRecords:   len(bankRecords),
	}
	if err := c.datasource.UpdateSessionCounters(ctx, sessionID, counters); err != nil {
		return logAndRecordError(span, "error updating session counters", err)
	}

	log.Printf(" [*] Parsed %d ledger and %d bank records for session %s", len(ledgerRecords), len(bankRecords), sessionID)

	if err := c.queue.queueMatching(ctx, sessionID); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return logAndRecordError(span, "error queueing matching", err)
	}
	return nil
}

// parseSourceRows reads one stored source file and normalizes its rows. An
// empty result is an error: a session with a blank side cannot reconcile.
func (c *CrossCheck) parseSourceRows(ctx context.Context, path string, role model.RecordRole) ([]*model.NormalizedRecord, error) {
	rows, err := files.ReadSourceRows(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s file: %w", role, err)
	}
	normalized := NormalizeRecords(rows, role)
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%s file contains no usable records", role)
	}
	return normalized, nil
}

// RunSessionMatching loads a session's parsed records, runs the matching
// engine and persists the outcome atomically. It is the handler behind the
// matching queues. A Redis lock keyed on the session guards against two
// workers matching the same session at once.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session to match.
//
// Returns:
// - error: An error if a transient failure should trigger a retry.
func (c *CrossCheck) RunSessionMatching(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "Running session matching")
	defer span.End()

	session, err := c.datasource.GetSession(ctx, sessionID)
	if err != nil {
		return logAndRecordError(span, "error fetching session", err)
	}
	if session.IsTerminal() {
		log.Printf("session %s is already %s, skipping matching", sessionID, session.Status)
		return nil
	}

	locker, err := c.acquireMatchingLock(ctx, sessionID)
	if err != nil {
		log.Printf("matching for session %s is already running: %v", sessionID, err)
		return nil
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		err := locker.Unlock(ctx)
		if err != nil {
			logrus.Error(err)
		}
	}(locker, ctx)

	if err := c.datasource.UpdateSessionStatus(ctx, sessionID, model.StatusProcessing); err != nil {
		return logAndRecordError(span, "error updating session status", err)
	}

	ledgerRecords, err := c.loadLedgerRecords(ctx, sessionID, nil)
	if err != nil {
		return logAndRecordError(span, "error loading ledger records", err)
	}
	bankRecords, err := c.loadBankRecords(ctx, sessionID, nil)
	if err != nil {
		return logAndRecordError(span, "error loading bank records", err)
	}

	matches, exceptions, counters := MatchRecords(session, ledgerRecords, bankRecords)

	if err := c.datasource.RecordMatchResults(ctx, sessionID, matches, exceptions, counters); err != nil {
		return logAndRecordError(span, "error saving match results", err)
	}

	now := time.Now()
	session.Status = model.StatusCompleted
	session.SessionCounters = counters
	session.ProcessedAt = &now

	c.postSessionActions(ctx, session)
	c.postMatchingActions(ctx, matches, exceptions)

	if err := SendWebhook(NewWebhook{
		Event:   getEventFromStatus(session.Status),
		Payload: session,
	}); err != nil {
		notification.NotifyError(err)
	}

	log.Printf(" [*] Matching completed for session %s: %d matches, %d exceptions", sessionID, len(matches), len(exceptions))
	return nil
}

func (c *CrossCheck) acquireMatchingLock(ctx context.Context, sessionID string) (*redlock.Locker, error) {
	locker := redlock.NewLocker(c.redis, fmt.Sprintf("matching:%s", sessionID), model.GenerateUUIDWithSuffix("loc"))
	err := locker.Lock(ctx, matchingLockTTL)
	if err != nil {
		return nil, err
	}
	return locker, nil
}

// loadLedgerRecords pages a session's parsed ledger records into memory,
// optionally filtered by matched state.
func (c *CrossCheck) loadLedgerRecords(ctx context.Context, sessionID string, matched *bool) ([]*model.LedgerRecord, error) {
	var records []*model.LedgerRecord
	var offset int64
	for {
		batch, err := c.datasource.GetLedgerRecords(ctx, sessionID, matched, loadBatchSize, offset)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
		if len(batch) < loadBatchSize {
			return records, nil
		}
		offset += int64(len(batch))
	}
}

// loadBankRecords pages a session's parsed bank records into memory,
// optionally filtered by matched state.
func (c *CrossCheck) loadBankRecords(ctx context.Context, sessionID string, matched *bool) ([]*model.BankRecord, error) {
	var records []*model.BankRecord
	var offset int64
	for {
		batch, err := c.datasource.GetBankRecords(ctx, sessionID, matched, loadBatchSize, offset)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
		if len(batch) < loadBatchSize {
			return records, nil
		}
		offset += int64(len(batch))
	}
}

// failSession marks a session failed, mirrors the failure on the in-memory
// session and notifies the outside world. The cause is truncated to fit the
// stored error column.
func (c *CrossCheck) failSession(ctx context.Context, session *model.ReconciliationSession, cause error) {
	errorMessage := model.TruncateString(cause.Error(), sessionErrorLimit)
	if err := c.datasource.MarkSessionFailed(ctx, session.SessionID, errorMessage); err != nil {
		logrus.Errorf("error marking session %s failed: %v", session.SessionID, err)
	}
	session.Status = model.StatusFailed
	session.ErrorMessage = errorMessage

	c.postSessionActions(ctx, session)
	if err := SendWebhook(NewWebhook{
		Event:   getEventFromStatus(session.Status),
		Payload: session,
	}); err != nil {
		notification.NotifyError(err)
	}
	notification.NotifyError(cause)
}

// FailSession marks a session failed by ID. Workers call it when a task has
// exhausted its retry attempts, so webhook consumers see the full session
// payload rather than a bare ID.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session to fail.
// - cause error: The failure recorded on the session.
//
// Returns:
// - error: An error if the session could not be fetched.
func (c *CrossCheck) FailSession(ctx context.Context, sessionID string, cause error) error {
	session, err := c.datasource.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	c.failSession(ctx, session, cause)
	return nil
}

func (c *CrossCheck) postSessionActions(_ context.Context, session *model.ReconciliationSession) {
	go func() {
		err := c.queue.queueIndexData(session.SessionID, search.CollectionSessions, session)
		if err != nil {
			notification.NotifyError(err)
		}
	}()
}

// postMatchingActions queues search indexing for everything one matching run
// produced. A single goroutine walks both slices so the worker is not held
// up behind indexing.
func (c *CrossCheck) postMatchingActions(_ context.Context, matches []*model.TransactionMatch, exceptions []*model.ReconciliationException) {
	go func() {
		for _, match := range matches {
			if err := c.queue.queueIndexData(match.MatchID, search.CollectionMatches, match); err != nil {
				notification.NotifyError(err)
			}
		}
		for _, exception := range exceptions {
			if err := c.queue.queueIndexData(exception.ExceptionID, search.CollectionExceptions, exception); err != nil {
				notification.NotifyError(err)
			}
		}
	}()
}

// removeUploads deletes stored upload files after a failed create. Missing
// files are not an error.
func (c *CrossCheck) removeUploads(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logrus.Errorf("error removing upload %s: %v", path, err)
		}
	}
}
