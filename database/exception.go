package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/crosscheck-finance/crosscheck/internal/apierror"
	"github.com/crosscheck-finance/crosscheck/model"
)

// GetExceptions retrieves exceptions for a session, newest first. An empty
// status returns all of them.
func (d Datasource) GetExceptions(ctx context.Context, sessionID string, status string, limit, offset int) ([]*model.ReconciliationException, error) {
	ctx, span := otel.Tracer("Exceptions").Start(ctx, "Fetching exceptions from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, exception_id, session_id, exception_type, severity,
			ledger_record_id, bank_record_id, description, status, resolution,
			resolution_notes, resolved_at, created_at
		FROM crosscheck.reconciliation_exceptions
		WHERE session_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY id ASC
		LIMIT $3 OFFSET $4
	`, sessionID, status, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve exceptions", err)
	}
	defer rows.Close()

	var exceptions []*model.ReconciliationException

	for rows.Next() {
		exception := &model.ReconciliationException{}
		err = rows.Scan(
			&exception.ID, &exception.ExceptionID, &exception.SessionID,
			&exception.ExceptionType, &exception.Severity, &exception.LedgerRecordID,
			&exception.BankRecordID, &exception.Description, &exception.Status,
			&exception.Resolution, &exception.ResolutionNotes, &exception.ResolvedAt,
			&exception.CreatedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan exception data", err)
		}

		exceptions = append(exceptions, exception)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over exceptions", err)
	}

	return exceptions, nil
}

// GetException retrieves an exception by its ID
func (d Datasource) GetException(ctx context.Context, id string) (*model.ReconciliationException, error) {
	ctx, span := otel.Tracer("Exceptions").Start(ctx, "Fetching exception from db")
	defer span.End()

	exception := &model.ReconciliationException{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, exception_id, session_id, exception_type, severity,
			ledger_record_id, bank_record_id, description, status, resolution,
			resolution_notes, resolved_at, created_at
		FROM crosscheck.reconciliation_exceptions
		WHERE exception_id = $1
	`, id).Scan(
		&exception.ID, &exception.ExceptionID, &exception.SessionID,
		&exception.ExceptionType, &exception.Severity, &exception.LedgerRecordID,
		&exception.BankRecordID, &exception.Description, &exception.Status,
		&exception.Resolution, &exception.ResolutionNotes, &exception.ResolvedAt,
		&exception.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Exception with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve exception", err)
	}

	return exception, nil
}

// GetExceptionCounts counts a session's exceptions grouped by status. The
// result feeds the session summary, which gets polled while operators work a
// session, so it sits behind the cache.
func (d Datasource) GetExceptionCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	ctx, span := otel.Tracer("Exceptions").Start(ctx, "Counting exceptions by status")
	defer span.End()

	cacheKey := exceptionCountsCacheKey(sessionID)
	if d.Cache != nil {
		cached := map[string]int{}
		if err := d.Cache.Get(ctx, cacheKey, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM crosscheck.reconciliation_exceptions
		WHERE session_id = $1
		GROUP BY status
	`, sessionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count exceptions", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan exception counts", err)
		}
		counts[status] = count
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over exception counts", err)
	}

	if d.Cache != nil && len(counts) > 0 {
		if err := d.Cache.Set(ctx, cacheKey, counts, 5*time.Minute); err != nil {
			logrus.Debugf("failed to cache exception counts for %s: %v", sessionID, err)
		}
	}

	return counts, nil
}

// ResolveException closes an open exception with the given resolution. Only
// open exceptions can be resolved; anything else is a conflict.
func (d Datasource) ResolveException(ctx context.Context, id, status, resolution, notes string) error {
	ctx, span := otel.Tracer("Exceptions").Start(ctx, "Resolving exception")
	defer span.End()

	var sessionID string
	err := d.Conn.QueryRowContext(ctx, `
		UPDATE crosscheck.reconciliation_exceptions
		SET status = $2, resolution = $3, resolution_notes = $4, resolved_at = NOW()
		WHERE exception_id = $1 AND status = $5
		RETURNING session_id
	`, id, status, resolution, notes, model.ExceptionStatusOpen).Scan(&sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			if _, getErr := d.GetException(ctx, id); getErr != nil {
				return getErr
			}
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Exception with ID '%s' is not open", id), nil)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve exception", err)
	}

	d.evictExceptionCounts(ctx, sessionID)
	return nil
}

func exceptionCountsCacheKey(sessionID string) string {
	return fmt.Sprintf("exceptions:counts:%s", sessionID)
}

// evictExceptionCounts drops the cached status counts after a write that
// changes them. Best effort; the entry also carries a TTL.
func (d Datasource) evictExceptionCounts(ctx context.Context, sessionID string) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Delete(ctx, exceptionCountsCacheKey(sessionID)); err != nil {
		logrus.Debugf("failed to evict exception counts for %s: %v", sessionID, err)
	}
}
