package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/crosscheck-finance/crosscheck/internal/apierror"
	"github.com/crosscheck-finance/crosscheck/model"
)

// RecordSession inserts a new reconciliation session into the database
func (d Datasource) RecordSession(ctx context.Context, session *model.ReconciliationSession) error {
	ctx, span := otel.Tracer("Session").Start(ctx, "Saving session to db")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO crosscheck.reconciliation_sessions(
			session_id, name, description, owner, status, date_tolerance_days,
			amount_tolerance, total_ledger_records, total_bank_records,
			matched_records, unmatched_ledger_records, unmatched_bank_records,
			ledger_file_path, bank_file_path, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		session.SessionID, session.Name, session.Description, session.Owner,
		session.Status, session.DateToleranceDays, session.AmountTolerance,
		session.TotalLedgerRecords, session.TotalBankRecords, session.MatchedRecords,
		session.UnmatchedLedgerRecords, session.UnmatchedBankRecords,
		session.LedgerFilePath, session.BankFilePath, session.ErrorMessage, session.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record session", err)
	}

	return nil
}

// GetSession retrieves a reconciliation session by its ID
func (d Datasource) GetSession(ctx context.Context, id string) (*model.ReconciliationSession, error) {
	ctx, span := otel.Tracer("Session").Start(ctx, "Fetching session from db")
	defer span.End()

	session := &model.ReconciliationSession{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, session_id, name, description, owner, status, date_tolerance_days,
			amount_tolerance, total_ledger_records, total_bank_records,
			matched_records, unmatched_ledger_records, unmatched_bank_records,
			ledger_file_path, bank_file_path, error_message, created_at, processed_at
		FROM crosscheck.reconciliation_sessions
		WHERE session_id = $1
	`, id).Scan(
		&session.ID, &session.SessionID, &session.Name, &session.Description,
		&session.Owner, &session.Status, &session.DateToleranceDays,
		&session.AmountTolerance, &session.TotalLedgerRecords, &session.TotalBankRecords,
		&session.MatchedRecords, &session.UnmatchedLedgerRecords, &session.UnmatchedBankRecords,
		&session.LedgerFilePath, &session.BankFilePath, &session.ErrorMessage,
		&session.CreatedAt, &session.ProcessedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Session with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve session", err)
	}

	return session, nil
}

// GetAllSessions retrieves sessions ordered newest first. An empty status
// returns sessions in every state.
func (d Datasource) GetAllSessions(ctx context.Context, status string, limit, offset int) ([]*model.ReconciliationSession, error) {
	ctx, span := otel.Tracer("Session").Start(ctx, "Fetching all sessions from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, session_id, name, description, owner, status, date_tolerance_days,
			amount_tolerance, total_ledger_records, total_bank_records,
			matched_records, unmatched_ledger_records, unmatched_bank_records,
			ledger_file_path, bank_file_path, error_message, created_at, processed_at
		FROM crosscheck.reconciliation_sessions
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve sessions", err)
	}
	defer rows.Close()

	var sessions []*model.ReconciliationSession

	for rows.Next() {
		session := &model.ReconciliationSession{}
		err = rows.Scan(
			&session.ID, &session.SessionID, &session.Name, &session.Description,
			&session.Owner, &session.Status, &session.DateToleranceDays,
			&session.AmountTolerance, &session.TotalLedgerRecords, &session.TotalBankRecords,
			&session.MatchedRecords, &session.UnmatchedLedgerRecords, &session.UnmatchedBankRecords,
			&session.LedgerFilePath, &session.BankFilePath, &session.ErrorMessage,
			&session.CreatedAt, &session.ProcessedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan session data", err)
		}

		sessions = append(sessions, session)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over sessions", err)
	}

	return sessions, nil
}

// UpdateSessionStatus updates the status of a reconciliation session
func (d Datasource) UpdateSessionStatus(ctx context.Context, id string, status string) error {
	ctx, span := otel.Tracer("Session").Start(ctx, "Updating session status")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE crosscheck.reconciliation_sessions
		SET status = $2, updated_at = NOW()
		WHERE session_id = $1
	`, id, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update session status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Session with ID '%s' not found", id), nil)
	}

	return nil
}

// MarkSessionFailed moves a session to failed and stores the failure reason
func (d Datasource) MarkSessionFailed(ctx context.Context, id string, errorMessage string) error {
	ctx, span := otel.Tracer("Session").Start(ctx, "Marking session as failed")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE crosscheck.reconciliation_sessions
		SET status = $2, error_message = $3, processed_at = NOW(), updated_at = NOW()
		WHERE session_id = $1
	`, id, model.StatusFailed, errorMessage)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark session as failed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Session with ID '%s' not found", id), nil)
	}

	return nil
}

// UpdateSessionFilePath stores the saved upload path for one side of the session
func (d Datasource) UpdateSessionFilePath(ctx context.Context, id string, role model.RecordRole, filePath string) error {
	ctx, span := otel.Tracer("Session").Start(ctx, "Updating session file path")
	defer span.End()

	var column string
	switch role {
	case model.RoleLedger:
		column = "ledger_file_path"
	case model.RoleBank:
		column = "bank_file_path"
	default:
		return apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Unknown record role '%s'", role), nil)
	}

	result, err := d.Conn.ExecContext(ctx, fmt.Sprintf(`
		UPDATE crosscheck.reconciliation_sessions
		SET %s = $2, updated_at = NOW()
		WHERE session_id = $1
	`, column), id, filePath)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update session file path", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Session with ID '%s' not found", id), nil)
	}

	return nil
}

// UpdateSessionCounters updates the aggregate record counts of a session
func (d Datasource) UpdateSessionCounters(ctx context.Context, id string, counters model.SessionCounters) error {
	ctx, span := otel.Tracer("Session").Start(ctx, "Updating session counters")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE crosscheck.reconciliation_sessions
		SET total_ledger_records = $2, total_bank_records = $3, matched_records = $4,
			unmatched_ledger_records = $5, unmatched_bank_records = $6, updated_at = NOW()
		WHERE session_id = $1
	`, id, counters.TotalLedgerRecords, counters.TotalBankRecords, counters.MatchedRecords,
		counters.UnmatchedLedgerRecords, counters.UnmatchedBankRecords)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update session counters", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Session with ID '%s' not found", id), nil)
	}

	return nil
}

// GetStuckSessions retrieves processing sessions whose last update is older
// than the cutoff. Used by the recovery sweeper.
func (d Datasource) GetStuckSessions(ctx context.Context, olderThan time.Time) ([]*model.ReconciliationSession, error) {
	ctx, span := otel.Tracer("Session").Start(ctx, "Fetching stuck sessions from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, session_id, name, description, owner, status, date_tolerance_days,
			amount_tolerance, total_ledger_records, total_bank_records,
			matched_records, unmatched_ledger_records, unmatched_bank_records,
			ledger_file_path, bank_file_path, error_message, created_at, processed_at
		FROM crosscheck.reconciliation_sessions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
	`, model.StatusProcessing, olderThan)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stuck sessions", err)
	}
	defer rows.Close()

	var sessions []*model.ReconciliationSession

	for rows.Next() {
		session := &model.ReconciliationSession{}
		err = rows.Scan(
			&session.ID, &session.SessionID, &session.Name, &session.Description,
			&session.Owner, &session.Status, &session.DateToleranceDays,
			&session.AmountTolerance, &session.TotalLedgerRecords, &session.TotalBankRecords,
			&session.MatchedRecords, &session.UnmatchedLedgerRecords, &session.UnmatchedBankRecords,
			&session.LedgerFilePath, &session.BankFilePath, &session.ErrorMessage,
			&session.CreatedAt, &session.ProcessedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan session data", err)
		}

		sessions = append(sessions, session)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over sessions", err)
	}

	return sessions, nil
}
