package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/crosscheck-finance/crosscheck/internal/apierror"
	"github.com/crosscheck-finance/crosscheck/model"
)

// RecordMatchResults persists one matching run atomically: match rows,
// exception rows, the matched flags on both record sides, and the session
// counters plus completion stamp all land in a single transaction. A failure
// anywhere leaves the session untouched.
func (d Datasource) RecordMatchResults(ctx context.Context, sessionID string, matches []*model.TransactionMatch, exceptions []*model.ReconciliationException, counters model.SessionCounters) error {
	ctx, span := otel.Tracer("Matching").Start(ctx, "Saving match results to db")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, match := range matches {
		if err := markRecordsMatched(ctx, tx, match); err != nil {
			return err
		}
		if err := insertMatch(ctx, tx, match); err != nil {
			return err
		}
	}

	for _, exception := range exceptions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO crosscheck.reconciliation_exceptions(
				exception_id, session_id, exception_type, severity, ledger_record_id,
				bank_record_id, description, status, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			exception.ExceptionID, exception.SessionID, exception.ExceptionType,
			exception.Severity, exception.LedgerRecordID, exception.BankRecordID,
			exception.Description, exception.Status, exception.CreatedAt,
		)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record exception", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE crosscheck.reconciliation_sessions
		SET status = $2, total_ledger_records = $3, total_bank_records = $4,
			matched_records = $5, unmatched_ledger_records = $6,
			unmatched_bank_records = $7, processed_at = NOW(), updated_at = NOW()
		WHERE session_id = $1
	`, sessionID, model.StatusCompleted, counters.TotalLedgerRecords,
		counters.TotalBankRecords, counters.MatchedRecords,
		counters.UnmatchedLedgerRecords, counters.UnmatchedBankRecords)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update session results", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	d.evictExceptionCounts(ctx, sessionID)
	return nil
}

// markRecordsMatched flags both sides of a match. The is_matched guard keeps
// a record from ever being consumed by two matches.
func markRecordsMatched(ctx context.Context, tx *sql.Tx, match *model.TransactionMatch) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE crosscheck.ledger_records
		SET is_matched = TRUE, match_confidence = $2
		WHERE ledger_record_id = $1 AND is_matched = FALSE
	`, match.LedgerRecordID, match.ConfidenceScore)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark ledger record as matched", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Ledger record '%s' is already matched or does not exist", match.LedgerRecordID), nil)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE crosscheck.bank_records
		SET is_matched = TRUE, match_confidence = $2
		WHERE bank_record_id = $1 AND is_matched = FALSE
	`, match.BankRecordID, match.ConfidenceScore)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark bank record as matched", err)
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Bank record '%s' is already matched or does not exist", match.BankRecordID), nil)
	}

	return nil
}

func insertMatch(ctx context.Context, tx *sql.Tx, match *model.TransactionMatch) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO crosscheck.transaction_matches(
			match_id, session_id, ledger_record_id, bank_record_id, match_type,
			confidence_score, date_difference_days, amount_difference, is_confirmed,
			notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		match.MatchID, match.SessionID, match.LedgerRecordID, match.BankRecordID,
		match.MatchType, match.ConfidenceScore, match.DateDifferenceDays,
		match.AmountDifference, match.IsConfirmed, match.Notes, match.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record match", err)
	}
	return nil
}

// GetMatches retrieves matches for a session in insertion order
func (d Datasource) GetMatches(ctx context.Context, sessionID string, limit, offset int) ([]*model.TransactionMatch, error) {
	ctx, span := otel.Tracer("Matching").Start(ctx, "Fetching matches from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, match_id, session_id, ledger_record_id, bank_record_id,
			match_type, confidence_score, date_difference_days, amount_difference,
			is_confirmed, notes, created_at
		FROM crosscheck.transaction_matches
		WHERE session_id = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve matches", err)
	}
	defer rows.Close()

	var matches []*model.TransactionMatch

	for rows.Next() {
		match := &model.TransactionMatch{}
		err = rows.Scan(
			&match.ID, &match.MatchID, &match.SessionID, &match.LedgerRecordID,
			&match.BankRecordID, &match.MatchType, &match.ConfidenceScore,
			&match.DateDifferenceDays, &match.AmountDifference, &match.IsConfirmed,
			&match.Notes, &match.CreatedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan match data", err)
		}

		matches = append(matches, match)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over matches", err)
	}

	return matches, nil
}

// GetMatch retrieves a match by its ID
func (d Datasource) GetMatch(ctx context.Context, id string) (*model.TransactionMatch, error) {
	ctx, span := otel.Tracer("Matching").Start(ctx, "Fetching match from db")
	defer span.End()

	match := &model.TransactionMatch{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, match_id, session_id, ledger_record_id, bank_record_id,
			match_type, confidence_score, date_difference_days, amount_difference,
			is_confirmed, notes, created_at
		FROM crosscheck.transaction_matches
		WHERE match_id = $1
	`, id).Scan(
		&match.ID, &match.MatchID, &match.SessionID, &match.LedgerRecordID,
		&match.BankRecordID, &match.MatchType, &match.ConfidenceScore,
		&match.DateDifferenceDays, &match.AmountDifference, &match.IsConfirmed,
		&match.Notes, &match.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Match with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve match", err)
	}

	return match, nil
}

// ConfirmMatch marks a match as confirmed. Empty notes leave the existing
// notes in place.
func (d Datasource) ConfirmMatch(ctx context.Context, id string, notes string) error {
	ctx, span := otel.Tracer("Matching").Start(ctx, "Confirming match")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE crosscheck.transaction_matches
		SET is_confirmed = TRUE, notes = COALESCE(NULLIF($2, ''), notes)
		WHERE match_id = $1
	`, id, notes)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm match", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Match with ID '%s' not found", id), nil)
	}

	return nil
}

// RecordManualMatch inserts a manually created match, consumes both records
// and moves one record pair from the unmatched counters to matched. Runs in a
// single transaction.
func (d Datasource) RecordManualMatch(ctx context.Context, match *model.TransactionMatch) error {
	ctx, span := otel.Tracer("Matching").Start(ctx, "Saving manual match to db")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err := markRecordsMatched(ctx, tx, match); err != nil {
		return err
	}
	if err := insertMatch(ctx, tx, match); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE crosscheck.reconciliation_sessions
		SET matched_records = matched_records + 1,
			unmatched_ledger_records = GREATEST(unmatched_ledger_records - 1, 0),
			unmatched_bank_records = GREATEST(unmatched_bank_records - 1, 0),
			updated_at = NOW()
		WHERE session_id = $1
	`, match.SessionID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update session counters", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return nil
}
