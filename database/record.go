package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/crosscheck-finance/crosscheck/config"
	"github.com/crosscheck-finance/crosscheck/internal/apierror"
	"github.com/crosscheck-finance/crosscheck/model"
)

const defaultInsertBatchSize = 1000

// insertBatchSize returns the configured multi-row insert size.
func insertBatchSize() int {
	conf, err := config.Fetch()
	if err != nil || conf.Reconciliation.InsertBatchSize <= 0 {
		return defaultInsertBatchSize
	}
	return conf.Reconciliation.InsertBatchSize
}

// valuePlaceholders builds the ($1,$2,...),(...) clause for a multi-row insert.
func valuePlaceholders(rowCount, colCount int) string {
	rows := make([]string, rowCount)
	for i := 0; i < rowCount; i++ {
		cols := make([]string, colCount)
		for j := 0; j < colCount; j++ {
			cols[j] = fmt.Sprintf("$%d", i*colCount+j+1)
		}
		rows[i] = "(" + strings.Join(cols, ",") + ")"
	}
	return strings.Join(rows, ",")
}

// RecordLedgerRecords batch-inserts parsed ledger records within a single
// transaction. Either every record lands or none do.
func (d Datasource) RecordLedgerRecords(ctx context.Context, records []*model.LedgerRecord) error {
	ctx, span := otel.Tracer("Records").Start(ctx, "Saving ledger records to db")
	defer span.End()

	if len(records) == 0 {
		return nil
	}

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	batchSize := insertBatchSize()
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := insertLedgerBatch(ctx, tx, records[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return nil
}

func insertLedgerBatch(ctx context.Context, tx *sql.Tx, records []*model.LedgerRecord) error {
	const colCount = 11

	args := make([]interface{}, 0, len(records)*colCount)
	for _, record := range records {
		rawJSON, err := json.Marshal(record.RawData)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal raw data", err)
		}
		args = append(args,
			record.LedgerRecordID, record.SessionID, record.RowNumber, record.Date,
			record.Description, record.Amount, record.Reference, record.Account,
			record.Category, rawJSON, record.CreatedAt,
		)
	}

	query := fmt.Sprintf(`INSERT INTO crosscheck.ledger_records(
		ledger_record_id, session_id, row_number, transaction_date, description,
		amount, reference, account, category, raw_data, created_at
	) VALUES %s`, valuePlaceholders(len(records), colCount))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger records", err)
	}

	return nil
}

// RecordBankRecords batch-inserts parsed bank records within a single
// transaction.
func (d Datasource) RecordBankRecords(ctx context.Context, records []*model.BankRecord) error {
	ctx, span := otel.Tracer("Records").Start(ctx, "Saving bank records to db")
	defer span.End()

	if len(records) == 0 {
		return nil
	}

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	batchSize := insertBatchSize()
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := insertBankBatch(ctx, tx, records[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return nil
}

func insertBankBatch(ctx context.Context, tx *sql.Tx, records []*model.BankRecord) error {
	const colCount = 10

	args := make([]interface{}, 0, len(records)*colCount)
	for _, record := range records {
		rawJSON, err := json.Marshal(record.RawData)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal raw data", err)
		}
		args = append(args,
			record.BankRecordID, record.SessionID, record.RowNumber, record.Date,
			record.Description, record.Amount, record.Reference, record.Balance,
			rawJSON, record.CreatedAt,
		)
	}

	query := fmt.Sprintf(`INSERT INTO crosscheck.bank_records(
		bank_record_id, session_id, row_number, transaction_date, description,
		amount, reference, balance, raw_data, created_at
	) VALUES %s`, valuePlaceholders(len(records), colCount))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record bank records", err)
	}

	return nil
}

// DeleteSessionRecords removes every parsed record for a session, both sides
// in one transaction. File processing calls this before inserting so a retried
// task never duplicates rows.
func (d Datasource) DeleteSessionRecords(ctx context.Context, sessionID string) error {
	ctx, span := otel.Tracer("Records").Start(ctx, "Deleting session records")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM crosscheck.ledger_records WHERE session_id = $1`, sessionID); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete ledger records", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM crosscheck.bank_records WHERE session_id = $1`, sessionID); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete bank records", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return nil
}

// GetLedgerRecords retrieves ledger records for a session in row order, in a
// paginated manner. A non-nil matched filters by match state.
func (d Datasource) GetLedgerRecords(ctx context.Context, sessionID string, matched *bool, batchSize int, offset int64) ([]*model.LedgerRecord, error) {
	ctx, span := otel.Tracer("Records").Start(ctx, "Fetching ledger records with pagination")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, ledger_record_id, session_id, row_number, transaction_date,
			description, amount, reference, account, category, raw_data,
			is_matched, match_confidence, created_at
		FROM crosscheck.ledger_records
		WHERE session_id = $1 AND ($2::boolean IS NULL OR is_matched = $2)
		ORDER BY row_number ASC
		LIMIT $3 OFFSET $4
	`, sessionID, matched, batchSize, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger records", err)
	}
	defer rows.Close()

	var records []*model.LedgerRecord

	for rows.Next() {
		record := &model.LedgerRecord{}
		var rawJSON []byte
		err = rows.Scan(
			&record.ID, &record.LedgerRecordID, &record.SessionID, &record.RowNumber,
			&record.Date, &record.Description, &record.Amount, &record.Reference,
			&record.Account, &record.Category, &rawJSON, &record.IsMatched,
			&record.MatchConfidence, &record.CreatedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger record data", err)
		}

		if err = json.Unmarshal(rawJSON, &record.RawData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal raw data", err)
		}

		records = append(records, record)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ledger records", err)
	}

	return records, nil
}

// GetBankRecords retrieves bank records for a session in row order, in a
// paginated manner. A non-nil matched filters by match state.
func (d Datasource) GetBankRecords(ctx context.Context, sessionID string, matched *bool, batchSize int, offset int64) ([]*model.BankRecord, error) {
	ctx, span := otel.Tracer("Records").Start(ctx, "Fetching bank records with pagination")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, bank_record_id, session_id, row_number, transaction_date,
			description, amount, reference, balance, raw_data,
			is_matched, match_confidence, created_at
		FROM crosscheck.bank_records
		WHERE session_id = $1 AND ($2::boolean IS NULL OR is_matched = $2)
		ORDER BY row_number ASC
		LIMIT $3 OFFSET $4
	`, sessionID, matched, batchSize, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bank records", err)
	}
	defer rows.Close()

	var records []*model.BankRecord

	for rows.Next() {
		record := &model.BankRecord{}
		var rawJSON []byte
		err = rows.Scan(
			&record.ID, &record.BankRecordID, &record.SessionID, &record.RowNumber,
			&record.Date, &record.Description, &record.Amount, &record.Reference,
			&record.Balance, &rawJSON, &record.IsMatched,
			&record.MatchConfidence, &record.CreatedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan bank record data", err)
		}

		if err = json.Unmarshal(rawJSON, &record.RawData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal raw data", err)
		}

		records = append(records, record)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over bank records", err)
	}

	return records, nil
}

// GetLedgerRecord retrieves a single ledger record by its ID
func (d Datasource) GetLedgerRecord(ctx context.Context, id string) (*model.LedgerRecord, error) {
	ctx, span := otel.Tracer("Records").Start(ctx, "Fetching ledger record from db")
	defer span.End()

	record := &model.LedgerRecord{}
	var rawJSON []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, ledger_record_id, session_id, row_number, transaction_date,
			description, amount, reference, account, category, raw_data,
			is_matched, match_confidence, created_at
		FROM crosscheck.ledger_records
		WHERE ledger_record_id = $1
	`, id).Scan(
		&record.ID, &record.LedgerRecordID, &record.SessionID, &record.RowNumber,
		&record.Date, &record.Description, &record.Amount, &record.Reference,
		&record.Account, &record.Category, &rawJSON, &record.IsMatched,
		&record.MatchConfidence, &record.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Ledger record with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger record", err)
	}

	if err = json.Unmarshal(rawJSON, &record.RawData); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal raw data", err)
	}

	return record, nil
}

// GetBankRecord retrieves a single bank record by its ID
func (d Datasource) GetBankRecord(ctx context.Context, id string) (*model.BankRecord, error) {
	ctx, span := otel.Tracer("Records").Start(ctx, "Fetching bank record from db")
	defer span.End()

	record := &model.BankRecord{}
	var rawJSON []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, bank_record_id, session_id, row_number, transaction_date,
			description, amount, reference, balance, raw_data,
			is_matched, match_confidence, created_at
		FROM crosscheck.bank_records
		WHERE bank_record_id = $1
	`, id).Scan(
		&record.ID, &record.BankRecordID, &record.SessionID, &record.RowNumber,
		&record.Date, &record.Description, &record.Amount, &record.Reference,
		&record.Balance, &rawJSON, &record.IsMatched,
		&record.MatchConfidence, &record.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Bank record with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bank record", err)
	}

	if err = json.Unmarshal(rawJSON, &record.RawData); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal raw data", err)
	}

	return record, nil
}
