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

package database

import (
	"context"
	"time"

	"github.com/crosscheck-finance/crosscheck/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	session   // Interface for reconciliation session operations
	record    // Interface for ledger and bank record operations
	match     // Interface for transaction match operations
	exception // Interface for reconciliation exception operations
}

// session defines methods for handling reconciliation sessions.
type session interface {
	RecordSession(ctx context.Context, session *model.ReconciliationSession) error                             // Records a new reconciliation session
	GetSession(ctx context.Context, id string) (*model.ReconciliationSession, error)                           // Retrieves a session by ID
	GetAllSessions(ctx context.Context, status string, limit, offset int) ([]*model.ReconciliationSession, error) // Retrieves sessions, newest first, optionally by status
	UpdateSessionStatus(ctx context.Context, id string, status string) error                                   // Updates the status of a session
	MarkSessionFailed(ctx context.Context, id string, errorMessage string) error                               // Marks a session failed with its error
	UpdateSessionFilePath(ctx context.Context, id string, role model.RecordRole, filePath string) error        // Stores the uploaded file path for one role
	GetStuckSessions(ctx context.Context, olderThan time.Time) ([]*model.ReconciliationSession, error)         // Retrieves processing sessions with no recent progress
	UpdateSessionCounters(ctx context.Context, id string, counters model.SessionCounters) error                // Updates the aggregate record counts
}

// record defines methods for handling parsed ledger and bank records.
type record interface {
	RecordLedgerRecords(ctx context.Context, records []*model.LedgerRecord) error                                              // Batch-inserts parsed ledger records
	RecordBankRecords(ctx context.Context, records []*model.BankRecord) error                                                  // Batch-inserts parsed bank records
	GetLedgerRecords(ctx context.Context, sessionID string, matched *bool, batchSize int, offset int64) ([]*model.LedgerRecord, error) // Retrieves ledger records in a paginated manner
	GetBankRecords(ctx context.Context, sessionID string, matched *bool, batchSize int, offset int64) ([]*model.BankRecord, error)     // Retrieves bank records in a paginated manner
	GetLedgerRecord(ctx context.Context, id string) (*model.LedgerRecord, error)                                               // Retrieves a ledger record by ID
	GetBankRecord(ctx context.Context, id string) (*model.BankRecord, error)                                                   // Retrieves a bank record by ID
	DeleteSessionRecords(ctx context.Context, sessionID string) error                                                          // Removes all parsed records for a session
}

// match defines methods for handling transaction matches.
type match interface {
	RecordMatchResults(ctx context.Context, sessionID string, matches []*model.TransactionMatch, exceptions []*model.ReconciliationException, counters model.SessionCounters) error // Persists one matching run atomically
	GetMatches(ctx context.Context, sessionID string, limit, offset int) ([]*model.TransactionMatch, error)                                                                         // Retrieves matches for a session
	GetMatch(ctx context.Context, id string) (*model.TransactionMatch, error)                                                                                                       // Retrieves a match by ID
	ConfirmMatch(ctx context.Context, id string, notes string) error                                                                                                                // Confirms a match
	RecordManualMatch(ctx context.Context, match *model.TransactionMatch) error                                                                                                     // Records a manually created match
}

// exception defines methods for handling reconciliation exceptions.
type exception interface {
	GetExceptions(ctx context.Context, sessionID string, status string, limit, offset int) ([]*model.ReconciliationException, error) // Retrieves exceptions for a session, optionally by status
	GetException(ctx context.Context, id string) (*model.ReconciliationException, error)                                             // Retrieves an exception by ID
	GetExceptionCounts(ctx context.Context, sessionID string) (map[string]int, error)                                                // Counts a session's exceptions by status
	ResolveException(ctx context.Context, id, status, resolution, notes string) error                                                // Resolves an open exception
}
