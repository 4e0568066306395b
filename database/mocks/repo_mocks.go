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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/crosscheck-finance/crosscheck/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Session methods

func (m *MockDataSource) RecordSession(ctx context.Context, session *model.ReconciliationSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockDataSource) GetSession(ctx context.Context, id string) (*model.ReconciliationSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReconciliationSession), args.Error(1)
}

func (m *MockDataSource) GetAllSessions(ctx context.Context, status string, limit, offset int) ([]*model.ReconciliationSession, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ReconciliationSession), args.Error(1)
}

func (m *MockDataSource) UpdateSessionStatus(ctx context.Context, id string, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockDataSource) MarkSessionFailed(ctx context.Context, id string, errorMessage string) error {
	args := m.Called(ctx, id, errorMessage)
	return args.Error(0)
}

func (m *MockDataSource) UpdateSessionFilePath(ctx context.Context, id string, role model.RecordRole, filePath string) error {
	args := m.Called(ctx, id, role, filePath)
	return args.Error(0)
}

func (m *MockDataSource) GetStuckSessions(ctx context.Context, olderThan time.Time) ([]*model.ReconciliationSession, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ReconciliationSession), args.Error(1)
}

func (m *MockDataSource) UpdateSessionCounters(ctx context.Context, id string, counters model.SessionCounters) error {
	args := m.Called(ctx, id, counters)
	return args.Error(0)
}

// Record methods

func (m *MockDataSource) RecordLedgerRecords(ctx context.Context, records []*model.LedgerRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockDataSource) RecordBankRecords(ctx context.Context, records []*model.BankRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockDataSource) GetLedgerRecords(ctx context.Context, sessionID string, matched *bool, batchSize int, offset int64) ([]*model.LedgerRecord, error) {
	args := m.Called(ctx, sessionID, matched, batchSize, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.LedgerRecord), args.Error(1)
}

func (m *MockDataSource) GetBankRecords(ctx context.Context, sessionID string, matched *bool, batchSize int, offset int64) ([]*model.BankRecord, error) {
	args := m.Called(ctx, sessionID, matched, batchSize, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.BankRecord), args.Error(1)
}

func (m *MockDataSource) GetLedgerRecord(ctx context.Context, id string) (*model.LedgerRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LedgerRecord), args.Error(1)
}

func (m *MockDataSource) GetBankRecord(ctx context.Context, id string) (*model.BankRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BankRecord), args.Error(1)
}

func (m *MockDataSource) DeleteSessionRecords(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// Match methods

func (m *MockDataSource) RecordMatchResults(ctx context.Context, sessionID string, matches []*model.TransactionMatch, exceptions []*model.ReconciliationException, counters model.SessionCounters) error {
	args := m.Called(ctx, sessionID, matches, exceptions, counters)
	return args.Error(0)
}

func (m *MockDataSource) GetMatches(ctx context.Context, sessionID string, limit, offset int) ([]*model.TransactionMatch, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.TransactionMatch), args.Error(1)
}

func (m *MockDataSource) GetMatch(ctx context.Context, id string) (*model.TransactionMatch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TransactionMatch), args.Error(1)
}

func (m *MockDataSource) ConfirmMatch(ctx context.Context, id string, notes string) error {
	args := m.Called(ctx, id, notes)
	return args.Error(0)
}

func (m *MockDataSource) RecordManualMatch(ctx context.Context, match *model.TransactionMatch) error {
	args := m.Called(ctx, match)
	return args.Error(0)
}

// Exception methods

func (m *MockDataSource) GetExceptions(ctx context.Context, sessionID string, status string, limit, offset int) ([]*model.ReconciliationException, error) {
	args := m.Called(ctx, sessionID, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ReconciliationException), args.Error(1)
}

func (m *MockDataSource) GetException(ctx context.Context, id string) (*model.ReconciliationException, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReconciliationException), args.Error(1)
}

func (m *MockDataSource) GetExceptionCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *MockDataSource) ResolveException(ctx context.Context, id, status, resolution, notes string) error {
	args := m.Called(ctx, id, status, resolution, notes)
	return args.Error(0)
}
