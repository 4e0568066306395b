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

package exports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosscheck-finance/crosscheck/config"
	"github.com/crosscheck-finance/crosscheck/model"
)

func sampleExport() *SessionExport {
	created := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	processed := created.Add(45 * time.Second)
	return &SessionExport{
		Session: &model.ReconciliationSession{
			SessionID:         "session_9f2c",
			Name:              "March close",
			Status:            model.StatusCompleted,
			DateToleranceDays: 3,
			AmountTolerance:   decimal.RequireFromString("0.01"),
			SessionCounters: model.SessionCounters{
				TotalLedgerRecords:     4,
				TotalBankRecords:       3,
				MatchedRecords:         3,
				UnmatchedLedgerRecords: 1,
				UnmatchedBankRecords:   0,
			},
			CreatedAt:   created,
			ProcessedAt: &processed,
		},
		Matches: []*model.TransactionMatch{
			{
				MatchID:            "match_a1",
				SessionID:          "session_9f2c",
				LedgerRecordID:     "ldg_1",
				BankRecordID:       "bnk_1",
				MatchType:          model.MatchTypeExact,
				ConfidenceScore:    1.0,
				DateDifferenceDays: 0,
				AmountDifference:   decimal.Zero,
				CreatedAt:          created,
			},
			{
				MatchID:            "match_a2",
				SessionID:          "session_9f2c",
				LedgerRecordID:     "ldg_2",
				BankRecordID:       "bnk_2",
				MatchType:          model.MatchTypePartial,
				ConfidenceScore:    0.775,
				DateDifferenceDays: 2,
				AmountDifference:   decimal.RequireFromString("0.005"),
				CreatedAt:          created,
			},
		},
		Exceptions: []*model.ReconciliationException{
			{
				ExceptionID:    "exc_b1",
				SessionID:      "session_9f2c",
				ExceptionType:  model.ExceptionUnmatchedLedger,
				Severity:       model.SeverityMedium,
				LedgerRecordID: "ldg_4",
				Description:    "Unmatched ledger transaction: Wire fee",
				Status:         model.ExceptionStatusOpen,
				CreatedAt:      created,
			},
		},
	}
}

func TestRenderCSV_Sections(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, sampleExport(), FormatCSV)
	require.NoError(t, err)

	reader := csv.NewReader(&buf)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)

	// Summary header and row.
	require.GreaterOrEqual(t, len(records), 6)
	assert.Equal(t, "session_id", records[0][0])
	assert.Equal(t, "session_9f2c", records[1][0])
	assert.Equal(t, "completed", records[1][2])
	assert.Equal(t, "75.0", records[1][10])

	// Match section follows the summary.
	assert.Equal(t, "match_id", records[2][0])
	assert.Equal(t, "match_a1", records[3][0])
	assert.Equal(t, "exact", records[3][3])
	assert.Equal(t, "1.0000", records[3][4])
	assert.Equal(t, "match_a2", records[4][0])
	assert.Equal(t, "2", records[4][5])

	// Exception section is last.
	assert.Equal(t, "exception_id", records[5][0])
	assert.Equal(t, "exc_b1", records[6][0])
	assert.Equal(t, "unmatched_ledger", records[6][1])
}

func TestRenderJSON_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, sampleExport(), FormatJSON)
	require.NoError(t, err)

	var decoded SessionExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "session_9f2c", decoded.Session.SessionID)
	assert.Len(t, decoded.Matches, 2)
	assert.Len(t, decoded.Exceptions, 1)
	assert.Equal(t, 0.775, decoded.Matches[1].ConfidenceScore)
}

func TestRender_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, sampleExport(), "xml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported report format")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", ContentType(FormatJSON))
	assert.Equal(t, "text/csv", ContentType(FormatCSV))
}

func TestWriteReport_CreatesDatedFile(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	config.MockConfig(&config.Configuration{ExportDir: "exports"})

	export := sampleExport()
	path, err := WriteReport(export, FormatJSON)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, path, "session_9f2c")
	assert.True(t, strings.HasSuffix(path, ".json"))
	assert.Contains(t, path, time.Now().Format("2006-01-02"))
}

func TestUploadReport_SkipsWithoutBucket(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	key, err := UploadReport(context.Background(), "does-not-matter.csv")
	require.NoError(t, err)
	assert.Empty(t, key)
}
