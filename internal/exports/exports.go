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

// Package exports renders reconciliation session reports as CSV or JSON and
// ships the rendered files to object storage.
package exports

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/crosscheck-finance/crosscheck/config"
	"github.com/crosscheck-finance/crosscheck/model"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// SessionExport bundles everything one session report contains.
type SessionExport struct {
	Session    *model.ReconciliationSession     `json:"session"`
	Matches    []*model.TransactionMatch        `json:"matches"`
	Exceptions []*model.ReconciliationException `json:"exceptions"`
}

// Render writes the report to w in the requested format.
func Render(w io.Writer, export *SessionExport, format string) error {
	switch format {
	case FormatCSV:
		return renderCSV(w, export)
	case FormatJSON:
		return renderJSON(w, export)
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
}

// ContentType returns the MIME type a rendered report should be served with.
func ContentType(format string) string {
	if format == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

func renderJSON(w io.Writer, export *SessionExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

// renderCSV writes three sections separated by blank lines: the session
// summary, the match rows, and the exception rows.
func renderCSV(w io.Writer, export *SessionExport) error {
	cw := csv.NewWriter(w)
	s := export.Session

	processedAt := ""
	if s.ProcessedAt != nil {
		processedAt = s.ProcessedAt.Format(time.RFC3339)
	}
	summary := [][]string{
		{"session_id", "name", "status", "date_tolerance_days", "amount_tolerance", "total_ledger_records", "total_bank_records", "matched_records", "unmatched_ledger_records", "unmatched_bank_records", "match_percentage", "created_at", "processed_at"},
		{s.SessionID, s.Name, s.Status, strconv.Itoa(s.DateToleranceDays), s.AmountTolerance.String(), strconv.Itoa(s.TotalLedgerRecords), strconv.Itoa(s.TotalBankRecords), strconv.Itoa(s.MatchedRecords), strconv.Itoa(s.UnmatchedLedgerRecords), strconv.Itoa(s.UnmatchedBankRecords), strconv.FormatFloat(s.MatchPercentage(), 'f', 1, 64), s.CreatedAt.Format(time.RFC3339), processedAt},
	}
	for _, row := range summary {
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	if err := cw.Write(nil); err != nil {
		return err
	}
	if err := cw.Write([]string{"match_id", "ledger_record_id", "bank_record_id", "match_type", "confidence_score", "date_difference_days", "amount_difference", "is_confirmed", "created_at"}); err != nil {
		return err
	}
	for _, m := range export.Matches {
		row := []string{
			m.MatchID,
			m.LedgerRecordID,
			m.BankRecordID,
			m.MatchType,
			strconv.FormatFloat(m.ConfidenceScore, 'f', 4, 64),
			strconv.Itoa(m.DateDifferenceDays),
			m.AmountDifference.String(),
			strconv.FormatBool(m.IsConfirmed),
			m.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	if err := cw.Write(nil); err != nil {
		return err
	}
	if err := cw.Write([]string{"exception_id", "exception_type", "severity", "ledger_record_id", "bank_record_id", "status", "description"}); err != nil {
		return err
	}
	for _, e := range export.Exceptions {
		row := []string{
			e.ExceptionID,
			e.ExceptionType,
			e.Severity,
			e.LedgerRecordID,
			e.BankRecordID,
			e.Status,
			e.Description,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteReport renders the report into a dated directory under the configured
// export dir and returns the file path.
func WriteReport(export *SessionExport, format string) (string, error) {
	conf, err := config.Fetch()
	if err != nil {
		return "", err
	}

	today := time.Now().Format("2006-01-02")
	currentTime := time.Now().Format("150405") // HHMMSS format
	exportDir := filepath.Join(conf.ExportDir, today)

	if _, err := os.Stat(exportDir); os.IsNotExist(err) {
		if err := os.MkdirAll(exportDir, os.ModePerm); err != nil {
			return "", err
		}
	}

	filePath := filepath.Join(exportDir, fmt.Sprintf("%s-report-%s.%s", export.Session.SessionID, currentTime, format))
	file, err := os.Create(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := Render(file, export, format); err != nil {
		return "", err
	}
	return filePath, nil
}

// UploadReport ships a previously written report to S3 and returns the object
// key. When no bucket is configured the upload is skipped and the returned
// key is empty.
func UploadReport(ctx context.Context, filePath string) (string, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return "", err
	}
	if cnf.S3BucketName == "" {
		return "", nil
	}

	itemKey := fmt.Sprintf("reports/%s/%s", time.Now().Format("2006-01-02"), filepath.Base(filePath))
	if err := uploadToS3(ctx, filePath, itemKey, cnf); err != nil {
		return "", err
	}

	logrus.Infof("Report %s uploaded to s3://%s/%s", filePath, cnf.S3BucketName, itemKey)
	return itemKey, nil
}

func uploadToS3(ctx context.Context, filePath, itemKey string, cnf *config.Configuration) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cnf.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cnf.AwsAccessKeyId, cnf.AwsSecretAccessKey, "")),
	)
	if err != nil {
		return err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if cnf.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cnf.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(cnf.S3BucketName),
		Key:    aws.String(itemKey),
		Body:   file,
	})

	return err
}
