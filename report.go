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
	"fmt"
	"io"

	"github.com/crosscheck-finance/crosscheck/internal/apierror"
	"github.com/crosscheck-finance/crosscheck/internal/exports"
	"github.com/crosscheck-finance/crosscheck/model"
)

// BuildSessionReport assembles the full report for a completed session: the
// session itself plus every match and exception it produced.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session to report on.
//
// Returns:
// - *exports.SessionExport: The assembled report data.
// - error: An error if the session does not exist or has not completed matching.
func (c *CrossCheck) BuildSessionReport(ctx context.Context, sessionID string) (*exports.SessionExport, error) {
	ctx, span := tracer.Start(ctx, "Building session report")
	defer span.End()

	session, err := c.datasource.GetSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if session.Status != model.StatusCompleted {
		err := apierror.NewAPIError(apierror.ErrPreconditionFailed, fmt.Sprintf("Session '%s' has no report until matching completes", sessionID), nil)
		span.RecordError(err)
		return nil, err
	}

	matches, err := c.loadAllMatches(ctx, sessionID)
	if err != nil {
		return nil, logAndRecordError(span, "error loading matches", err)
	}
	exceptions, err := c.loadAllExceptions(ctx, sessionID)
	if err != nil {
		return nil, logAndRecordError(span, "error loading exceptions", err)
	}

	return &exports.SessionExport{
		Session:    session,
		Matches:    matches,
		Exceptions: exceptions,
	}, nil
}

// RenderSessionReport writes a session report to w in the requested format.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session to report on.
// - format string: The output format, csv or json.
// - w io.Writer: The destination the rendered report is written to.
//
// Returns:
// - error: An error if the report cannot be built or rendered.
func (c *CrossCheck) RenderSessionReport(ctx context.Context, sessionID, format string, w io.Writer) error {
	ctx, span := tracer.Start(ctx, "Rendering session report")
	defer span.End()

	export, err := c.BuildSessionReport(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := exports.Render(w, export, format); err != nil {
		return logAndRecordError(span, "error rendering report", err)
	}
	return nil
}

// ExportSessionReport renders a session report into the export directory and
// ships it to object storage when a bucket is configured.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session to report on.
// - format string: The output format, csv or json.
//
// Returns:
// - string: The local path the report was written to.
// - string: The object storage key, empty when no bucket is configured.
// - error: An error if the report cannot be built, written or uploaded.
func (c *CrossCheck) ExportSessionReport(ctx context.Context, sessionID, format string) (string, string, error) {
	ctx, span := tracer.Start(ctx, "Exporting session report")
	defer span.End()

	export, err := c.BuildSessionReport(ctx, sessionID)
	if err != nil {
		return "", "", err
	}

	filePath, err := exports.WriteReport(export, format)
	if err != nil {
		return "", "", logAndRecordError(span, "error writing report", err)
	}

	objectKey, err := exports.UploadReport(ctx, filePath)
	if err != nil {
		return filePath, "", logAndRecordError(span, "error uploading report", err)
	}
	return filePath, objectKey, nil
}

// loadAllMatches pages every match for a session into memory.
func (c *CrossCheck) loadAllMatches(ctx context.Context, sessionID string) ([]*model.TransactionMatch, error) {
	var matches []*model.TransactionMatch
	offset := 0
	for {
		batch, err := c.datasource.GetMatches(ctx, sessionID, loadBatchSize, offset)
		if err != nil {
			return nil, err
		}
		matches = append(matches, batch...)
		if len(batch) < loadBatchSize {
			return matches, nil
		}
		offset += len(batch)
	}
}

// loadAllExceptions pages every exception for a session into memory.
func (c *CrossCheck) loadAllExceptions(ctx context.Context, sessionID string) ([]*model.ReconciliationException, error) {
	var exceptions []*model.ReconciliationException
	offset := 0
	for {
		batch, err := c.datasource.GetExceptions(ctx, sessionID, "", loadBatchSize, offset)
		if err != nil {
			return nil, err
		}
		exceptions = append(exceptions, batch...)
		if len(batch) < loadBatchSize {
			return exceptions, nil
		}
		offset += len(batch)
	}
}
