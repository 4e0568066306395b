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

package files

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/crosscheck-finance/crosscheck/model"
)

// MIME types the reconciliation pipeline accepts for uploaded sources.
const (
	TypeCSV  = "text/csv"
	TypeJSON = "application/json"
	TypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ErrFileTooLarge flags an upload that exceeds the configured size limit.
var ErrFileTooLarge = errors.New("file exceeds the upload size limit")

// SaveUpload copies one uploaded source file into uploadDir under a
// session-scoped name and returns the stored path. The declared size is
// checked first and the copy itself is capped at maxBytes, so a client lying
// about its Content-Length cannot fill the disk.
//
// Parameters:
// - uploadDir: The directory uploads are stored in; created if missing.
// - sessionID: The reconciliation session the file belongs to.
// - role: "ledger" or "bank"; becomes part of the stored name.
// - filename: The original name of the uploaded file (its extension is kept).
// - size: The declared size of the upload in bytes.
// - maxBytes: The upload size limit in bytes.
// - reader: The upload content.
//
// Returns:
// - string: The path the file was stored under.
// - error: An error if the file is too large or cannot be written.
func SaveUpload(uploadDir, sessionID, role, filename string, size, maxBytes int64, reader io.Reader) (string, error) {
	if size > maxBytes {
		return "", errors.Wrapf(ErrFileTooLarge, "declared size %d exceeds the limit of %d bytes", size, maxBytes)
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating upload directory")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	dest := filepath.Join(uploadDir, fmt.Sprintf("%s_%s%s", sessionID, role, ext))
	out, err := os.Create(dest)
	if err != nil {
		return "", errors.Wrap(err, "creating upload file")
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(reader, maxBytes+1))
	if err != nil {
		os.Remove(dest)
		return "", errors.Wrap(err, "writing upload file")
	}
	if written > maxBytes {
		os.Remove(dest)
		return "", errors.Wrapf(ErrFileTooLarge, "upload exceeds the limit of %d bytes", maxBytes)
	}

	return dest, nil
}

// ReadSourceRows opens a stored upload, detects its format and parses it into
// raw source rows: one header-to-cell map per data row, numbered from 1 in
// file order. Field semantics are left entirely to the record normalizer.
func ReadSourceRows(ctx context.Context, path string) ([]model.SourceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening source file")
	}
	defer f.Close()

	fileType, err := detectFileTypeFromFile(f, path)
	if err != nil {
		return nil, err
	}

	switch fileType {
	case TypeCSV, "text/csv; charset=utf-8":
		return readCSVRows(ctx, f)
	case TypeJSON:
		return readJSONRows(f)
	case TypeXLSX:
		return readXLSXRows(f)
	default:
		return nil, errors.Errorf("unsupported file type: %s", fileType)
	}
}

// detectFileTypeFromFile sniffs the first 512 bytes of an open file and
// resets the read offset afterwards.
func detectFileTypeFromFile(f *os.File, filename string) (string, error) {
	header := make([]byte, 512)
	if _, err := f.Read(header); err != nil && err != io.EOF {
		return "", errors.Wrap(err, "reading file header")
	}

	fileType, err := DetectFileType(header, filename)
	if err != nil {
		return "", errors.Wrap(err, "detecting file type")
	}

	if _, err := f.Seek(0, 0); err != nil {
		return "", errors.Wrap(err, "seeking source file")
	}
	return fileType, nil
}

// DetectFileType attempts to detect the file type from the extension first
// and falls back to inspecting the content.
func DetectFileType(data []byte, filename string) (string, error) {
	if mimeType := DetectByExtension(filename); mimeType != "" {
		return mimeType, nil
	}
	return DetectByContent(data)
}

// DetectByExtension maps the known source extensions directly; anything else
// goes through the platform MIME table.
func DetectByExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv":
		return TypeCSV
	case ".json":
		return TypeJSON
	case ".xlsx":
		return TypeXLSX
	}
	return mime.TypeByExtension(ext)
}

// DetectByContent detects the MIME type based on the content of the file.
func DetectByContent(data []byte) (string, error) {
	mimeType := http.DetectContentType(data)

	switch {
	case mimeType == "application/zip":
		// xlsx workbooks are zip containers.
		return TypeXLSX, nil
	case strings.HasPrefix(mimeType, "text/csv"):
		return TypeCSV, nil
	case mimeType == "application/octet-stream" || strings.HasPrefix(mimeType, "text/plain"):
		return AnalyzeTextContent(data)
	default:
		return mimeType, nil
	}
}

// AnalyzeTextContent differentiates text content between CSV, JSON and plain
// text.
func AnalyzeTextContent(data []byte) (string, error) {
	if LooksLikeCSV(data) {
		return TypeCSV, nil
	}
	if json.Valid(data) {
		return TypeJSON, nil
	}
	return "text/plain", nil
}

// LooksLikeCSV checks whether the provided data looks like a CSV file: at
// least two lines with a consistent field count of two or more.
func LooksLikeCSV(data []byte) bool {
	lines := bytes.Split(data, []byte("\n"))
	if len(lines) < 2 {
		return false
	}

	fields := bytes.Count(lines[0], []byte(",")) + 1
	// The sniff window may cut the final line short, so it does not get a
	// vote.
	body := lines[1 : len(lines)-1]
	for _, line := range body {
		if len(line) == 0 {
			continue
		}
		if bytes.Count(line, []byte(","))+1 != fields {
			return false
		}
	}

	return fields > 1
}

// readCSVRows parses CSV content into source rows. Rows with a field count
// that differs from the header are skipped, not fatal; any other read error
// aborts the parse. Skipped rows still consume a row number so the numbering
// keeps matching the file.
func readCSVRows(ctx context.Context, reader io.Reader) ([]model.SourceRow, error) {
	csvReader := csv.NewReader(bufio.NewReader(reader))

	headers, err := csvReader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading CSV headers")
	}

	var rows []model.SourceRow
	rowNum := 0
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				logrus.Debugf("skipping CSV row %d: %v", rowNum, err)
				continue
			}
			return nil, errors.Wrapf(err, "reading CSV row %d", rowNum)
		}

		fields := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(record) {
				fields[header] = record[i]
			}
		}
		rows = append(rows, model.SourceRow{Number: rowNum, Fields: fields})

		// Check for context cancellation every 1000 rows.
		if rowNum%1000 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
	}

	return rows, nil
}

// readJSONRows parses a JSON array of objects into source rows. Values are
// stringified so downstream parsing treats every source format the same way.
func readJSONRows(reader io.Reader) ([]model.SourceRow, error) {
	var raw []map[string]interface{}
	if err := json.NewDecoder(reader).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decoding JSON source")
	}

	rows := make([]model.SourceRow, 0, len(raw))
	for i, entry := range raw {
		fields := make(map[string]string, len(entry))
		for key, value := range entry {
			fields[key] = stringifyValue(value)
		}
		rows = append(rows, model.SourceRow{Number: i + 1, Fields: fields})
	}
	return rows, nil
}

// readXLSXRows parses the first sheet of a workbook into source rows, with
// the first row taken as the header.
func readXLSXRows(reader io.Reader) ([]model.SourceRow, error) {
	book, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, errors.Wrap(err, "opening spreadsheet")
	}
	defer book.Close()

	sheet := book.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("spreadsheet has no sheets")
	}
	all, err := book.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "reading sheet %s", sheet)
	}
	if len(all) == 0 {
		return nil, nil
	}

	headers := all[0]
	rows := make([]model.SourceRow, 0, len(all)-1)
	for i, cells := range all[1:] {
		fields := make(map[string]string, len(headers))
		for j, header := range headers {
			if j < len(cells) {
				fields[header] = cells[j]
			}
		}
		rows = append(rows, model.SourceRow{Number: i + 1, Fields: fields})
	}
	return rows, nil
}

func stringifyValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
