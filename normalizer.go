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
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/crosscheck-finance/crosscheck/model"
)

// ledgerColumnAliases maps each canonical ledger field to the header names it
// commonly appears under in accounting exports. Aliases are tried in order and
// the first one present in the source wins, so more specific names should come
// before generic ones.
var ledgerColumnAliases = map[string][]string{
	"date":        {"date", "transaction_date", "trans_date", "posting_date"},
	"description": {"description", "desc", "transaction_description", "details", "memo"},
	"amount":      {"amount", "transaction_amount", "debit", "credit", "value"},
	"reference":   {"reference", "ref", "transaction_id", "transaction_ref", "check_number"},
	"account":     {"account", "account_number", "account_name"},
	"category":    {"category", "type", "transaction_type", "class"},
}

// bankColumnAliases is the bank-statement counterpart of ledgerColumnAliases.
// Statements carry a running balance instead of account and category fields,
// and tend to label the counterparty column "payee".
var bankColumnAliases = map[string][]string{
	"date":        {"date", "transaction_date", "posting_date", "effective_date"},
	"description": {"description", "transaction_description", "details", "memo", "payee"},
	"amount":      {"amount", "transaction_amount", "debit", "credit"},
	"reference":   {"reference", "confirmation_number", "transaction_id"},
	"balance":     {"balance", "running_balance", "account_balance"},
}

// dateLayouts lists the date formats accepted by ParseDate, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"01-02-2006",
	"02-01-2006",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// fallbackDateLayouts is consulted after dateLayouts for sources that export
// full timestamps rather than plain dates.
var fallbackDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// NormalizeRecords converts raw source rows into canonical records for the
// given role. A row is dropped, with a debug log line rather than an error,
// when its date cannot be parsed, its amount resolves to zero, or its
// description is empty after trimming. Dropped rows do not abort the batch.
//
// Row numbers are carried through from the source unchanged, so the output
// preserves original file order and discarded rows leave gaps in the sequence.
//
// Parameters:
// - rows: The raw rows read from an uploaded file, header cells mapped to values.
// - role: Whether the rows come from the internal ledger or a bank statement.
//
// Returns:
// - []*model.NormalizedRecord: The canonical records, in source order.
func NormalizeRecords(rows []model.SourceRow, role model.RecordRole) []*model.NormalizedRecord {
	if len(rows) == 0 {
		return nil
	}

	aliases := ledgerColumnAliases
	if role == model.RoleBank {
		aliases = bankColumnAliases
	}
	// Headers are uniform across a tabular source, so resolve them once
	// against the first row.
	columns := resolveColumns(rows[0].Fields, aliases)

	records := make([]*model.NormalizedRecord, 0, len(rows))
	for _, row := range rows {
		date, dateOK := ParseDate(row.Fields[columns["date"]])
		amount, amountOK := ParseAmount(row.Fields[columns["amount"]])
		description := strings.TrimSpace(row.Fields[columns["description"]])

		if !dateOK || !amountOK || amount.IsZero() || description == "" {
			logrus.Debugf("skipping %s row %d: parseable_date=%t nonzero_amount=%t description_present=%t",
				role, row.Number, dateOK, amountOK && !amount.IsZero(), description != "")
			continue
		}

		record := &model.NormalizedRecord{
			RowNumber:   row.Number,
			Date:        date,
			Description: description,
			Amount:      amount,
			Reference:   strings.TrimSpace(row.Fields[columns["reference"]]),
			Raw:         row.Fields,
		}
		if role == model.RoleBank {
			if header, ok := columns["balance"]; ok {
				if balance, ok := ParseAmount(row.Fields[header]); ok {
					record.Balance = decimal.NullDecimal{Decimal: balance, Valid: true}
				}
			}
		} else {
			record.Account = strings.TrimSpace(row.Fields[columns["account"]])
			record.Category = strings.TrimSpace(row.Fields[columns["category"]])
		}
		records = append(records, record)
	}
	return records
}

// resolveColumns maps canonical field names to the actual headers used by the
// source. Header matching is case-insensitive and ignores surrounding
// whitespace, since spreadsheet exports drift on both.
func resolveColumns(fields map[string]string, aliases map[string][]string) map[string]string {
	normalized := make(map[string]string, len(fields))
	for header := range fields {
		normalized[strings.ToLower(strings.TrimSpace(header))] = header
	}

	resolved := make(map[string]string, len(aliases))
	for field, candidates := range aliases {
		for _, candidate := range candidates {
			if header, ok := normalized[candidate]; ok {
				resolved[field] = header
				break
			}
		}
	}
	return resolved
}

// ParseDate parses a date cell into a day-precision UTC time. It walks the
// known layouts in order before trying the timestamp fallbacks. The second
// return value reports whether any layout matched.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	for _, layout := range fallbackDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ParseAmount parses an amount cell into a decimal. Currency symbols,
// thousands separators and whitespace are stripped first; accounting-style
// parentheses mark negatives, so "($1,234.56)" parses to -1234.56. The second
// return value reports whether a usable number remained.
func ParseAmount(value string) (decimal.Decimal, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '$' || r == '£' || r == '€' || r == '¥' || r == ',':
			return -1
		case unicode.IsSpace(r):
			return -1
		}
		return r
	}, value)
	if cleaned == "" {
		return decimal.Zero, false
	}

	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		cleaned = "-" + cleaned[1:len(cleaned)-1]
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}
