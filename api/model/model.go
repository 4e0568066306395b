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
package model

import (
	"github.com/shopspring/decimal"

	"github.com/crosscheck-finance/crosscheck/config"
	"github.com/crosscheck-finance/crosscheck/internal/exports"
	"github.com/crosscheck-finance/crosscheck/model"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// CreateReconciliationSession carries the form fields of the session upload
// request. The ledger and bank statement files travel in the same multipart
// body and are read separately by the handler. Tolerances are pointers so an
// omitted field can fall back to the configured default.
type CreateReconciliationSession struct {
	Name              string   `json:"name" form:"name"`
	Description       string   `json:"description" form:"description"`
	Owner             string   `json:"owner" form:"owner"`
	DateToleranceDays *int     `json:"date_tolerance_days" form:"date_tolerance_days"`
	AmountTolerance   *float64 `json:"amount_tolerance" form:"amount_tolerance"`
}

// ConfirmMatch carries the optional reviewer notes attached when a match is
// confirmed.
type ConfirmMatch struct {
	Notes string `json:"notes"`
}

// ResolveException carries the resolution of a reconciliation exception.
// BankRecordID is the counterpart field name used by older clients;
// CounterpartRecordID wins when both are set.
type ResolveException struct {
	Resolution          string `json:"resolution"`
	Notes               string `json:"notes"`
	CounterpartRecordID string `json:"counterpart_record_id"`
	BankRecordID        string `json:"bank_record_id"`
}

func (s *CreateReconciliationSession) ValidateCreateReconciliationSession() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&s.DateToleranceDays, validation.Min(0), validation.Max(30)),
		validation.Field(&s.AmountTolerance, validation.Min(0.0)),
	)
}

func (r *ResolveException) ValidateResolveException() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Resolution, validation.Required,
			validation.In(model.ResolutionManualMatch, model.ResolutionIgnore, model.ResolutionResolved)),
		validation.Field(&r.CounterpartRecordID,
			validation.When(r.Resolution == model.ResolutionManualMatch && r.BankRecordID == "",
				validation.Required.Error("a counterpart record id is required for manual_match"))),
	)
}

// ValidateReportFormat checks a report format query value.
func ValidateReportFormat(format string) error {
	return validation.Validate(format, validation.Required,
		validation.In(exports.FormatCSV, exports.FormatJSON))
}

// ToSession converts the request into a domain session, applying the
// configured tolerance defaults for any field the caller omitted.
func (s *CreateReconciliationSession) ToSession(conf *config.Configuration) *model.ReconciliationSession {
	days := conf.Reconciliation.DefaultDateToleranceDays
	if s.DateToleranceDays != nil {
		days = *s.DateToleranceDays
	}
	amount := decimal.NewFromFloat(conf.Reconciliation.DefaultAmountTolerance)
	if s.AmountTolerance != nil {
		amount = decimal.NewFromFloat(*s.AmountTolerance)
	}
	return &model.ReconciliationSession{
		Name:              s.Name,
		Description:       s.Description,
		Owner:             s.Owner,
		DateToleranceDays: days,
		AmountTolerance:   amount,
	}
}

// CounterpartID returns whichever counterpart field the caller supplied.
func (r *ResolveException) CounterpartID() string {
	if r.CounterpartRecordID != "" {
		return r.CounterpartRecordID
	}
	return r.BankRecordID
}
