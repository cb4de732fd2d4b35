/*
Package factory provides JSON to Go coverage rule conversion.

PURPOSE:
  Converts JSON coverage definitions into benefit.CoverageRule values.
  This is the administrative authoring path: the only place where
  defaults and percentages are applied. Once a rule is materialized the
  engine reads its three money figures verbatim.

JSON SCHEMA:
  {
    "plan_id": "plan-basic",
    "procedure_id": "vaccine-annual",
    "included": true,
    "gross_price": "120.00",
    "payer_value": "80.00",
    "coparticipation": "20.00",      // optional
    "waiting_period_days": 30,
    "annual_limit": 1                // 0 = unlimited
  }

DEFAULT COPARTICIPATION:
  When "coparticipation" is omitted it is derived from the plan type:
    coparticipation plans: round_half_even(gross * percent / 100)
    full plans:            0
  A per-plan-type override takes precedence over the global percent.
  Changing the percent later does NOT touch existing rules.

MONEY:
  Decimal strings with at most two places, never negative. Stored as
  integer cents.

USAGE:
  f := factory.NewCoverageFactory(factory.AuthoringDefaults{
      CoparticipationPercent: decimal.NewFromInt(20),
  })
  rule, err := f.ParseCoverageRule(jsonStr, plan)

SEE ALSO:
  - benefit/catalog.go: Read path
  - api/handlers.go: PUT /api/plans/{id}/coverage/{procedureID}
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/benefit-engine/benefit"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CoverageRuleJSON is the JSON representation of a coverage rule.
type CoverageRuleJSON struct {
	PlanID            string  `json:"plan_id" validate:"required"`
	ProcedureID       string  `json:"procedure_id" validate:"required"`
	Included          bool    `json:"included"`
	GrossPrice        string  `json:"gross_price" validate:"required,money"`
	PayerValue        string  `json:"payer_value" validate:"required,money"`
	Coparticipation   *string `json:"coparticipation,omitempty" validate:"omitempty,money"`
	WaitingPeriodDays int     `json:"waiting_period_days" validate:"gte=0"`
	AnnualLimit       int     `json:"annual_limit" validate:"gte=0"`
}

// AuthoringDefaults are the administrator settings applied when a rule is
// authored without an explicit coparticipation.
type AuthoringDefaults struct {
	CoparticipationPercent decimal.Decimal
	PlanTypeOverrides      map[benefit.PlanType]decimal.Decimal
}

// PercentFor returns the default coparticipation percent for a plan type.
func (d AuthoringDefaults) PercentFor(t benefit.PlanType) decimal.Decimal {
	if pct, ok := d.PlanTypeOverrides[t]; ok {
		return pct
	}
	if t == benefit.PlanTypeFull {
		return decimal.Zero
	}
	return d.CoparticipationPercent
}

// =============================================================================
// ERRORS
// =============================================================================

// FieldError is one rejected field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError lists every rejected field of a definition.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Rule)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// IsValidation returns true if err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// =============================================================================
// COVERAGE FACTORY
// =============================================================================

// CoverageFactory converts JSON coverage rules to benefit.CoverageRule.
type CoverageFactory struct {
	Defaults AuthoringDefaults
	validate *validator.Validate
}

// NewCoverageFactory creates a factory with the given defaults.
func NewCoverageFactory(defaults AuthoringDefaults) *CoverageFactory {
	return &CoverageFactory{Defaults: defaults, validate: NewValidator()}
}

// NewValidator returns a validator reporting JSON field names, with the
// "money" and "date" (YYYY-MM-DD) tags registered. It panics if a tag
// cannot be registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	mustRegister(v, "money", validateMoney)
	mustRegister(v, "date", validateDate)
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("factory: register %q validation: %v", tag, err))
	}
}

// ParseCoverageRule parses a JSON string.
func (f *CoverageFactory) ParseCoverageRule(jsonStr string, plan benefit.Plan) (benefit.CoverageRule, error) {
	var rj CoverageRuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return benefit.CoverageRule{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return f.FromJSON(rj, plan)
}

// FromJSON validates the definition and materializes the rule. plan must be
// the plan named by rj.PlanID; its type picks the default coparticipation.
func (f *CoverageFactory) FromJSON(rj CoverageRuleJSON, plan benefit.Plan) (benefit.CoverageRule, error) {
	if err := f.validate.Struct(rj); err != nil {
		return benefit.CoverageRule{}, AsValidationError(err)
	}
	if benefit.PlanID(rj.PlanID) != plan.ID {
		return benefit.CoverageRule{}, &ValidationError{Fields: []FieldError{{Field: "plan_id", Rule: "does not match plan " + string(plan.ID)}}}
	}

	// Validation already proved these parse.
	gross, _ := ParseMoney(rj.GrossPrice)
	payer, _ := ParseMoney(rj.PayerValue)

	var copay benefit.Money
	if rj.Coparticipation != nil {
		copay, _ = ParseMoney(*rj.Coparticipation)
	} else {
		copay = DefaultCoparticipation(gross, f.Defaults.PercentFor(plan.Type))
	}

	return benefit.CoverageRule{
		PlanID:            plan.ID,
		ProcedureID:       benefit.ProcedureID(rj.ProcedureID),
		IsIncluded:        rj.Included,
		GrossPrice:        gross,
		PayerValue:        payer,
		Coparticipation:   copay,
		WaitingPeriodDays: rj.WaitingPeriodDays,
		AnnualLimit:       rj.AnnualLimit,
	}, nil
}

// ToJSON renders a rule back for display. Coparticipation is always set.
func (f *CoverageFactory) ToJSON(rule benefit.CoverageRule) CoverageRuleJSON {
	copay := FormatMoney(rule.Coparticipation)
	return CoverageRuleJSON{
		PlanID:            string(rule.PlanID),
		ProcedureID:       string(rule.ProcedureID),
		Included:          rule.IsIncluded,
		GrossPrice:        FormatMoney(rule.GrossPrice),
		PayerValue:        FormatMoney(rule.PayerValue),
		Coparticipation:   &copay,
		WaitingPeriodDays: rule.WaitingPeriodDays,
		AnnualLimit:       rule.AnnualLimit,
	}
}

// DefaultCoparticipation is round_half_even(gross * percent / 100), in cents.
func DefaultCoparticipation(gross benefit.Money, percent decimal.Decimal) benefit.Money {
	if percent.IsZero() {
		return 0
	}
	cents := decimal.NewFromInt(gross.Int64()).
		Mul(percent).
		Div(decimal.NewFromInt(100)).
		RoundBank(0)
	return benefit.Cents(cents.IntPart())
}

// =============================================================================
// MONEY
// =============================================================================

var hundred = decimal.NewFromInt(100)

// ParseMoney parses a non-negative decimal string with at most two places.
// Amounts whose cents do not fit in an int64 are rejected.
func ParseMoney(s string) (benefit.Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	if !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	cents := d.Mul(hundred)
	if !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}
	return benefit.Cents(cents.IntPart()), nil
}

// FormatMoney renders cents as a two-place decimal string.
func FormatMoney(m benefit.Money) string {
	return decimal.New(m.Int64(), -2).StringFixed(2)
}

// =============================================================================
// HELPERS
// =============================================================================

func validateMoney(fl validator.FieldLevel) bool {
	_, err := ParseMoney(fl.Field().String())
	return err == nil
}

func validateDate(fl validator.FieldLevel) bool {
	_, err := benefit.ParseDate(fl.Field().String())
	return err == nil
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// AsValidationError converts validator errors into a ValidationError. Other
// errors are returned unchanged.
func AsValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		ve.Fields = append(ve.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return ve
}
