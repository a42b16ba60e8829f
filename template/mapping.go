package template

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Enum-like options are closed tagged variants: an unknown value is a
// configuration error rejected at parse time, never a silent no-op at
// render time.

type FieldFormat string

const (
	FormatText     FieldFormat = "text"
	FormatCurrency FieldFormat = "currency"
	FormatDate     FieldFormat = "date"
	FormatNumber   FieldFormat = "number"
	FormatHTML     FieldFormat = "html"
)

func (f *FieldFormat) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("field format must be a string")
	}
	switch FieldFormat(s) {
	case FormatText, FormatCurrency, FormatDate, FormatNumber, FormatHTML:
		*f = FieldFormat(s)
	default:
		return fmt.Errorf("invalid field format %q", s)
	}
	return nil
}

type FieldTransform string

const (
	TransformAbs       FieldTransform = "abs"
	TransformRound     FieldTransform = "round"
	TransformUppercase FieldTransform = "uppercase"
	TransformLowercase FieldTransform = "lowercase"
)

func (t *FieldTransform) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("field transform must be a string")
	}
	switch FieldTransform(s) {
	case TransformAbs, TransformRound, TransformUppercase, TransformLowercase:
		*t = FieldTransform(s)
	default:
		return fmt.Errorf("invalid field transform %q", s)
	}
	return nil
}

type ConditionalOperator string

const (
	OperatorEq       ConditionalOperator = "eq"
	OperatorNe       ConditionalOperator = "ne"
	OperatorGt       ConditionalOperator = "gt"
	OperatorLt       ConditionalOperator = "lt"
	OperatorGte      ConditionalOperator = "gte"
	OperatorLte      ConditionalOperator = "lte"
	OperatorContains ConditionalOperator = "contains"
)

func (o *ConditionalOperator) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("conditional operator must be a string")
	}
	switch ConditionalOperator(s) {
	case OperatorEq, OperatorNe, OperatorGt, OperatorLt, OperatorGte, OperatorLte, OperatorContains:
		*o = ConditionalOperator(s)
	default:
		return fmt.Errorf("invalid conditional operator %q", s)
	}
	return nil
}

type ConditionalAction string

const (
	ActionShow ConditionalAction = "show"
	ActionHide ConditionalAction = "hide"
)

func (a *ConditionalAction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("conditional action must be a string")
	}
	switch ConditionalAction(s) {
	case ActionShow, ActionHide:
		*a = ConditionalAction(s)
	default:
		return fmt.Errorf("invalid conditional action %q", s)
	}
	return nil
}

// FieldRule describes how one placeholder resolves to a value from the data
// context.
type FieldRule struct {
	Path      string          `json:"path" validate:"required"`
	Format    FieldFormat     `json:"format" validate:"required"`
	Default   *string         `json:"default,omitempty"`
	Transform *FieldTransform `json:"transform,omitempty"`
}

// ConditionalRule decides whether a named template block is included.
type ConditionalRule struct {
	Field       string              `json:"field" validate:"required"`
	Operator    ConditionalOperator `json:"operator" validate:"required"`
	Value       string              `json:"value"`
	Action      ConditionalAction   `json:"action" validate:"required"`
	TargetBlock string              `json:"target_block" validate:"required"`
}

type FormatSettings struct {
	Locale         string `json:"locale"`
	CurrencyCode   string `json:"currency_code"`
	DateFormat     string `json:"date_format"`
	NumberDecimals int    `json:"number_decimals" validate:"gte=0,lte=9"`
}

// MappingSpec is immutable once attached to an approved version.
type MappingSpec struct {
	Fields       map[string]FieldRule `json:"fields" validate:"dive"`
	Conditionals []ConditionalRule    `json:"conditionals" validate:"dive"`
	Formatting   FormatSettings       `json:"formatting"`
}

var mappingValidate = validator.New()

// ParseMappingSpec parses and validates a mapping spec. A malformed spec is a
// configuration error, fatal to the caller; it is never absorbed into a
// ValidationResult.
func ParseMappingSpec(raw []byte) (*MappingSpec, error) {
	if len(raw) == 0 {
		return &MappingSpec{Fields: map[string]FieldRule{}}, nil
	}
	var spec MappingSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("malformed mapping spec: %w", err)
	}
	if err := mappingValidate.Struct(&spec); err != nil {
		return nil, fmt.Errorf("invalid mapping spec: %w", err)
	}
	if spec.Fields == nil {
		spec.Fields = map[string]FieldRule{}
	}
	return &spec, nil
}
