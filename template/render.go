package template

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Conditional regions are delimited {{#block name}} ... {{/block}}. Blocks do
// not nest.
var (
	blockPattern      = regexp.MustCompile(`(?s)\{\{#block\s+([\p{L}\p{N}_]+)\s*\}\}(.*?)\{\{/block\}\}`)
	blockOpenPattern  = regexp.MustCompile(`\{\{#block\s+([\p{L}\p{N}_]+)\s*\}\}`)
	blockClosePattern = regexp.MustCompile(`\{\{/block\}\}`)
)

// Render produces final output text from a template body, a mapping spec and
// a data context. Rendering is best-effort: missing rules or data become
// warnings and empty substitutions, never errors. The only fatal outcome is a
// structurally invalid mapping spec, which indicates the engine is
// misconfigured rather than the template being bad.
func Render(content string, spec *MappingSpec, data map[string]any) (string, []Finding, error) {
	warnings := []Finding{}

	if spec == nil {
		spec = &MappingSpec{Fields: map[string]FieldRule{}}
	}
	hidden, conditionalWarnings, err := evaluateConditionals(spec, data)
	if err != nil {
		return "", nil, err
	}
	warnings = append(warnings, conditionalWarnings...)

	// Hidden blocks are removed whole, before substitution: their interior
	// placeholders are never resolved and cannot contribute warnings.
	output := blockPattern.ReplaceAllStringFunc(content, func(region string) string {
		match := blockPattern.FindStringSubmatch(region)
		if hidden[match[1]] {
			return ""
		}
		return match[2]
	})

	// Any marker still present at this point is unmatched: a {{#block}} with
	// no close or a stray {{/block}}. Stripped with a warning rather than
	// leaked verbatim into the output.
	output = blockOpenPattern.ReplaceAllStringFunc(output, func(marker string) string {
		name := blockOpenPattern.FindStringSubmatch(marker)[1]
		warnings = append(warnings, warningFinding(FindingUnmatchedBlock,
			fmt.Sprintf("block marker for %q has no closing marker; removed", name), name))
		return ""
	})
	output = blockClosePattern.ReplaceAllStringFunc(output, func(string) string {
		warnings = append(warnings, warningFinding(FindingUnmatchedBlock,
			"closing block marker has no opening marker; removed", ""))
		return ""
	})

	scan := Scan(output)
	substitutions := make(map[string]string, len(scan.Placeholders))
	for _, name := range scan.PlaceholderList() {
		value, fieldWarnings, err := resolveField(name, spec, data)
		if err != nil {
			return "", nil, err
		}
		warnings = append(warnings, fieldWarnings...)
		substitutions[name] = value
	}

	output = placeholderPattern.ReplaceAllStringFunc(output, func(token string) string {
		match := placeholderPattern.FindStringSubmatch(token)
		return substitutions[match[1]]
	})
	return output, warnings, nil
}

func evaluateConditionals(spec *MappingSpec, data map[string]any) (map[string]bool, []Finding, error) {
	hidden := map[string]bool{}
	warnings := []Finding{}

	// Rules are evaluated independently; a block is hidden when any governing
	// rule resolves to hide. Blocks without rules default to show.
	for _, rule := range spec.Conditionals {
		path, err := ParsePath(rule.Field)
		if err != nil {
			return nil, nil, err
		}
		value, found := path.Resolve(data)
		if !found {
			warnings = append(warnings, warningFinding(FindingUnresolvedPath,
				fmt.Sprintf("conditional field %q did not resolve", rule.Field), rule.Field))
		}
		match, err := evalOperator(value, found, rule.Operator, rule.Value)
		if err != nil {
			return nil, nil, err
		}
		visible := match
		if rule.Action == ActionHide {
			visible = !match
		}
		if !visible {
			hidden[rule.TargetBlock] = true
		}
	}
	return hidden, warnings, nil
}

func evalOperator(value any, found bool, op ConditionalOperator, want string) (bool, error) {
	if !found {
		return false, nil
	}
	switch op {
	case OperatorContains:
		return strings.Contains(fmt.Sprint(value), want), nil
	case OperatorEq, OperatorNe:
		equal := compareValues(value, want) == 0
		if op == OperatorNe {
			return !equal, nil
		}
		return equal, nil
	case OperatorGt:
		return compareValues(value, want) > 0, nil
	case OperatorLt:
		return compareValues(value, want) < 0, nil
	case OperatorGte:
		return compareValues(value, want) >= 0, nil
	case OperatorLte:
		return compareValues(value, want) <= 0, nil
	default:
		return false, fmt.Errorf("unknown conditional operator %q", op)
	}
}

// compareValues compares numerically when both sides parse as numbers,
// lexically otherwise.
func compareValues(value any, want string) int {
	left, okLeft := toDecimal(value)
	right, okRight := toDecimal(want)
	if okLeft && okRight {
		return left.Cmp(right)
	}
	return strings.Compare(fmt.Sprint(value), want)
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func resolveField(name string, spec *MappingSpec, data map[string]any) (string, []Finding, error) {
	warnings := []Finding{}

	rule, ok := spec.Fields[name]
	if !ok {
		warnings = append(warnings, warningFinding(FindingUnmappedPlaceholder,
			fmt.Sprintf("placeholder %q has no field rule; substituted empty text", name), name))
		return "", warnings, nil
	}

	path, err := ParsePath(rule.Path)
	if err != nil {
		return "", nil, err
	}
	value, found := path.Resolve(data)
	if !found {
		if rule.Default != nil {
			value = *rule.Default
		} else {
			warnings = append(warnings, warningFinding(FindingUnresolvedPath,
				fmt.Sprintf("path %q did not resolve for placeholder %q; substituted empty text", rule.Path, name), rule.Path))
			return "", warnings, nil
		}
	}

	value, err = applyTransform(value, rule.Transform)
	if err != nil {
		return "", nil, err
	}

	formatted, isHTML, err := formatValue(value, rule.Format, spec.Formatting)
	if err != nil {
		return "", nil, err
	}
	if !isHTML {
		// Data values must not inject markup: everything except the html
		// format is escaped before substitution.
		formatted = html.EscapeString(formatted)
	}
	return formatted, warnings, nil
}

// applyTransform operates on the raw resolved value, before formatting.
// Numeric transforms pass non-numeric values through unchanged.
func applyTransform(value any, transform *FieldTransform) (any, error) {
	if transform == nil {
		return value, nil
	}
	switch *transform {
	case TransformAbs:
		if d, ok := toDecimal(value); ok {
			return d.Abs(), nil
		}
		return value, nil
	case TransformRound:
		if d, ok := toDecimal(value); ok {
			return d.Round(0), nil
		}
		return value, nil
	case TransformUppercase:
		return strings.ToUpper(fmt.Sprint(value)), nil
	case TransformLowercase:
		return strings.ToLower(fmt.Sprint(value)), nil
	default:
		return nil, fmt.Errorf("unknown field transform %q", *transform)
	}
}

func (f FormatSettings) languageTag() language.Tag {
	if f.Locale == "" {
		return language.English
	}
	tag, err := language.Parse(f.Locale)
	if err != nil {
		return language.English
	}
	return tag
}

func formatValue(value any, format FieldFormat, settings FormatSettings) (string, bool, error) {
	switch format {
	case FormatText:
		return fmt.Sprint(value), false, nil

	case FormatNumber:
		d, ok := toDecimal(value)
		if !ok {
			return fmt.Sprint(value), false, nil
		}
		rounded := d.Round(int32(settings.NumberDecimals))
		if !fitsFloat64(rounded) {
			// Exactness beats locale grouping beyond float64 precision.
			return rounded.StringFixed(int32(settings.NumberDecimals)), false, nil
		}
		p := message.NewPrinter(settings.languageTag())
		return p.Sprint(number.Decimal(rounded.InexactFloat64(), number.Scale(settings.NumberDecimals))), false, nil

	case FormatCurrency:
		d, ok := toDecimal(value)
		if !ok {
			return fmt.Sprint(value), false, nil
		}
		code := settings.CurrencyCode
		if code == "" {
			code = "EUR"
		}
		unit, err := currency.ParseISO(code)
		if err != nil {
			return "", false, fmt.Errorf("invalid currency code %q: %w", code, err)
		}
		rounded := d.Round(int32(settings.NumberDecimals))
		if !fitsFloat64(rounded) {
			return fmt.Sprintf("%v %s", unit, rounded.StringFixed(int32(settings.NumberDecimals))), false, nil
		}
		p := message.NewPrinter(settings.languageTag())
		return p.Sprintf("%v", currency.Symbol(unit.Amount(rounded.InexactFloat64()))), false, nil

	case FormatDate:
		t, ok := coerceTime(value)
		if !ok {
			return fmt.Sprint(value), false, nil
		}
		layout := settings.DateFormat
		if layout == "" {
			layout = "2006-01-02"
		}
		return t.Format(layout), false, nil

	case FormatHTML:
		// The only format that bypasses escaping; pre-rendered markup is
		// sanitized instead so it stays passive.
		return sanitizeHTMLField(fmt.Sprint(value)), true, nil

	default:
		return "", false, fmt.Errorf("unknown field format %q", format)
	}
}

// fitsFloat64 reports whether d renders exactly through the float64-based
// locale printer: float64 carries 15 significant decimal digits safely.
// Amounts beyond that keep their digits via StringFixed instead.
func fitsFloat64(d decimal.Decimal) bool {
	digits := strings.TrimPrefix(d.Coefficient().String(), "-")
	return len(digits) <= 15
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func coerceTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
