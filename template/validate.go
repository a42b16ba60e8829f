package template

import (
	"fmt"
)

const DefaultMaxContentBytes = 5 << 20 // 5 MiB

// The fixed validation pipeline. Every check always runs; checks never
// early-return, so ChecksPerformed always lists all four.
var validationChecks = []string{
	"html_syntax",
	"required_placeholders",
	"security_scan",
	"file_size",
}

type ValidationResult struct {
	IsValid         bool      `json:"is_valid"`
	Errors          []Finding `json:"errors"`
	Warnings        []Finding `json:"warnings"`
	ChecksPerformed []string  `json:"checks_performed"`
}

// Validator composes the placeholder scanner, the security scanner, the
// per-document-type required-placeholder check and the size check into one
// deterministic, side-effect-free pass. Validate and the re-validation inside
// Approve always agree given identical inputs.
type Validator struct {
	MaxContentBytes int
	Required        map[string][]string
}

func NewValidator(required map[string][]string) *Validator {
	return &Validator{
		MaxContentBytes: DefaultMaxContentBytes,
		Required:        required,
	}
}

func (v *Validator) Validate(documentType, content string) ValidationResult {
	errors := []Finding{}
	warnings := []Finding{}

	scan := Scan(content)
	errors = append(errors, scan.SyntaxErrors...)

	for _, name := range v.Required[documentType] {
		if _, ok := scan.Placeholders[name]; !ok {
			errors = append(errors, errorFinding(FindingMissingPlaceholder,
				fmt.Sprintf("required placeholder %q is missing", name), name))
		}
	}

	for _, finding := range SecurityScan(content) {
		if finding.Severity == SeverityError {
			errors = append(errors, finding)
		} else {
			warnings = append(warnings, finding)
		}
	}

	maxBytes := v.MaxContentBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxContentBytes
	}
	if len(content) > maxBytes {
		errors = append(errors, errorFinding(FindingFileTooLarge,
			fmt.Sprintf("template content is %d bytes; the limit is %d bytes", len(content), maxBytes), ""))
	}

	checks := make([]string, len(validationChecks))
	copy(checks, validationChecks)

	return ValidationResult{
		IsValid:         len(errors) == 0,
		Errors:          errors,
		Warnings:        warnings,
		ChecksPerformed: checks,
	}
}
