package template

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding kinds. Kept as strings (API/audit values).
const (
	FindingSyntaxError         = "syntax_error"
	FindingMissingPlaceholder  = "missing_placeholder"
	FindingSecurityError       = "security_error"
	FindingExternalResource    = "external_resource"
	FindingFileTooLarge        = "file_too_large"
	FindingUnmappedPlaceholder = "unmapped_placeholder"
	FindingUnresolvedPath      = "unresolved_path"
	FindingUnmatchedBlock      = "unmatched_block"
	FindingRenderSkipped       = "render_skipped"
)

// Finding is a single structural/content problem in a candidate template.
// Findings are data, never errors: validation and preview must succeed at
// returning a result even for a thoroughly broken template.
type Finding struct {
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Context  string   `json:"context,omitempty"`
}

func errorFinding(kind, message, context string) Finding {
	return Finding{Kind: kind, Message: message, Severity: SeverityError, Context: context}
}

func warningFinding(kind, message, context string) Finding {
	return Finding{Kind: kind, Message: message, Severity: SeverityWarning, Context: context}
}
