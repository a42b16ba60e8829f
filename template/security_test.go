package template

import (
	"strings"
	"testing"
)

func findingKinds(findings []Finding) []string {
	kinds := make([]string, 0, len(findings))
	for _, f := range findings {
		kinds = append(kinds, f.Kind)
	}
	return kinds
}

func TestSecurityScan_ScriptElement(t *testing.T) {
	findings := SecurityScan(`<div><script>alert(1)</script></div>`)

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %v", findings)
	}
	if findings[0].Kind != FindingSecurityError || findings[0].Severity != SeverityError {
		t.Fatalf("expected a security error, got %+v", findings[0])
	}
}

func TestSecurityScan_ForbiddenElements(t *testing.T) {
	for _, tag := range []string{"iframe", "object", "embed"} {
		findings := SecurityScan("<" + tag + "></" + tag + ">")
		if len(findings) == 0 || findings[0].Kind != FindingSecurityError {
			t.Fatalf("expected security error for <%s>, got %v", tag, findings)
		}
	}
}

func TestSecurityScan_InlineEventHandler(t *testing.T) {
	findings := SecurityScan(`<button onclick="steal()">pay</button>`)

	if len(findings) != 1 || findings[0].Kind != FindingSecurityError {
		t.Fatalf("expected security error for onclick, got %v", findings)
	}
}

func TestSecurityScan_JavascriptURL(t *testing.T) {
	findings := SecurityScan(`<a href="JavaScript:alert(1)">x</a>`)

	if len(findings) != 1 || findings[0].Kind != FindingSecurityError {
		t.Fatalf("expected security error for javascript: URL, got %v", findings)
	}
}

func TestSecurityScan_ExternalImageIsWarning(t *testing.T) {
	findings := SecurityScan(`<img src="https://cdn.example.com/logo.png">`)

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %v", findings)
	}
	if findings[0].Kind != FindingExternalResource || findings[0].Severity != SeverityWarning {
		t.Fatalf("external resources are advisory warnings, got %+v", findings[0])
	}
}

func TestSecurityScan_RelativeReferencesPass(t *testing.T) {
	findings := SecurityScan(`<img src="assets/logo.png"><a href="/terms">terms</a>`)

	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %v (%v)", findings, findingKinds(findings))
	}
}

func TestHTMLFieldPolicy_StripsActiveContent(t *testing.T) {
	out := sanitizeHTMLField(`<script>alert(1)</script><b class="note" onclick="x()">fine print</b>`)

	if strings.Contains(out, "script") || strings.Contains(out, "onclick") {
		t.Fatalf("active content must be stripped, got %q", out)
	}
	if !strings.Contains(out, `<b class="note">fine print</b>`) {
		t.Fatalf("benign markup with class should survive, got %q", out)
	}
}
