package template

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// placeholderPattern matches {{ name }} substitution tokens. Unicode
// identifiers are permitted; surrounding whitespace is trimmed. Block markers
// ({{#block x}} / {{/block}}) deliberately do not match.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([\p{L}\p{N}_]+)\s*\}\}`)

// Elements that never take a closing tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

type ScanResult struct {
	SyntaxOK     bool
	SyntaxErrors []Finding
	Placeholders map[string]struct{}
}

// PlaceholderList returns the placeholder set sorted, for stable output.
func (r ScanResult) PlaceholderList() []string {
	names := make([]string, 0, len(r.Placeholders))
	for name := range r.Placeholders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scan checks the markup for well-formedness and extracts every placeholder
// token. The two halves are independent: placeholder extraction never
// short-circuits on a syntax error, so both are always populated.
func Scan(content string) ScanResult {
	result := ScanResult{
		SyntaxErrors: []Finding{},
		Placeholders: map[string]struct{}{},
	}

	for _, match := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		result.Placeholders[match[1]] = struct{}{}
	}

	result.SyntaxErrors = scanMarkup(content)
	result.SyntaxOK = len(result.SyntaxErrors) == 0
	return result
}

// scanMarkup walks the markup with a tokenizer and an open-tag stack:
// every opening tag must have a matching close, and no closing tag may
// appear without an open counterpart.
func scanMarkup(content string) []Finding {
	findings := []Finding{}
	z := html.NewTokenizer(strings.NewReader(content))
	var stack []string

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				findings = append(findings, errorFinding(FindingSyntaxError,
					fmt.Sprintf("markup is not parseable: %v", z.Err()), ""))
			}
			break
		}

		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := strings.ToLower(string(name))
			if !voidElements[tag] {
				stack = append(stack, tag)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := strings.ToLower(string(name))
			if voidElements[tag] {
				continue
			}
			if len(stack) > 0 && stack[len(stack)-1] == tag {
				stack = stack[:len(stack)-1]
				continue
			}
			// Close of a tag opened further down the stack: the tags opened
			// in between were never closed.
			idx := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == tag {
					idx = i
					break
				}
			}
			if idx < 0 {
				findings = append(findings, errorFinding(FindingSyntaxError,
					fmt.Sprintf("closing tag </%s> has no matching opening tag", tag), tag))
				continue
			}
			for i := len(stack) - 1; i > idx; i-- {
				findings = append(findings, errorFinding(FindingSyntaxError,
					fmt.Sprintf("opening tag <%s> is never closed", stack[i]), stack[i]))
			}
			stack = stack[:idx]
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		findings = append(findings, errorFinding(FindingSyntaxError,
			fmt.Sprintf("opening tag <%s> is never closed", stack[i]), stack[i]))
	}
	return findings
}
