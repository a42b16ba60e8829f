package template

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// Elements that can execute or frame arbitrary content. Templates must be
// passive markup only.
var forbiddenElements = map[string]bool{
	"script": true,
	"iframe": true,
	"object": true,
	"embed":  true,
}

// Elements whose external references are tolerated as advisory warnings
// (tenant-approved CDN assets are legitimate).
var externalRefAttrs = map[string]string{
	"img":    "src",
	"link":   "href",
	"source": "src",
	"video":  "src",
	"audio":  "src",
}

// SecurityScan inspects template content for disallowed constructs. It is a
// pure function of the text: discovered URLs are never fetched.
func SecurityScan(content string) []Finding {
	findings := []Finding{}
	z := html.NewTokenizer(strings.NewReader(content))

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				break
			}
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		tok := z.Token()
		tag := strings.ToLower(tok.Data)

		if forbiddenElements[tag] {
			findings = append(findings, errorFinding(FindingSecurityError,
				fmt.Sprintf("<%s> elements are not allowed: templates must be passive markup", tag), tag))
		}

		for _, attr := range tok.Attr {
			key := strings.ToLower(attr.Key)
			val := strings.TrimSpace(strings.ToLower(attr.Val))

			if strings.HasPrefix(key, "on") {
				findings = append(findings, errorFinding(FindingSecurityError,
					fmt.Sprintf("inline event handler %q is not allowed", attr.Key), tag))
				continue
			}
			if (key == "href" || key == "src" || key == "xlink:href") && strings.HasPrefix(val, "javascript:") {
				findings = append(findings, errorFinding(FindingSecurityError,
					"javascript: URLs are not allowed", tag))
				continue
			}
			if refAttr, ok := externalRefAttrs[tag]; ok && key == refAttr && isExternalURL(val) {
				findings = append(findings, warningFinding(FindingExternalResource,
					fmt.Sprintf("<%s> references an externally-hosted resource", tag), attr.Val))
			}
		}
	}
	return findings
}

func isExternalURL(val string) bool {
	return strings.HasPrefix(val, "http://") || strings.HasPrefix(val, "https://") || strings.HasPrefix(val, "//")
}

var (
	htmlFieldPolicyOnce sync.Once
	htmlFieldPolicy     *bluemonday.Policy
)

// HTMLFieldPolicy sanitizes values rendered with the html field format: the
// only format that bypasses escaping, so scripts and event handlers are
// stripped from it instead.
func HTMLFieldPolicy() *bluemonday.Policy {
	htmlFieldPolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.AllowAttrs("class").Globally()
		htmlFieldPolicy = policy
	})
	return htmlFieldPolicy
}

func sanitizeHTMLField(raw string) string {
	return HTMLFieldPolicy().Sanitize(raw)
}
