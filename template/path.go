package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Paths are a small interpreter over loosely structured records: dotted keys
// with optional zero-based array indices, e.g. "guest.name" or
// "lines[0].amount". Tokenized once, then walked; an unresolved path is a
// typed not-found outcome, never a panic.

type pathToken struct {
	key     string
	index   int
	isIndex bool
}

type Path []pathToken

var pathSegmentPattern = regexp.MustCompile(`^([\p{L}\p{N}_]+)((?:\[\d+\])*)$`)
var pathIndexPattern = regexp.MustCompile(`\[(\d+)\]`)

// ParsePath tokenizes a field path. An unparseable path is a configuration
// error in the mapping spec, not a data problem.
func ParsePath(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty field path")
	}
	var tokens Path
	for _, segment := range strings.Split(raw, ".") {
		match := pathSegmentPattern.FindStringSubmatch(segment)
		if match == nil {
			return nil, fmt.Errorf("invalid field path segment %q in %q", segment, raw)
		}
		tokens = append(tokens, pathToken{key: match[1]})
		for _, idx := range pathIndexPattern.FindAllStringSubmatch(match[2], -1) {
			n, err := strconv.Atoi(idx[1])
			if err != nil {
				return nil, fmt.Errorf("invalid array index in %q", raw)
			}
			tokens = append(tokens, pathToken{index: n, isIndex: true})
		}
	}
	return tokens, nil
}

// Resolve walks the data context. The second return reports whether the path
// resolved; callers must handle the default/warning branch explicitly.
func (p Path) Resolve(data map[string]any) (any, bool) {
	var current any = data
	for _, token := range p {
		if token.isIndex {
			arr, ok := current.([]any)
			if !ok || token.index < 0 || token.index >= len(arr) {
				return nil, false
			}
			current = arr[token.index]
			continue
		}
		record, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok := record[token.key]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}
