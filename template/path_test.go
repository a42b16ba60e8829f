package template

import (
	"testing"
)

func TestParsePath_Invalid(t *testing.T) {
	for _, raw := range []string{"", "guest..name", "lines[x]", "guest.", "a b"} {
		if _, err := ParsePath(raw); err == nil {
			t.Fatalf("expected error for path %q", raw)
		}
	}
}

func TestPathResolve(t *testing.T) {
	data := map[string]any{
		"guest": map[string]any{"name": "Anna Schmidt"},
		"lines": []any{
			map[string]any{"amount": "360.00"},
			map[string]any{"amount": "45.00"},
		},
		"total": "405.00",
	}

	cases := []struct {
		path  string
		want  any
		found bool
	}{
		{"total", "405.00", true},
		{"guest.name", "Anna Schmidt", true},
		{"lines[1].amount", "45.00", true},
		{"lines[2].amount", nil, false},
		{"guest.email", nil, false},
		{"guest.name.first", nil, false},
		{"missing.path", nil, false},
	}
	for _, tc := range cases {
		path, err := ParsePath(tc.path)
		if err != nil {
			t.Fatalf("ParsePath(%q): %v", tc.path, err)
		}
		got, found := path.Resolve(data)
		if found != tc.found {
			t.Fatalf("Resolve(%q): found=%v, want %v", tc.path, found, tc.found)
		}
		if found && got != tc.want {
			t.Fatalf("Resolve(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
