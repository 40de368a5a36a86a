package spec

import (
	"fmt"
	"strings"
)

// Test identifiers understood by the generators.
const (
	TestNotNull        = "not_null"
	TestUnique         = "unique"
	TestAcceptedValues = "accepted_values"
	TestPrimaryKey     = "primary_key"
	TestAggregate      = "aggregate"
)

// TestRef is a declared test intent such as not_null or accepted_values('a', 'b').
type TestRef struct {
	Name string
	Args []string
}

// String renders the reference in the form ParseTestRef accepts.
func (r TestRef) String() string {
	if len(r.Args) == 0 && r.Name != TestAcceptedValues {
		return r.Name
	}
	quoted := make([]string, len(r.Args))
	for i, a := range r.Args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", "''") + "'"
	}
	return r.Name + "(" + strings.Join(quoted, ", ") + ")"
}

// MarshalText persists a TestRef as its string form.
func (r TestRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses the string form.
func (r *TestRef) UnmarshalText(b []byte) error {
	parsed, err := ParseTestRef(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Known reports whether the test is one a column or metric may declare.
func (r TestRef) Known() bool {
	switch r.Name {
	case TestNotNull, TestUnique:
		return len(r.Args) == 0
	case TestAcceptedValues:
		return len(r.Args) > 0
	}
	return false
}

// ParseTestRef parses a single test identifier.
func ParseTestRef(s string) (TestRef, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		name := strings.ToLower(s)
		if name == "" || strings.ContainsAny(name, " )'\"") {
			return TestRef{}, fmt.Errorf("invalid test identifier %q", s)
		}
		return TestRef{Name: name}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return TestRef{}, fmt.Errorf("unterminated arguments in test %q", s)
	}
	name := strings.ToLower(strings.TrimSpace(s[:open]))
	if name == "" {
		return TestRef{}, fmt.Errorf("invalid test identifier %q", s)
	}
	body := s[open+1 : len(s)-1]
	args := splitTopLevel(body, ',')
	if len(args) == 1 && strings.Contains(args[0], "|") && !isQuoted(args[0]) {
		args = strings.Split(args[0], "|")
	}
	ref := TestRef{Name: name}
	for _, a := range args {
		a = unquote(strings.TrimSpace(a))
		if a != "" {
			ref.Args = append(ref.Args, a)
		}
	}
	return ref, nil
}

// ParseTestRefs parses a tests cell: identifiers separated by commas or
// semicolons outside parentheses.
func ParseTestRefs(cell string) ([]TestRef, error) {
	var refs []TestRef
	for _, part := range splitTopLevel(strings.ReplaceAll(cell, ";", ","), ',') {
		part = strings.TrimSpace(part)
		if part == "" || part == "-" {
			continue
		}
		ref, err := ParseTestRef(part)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// FormatTestRefs renders refs back into a tests cell.
func FormatTestRefs(refs []TestRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

func hasTest(refs []TestRef, name string) bool {
	for _, r := range refs {
		if r.Name == name {
			return true
		}
	}
	return false
}

// splitTopLevel splits s on sep outside parentheses and single quotes.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func isQuoted(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0]
}

func unquote(s string) string {
	if !isQuoted(s) {
		return s
	}
	q := s[:1]
	return strings.ReplaceAll(s[1:len(s)-1], q+q, q)
}
