package router

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchKind selects how a route pattern is compared to a path.
type MatchKind string

const (
	// MatchPrefix matches the pattern as a path prefix on segment boundaries.
	MatchPrefix MatchKind = "prefix"

	// MatchExact matches the path exactly.
	MatchExact MatchKind = "exact"

	// MatchParameter matches segments such as /users/{id} or /users/:id.
	MatchParameter MatchKind = "parameter"

	// MatchWildcard matches * (one segment), ** (anything) and a trailing /* (the rest).
	MatchWildcard MatchKind = "wildcard"

	// MatchRegex matches a regular expression; named groups become parameters.
	MatchRegex MatchKind = "regex"
)

// PathMatcher is the interface for path matching.
type PathMatcher interface {
	Match(path string) (bool, map[string]string)
	Type() MatchKind
	Pattern() string
}

// ExactMatcher matches exact paths.
type ExactMatcher struct {
	path string
}

// NewExactMatcher creates a new exact path matcher.
func NewExactMatcher(path string) *ExactMatcher {
	return &ExactMatcher{path: path}
}

// Match checks if the path matches exactly.
func (m *ExactMatcher) Match(path string) (matched bool, params map[string]string) {
	return path == m.path, nil
}

// Type returns the matcher type.
func (m *ExactMatcher) Type() MatchKind {
	return MatchExact
}

// Pattern returns the pattern.
func (m *ExactMatcher) Pattern() string {
	return m.path
}

// PrefixMatcher matches path prefixes. /api matches /api and /api/users but
// not /apiary.
type PrefixMatcher struct {
	prefix string
}

// NewPrefixMatcher creates a new prefix path matcher.
func NewPrefixMatcher(prefix string) *PrefixMatcher {
	return &PrefixMatcher{prefix: prefix}
}

// Match checks if the path starts with the prefix.
func (m *PrefixMatcher) Match(path string) (matched bool, params map[string]string) {
	if !strings.HasPrefix(path, m.prefix) {
		return false, nil
	}
	if len(path) == len(m.prefix) || strings.HasSuffix(m.prefix, "/") || path[len(m.prefix)] == '/' {
		return true, nil
	}
	return false, nil
}

// Type returns the matcher type.
func (m *PrefixMatcher) Type() MatchKind {
	return MatchPrefix
}

// Pattern returns the pattern.
func (m *PrefixMatcher) Pattern() string {
	return m.prefix
}

// RegexMatcher matches paths using regular expressions.
type RegexMatcher struct {
	pattern string
	regex   *regexp.Regexp
}

// NewRegexMatcher creates a new regex path matcher.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{pattern: pattern, regex: regex}, nil
}

// Match checks if the path matches the regex.
func (m *RegexMatcher) Match(path string) (matched bool, params map[string]string) {
	return matchNamedGroups(m.regex, path)
}

// Type returns the matcher type.
func (m *RegexMatcher) Type() MatchKind {
	return MatchRegex
}

// Pattern returns the pattern.
func (m *RegexMatcher) Pattern() string {
	return m.pattern
}

// SegmentMatcher matches parameter and wildcard patterns segment by segment.
type SegmentMatcher struct {
	pattern string
	kind    MatchKind
	regex   *regexp.Regexp
}

// NewSegmentMatcher compiles a parameter or wildcard pattern.
//
//	/users/{id}      one named segment
//	/users/:id       same, short form
//	/files/*/meta    any single segment
//	/static/**       anything, including nothing
//	/api/*           trailing star: /api and everything below it
func NewSegmentMatcher(pattern string) (*SegmentMatcher, error) {
	var b strings.Builder
	b.WriteString("^")

	kind := MatchWildcard
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	for i, part := range parts {
		last := i == len(parts)-1
		switch {
		case part == "":
			continue
		case part == "**":
			b.WriteString("(?:/.*)?")
		case part == "*" && last && i > 0:
			b.WriteString("(?:/.*)?")
		case isParam(part):
			name := paramName(part)
			if !validParamName(name) {
				return nil, fmt.Errorf("invalid parameter name %q in pattern %q", name, pattern)
			}
			kind = MatchParameter
			b.WriteString("/(?P<")
			b.WriteString(name)
			b.WriteString(">[^/]+)")
		default:
			b.WriteString("/")
			b.WriteString(segmentToRegex(part))
		}
	}
	if b.Len() == 1 {
		b.WriteString("/")
	}
	b.WriteString("/?$")

	regex, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return &SegmentMatcher{pattern: pattern, kind: kind, regex: regex}, nil
}

// segmentToRegex converts one literal segment, expanding embedded * and ?.
func segmentToRegex(part string) string {
	var b strings.Builder
	for i := 0; i < len(part); i++ {
		switch part[i] {
		case '*':
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(part[i : i+1]))
		}
	}
	return b.String()
}

// Match checks if the path matches the pattern and extracts parameters.
func (m *SegmentMatcher) Match(path string) (matched bool, params map[string]string) {
	return matchNamedGroups(m.regex, path)
}

// Type returns MatchParameter when the pattern names a segment, else MatchWildcard.
func (m *SegmentMatcher) Type() MatchKind {
	return m.kind
}

// Pattern returns the pattern.
func (m *SegmentMatcher) Pattern() string {
	return m.pattern
}

func matchNamedGroups(re *regexp.Regexp, path string) (bool, map[string]string) {
	matches := re.FindStringSubmatch(path)
	if matches == nil {
		return false, nil
	}

	var params map[string]string
	for i, name := range re.SubexpNames() {
		if i > 0 && name != "" && i < len(matches) {
			if params == nil {
				params = make(map[string]string)
			}
			params[name] = matches[i]
		}
	}
	return true, params
}

func isParam(part string) bool {
	return (strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}")) ||
		(strings.HasPrefix(part, ":") && len(part) > 1)
}

func paramName(part string) string {
	if strings.HasPrefix(part, ":") {
		return part[1:]
	}
	return part[1 : len(part)-1]
}

var paramNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validParamName(name string) bool {
	return paramNameRegex.MatchString(name)
}

// HasPathParameters checks if a pattern contains parameters.
func HasPathParameters(pattern string) bool {
	for _, part := range strings.Split(pattern, "/") {
		if isParam(part) {
			return true
		}
	}
	return false
}

// HasWildcards checks if a pattern contains wildcards.
func HasWildcards(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

// NewPathMatcher creates the matcher for pattern. An empty kind is inferred:
// parameters or wildcards select the segment matcher, anything else is a prefix.
func NewPathMatcher(kind MatchKind, pattern string) (PathMatcher, error) {
	if kind == "" {
		switch {
		case HasPathParameters(pattern):
			kind = MatchParameter
		case HasWildcards(pattern):
			kind = MatchWildcard
		default:
			kind = MatchPrefix
		}
	}

	switch kind {
	case MatchExact:
		return NewExactMatcher(pattern), nil
	case MatchPrefix:
		return NewPrefixMatcher(pattern), nil
	case MatchRegex:
		return NewRegexMatcher(pattern)
	case MatchParameter, MatchWildcard:
		return NewSegmentMatcher(pattern)
	default:
		return nil, fmt.Errorf("unknown match kind %q", kind)
	}
}

// MethodMatcher matches HTTP methods.
type MethodMatcher struct {
	methods map[string]bool
	any     bool
}

// NewMethodMatcher creates a new method matcher. No methods, or "*",
// matches every method.
func NewMethodMatcher(methods []string) *MethodMatcher {
	m := &MethodMatcher{
		methods: make(map[string]bool, len(methods)),
		any:     len(methods) == 0,
	}

	for _, method := range methods {
		method = strings.ToUpper(strings.TrimSpace(method))
		if method == "*" {
			m.any = true
		}
		m.methods[method] = true
	}

	return m
}

// Match checks if the method matches.
func (m *MethodMatcher) Match(method string) bool {
	if m.any {
		return true
	}

	method = strings.ToUpper(method)

	// HEAD automatically matches GET
	if method == "HEAD" && m.methods["GET"] {
		return true
	}

	return m.methods[method]
}
