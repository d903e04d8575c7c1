// Package router provides ordered route matching over the web pipeline:
// layers compiled from :name patterns, multi-layer dispatch with merged
// params, allowed-methods handling and nested mounting with prefixes.
package router

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// PatternOptions control path pattern compilation.
type PatternOptions struct {
	Sensitive bool // case-sensitive match
	Strict    bool // trailing slash must match exactly
	End       bool // match the full path, not just a prefix
}

// Pattern is a compiled route path: a predicate over request paths plus the
// ordered list of named captures used to populate params.
type Pattern struct {
	raw   string
	rx    *regexp.Regexp
	names []string
}

var paramNameRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)

// CompilePattern compiles a route pattern with :name placeholders and
// optional {...}? groups into a matcher.
func CompilePattern(pattern string, opts PatternOptions) (*Pattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty route pattern")
	}

	var names []string
	src, err := patternSource(pattern, &names)
	if err != nil {
		return nil, fmt.Errorf("can't compile pattern %q: %w", pattern, err)
	}

	expr := "^" + src
	switch {
	case opts.End && opts.Strict:
		expr += "$"
	case opts.End:
		expr += "/?$"
	default:
		expr += "(?:/|$)"
	}
	if !opts.Sensitive {
		expr = "(?i)" + expr
	}

	rx, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("can't compile pattern %q: %w", pattern, err)
	}
	return &Pattern{raw: pattern, rx: rx, names: names}, nil
}

// patternSource converts a pattern to regexp source, collecting capture names.
func patternSource(pattern string, names *[]string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		switch pattern[i] {
		case ':':
			name := paramNameRx.FindString(pattern[i+1:])
			if name == "" {
				return "", fmt.Errorf("missing parameter name at offset %d", i)
			}
			*names = append(*names, name)
			b.WriteString("([^/]+)")
			i += 1 + len(name)
		case '{':
			depth, j := 1, i+1
			for ; j < len(pattern) && depth > 0; j++ {
				switch pattern[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
			}
			if depth != 0 {
				return "", fmt.Errorf("unbalanced group at offset %d", i)
			}
			inner, err := patternSource(pattern[i+1:j-1], names)
			if err != nil {
				return "", err
			}
			b.WriteString("(?:" + inner + ")")
			if j < len(pattern) && pattern[j] == '?' {
				b.WriteString("?")
				j++
			}
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}
	return b.String(), nil
}

// String returns the original pattern.
func (p *Pattern) String() string { return p.raw }

// Names returns the ordered capture names.
func (p *Pattern) Names() []string { return p.names }

// Matches tests a request path against the pattern.
func (p *Pattern) Matches(path string) bool { return p.rx.MatchString(path) }

// Params extracts named captures from a path, nil if no match. Values are
// url-decoded, raw value kept if decoding fails.
func (p *Pattern) Params(path string) map[string]string {
	idx := p.rx.FindStringSubmatchIndex(path)
	if idx == nil {
		return nil
	}
	res := make(map[string]string, len(p.names))
	for i, name := range p.names {
		lo, hi := idx[2*(i+1)], idx[2*(i+1)+1]
		if lo < 0 { // optional group didn't participate
			continue
		}
		val := path[lo:hi]
		if dec, err := url.PathUnescape(val); err == nil {
			val = dec
		}
		res[name] = val
	}
	return res
}
