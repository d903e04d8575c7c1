package proxy

import (
	"strings"
)

// rewriteCookieAttr rewrites one attribute of a raw Set-Cookie value through
// the rules map. A key equal to the current attribute value wins, the "*"
// wildcard catches the rest, no match leaves the cookie untouched. An empty
// replacement strips the attribute entirely.
func rewriteCookieAttr(raw, attr string, rules map[string]string) string {
	if len(rules) == 0 {
		return raw
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i == 0 {
			out = append(out, part) // name=value pair stays as is
			continue
		}
		trimmed := strings.TrimSpace(part)
		eq := strings.IndexByte(trimmed, '=')
		name, value := trimmed, ""
		if eq >= 0 {
			name, value = trimmed[:eq], trimmed[eq+1:]
		}
		if !strings.EqualFold(name, attr) {
			out = append(out, part)
			continue
		}

		replacement, ok := rules[value]
		if !ok {
			replacement, ok = rules["*"]
		}
		if !ok {
			out = append(out, part) // neither specific nor wildcard, keep verbatim
			continue
		}
		if replacement == "" {
			continue // strip the attribute
		}
		out = append(out, " "+attr+"="+replacement)
	}
	return strings.Join(out, ";")
}
