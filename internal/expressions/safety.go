package expressions

import (
	"strings"
	"unicode"
)

// disallowed maps forbidden identifier segments to the capability they would
// grant. Step expressions must stay pure computations over the variable
// context: no filesystem, network, reflection, threading or process access.
var disallowed = map[string]string{
	"os":          "process/environment access",
	"io":          "file access",
	"file":        "file access",
	"open":        "file access",
	"exec":        "process execution",
	"syscall":     "process execution",
	"system":      "process execution",
	"process":     "process execution",
	"cmd":         "process execution",
	"net":         "network access",
	"http":        "network access",
	"socket":      "network access",
	"reflect":     "reflection",
	"unsafe":      "reflection",
	"runtime":     "runtime introspection",
	"thread":      "threading",
	"goroutine":   "threading",
	"env":         "environment access",
	"diagnostics": "diagnostics access",
}

// IsSafe statically scans an expression for disallowed capability usage.
// It tokenizes the source into identifier segments (splitting on dots) so a
// variable named "profile" does not trip the "file" rule. Returns ok and,
// when not ok, the reason.
func IsSafe(code string) (bool, string) {
	for _, seg := range identifierSegments(code) {
		if reason, bad := disallowed[strings.ToLower(seg)]; bad {
			return false, "expression uses disallowed capability " + strings.ToLower(seg) + " (" + reason + ")"
		}
	}
	return true, ""
}

// identifierSegments extracts identifier-like tokens from the source,
// splitting dotted paths into their segments.
func identifierSegments(code string) []string {
	var segs []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, cur.String())
			cur.Reset()
		}
	}
	inString := false
	var quote rune
	for _, r := range code {
		if inString {
			if r == quote {
				inString = false
			}
			continue
		}
		switch {
		case r == '"' || r == '\'':
			inString = true
			quote = r
			flush()
		case unicode.IsLetter(r) || r == '_':
			cur.WriteRune(r)
		case unicode.IsDigit(r) && cur.Len() > 0:
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return segs
}
