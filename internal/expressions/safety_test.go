package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSafeRejectsCapabilities(t *testing.T) {
	cases := map[string]string{
		"os.exec('ls')":          "process",
		"io.open('/etc/passwd')": "file",
		"http.get(url)":          "network",
		"reflect.TypeOf(x)":      "reflection",
		"syscall(1)":             "process execution",
		"env['PATH']":            "environment",
		"runtime.NumGoroutine()": "runtime",
		"System.Diagnostics.Run": "process execution",
	}
	for code, reasonPart := range cases {
		ok, reason := IsSafe(code)
		assert.False(t, ok, code)
		assert.Contains(t, reason, reasonPart, code)
	}
}

func TestIsSafeAllowsPureExpressions(t *testing.T) {
	for _, code := range []string{
		"x + y * 2",
		"avg > 20 && count < 100",
		"profile.name", // "profile" must not trip the "file" rule
		"filter(xs, # > 3)",
		`name == "os"`, // string literals are not identifiers
		"iostat_reading", // substring matches do not count
	} {
		ok, reason := IsSafe(code)
		assert.True(t, ok, "%s rejected: %s", code, reason)
	}
}
