package credentials

import (
	"sort"
	"strings"
)

// NormalizeScope sorts and deduplicates the whitespace separated scope
// tokens. The result is the cache key for downscoped tokens.
func NormalizeScope(scope string) string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return ""
	}
	sort.Strings(fields)
	out := fields[:0]
	for idx, field := range fields {
		if idx > 0 && field == fields[idx-1] {
			continue
		}
		out = append(out, field)
	}
	return strings.Join(out, " ")
}

// RemoveScope drops the unwanted tokens and normalizes the remainder.
func RemoveScope(scope string, unwanted ...string) string {
	drop := map[string]struct{}{}
	for _, value := range unwanted {
		for _, field := range strings.Fields(value) {
			drop[field] = struct{}{}
		}
	}
	kept := []string{}
	for _, field := range strings.Fields(scope) {
		if _, ok := drop[field]; ok {
			continue
		}
		kept = append(kept, field)
	}
	return NormalizeScope(strings.Join(kept, " "))
}
