package hyde

import (
	"regexp"
	"strings"
)

var (
	hypotheticalMarker = regexp.MustCompile(`(?im)^\s*\**\s*HYPOTHETICAL\s*\**\s*:\**`)
	queriesMarker      = regexp.MustCompile(`(?im)^\s*\**\s*QUERIES\s*\**\s*:\**`)
	bullet             = regexp.MustCompile(`^\s*(?:[-*•+]\s*|\d+[.)]\s+)`)
)

// parseResponse splits a HYPOTHETICAL:/QUERIES: response. Without markers the whole
// response is read as a query list.
func parseResponse(out string) generated {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	h := hypotheticalMarker.FindStringIndex(out)
	q := queriesMarker.FindStringIndex(out)

	var res generated
	switch {
	case h != nil && q != nil && h[0] < q[0]:
		res.Hypothetical = strings.TrimSpace(out[h[1]:q[0]])
		res.Queries = queryLines(out[q[1]:])
	case h != nil && q != nil:
		res.Queries = queryLines(out[q[1]:h[0]])
		res.Hypothetical = strings.TrimSpace(out[h[1]:])
	case q != nil:
		res.Queries = queryLines(out[q[1]:])
	case h != nil:
		res.Hypothetical = strings.TrimSpace(out[h[1]:])
	default:
		res.Queries = queryLines(out)
	}
	res.Hypothetical = strings.Join(strings.Fields(res.Hypothetical), " ")
	return res
}

func queryLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(bullet.ReplaceAllString(line, ""))
		line = strings.Trim(line, `"`)
		if line != "" {
			out = append(out, line)
		}
	}
	return dedupe(out)
}

// dedupe keeps the first occurrence of each case-insensitive query.
func dedupe(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		k := strings.ToLower(q)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, q)
	}
	return out
}
