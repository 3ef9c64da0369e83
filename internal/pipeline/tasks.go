package pipeline

import "strings"

// splitCSV splits a comma-separated list, trimming blanks. It is used for
// display only; the harness always receives the task string verbatim.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
