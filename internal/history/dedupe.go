package history

import "strings"

// Report describes one deduplication pass. Counts is always filled, even
// when removal is disabled.
type Report struct {
	Input      int
	Output     int
	Pairs      int
	Duplicates int
	Counts     map[string]int
}

// DedupePairs groups non-system messages into exchange pairs. A pair closes
// after a run of tool results or at the end of the sequence, so the results
// of one multi-call step stay with their assistant message.
func DedupePairs(messages []Message) [][]Message {
	var pairs [][]Message
	var current []Message
	for i, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		current = append(current, m)
		last := i == len(messages)-1
		if last || (m.Role == RoleTool && messages[i+1].Role != RoleTool) {
			pairs = append(pairs, current)
			current = nil
		}
	}
	if len(current) > 0 {
		pairs = append(pairs, current)
	}
	return pairs
}

// pairKey is the NUL-joined content of the pair.
func pairKey(pair []Message) string {
	parts := make([]string, len(pair))
	for i, m := range pair {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\x00")
}

// Dedupe counts repeated exchange pairs. When enabled it rebuilds the history
// as the first system message followed by the first occurrence of each pair,
// in first-seen order. When disabled messages are returned unchanged.
func Dedupe(messages []Message, enabled bool) ([]Message, Report) {
	system, rest := splitSystem(messages)
	pairs := DedupePairs(rest)

	report := Report{Input: len(messages), Pairs: len(pairs), Counts: make(map[string]int, len(pairs))}
	unique := make([][]Message, 0, len(pairs))
	for _, p := range pairs {
		key := pairKey(p)
		report.Counts[key]++
		if report.Counts[key] == 1 {
			unique = append(unique, p)
		} else {
			report.Duplicates++
		}
	}

	if !enabled {
		report.Output = len(messages)
		return messages, report
	}
	out := assemble(system, unique)
	report.Output = len(out)
	return out, report
}
