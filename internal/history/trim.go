package history

// TrimPairs groups non-system messages into pairs that start at each user
// message. Messages before the first user message form a leading pair.
func TrimPairs(messages []Message) [][]Message {
	var pairs [][]Message
	var current []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		if m.Role == RoleUser && len(current) > 0 {
			pairs = append(pairs, current)
			current = nil
		}
		current = append(current, m)
	}
	if len(current) > 0 {
		pairs = append(pairs, current)
	}
	return pairs
}

// Trim keeps the first system message and the last maxPairs pairs.
func Trim(messages []Message, maxPairs int) []Message {
	system, rest := splitSystem(messages)
	pairs := TrimPairs(rest)
	if maxPairs < 0 {
		maxPairs = 0
	}
	if len(pairs) > maxPairs {
		pairs = pairs[len(pairs)-maxPairs:]
	}
	return assemble(system, pairs)
}
