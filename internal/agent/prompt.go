package agent

import (
	"fmt"
	"strings"

	"github.com/stupiduntilnot/earnings-agent/internal/analytics"
	"github.com/stupiduntilnot/earnings-agent/internal/dataset"
	"github.com/stupiduntilnot/earnings-agent/internal/tool"
)

// SystemPrompt builds the default system instruction from the method catalog.
func SystemPrompt(methods []analytics.Method, maxBatch int) string {
	keys := make([]string, 0, len(dataset.GroupKeys))
	for _, k := range dataset.GroupKeys {
		keys = append(keys, string(k))
	}

	var b strings.Builder
	b.WriteString("You are an analyst answering questions about a dataset of freelancer earnings.\n")
	b.WriteString("Always answer through the analytics tools, even when the answer seems known. Never invent numbers.\n")
	b.WriteString("Never call a tool that is not listed.\n")
	b.WriteString("Call a single tool when one method answers the question. Its output is shown to the user as is.\n")
	fmt.Fprintf(&b, "When the question needs several methods, call %s once with up to %d items and show its report.\n",
		tool.BatchToolName, maxBatch)
	fmt.Fprintf(&b, "Grouped methods accept \"by\", one of: %s. The default is category.\n", strings.Join(keys, ", "))
	b.WriteString("Show tool output unchanged, keeping line breaks. Do not add tool names, prefixes, plans or thanks.\n")
	b.WriteString("If no method fits, say that the question cannot be answered from the dataset.\n\n")
	b.WriteString("Methods:\n")
	for _, m := range methods {
		grouped := ""
		if m.Grouped {
			grouped = " (by)"
		}
		fmt.Fprintf(&b, "- %s%s: %s\n", m.Name, grouped, m.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
