package tool

// Result is the output envelope for tool execution.
type Result struct {
	OK        bool           `json:"ok"`
	Output    string         `json:"output"`
	Truncated bool           `json:"truncated"`
	Meta      map[string]any `json:"meta,omitempty"`
}
