package agent

// Recorder stores structured events. db.EventLog implements it.
type Recorder interface {
	Record(parentID *int64, eventType string, payload map[string]any) (int64, error)
}

// NopRecorder discards events.
type NopRecorder struct{}

func (NopRecorder) Record(*int64, string, map[string]any) (int64, error) { return 0, nil }
