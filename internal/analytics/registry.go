package analytics

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stupiduntilnot/earnings-agent/internal/dataset"
)

// InsufficientData is returned instead of a statistic when the rows carry no usable values.
const InsufficientData = "Insufficient data for analysis."

// ErrUnknownMethod is returned by Invoke for names that are not registered.
var ErrUnknownMethod = errors.New("unknown analytics method")

// Func computes one formatted report. Ungrouped methods ignore by.
type Func func(rows []dataset.Row, by dataset.GroupKey) string

// Method is one catalog entry.
type Method struct {
	Name        string
	Description string
	// Grouped methods accept a grouping key; the rest never see one.
	Grouped bool
	Func    Func
}

// Registry is the read-only method catalog. It is built once and never mutated.
type Registry struct {
	methods map[string]Method
	order   []string
	logger  *slog.Logger
}

// NewRegistry returns the registry of built-in methods.
func NewRegistry(logger *slog.Logger) *Registry {
	r, err := newRegistry(logger, builtinMethods())
	if err != nil {
		panic(err)
	}
	return r
}

func newRegistry(logger *slog.Logger, methods []Method) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{
		methods: make(map[string]Method, len(methods)),
		order:   make([]string, 0, len(methods)),
		logger:  logger.With("component", "analytics"),
	}
	for _, m := range methods {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, fmt.Errorf("method name is empty")
		}
		if m.Func == nil {
			return nil, fmt.Errorf("method %s has no func", name)
		}
		if _, exists := r.methods[name]; exists {
			return nil, fmt.Errorf("method already registered: %s", name)
		}
		m.Name = name
		r.methods[name] = m
		r.order = append(r.order, name)
	}
	return r, nil
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (Method, bool) {
	m, ok := r.methods[strings.TrimSpace(name)]
	return m, ok
}

// Methods returns the catalog in registration order.
func (r *Registry) Methods() []Method {
	out := make([]Method, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.methods[name])
	}
	return out
}

// Invoke runs a method. by is dropped for ungrouped methods and defaults to
// category for grouped ones. A panic inside the method is returned as an error.
func (r *Registry) Invoke(name string, rows []dataset.Row, by dataset.GroupKey) (out string, err error) {
	m, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	if !m.Grouped {
		by = ""
	} else if by == "" {
		by = dataset.GroupCategory
	}

	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			out = ""
			err = fmt.Errorf("method %s panicked: %v", m.Name, rec)
		}
		r.logger.Debug("method executed",
			"method", m.Name,
			"by", string(by),
			"rows", len(rows),
			"elapsed_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
	}()
	return m.Func(rows, by), nil
}
