package indicator

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Spec describes one indicator instance to build. Params have already had
// any strategy parameter placeholders substituted.
type Spec struct {
	Name        string
	Type        string
	Params      map[string]any
	Source      Source
	HistorySize int
}

// Factory builds an indicator from a spec.
type Factory func(spec Spec) (Indicator, error)

// Registry maps indicator type names to factories. Type names are matched
// case-insensitively.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a Registry with SMA, EMA and RSI registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("SMA", periodFactory(20, func(s Spec, period int) Indicator {
		return NewSMA(s.Name, period, s.Source, s.HistorySize)
	}))
	r.Register("EMA", periodFactory(20, func(s Spec, period int) Indicator {
		return NewEMA(s.Name, period, s.Source, s.HistorySize)
	}))
	r.Register("RSI", periodFactory(14, func(s Spec, period int) Indicator {
		return NewRSI(s.Name, period, s.Source, s.HistorySize)
	}))
	return r
}

// Register adds a factory under typ, replacing any existing one.
func (r *Registry) Register(typ string, f Factory) {
	r.factories[strings.ToUpper(typ)] = f
}

// Get retrieves the factory for typ.
func (r *Registry) Get(typ string) (Factory, bool) {
	f, ok := r.factories[strings.ToUpper(typ)]
	return f, ok
}

// Has reports whether typ is registered.
func (r *Registry) Has(typ string) bool {
	_, ok := r.Get(typ)
	return ok
}

// List returns a sorted slice of all registered type names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the indicator described by spec.
func (r *Registry) New(spec Spec) (Indicator, error) {
	f, ok := r.Get(spec.Type)
	if !ok {
		return nil, fmt.Errorf("unknown indicator type %q", spec.Type)
	}
	if spec.Source == "" {
		spec.Source = SourceClose
	}
	return f(spec)
}

func periodFactory(defaultPeriod int, build func(Spec, int) Indicator) Factory {
	return func(spec Spec) (Indicator, error) {
		period, err := IntParam(spec.Params, "period", defaultPeriod)
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", spec.Name, err)
		}
		if period <= 0 {
			return nil, fmt.Errorf("indicator %s: period must be positive, got %d", spec.Name, period)
		}
		return build(spec, period), nil
	}
}

// IntParam reads an integer parameter, accepting ints, whole floats and
// numeric strings. def is returned when the key is absent.
func IntParam(params map[string]any, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("parameter %q must be an integer, got %v", key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("parameter %q must be an integer, got %q", key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("parameter %q has unsupported type %T", key, raw)
	}
}
