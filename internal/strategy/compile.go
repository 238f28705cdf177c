package strategy

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"tradesim/internal/domain"
	"tradesim/internal/indicator"
)

// ValidationError lists every problem found in a strategy definition.
type ValidationError struct {
	Strategy   string
	Violations []string
}

func (e *ValidationError) Error() string {
	name := e.Strategy
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("strategy %s is invalid: %s", name, strings.Join(e.Violations, "; "))
}

type violations []string

func (v *violations) add(format string, args ...any) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

type options struct {
	registry    *indicator.Registry
	params      map[string]any
	log         *slog.Logger
	historySize int
}

// Option configures Compile.
type Option func(*options)

// WithRegistry sets the indicator registry used to resolve indicator types.
func WithRegistry(r *indicator.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithParameters overlays params on the strategy's own parameters before
// substitution.
func WithParameters(params map[string]any) Option {
	return func(o *options) { o.params = params }
}

// WithLogger sets the logger used to report condition evaluation failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithHistorySize bounds the indicator and bar history kept per run.
func WithHistorySize(n int) Option {
	return func(o *options) { o.historySize = n }
}

// ---------------------------------------------------------------------------
// Parameter substitution
// ---------------------------------------------------------------------------

var placeholderRE = regexp.MustCompile(`\{\{\s*parameters\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// substitute replaces every {{parameters.x}} in s with the textual form of
// params[x]. Missing parameters are reported by name.
func substitute(s string, params map[string]any) (string, []string) {
	var missing []string
	out := placeholderRE.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholderRE.FindStringSubmatch(m)[1]
		v, ok := params[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return formatParam(v)
	})
	return out, missing
}

// substituteValue resolves placeholders inside an indicator parameter. A
// string consisting of exactly one placeholder takes the parameter's typed
// value so numeric periods stay numeric.
func substituteValue(v any, params map[string]any) (any, []string) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	if m := placeholderRE.FindStringSubmatch(strings.TrimSpace(s)); m != nil && m[0] == strings.TrimSpace(s) {
		pv, ok := params[m[1]]
		if !ok {
			return v, []string{m[1]}
		}
		return pv, nil
	}
	return substitute(s, params)
}

func formatParam(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func numberParam(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Compilation
// ---------------------------------------------------------------------------

// Condition is a compiled buy or sell rule.
type Condition struct {
	ID           string
	Description  string
	Expression   string // after parameter substitution
	Type         domain.SignalType
	Priority     int
	Dependencies []string // indicator names referenced

	root node
}

// Reason is the human-readable explanation attached to signals.
func (c *Condition) Reason() string {
	switch {
	case c.Description != "":
		return c.Description
	case c.ID != "":
		return c.ID
	default:
		return c.Expression
	}
}

// Compile validates cfg and turns it into a CompiledStrategy with freshly
// initialised indicators. Every violation is reported in a single
// *ValidationError.
func Compile(cfg Config, opts ...Option) (*CompiledStrategy, error) {
	o := options{registry: indicator.DefaultRegistry()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.historySize <= 0 {
		o.historySize = indicator.DefaultHistorySize
	}

	params := make(map[string]any, len(cfg.Parameters)+len(o.params))
	for k, v := range cfg.Parameters {
		params[k] = v
	}
	for k, v := range o.params {
		params[k] = v
	}

	var bad violations

	if strings.TrimSpace(cfg.Name) == "" {
		bad.add("name is required")
	}

	// Parameters.
	symbol := ""
	if raw, ok := params[ParamSymbol]; !ok {
		bad.add("parameters.%s is required", ParamSymbol)
	} else if s, ok := raw.(string); !ok || strings.TrimSpace(s) == "" {
		bad.add("parameters.%s must be a non-empty string", ParamSymbol)
	} else {
		symbol = strings.TrimSpace(s)
	}

	positionSize := 0.0
	if raw, ok := params[ParamPositionSize]; !ok {
		bad.add("parameters.%s is required", ParamPositionSize)
	} else if f, ok := numberParam(raw); !ok {
		bad.add("parameters.%s must be a number", ParamPositionSize)
	} else if f <= 0 || f > 1 || math.IsNaN(f) {
		bad.add("parameters.%s must be in (0, 1], got %v", ParamPositionSize, f)
	} else {
		positionSize = f
	}

	// Indicators.
	if len(cfg.Indicators) == 0 {
		bad.add("at least one indicator is required")
	}
	known := make(map[string]bool, len(cfg.Indicators))
	indicators := make(map[string]indicator.Indicator, len(cfg.Indicators))
	order := make([]string, 0, len(cfg.Indicators))
	for i, ic := range cfg.Indicators {
		name := strings.TrimSpace(ic.Name)
		where := fmt.Sprintf("indicators[%d]", i)
		if name == "" {
			bad.add("%s.name is required", where)
		} else {
			where = fmt.Sprintf("indicators[%d] (%s)", i, name)
			if known[name] {
				bad.add("duplicate indicator name %q", name)
			} else if reservedWord(name) {
				bad.add("%s: name %q is reserved", where, name)
			}
			known[name] = true
		}

		typeOK := true
		if strings.TrimSpace(ic.Type) == "" {
			bad.add("%s.type is required", where)
			typeOK = false
		} else if !o.registry.Has(ic.Type) {
			bad.add("%s: unknown indicator type %q (registered: %s)", where, ic.Type, strings.Join(o.registry.List(), ", "))
			typeOK = false
		}

		src, err := indicator.ParseSource(ic.Source)
		if err != nil {
			bad.add("%s: %v", where, err)
			typeOK = false
		}

		resolved := make(map[string]any, len(ic.Parameters))
		for k, v := range ic.Parameters {
			rv, missing := substituteValue(v, params)
			for _, m := range missing {
				bad.add("%s.parameters.%s: unknown parameter %q", where, k, m)
				typeOK = false
			}
			resolved[k] = rv
		}

		if name == "" || !typeOK || indicators[name] != nil {
			continue
		}
		ind, err := o.registry.New(indicator.Spec{
			Name:        name,
			Type:        ic.Type,
			Params:      resolved,
			Source:      src,
			HistorySize: o.historySize,
		})
		if err != nil {
			bad.add("%s: %v", where, err)
			continue
		}
		indicators[name] = ind
		order = append(order, name)
	}

	// Conditions.
	if len(cfg.Signals.Buy) == 0 && len(cfg.Signals.Sell) == 0 {
		bad.add("at least one buy or sell condition is required")
	}
	resolve := func(name string) (ref, bool) {
		if field, ok := barField(name); ok {
			return ref{name: strings.ToLower(name), field: field}, true
		}
		if known[name] {
			return ref{name: name}, true
		}
		return ref{}, false
	}
	compileSignals := func(kind domain.SignalType, list []SignalConfig, label string) []*Condition {
		out := make([]*Condition, 0, len(list))
		for i, sc := range list {
			where := fmt.Sprintf("signals.%s[%d]", label, i)
			if sc.ID != "" {
				where = fmt.Sprintf("signals.%s[%d] (%s)", label, i, sc.ID)
			}
			if strings.TrimSpace(sc.Condition) == "" {
				bad.add("%s.condition is required", where)
				continue
			}
			expr, missing := substitute(sc.Condition, params)
			if len(missing) > 0 {
				for _, m := range missing {
					bad.add("%s: unknown parameter %q", where, m)
				}
				continue
			}
			root, deps, err := parseExpression(expr, resolve)
			if err != nil {
				bad.add("%s: %v", where, err)
				continue
			}
			priority := domain.DefaultSignalPriority
			if sc.Priority != nil {
				priority = *sc.Priority
			}
			out = append(out, &Condition{
				ID:           sc.ID,
				Description:  sc.Description,
				Expression:   expr,
				Type:         kind,
				Priority:     priority,
				Dependencies: deps,
				root:         root,
			})
		}
		return out
	}
	buy := compileSignals(domain.SignalTypeBuy, cfg.Signals.Buy, "buy")
	sell := compileSignals(domain.SignalTypeSell, cfg.Signals.Sell, "sell")

	if len(bad) > 0 {
		return nil, &ValidationError{Strategy: cfg.Name, Violations: bad}
	}

	var risk *domain.RiskConfig
	if cfg.RiskManagement != nil {
		r := *cfg.RiskManagement
		risk = &r
	}

	return &CompiledStrategy{
		name:         cfg.Name,
		symbol:       symbol,
		positionSize: positionSize,
		params:       params,
		indicators:   indicators,
		order:        order,
		buy:          buy,
		sell:         sell,
		risk:         risk,
		bars:         newBarHistory(o.historySize),
		log:          o.log.With("strategy", cfg.Name),
	}, nil
}
