package strategy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"tradesim/internal/domain"
)

// Well-known parameter keys every strategy must define.
const (
	ParamSymbol       = "symbol"
	ParamPositionSize = "position_size"
)

// ---------------------------------------------------------------------------
// Strategy definition
// ---------------------------------------------------------------------------

// Config is the declarative definition of a strategy, as loaded from a
// strategy file. Indicator parameters and conditions may reference
// parameters with {{parameters.name}} placeholders.
type Config struct {
	Name           string             `yaml:"name" json:"name"`
	Description    string             `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters     map[string]any     `yaml:"parameters" json:"parameters"`
	Indicators     []IndicatorConfig  `yaml:"indicators" json:"indicators"`
	Signals        SignalsConfig      `yaml:"signals" json:"signals"`
	RiskManagement *domain.RiskConfig `yaml:"risk_management,omitempty" json:"riskManagement,omitempty"`
}

// IndicatorConfig declares one indicator instance.
type IndicatorConfig struct {
	Name       string         `yaml:"name" json:"name"`
	Type       string         `yaml:"type" json:"type"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Source     string         `yaml:"source,omitempty" json:"source,omitempty"`
}

// SignalsConfig groups the buy and sell conditions.
type SignalsConfig struct {
	Buy  []SignalConfig `yaml:"buy,omitempty" json:"buy,omitempty"`
	Sell []SignalConfig `yaml:"sell,omitempty" json:"sell,omitempty"`
}

// SignalConfig is one named condition. A nil Priority means
// domain.DefaultSignalPriority.
type SignalConfig struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Condition   string `yaml:"condition" json:"condition"`
	Priority    *int   `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Validate compiles the strategy against the default indicator registry and
// returns any ValidationError.
func (c Config) Validate() error {
	_, err := Compile(c)
	return err
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Parse decodes a YAML strategy document. Unknown fields are rejected so
// typos surface at load time.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty strategy document")
		}
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses the strategy file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing strategy %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	cfgs := make([]*Config, 0, len(names))
	for _, name := range names {
		cfg, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}
