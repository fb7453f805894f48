package agent

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultVariant = "default"

//go:embed variants.yaml
var defaultVariants []byte

// Variant holds the per-kind tuning of an agent.
type Variant struct {
	Name       string        `yaml:"-"`
	Threshold  float64       `yaml:"threshold"`
	Windup     time.Duration `yaml:"windup"`
	Resolution time.Duration `yaml:"resolution"`
	Damage     float64       `yaml:"damage"`
	Force      float64       `yaml:"force"`
	Radius     float64       `yaml:"radius"`
	Mass       float64       `yaml:"mass"`
}

// Variants maps a variant name to its tuning.
type Variants map[string]Variant

// Get returns the named variant, falling back to DefaultVariant.
func (v Variants) Get(name string) Variant {
	if vr, ok := v[name]; ok {
		return vr
	}
	return v[DefaultVariant]
}

func (v Variants) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadVariants parses the embedded variant table and merges the YAML file at
// path over it. An empty path returns the embedded table.
func LoadVariants(path string) (Variants, error) {
	vs, err := ParseVariants(defaultVariants)
	if err != nil {
		return nil, fmt.Errorf("embedded variants: %w", err)
	}
	if path == "" {
		return vs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read variants %s: %w", path, err)
	}
	override, err := ParseVariants(data)
	if err != nil {
		return nil, fmt.Errorf("variants %s: %w", path, err)
	}
	for name, vr := range override {
		vs[name] = vr
	}
	return vs, nil
}

func ParseVariants(data []byte) (Variants, error) {
	var raw map[string]Variant
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	vs := make(Variants, len(raw))
	for name, vr := range raw {
		if vr.Threshold <= 0 {
			return nil, fmt.Errorf("variant %q: threshold must be positive", name)
		}
		if vr.Force == 0 {
			vr.Force = 1
		}
		if vr.Mass <= 0 {
			vr.Mass = 1
		}
		if vr.Radius <= 0 {
			vr.Radius = 0.5
		}
		vr.Name = name
		vs[name] = vr
	}
	return vs, nil
}
