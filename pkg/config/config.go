// Package config resolves the interpolation parameters for vtkkrig.
// It merges built-in defaults with an optional override, read from a JSON or
// YAML file or supplied in memory, and exposes per-family parameter views.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Family selects the estimator variant.
type Family string

const (
	Ordinary  Family = "ordinary"
	Universal Family = "universal"
)

// Recognised configuration keys.
const (
	KeyAlgorithm           = "algorithm"
	KeyVariogramModel      = "variogram_model"
	KeyVariogramParameters = "variogram_parameters"
	KeyNLags               = "nlags"
	KeyAnisotropyScalingY  = "anisotropy_scaling_y"
	KeyAnisotropyScalingZ  = "anisotropy_scaling_z"
	KeyAnisotropyAngleX    = "anisotropy_angle_x"
	KeyAnisotropyAngleY    = "anisotropy_angle_y"
	KeyAnisotropyAngleZ    = "anisotropy_angle_z"
	KeyNClosestPoints      = "n_closest_points"
)

// MaxNLags bounds the number of experimental variogram lag bins.
const MaxNLags = 10000

// estimatorKeys is the parameter set handed to either estimator family.
// The family selector itself is never part of it.
var estimatorKeys = []string{
	KeyVariogramModel,
	KeyVariogramParameters,
	KeyNLags,
	KeyAnisotropyScalingY,
	KeyAnisotropyScalingZ,
	KeyAnisotropyAngleX,
	KeyAnisotropyAngleY,
	KeyAnisotropyAngleZ,
	KeyNClosestPoints,
}

var familyKeys = map[Family][]string{
	Ordinary:  estimatorKeys,
	Universal: estimatorKeys,
}

// VariogramModels lists the accepted variogram model names.
var VariogramModels = []string{"linear", "power", "gaussian", "spherical", "exponential", "hole-effect"}

// EstimationConfig represents the resolved interpolation configuration.
// Treat it as immutable once Resolve has returned it.
type EstimationConfig struct {
	// Algorithm selects the estimator family
	Algorithm Family `yaml:"algorithm"`

	// VariogramModel is the variogram model family name
	VariogramModel string `yaml:"variogram_model"`

	// VariogramParameters holds explicit model parameters; nil means fit them
	VariogramParameters *VariogramParameters `yaml:"variogram_parameters"`

	// NLags is the number of lag bins used by the experimental variogram
	NLags int `yaml:"nlags"`

	// Anisotropy scaling of the y and z axes
	AnisotropyScalingY float64 `yaml:"anisotropy_scaling_y"`
	AnisotropyScalingZ float64 `yaml:"anisotropy_scaling_z"`

	// Anisotropy rotation angles in degrees
	AnisotropyAngleX float64 `yaml:"anisotropy_angle_x"`
	AnisotropyAngleY float64 `yaml:"anisotropy_angle_y"`
	AnisotropyAngleZ float64 `yaml:"anisotropy_angle_z"`

	// NClosestPoints limits each estimate to the nearest samples; 0 uses all
	NClosestPoints int `yaml:"n_closest_points"`

	// Extra keeps unrecognised keys from the override. They are never passed
	// to an estimator.
	Extra map[string]any `yaml:",inline"`
}

// VariogramParameters holds explicit variogram model parameters either as a
// positional list or as named values.
type VariogramParameters struct {
	List  []float64
	Named map[string]float64
}

// MarshalYAML writes the parameters back in the form they were given.
func (p *VariogramParameters) MarshalYAML() (interface{}, error) {
	if p.Named != nil {
		return p.Named, nil
	}
	return p.List, nil
}

// Params is the filtered view of an EstimationConfig handed to an estimator.
type Params struct {
	VariogramModel      string
	VariogramParameters *VariogramParameters
	NLags               int
	AnisotropyScalingY  float64
	AnisotropyScalingZ  float64
	AnisotropyAngleX    float64
	AnisotropyAngleY    float64
	AnisotropyAngleZ    float64
	NClosestPoints      int
}

// Defaults returns the built-in configuration.
func Defaults() *EstimationConfig {
	return &EstimationConfig{
		Algorithm:          Ordinary,
		VariogramModel:     "gaussian",
		NLags:              6,
		AnisotropyScalingY: 1.0,
		AnisotropyScalingZ: 1.0,
	}
}

// Source describes where an override comes from. The zero value means
// defaults only. Values takes precedence over Path when both are set.
type Source struct {
	Path   string
	Values map[string]any
}

// Resolve builds the configuration for a run.
//
// The returned configuration is always usable. A non-nil error never means the
// run must stop: it joins one *LoadError per problem (missing file, unknown
// extension, corrupt content, bad value) describing what was ignored.
func Resolve(src Source) (*EstimationConfig, error) {
	cfg := Defaults()

	var values map[string]any
	var errs []error
	switch {
	case src.Values != nil:
		values = src.Values
	case src.Path != "":
		values, errs = readFile(src.Path)
	default:
		return cfg, nil
	}

	errs = append(errs, cfg.apply(values, src.Path)...)
	return cfg, joinErrors(errs)
}

// Select returns the parameters relevant to the given estimator family.
func (c *EstimationConfig) Select(family Family) (Params, error) {
	if _, ok := familyKeys[family]; !ok {
		return Params{}, fmt.Errorf("unknown estimator family %q", family)
	}
	return Params{
		VariogramModel:      c.VariogramModel,
		VariogramParameters: c.VariogramParameters.clone(),
		NLags:               c.NLags,
		AnisotropyScalingY:  c.AnisotropyScalingY,
		AnisotropyScalingZ:  c.AnisotropyScalingZ,
		AnisotropyAngleX:    c.AnisotropyAngleX,
		AnisotropyAngleY:    c.AnisotropyAngleY,
		AnisotropyAngleZ:    c.AnisotropyAngleZ,
		NClosestPoints:      c.NClosestPoints,
	}, nil
}

// Keys returns the configuration keys an estimator family consumes.
func Keys(family Family) []string {
	keys := familyKeys[family]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// Map returns every recognised key with its current value.
func (c *EstimationConfig) Map() map[string]any {
	m := Params{
		VariogramModel:      c.VariogramModel,
		VariogramParameters: c.VariogramParameters,
		NLags:               c.NLags,
		AnisotropyScalingY:  c.AnisotropyScalingY,
		AnisotropyScalingZ:  c.AnisotropyScalingZ,
		AnisotropyAngleX:    c.AnisotropyAngleX,
		AnisotropyAngleY:    c.AnisotropyAngleY,
		AnisotropyAngleZ:    c.AnisotropyAngleZ,
		NClosestPoints:      c.NClosestPoints,
	}.Map()
	m[KeyAlgorithm] = string(c.Algorithm)
	return m
}

// ExtraKeys returns the unrecognised keys in lexical order.
func (c *EstimationConfig) ExtraKeys() []string {
	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns the parameters as a key/value mapping using the file key names.
func (p Params) Map() map[string]any {
	m := map[string]any{
		KeyVariogramModel:      p.VariogramModel,
		KeyVariogramParameters: nil,
		KeyNLags:               p.NLags,
		KeyAnisotropyScalingY:  p.AnisotropyScalingY,
		KeyAnisotropyScalingZ:  p.AnisotropyScalingZ,
		KeyAnisotropyAngleX:    p.AnisotropyAngleX,
		KeyAnisotropyAngleY:    p.AnisotropyAngleY,
		KeyAnisotropyAngleZ:    p.AnisotropyAngleZ,
		KeyNClosestPoints:      p.NClosestPoints,
	}
	if p.VariogramParameters != nil {
		if p.VariogramParameters.Named != nil {
			m[KeyVariogramParameters] = p.VariogramParameters.Named
		} else {
			m[KeyVariogramParameters] = p.VariogramParameters.List
		}
	}
	return m
}

func (p *VariogramParameters) clone() *VariogramParameters {
	if p == nil {
		return nil
	}
	out := &VariogramParameters{}
	if p.List != nil {
		out.List = append([]float64(nil), p.List...)
	}
	if p.Named != nil {
		out.Named = make(map[string]float64, len(p.Named))
		for k, v := range p.Named {
			out.Named[k] = v
		}
	}
	return out
}

// Save writes the configuration to a YAML file
func Save(cfg *EstimationConfig, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return Save(Defaults(), configPath)
}
