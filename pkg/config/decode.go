package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxFileSize caps the size of a configuration file (1 MiB).
const maxFileSize = 1 << 20

// LoadError describes a configuration problem that was recovered from by
// keeping the default value.
type LoadError struct {
	// Path is the configuration file, empty for in-memory overrides
	Path string

	// Key is the offending key, empty for file-level problems
	Key string

	Err error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " key %q", e.Key)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

var (
	// ErrNotFound reports a configuration path that does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrUnknownFormat reports a file extension that is neither JSON nor YAML.
	ErrUnknownFormat = errors.New("unrecognised configuration format")
)

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// readFile loads the top-level mapping of a JSON or YAML file. Whatever could
// be decoded is returned alongside the problems encountered.
func readFile(path string) (map[string]any, []error) {
	fail := func(err error) (map[string]any, []error) {
		return nil, []error{&LoadError{Path: path, Err: err}}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fail(ErrNotFound)
		}
		return fail(err)
	}
	if info.Size() > maxFileSize {
		return fail(fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxFileSize))
	}

	var decode func([]byte) (map[string]any, error)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		decode = decodeJSON
	case ".yaml", ".yml":
		decode = decodeYAML
	default:
		return fail(fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path)))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}

	values, err := decode(data)
	if err != nil {
		return values, []error{&LoadError{Path: path, Err: err}}
	}
	return values, nil
}

// decodeJSON walks the top-level object pair by pair so that a damaged
// document still yields every pair decoded before the damage.
func decodeJSON(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	values := make(map[string]any)

	tok, err := dec.Token()
	if err != nil {
		return values, fmt.Errorf("parsing JSON: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return values, fmt.Errorf("parsing JSON: top level is not an object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return values, fmt.Errorf("parsing JSON: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return values, fmt.Errorf("parsing JSON: unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return values, fmt.Errorf("parsing JSON value of %q: %w", key, err)
		}
		values[key] = v
	}
	if _, err := dec.Token(); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return values, fmt.Errorf("parsing JSON: %w", err)
	}
	return values, nil
}

func decodeYAML(data []byte) (map[string]any, error) {
	values := make(map[string]any)
	if len(bytes.TrimSpace(data)) == 0 {
		return values, nil
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return values, fmt.Errorf("parsing YAML: %w", err)
	}
	return values, nil
}

// apply overlays values onto c. Keys are visited in lexical order so the
// reported problems are stable.
func (c *EstimationConfig) apply(values map[string]any, path string) []error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := c.set(key, values[key]); err != nil {
			errs = append(errs, &LoadError{Path: path, Key: key, Err: err})
		}
	}
	return errs
}

func (c *EstimationConfig) set(key string, raw any) error {
	switch key {
	case KeyAlgorithm:
		s, err := asString(raw)
		if err != nil {
			return err
		}
		family := Family(strings.ToLower(s))
		if _, ok := familyKeys[family]; !ok {
			return fmt.Errorf("unknown algorithm %q", s)
		}
		c.Algorithm = family
	case KeyVariogramModel:
		s, err := asString(raw)
		if err != nil {
			return err
		}
		s = strings.ToLower(s)
		if !slices.Contains(VariogramModels, s) {
			return fmt.Errorf("unknown variogram model %q", s)
		}
		c.VariogramModel = s
	case KeyVariogramParameters:
		p, err := asVariogramParameters(raw)
		if err != nil {
			return err
		}
		c.VariogramParameters = p
	case KeyNLags:
		n, err := asInt(raw)
		if err != nil {
			return err
		}
		if n < 1 || n > MaxNLags {
			return fmt.Errorf("must be between 1 and %d, got %d", MaxNLags, n)
		}
		c.NLags = n
	case KeyNClosestPoints:
		n, err := asInt(raw)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("must not be negative, got %d", n)
		}
		c.NClosestPoints = n
	case KeyAnisotropyScalingY, KeyAnisotropyScalingZ:
		f, err := asFloat(raw)
		if err != nil {
			return err
		}
		if !(f > 0) {
			return fmt.Errorf("must be positive, got %g", f)
		}
		if key == KeyAnisotropyScalingY {
			c.AnisotropyScalingY = f
		} else {
			c.AnisotropyScalingZ = f
		}
	case KeyAnisotropyAngleX, KeyAnisotropyAngleY, KeyAnisotropyAngleZ:
		f, err := asFloat(raw)
		if err != nil {
			return err
		}
		switch key {
		case KeyAnisotropyAngleX:
			c.AnisotropyAngleX = f
		case KeyAnisotropyAngleY:
			c.AnisotropyAngleY = f
		default:
			c.AnisotropyAngleZ = f
		}
	default:
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[key] = raw
	}
	return nil
}

func asString(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", raw)
	}
	return strings.TrimSpace(s), nil
}

func asFloat(raw any) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected a finite number, got %g", f)
	}
	return f, nil
}

func asInt(raw any) (int, error) {
	f, err := asFloat(raw)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("expected an integer, got %g", f)
	}
	if math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("integer %g out of range", f)
	}
	return int(f), nil
}

func asVariogramParameters(raw any) (*VariogramParameters, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		list := make([]float64, len(v))
		for i, item := range v {
			f, err := asFloat(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			list[i] = f
		}
		return &VariogramParameters{List: list}, nil
	case []float64:
		return &VariogramParameters{List: append([]float64(nil), v...)}, nil
	case map[string]any:
		named := make(map[string]float64, len(v))
		for k, item := range v {
			f, err := asFloat(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			named[strings.ToLower(k)] = f
		}
		return &VariogramParameters{Named: named}, nil
	case map[string]float64:
		named := make(map[string]float64, len(v))
		for k, f := range v {
			named[strings.ToLower(k)] = f
		}
		return &VariogramParameters{Named: named}, nil
	default:
		return nil, fmt.Errorf("expected a list or a mapping, got %T", raw)
	}
}
