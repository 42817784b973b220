package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SweepJob is one concrete job expanded from a sweep config, together
// with the parameter values that produced it.
type SweepJob struct {
	Config *JobConfig
	Params map[string]any
}

// IsSweep reports whether the file at path carries a top-level sweep
// section.
func IsSweep(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return false
	}
	_, ok := raw["sweep"]
	return ok
}

// LoadSweep expands a sweep config into the cartesian product of its
// parameter lists. Each sweep key is a dotted path into the job config
// (e.g. "backend.sglang_config.shared.max_running_requests"); each value
// list contributes one axis. Every generated config is validated and
// named after the base config plus its parameter values.
func LoadSweep(path string) ([]SweepJob, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}

	sweepRaw, ok := raw["sweep"]
	if !ok {
		return nil, fmt.Errorf("%s: no sweep section", path)
	}
	delete(raw, "sweep")

	axes, err := sweepAxes(sweepRaw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	baseName, _ := raw["name"].(string)
	var jobs []SweepJob
	for _, combo := range cartesian(axes) {
		doc := deepCopyMap(raw)
		suffix := make([]string, 0, len(combo))
		params := make(map[string]any, len(combo))
		for _, pv := range combo {
			if err := setPath(doc, pv.path, pv.value); err != nil {
				return nil, fmt.Errorf("%s: sweep param %s: %w", path, pv.path, err)
			}
			params[pv.path] = pv.value
			suffix = append(suffix, fmt.Sprintf("%s%v", leaf(pv.path), pv.value))
		}
		doc["name"] = fmt.Sprintf("%s_%s", baseName, strings.Join(suffix, "_"))

		cfg, err := fromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s (params %v): %w", path, params, err)
		}
		jobs = append(jobs, SweepJob{Config: cfg, Params: params})
	}
	return jobs, nil
}

// paramValue is one (dotted path, value) assignment in a combination.
type paramValue struct {
	path  string
	value any
}

// sweepAxes normalizes the sweep section into sorted (path, values)
// axes so expansion order is deterministic.
func sweepAxes(raw any) ([][]paramValue, error) {
	section, ok := raw.(map[string]any)
	if !ok || len(section) == 0 {
		return nil, fmt.Errorf("sweep section must be a non-empty mapping")
	}
	paths := make([]string, 0, len(section))
	for p := range section {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	axes := make([][]paramValue, 0, len(paths))
	for _, p := range paths {
		values, ok := section[p].([]any)
		if !ok || len(values) == 0 {
			return nil, fmt.Errorf("sweep param %s must be a non-empty list", p)
		}
		axis := make([]paramValue, len(values))
		for i, v := range values {
			axis[i] = paramValue{path: p, value: v}
		}
		axes = append(axes, axis)
	}
	return axes, nil
}

// cartesian expands axes into every combination, preserving axis order.
func cartesian(axes [][]paramValue) [][]paramValue {
	combos := [][]paramValue{{}}
	for _, axis := range axes {
		var next [][]paramValue
		for _, combo := range combos {
			for _, v := range axis {
				ext := make([]paramValue, len(combo), len(combo)+1)
				copy(ext, combo)
				next = append(next, append(ext, v))
			}
		}
		combos = next
	}
	return combos
}

// setPath assigns value at a dotted path, creating intermediate maps.
func setPath(doc map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		child, ok := cur[part]
		if !ok || child == nil {
			m := make(map[string]any)
			cur[part] = m
			cur = m
			continue
		}
		m, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a mapping", part)
		}
		cur = m
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

func leaf(path string) string {
	parts := strings.Split(path, ".")
	return parts[len(parts)-1]
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = deepCopyValue(e)
		}
		return cp
	default:
		return v
	}
}

// fromDocument round-trips a raw document through YAML into the typed
// config.
func fromDocument(doc map[string]any) (*JobConfig, error) {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var cfg JobConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
