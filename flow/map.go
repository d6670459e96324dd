package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// MapConfig declares how to rebuild the input for the entry following a
// Map entry. Each key becomes a field of the produced object; each
// target names where the value comes from.
//
// Example:
//
//	wf.Map(flow.MapConfig{
//	    "total":    flow.FromStep(sum, "value"),
//	    "currency": flow.FromValue("EUR"),
//	    "userId":   flow.FromInit("user.id"),
//	})
type MapConfig map[string]MapTarget

type mapTargetKind int

const (
	targetStep mapTargetKind = iota
	targetInit
	targetValue
	targetRuntimeContext
	targetFunc
)

// MapTarget is one value source inside a MapConfig. Build targets with
// the From* constructors.
type MapTarget struct {
	kind  mapTargetKind
	step  *Step
	path  string
	value any
	key   string
	fn    func(ctx context.Context, sc *StepContext) (any, error)
}

// FromStep resolves a dotted path in the named step's recorded output.
// An empty path selects the whole output. A missing intermediate fails
// the map step.
func FromStep(step *Step, path string) MapTarget {
	return MapTarget{kind: targetStep, step: step, path: path}
}

// FromInit resolves a dotted path in the run's initial input.
func FromInit(path string) MapTarget {
	return MapTarget{kind: targetInit, path: path}
}

// FromValue uses a literal value.
func FromValue(value any) MapTarget {
	return MapTarget{kind: targetValue, value: value}
}

// FromRuntimeContext reads a key from the run's runtime context. A
// missing key fails the map step.
func FromRuntimeContext(key string) MapTarget {
	return MapTarget{kind: targetRuntimeContext, key: key}
}

// FromFunc computes the value with a function evaluated on the map
// step's context, as in the functional Map form.
func FromFunc(fn func(ctx context.Context, sc *StepContext) (any, error)) MapTarget {
	return MapTarget{kind: targetFunc, fn: fn}
}

func (t MapTarget) resolve(ctx context.Context, sc *StepContext) (any, error) {
	switch t.kind {
	case targetStep:
		output, ok := sc.GetStepResult(t.step.ID)
		if !ok {
			return nil, fmt.Errorf("no result recorded for step %q", t.step.ID)
		}
		return resolvePath(output, t.path)
	case targetInit:
		return resolvePath(sc.GetInitData(), t.path)
	case targetValue:
		return t.value, nil
	case targetRuntimeContext:
		v, ok := sc.RuntimeContext().Get(t.key)
		if !ok {
			return nil, fmt.Errorf("runtime context has no key %q", t.key)
		}
		return v, nil
	case targetFunc:
		return t.fn(ctx, sc)
	}
	return nil, fmt.Errorf("invalid map target")
}

// resolvePath descends dotted object fields in a JSON-compatible value.
// An empty path returns the value itself; a missing intermediate is an
// error.
func resolvePath(value any, path string) (any, error) {
	if path == "" {
		return value, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value at path %q is not JSON-serializable: %w", path, err)
	}
	result := gjson.GetBytes(data, path)
	if !result.Exists() {
		return nil, fmt.Errorf("path %q not found", path)
	}
	return result.Value(), nil
}

// mapStep builds the synthetic step for a Map entry. The id is derived
// from the entry index so snapshots and tests are reproducible.
func mapStep(entryIndex int, cfg MapConfig) *Step {
	return &Step{
		ID:          fmt.Sprintf("map@%d", entryIndex),
		Description: "input mapping",
		mapping:     true,
		Execute: func(ctx context.Context, sc *StepContext) (any, error) {
			out := make(map[string]any, len(cfg))
			for key, target := range cfg {
				v, err := target.resolve(ctx, sc)
				if err != nil {
					return nil, fmt.Errorf("map field %q: %w", key, err)
				}
				out[key] = v
			}
			return out, nil
		},
	}
}

// mapFuncStep builds the synthetic step for the functional Map form.
func mapFuncStep(entryIndex int, fn func(ctx context.Context, sc *StepContext) (any, error)) *Step {
	return &Step{
		ID:          fmt.Sprintf("map@%d", entryIndex),
		Description: "input mapping",
		mapping:     true,
		Execute: func(ctx context.Context, sc *StepContext) (any, error) {
			return fn(ctx, sc)
		},
	}
}
