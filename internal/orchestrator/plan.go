package orchestrator

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParsePlan reads the planning response: a JSON array of
// {"description": string, "tool": string|null} objects. A surrounding
// markdown code fence is tolerated. Any other shape is an ErrPlanParse.
func ParsePlan(text string) ([]PlanStep, error) {
	raw := stripFence(strings.TrimSpace(text))
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrPlanParse)
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: response is not valid JSON", ErrPlanParse)
	}

	root := gjson.Parse(raw)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: expected a JSON array, got %s", ErrPlanParse, root.Type)
	}

	steps := []PlanStep{}
	var err error
	root.ForEach(func(key, value gjson.Result) bool {
		i := int(key.Int())
		if !value.IsObject() {
			err = fmt.Errorf("%w: step %d is not an object", ErrPlanParse, i)
			return false
		}
		desc := value.Get("description")
		if desc.Type != gjson.String || strings.TrimSpace(desc.String()) == "" {
			err = fmt.Errorf("%w: step %d is missing a description", ErrPlanParse, i)
			return false
		}

		step := PlanStep{Description: desc.String()}
		switch tool := value.Get("tool"); tool.Type {
		case gjson.Null:
		case gjson.String:
			if name := tool.String(); name != "" {
				step.Tool = &name
			}
		default:
			err = fmt.Errorf("%w: step %d has a non-string tool", ErrPlanParse, i)
			return false
		}
		steps = append(steps, step)
		return true
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// stripFence removes a ```json ... ``` wrapper.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
