package ballot

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/Knetic/govaluate"
)

// EvaluateRule evaluates an enrollment eligibility expression against a
// voter's attribute document. An empty rule admits everyone. Supports
// "true"/"false" literals.
func EvaluateRule(rule string, attributes json.RawMessage) (bool, error) {
	expr := strings.TrimSpace(rule)
	if expr == "" {
		return true, nil
	}
	switch strings.ToLower(expr) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	params := buildAttributeParams(attributes)
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return false, err
	}
	result, err := compiled.Evaluate(params)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, errors.New("eligibility rule did not evaluate to boolean")
	}
}

func buildAttributeParams(attributes json.RawMessage) map[string]interface{} {
	params := map[string]interface{}{}
	if len(attributes) == 0 {
		return params
	}
	var raw interface{}
	if err := json.Unmarshal(attributes, &raw); err != nil {
		return params
	}
	if m, ok := raw.(map[string]interface{}); ok {
		for k, v := range m {
			params[k] = v
		}
		flattenAttributes("", m, params)
	}
	return params
}

func flattenAttributes(prefix string, m map[string]interface{}, out map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			flattenAttributes(key, vv, out)
		default:
			out[key] = vv
		}
	}
}
