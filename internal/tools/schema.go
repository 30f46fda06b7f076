package tools

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ParamType is the JSON type a parameter must have.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Param declares one named tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
}

// Args holds parameters that passed validation, already coerced to their
// declared types (string, float64, int or bool).
type Args struct {
	values map[string]any
}

// NewArgs builds Args directly, for handlers invoked outside Dispatch.
func NewArgs(values map[string]any) Args {
	return Args{values: values}
}

func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a.values[name].(string)
	return s
}

func (a Args) Int(name string, def int) int {
	if n, ok := a.values[name].(int); ok {
		return n
	}
	return def
}

func (a Args) Float(name string) float64 {
	f, _ := a.values[name].(float64)
	return f
}

func (a Args) Bool(name string, def bool) bool {
	if b, ok := a.values[name].(bool); ok {
		return b
	}
	return def
}

// ValidationError describes parameters that do not match a tool's schema.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// validate checks raw against params and returns coerced Args. Unknown keys
// are ignored. Numbers may arrive as JSON numbers or numeric strings.
func validate(tool string, params []Param, raw map[string]any) (Args, error) {
	values := make(map[string]any, len(params))
	var problems []string

	for _, p := range params {
		v, present := raw[p.Name]
		if !present || v == nil || v == "" {
			if p.Required {
				problems = append(problems, fmt.Sprintf("%s is required", p.Name))
			}
			continue
		}

		coerced, err := coerce(p.Type, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s %v", p.Name, err))
			continue
		}
		if len(p.Enum) > 0 {
			s, _ := coerced.(string)
			if !contains(p.Enum, s) {
				problems = append(problems, fmt.Sprintf("%s must be one of %s", p.Name, strings.Join(p.Enum, ", ")))
				continue
			}
		}
		values[p.Name] = coerced
	}

	if len(problems) > 0 {
		return Args{}, &ValidationError{Tool: tool, Problems: problems}
	}
	return Args{values: values}, nil
}

func coerce(t ParamType, v any) (any, error) {
	switch t {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case float64, int, bool:
			return fmt.Sprint(x), nil
		}
	case TypeNumber:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, nil
			}
		}
	case TypeInteger:
		switch x := v.(type) {
		case int:
			return x, nil
		case float64:
			if x == math.Trunc(x) {
				return int(x), nil
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
				return n, nil
			}
		}
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b, nil
			}
		}
	}
	return nil, fmt.Errorf("must be of type %s", t)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Property is one entry of a JSON schema object.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Schema is the JSON schema of a tool's parameters.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Definition is the exported description of a tool, suitable for configuring
// the remote agent.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

func definitionOf(t Tool) Definition {
	s := Schema{
		Type:       "object",
		Properties: make(map[string]Property, len(t.Params)),
		Required:   []string{},
	}
	for _, p := range t.Params {
		s.Properties[p.Name] = Property{Type: string(p.Type), Description: p.Description, Enum: p.Enum}
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	sort.Strings(s.Required)
	return Definition{Name: t.Name, Description: t.Description, Parameters: s}
}
