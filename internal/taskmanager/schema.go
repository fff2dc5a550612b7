package taskmanager

import (
	"fmt"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// fieldSchema mirrors the teacher's api-gateway PropertySchema, narrowed to
// what the five closed-set task types need: bounded strings, enums, numeric
// ranges.
type fieldSchema struct {
	Type      string // string, number, integer, array
	Required  bool
	MinLength int
	MaxLength int
	Min       float64
	Max       float64
	Enum      []string
}

// typeSchema is the per-taskType input contract.
type typeSchema struct {
	Fields map[string]fieldSchema
}

// schemas is the closed-set table named in spec §4.5.
var schemas = map[task.Type]typeSchema{
	task.TypeImageGeneration: {Fields: map[string]fieldSchema{
		"prompt": {Type: "string", Required: true, MinLength: 1, MaxLength: 4000},
		"style":  {Type: "string", Enum: []string{"photo", "illustration", "3d", "sketch"}},
		"width":  {Type: "integer", Min: 64, Max: 2048},
		"height": {Type: "integer", Min: 64, Max: 2048},
	}},
	task.TypeSummaryGeneration: {Fields: map[string]fieldSchema{
		"text":         {Type: "string", Required: true, MinLength: 1, MaxLength: 200000},
		"maxSentences": {Type: "integer", Min: 1, Max: 20},
	}},
	task.TypeResearcher: {Fields: map[string]fieldSchema{
		"query": {Type: "string", Required: true, MinLength: 1, MaxLength: 2000},
		"depth": {Type: "string", Enum: []string{"shallow", "standard", "deep"}},
	}},
	task.TypeWriter: {Fields: map[string]fieldSchema{
		"brief": {Type: "string", Required: true, MinLength: 1, MaxLength: 10000},
		"tone":  {Type: "string", Enum: []string{"formal", "casual", "technical"}},
	}},
	task.TypeMarketResearch: {Fields: map[string]fieldSchema{
		"sector":   {Type: "string", Required: true, MinLength: 1, MaxLength: 200},
		"region":   {Type: "string", MaxLength: 200},
		"horizonYears": {Type: "integer", Min: 1, Max: 10},
	}},
}

// validateInput checks params against taskType's schema, returning a
// task.Error{Kind: Validation} on the first violation.
func validateInput(taskType task.Type, params map[string]any) error {
	schema, ok := schemas[taskType]
	if !ok {
		return task.ErrUnsupportedTaskType(taskType)
	}

	for name, field := range schema.Fields {
		value, present := params[name]
		if !present {
			if field.Required {
				return task.ErrSchemaViolation(fmt.Sprintf("field %q is required", name))
			}
			continue
		}
		if err := validateField(name, value, field); err != nil {
			return err
		}
	}
	return nil
}

func validateField(name string, value any, field fieldSchema) error {
	switch field.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return task.ErrSchemaViolation(fmt.Sprintf("field %q must be a string", name))
		}
		if field.MinLength > 0 && len(s) < field.MinLength {
			return task.ErrSchemaViolation(fmt.Sprintf("field %q shorter than minimum length %d", name, field.MinLength))
		}
		if field.MaxLength > 0 && len(s) > field.MaxLength {
			return task.ErrSchemaViolation(fmt.Sprintf("field %q longer than maximum length %d", name, field.MaxLength))
		}
		if len(field.Enum) > 0 {
			found := false
			for _, allowed := range field.Enum {
				if s == allowed {
					found = true
					break
				}
			}
			if !found {
				return task.ErrSchemaViolation(fmt.Sprintf("field %q must be one of %v", name, field.Enum))
			}
		}
	case "integer", "number":
		var n float64
		switch v := value.(type) {
		case float64:
			n = v
		case int:
			n = float64(v)
		case int64:
			n = float64(v)
		default:
			return task.ErrSchemaViolation(fmt.Sprintf("field %q must be numeric", name))
		}
		if field.Min != 0 && n < field.Min {
			return task.ErrSchemaViolation(fmt.Sprintf("field %q below minimum %v", name, field.Min))
		}
		if field.Max != 0 && n > field.Max {
			return task.ErrSchemaViolation(fmt.Sprintf("field %q above maximum %v", name, field.Max))
		}
	}
	return nil
}
