package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/shaiso/omnipost/internal/domain"
)

// platformConfigSchema — JSON Schema конфигурации платформы.
//
// Шаг action — массив [request, expected_status_code, variable_mapping].
const platformConfigSchema = `{
  "type": "object",
  "required": ["ACTIONS"],
  "properties": {
    "INSTANCE": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "ACTIONS": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "minItems": 1,
        "items": {"$ref": "#/definitions/step"}
      }
    }
  },
  "definitions": {
    "step": {
      "type": "array",
      "minItems": 3,
      "maxItems": 3,
      "items": [
        {"$ref": "#/definitions/request"},
        {"type": "integer", "minimum": 100, "maximum": 599},
        {"type": "object", "additionalProperties": {"type": "string"}}
      ]
    },
    "scalar": {"type": ["string", "number", "boolean"]},
    "request": {
      "type": "object",
      "required": ["method"],
      "properties": {
        "base_url": {"type": "string"},
        "endpoint": {"type": "string"},
        "method":   {"type": "string", "minLength": 1},
        "headers":  {"type": "object", "additionalProperties": {"$ref": "#/definitions/scalar"}},
        "params":   {"type": "object", "additionalProperties": {"$ref": "#/definitions/scalar"}},
        "payload":  {"type": "object"}
      }
    }
  }
}`

var compiledSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(platformConfigSchema))
	if err != nil {
		panic(fmt.Sprintf("platform config schema: %v", err))
	}
	compiledSchema = schema
}

// Допустимые HTTP-методы.
var validMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"HEAD":    true,
	"OPTIONS": true,
}

// ParsePlatformConfig разбирает и валидирует конфигурацию платформы.
//
// Сначала документ проверяется по JSON Schema, затем выполняются
// структурные проверки (Validate). Невалидная конфигурация отклоняется
// при загрузке, а не посреди выполнения action.
func ParsePlatformConfig(data []byte) (*domain.PlatformConfig, error) {
	if err := validateSchema(gojsonschema.NewBytesLoader(data)); err != nil {
		return nil, err
	}

	var cfg domain.PlatformConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, NewValidationError("", 0, err.Error())
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateSchema проверяет документ по JSON Schema.
func validateSchema(doc gojsonschema.JSONLoader) error {
	result, err := compiledSchema.Validate(doc)
	if err != nil {
		return NewValidationError("", 0, fmt.Sprintf("malformed document: %v", err))
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	sort.Strings(msgs)
	return NewValidationError("", 0, strings.Join(msgs, "; "))
}

// Validate выполняет структурную валидацию уже разобранной конфигурации.
//
// Проверяет:
// - Наличие хотя бы одного action
// - Непустой список шагов
// - Допустимый HTTP-метод и код ответа
// - Непустые ключи состояния в variable_mapping
// - Не более одного терминального шага, и он последний
func Validate(cfg *domain.PlatformConfig) error {
	if cfg == nil || len(cfg.Actions) == 0 {
		return NewValidationError("", 0, "platform config has no actions")
	}

	// Сортируем, чтобы ошибка была детерминированной
	names := make([]string, 0, len(cfg.Actions))
	for name := range cfg.Actions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ValidateAction(name, cfg.Actions[name]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAction валидирует шаги одного action.
func ValidateAction(name string, steps []domain.ActionStep) error {
	if name == "" {
		return NewValidationError("", 0, "action has empty name")
	}
	if len(steps) == 0 {
		return NewValidationError(name, 0, "action has no steps")
	}

	terminalAt := 0
	for i := range steps {
		step := &steps[i]
		index := i + 1

		if err := validateStep(name, index, step); err != nil {
			return err
		}

		if step.IsTerminal() {
			if terminalAt != 0 {
				return NewValidationError(name, index,
					fmt.Sprintf("second terminal step (first is step %d)", terminalAt))
			}
			terminalAt = index
		}
	}

	if terminalAt != 0 && terminalAt != len(steps) {
		return NewValidationError(name, terminalAt, "terminal step must be the last step")
	}
	return nil
}

// validateStep проверяет один шаг.
func validateStep(action string, index int, step *domain.ActionStep) error {
	method := strings.ToUpper(step.Request.Method)
	if !validMethods[method] {
		return NewValidationError(action, index,
			fmt.Sprintf("unsupported method %q", step.Request.Method))
	}

	if step.ExpectedStatus < 100 || step.ExpectedStatus > 599 {
		return NewValidationError(action, index,
			fmt.Sprintf("expected status %d out of range", step.ExpectedStatus))
	}

	for key, dest := range step.VariableMapping {
		if key == domain.TerminalRequest {
			continue
		}
		if key == "" {
			return NewValidationError(action, index, "variable mapping has empty response key")
		}
		if dest == "" {
			return NewValidationError(action, index,
				fmt.Sprintf("variable mapping %q has empty destination", key))
		}
	}
	return nil
}

// IsValidMethod проверяет, является ли HTTP-метод допустимым.
func IsValidMethod(method string) bool {
	return validMethods[strings.ToUpper(method)]
}
