package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// TerminalRequest — специальное значение в VariableMapping.
// Отмечает шаг как финальный для action: после его успешного выполнения
// создаётся уведомление об успехе, поле из ответа не извлекается.
const TerminalRequest = "terminal_request"

// Platform — описание стороннего API (например, "X", "Instagram").
//
// Platform создаётся оператором и для ядра доступна только на чтение.
// Конфигурация описывает, какие credentials нужны экземпляру
// и какие HTTP-запросы выполняет каждое action.
type Platform struct {
	// ID — уникальный идентификатор платформы.
	ID uuid.UUID `json:"id"`

	// Name — имя платформы. Используется как ключ в Post.Configs.
	Name string `json:"name"`

	// Config — декларативное описание (содержимое JSONB поля config).
	Config PlatformConfig `json:"config"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// PlatformConfig — конфигурация платформы.
//
// Формат:
//
//	{
//	  "INSTANCE": {"ACCESS_TOKEN": "OAuth token", ...},
//	  "ACTIONS": {
//	    "POST_TEXT": [
//	      [request, 201, {"id": "terminal_request"}],
//	      ...
//	    ]
//	  }
//	}
type PlatformConfig struct {
	// Instance — схема credentials экземпляра: ключ → описание.
	Instance map[string]string `json:"INSTANCE"`

	// Actions — action → упорядоченный список шагов.
	Actions map[string][]ActionStep `json:"ACTIONS"`
}

// Action возвращает шаги action и флаг наличия.
func (c *PlatformConfig) Action(name string) ([]ActionStep, bool) {
	steps, ok := c.Actions[name]
	return steps, ok
}

// RequestTemplate — шаблон HTTP-запроса.
//
// Любое строковое значение может содержать плейсхолдеры — имена
// credentials или полей Post.Configs (например, "Bearer ACCESS_TOKEN").
type RequestTemplate struct {
	BaseURL  string         `json:"base_url"`
	Endpoint string         `json:"endpoint"`
	Method   string         `json:"method"`
	Headers  ScalarMap      `json:"headers"`
	Params   ScalarMap      `json:"params"`
	Payload  map[string]any `json:"payload"`
}

// ScalarMap — заголовки или query params шаблона.
//
// В JSON значения могут быть строкой, числом или boolean;
// числа и boolean хранятся в текстовом виде ("10", "true").
type ScalarMap map[string]string

// UnmarshalJSON реализует json.Unmarshaler.
func (m *ScalarMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}

	out := make(ScalarMap, len(raw))
	for key, val := range raw {
		text, err := scalarText(val)
		if err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}
		out[key] = text
	}
	*m = out
	return nil
}

// scalarText возвращает текст скалярного JSON-значения.
func scalarText(val json.RawMessage) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(val))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}

	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("value must be a string, number or boolean, got %s", bytes.TrimSpace(val))
	}
}

// ActionStep — один шаг action.
//
// В JSON хранится как массив из трёх элементов:
//
//	[request, expected_status_code, variable_mapping]
type ActionStep struct {
	// Request — шаблон запроса.
	Request RequestTemplate

	// ExpectedStatus — ожидаемый HTTP-код ответа.
	ExpectedStatus int

	// VariableMapping — ключ в JSON ответа → ключ в Post.Configs[platform].
	// Значение TerminalRequest отмечает финальный шаг.
	VariableMapping map[string]string
}

// IsTerminal возвращает true, если шаг завершает action.
//
// Маркер принимается как в значении (основная форма), так и в ключе
// (форма, встречающаяся в старых конфигурациях).
func (s *ActionStep) IsTerminal() bool {
	for key, dest := range s.VariableMapping {
		if dest == TerminalRequest || key == TerminalRequest {
			return true
		}
	}
	return false
}

// Extractions возвращает пары (ключ ответа → ключ состояния) без маркера.
func (s *ActionStep) Extractions() map[string]string {
	out := make(map[string]string, len(s.VariableMapping))
	for key, dest := range s.VariableMapping {
		if dest == TerminalRequest || key == TerminalRequest {
			continue
		}
		out[key] = dest
	}
	return out
}

// MarshalJSON сериализует шаг в массив из трёх элементов.
func (s ActionStep) MarshalJSON() ([]byte, error) {
	mapping := s.VariableMapping
	if mapping == nil {
		mapping = map[string]string{}
	}
	return json.Marshal([]any{s.Request, s.ExpectedStatus, mapping})
}

// UnmarshalJSON разбирает массив [request, code, mapping].
func (s *ActionStep) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("action step must be an array: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("action step must have 3 elements, got %d", len(raw))
	}

	var step ActionStep
	if err := json.Unmarshal(raw[0], &step.Request); err != nil {
		return fmt.Errorf("action step request: %w", err)
	}
	if err := json.Unmarshal(raw[1], &step.ExpectedStatus); err != nil {
		return fmt.Errorf("action step expected status: %w", err)
	}
	if err := json.Unmarshal(raw[2], &step.VariableMapping); err != nil {
		return fmt.Errorf("action step variable mapping: %w", err)
	}
	if step.VariableMapping == nil {
		step.VariableMapping = map[string]string{}
	}

	*s = step
	return nil
}
