package worker

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shaiso/omnipost/internal/domain"
)

// Outcome — результат проверки ответа шага.
type Outcome struct {
	// Terminal — шаг завершает action.
	Terminal bool

	// Extracted — поля для записи в состояние платформы: ключ состояния → значение.
	Extracted map[string]string
}

// Evaluate проверяет код ответа и извлекает поля по variable_mapping.
//
// Код не совпал — UnexpectedStatusError с телом ответа.
// Ключа нет в ответе — ErrMissingResponseField; в этом случае
// не извлекается ничего, чтобы шаг не записал состояние частично.
func Evaluate(step *domain.ActionStep, resp *Response) (*Outcome, error) {
	if resp.StatusCode != step.ExpectedStatus {
		return nil, &UnexpectedStatusError{
			Expected: step.ExpectedStatus,
			Actual:   resp.StatusCode,
			Body:     string(resp.Body),
		}
	}

	outcome := &Outcome{
		Terminal:  step.IsTerminal(),
		Extracted: make(map[string]string),
	}

	extractions := step.Extractions()
	keys := make([]string, 0, len(extractions))
	for key := range extractions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw, ok := resp.JSON[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingResponseField, key)
		}
		outcome.Extracted[extractions[key]] = stringify(raw)
	}

	return outcome, nil
}

// stringify приводит значение из JSON к строке состояния.
// Строки — как есть, остальное — JSON-представление.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
