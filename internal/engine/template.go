package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shaiso/omnipost/internal/domain"
)

// Bindings — набор подстановок: плейсхолдер → значение.
type Bindings map[string]string

// Request — конкретный HTTP-запрос после подстановки.
type Request struct {
	BaseURL  string            `json:"base_url"`
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	Params   map[string]string `json:"params"`
	Payload  map[string]any    `json:"payload"`
}

// URL возвращает base_url + endpoint.
func (r *Request) URL() string {
	return r.BaseURL + r.Endpoint
}

// Options — режимы подстановки.
type Options struct {
	// Strict — ошибка ErrUnresolvedPlaceholder, если после подстановки
	// остался {{KEY}} или ключ из Declared.
	Strict bool

	// Delimited — плейсхолдеры записываются как {{KEY}}, а не просто KEY.
	Delimited bool

	// Declared — ключи, которые обязаны быть разрешены в strict режиме
	// (обычно ключи INSTANCE платформы).
	Declared []string
}

// Substitutor подставляет значения в шаблон запроса.
type Substitutor struct {
	opts Options
}

// NewSubstitutor создаёт Substitutor с заданными режимами.
func NewSubstitutor(opts Options) *Substitutor {
	return &Substitutor{opts: opts}
}

// delimitedToken находит {{KEY}} в тексте шаблона.
var delimitedToken = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

var defaultSubstitutor = NewSubstitutor(Options{})

// Substitute подставляет bindings в шаблон с режимами по умолчанию:
// голые плейсхолдеры, неразрешённые остаются как есть.
func Substitute(tmpl domain.RequestTemplate, bindings ...Bindings) (*Request, error) {
	return defaultSubstitutor.Substitute(tmpl, bindings...)
}

// Substitute подставляет bindings в шаблон.
//
// Шаблон сериализуется в JSON, каждое вхождение ключа заменяется
// JSON-экранированным значением, результат разбирается обратно.
// Наборы объединяются по порядку: более поздний набор переопределяет
// одинаковые ключи более раннего.
func (s *Substitutor) Substitute(tmpl domain.RequestTemplate, bindings ...Bindings) (*Request, error) {
	// 1. Сериализуем шаблон
	text, err := encode(tmpl)
	if err != nil {
		return nil, &TemplateError{Stage: "encode", Err: fmt.Errorf("%w: %v", ErrTemplate, err)}
	}

	// 2. Объединяем наборы
	merged := merge(bindings)

	// 3. Strict: проверяем до замены, чтобы значения не давали ложных срабатываний
	if s.opts.Strict {
		if err := s.checkResolved(text, merged); err != nil {
			return nil, &TemplateError{Stage: "strict", Err: err}
		}
	}

	// 4. Заменяем
	if len(merged) > 0 {
		text = s.replacer(merged).Replace(text)
	}

	// 5. Разбираем обратно
	var req Request
	if err := json.Unmarshal([]byte(text), &req); err != nil {
		return nil, &TemplateError{Stage: "decode", Err: fmt.Errorf("%w: %v", ErrTemplate, err)}
	}
	return &req, nil
}

// replacer строит однопроходный strings.Replacer.
// Пары упорядочены от длинного ключа к короткому: при совпадении
// в одной позиции побеждает более длинный ключ.
func (s *Substitutor) replacer(merged Bindings) *strings.Replacer {
	keys := make([]string, 0, len(merged))
	for k := range merged {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, s.token(k), escape(merged[k]))
	}
	return strings.NewReplacer(pairs...)
}

// checkResolved проверяет, что все обязательные плейсхолдеры имеют значения.
func (s *Substitutor) checkResolved(text string, merged Bindings) error {
	for _, m := range delimitedToken.FindAllStringSubmatch(text, -1) {
		if _, ok := merged[m[1]]; !ok {
			return fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, m[0])
		}
	}

	declared := append([]string(nil), s.opts.Declared...)
	sort.Strings(declared)
	for _, key := range declared {
		if _, ok := merged[key]; ok {
			continue
		}
		if strings.Contains(text, s.token(key)) {
			return fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, key)
		}
	}
	return nil
}

func (s *Substitutor) token(key string) string {
	if s.opts.Delimited {
		return "{{" + key + "}}"
	}
	return key
}

func merge(sets []Bindings) Bindings {
	merged := make(Bindings)
	for _, set := range sets {
		for k, v := range set {
			merged[k] = v
		}
	}
	return merged
}

// encode сериализует значение без HTML-экранирования,
// чтобы плейсхолдеры с & < > оставались буквальными.
func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// escape возвращает значение, экранированное для вставки внутрь JSON-строки.
func escape(value string) string {
	quoted, err := encode(value)
	if err != nil {
		return value
	}
	return quoted[1 : len(quoted)-1]
}
