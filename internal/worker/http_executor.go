package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/omnipost/internal/engine"
	"github.com/shaiso/omnipost/internal/telemetry"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 << 20
)

// Response — ответ стороннего API.
type Response struct {
	// StatusCode — HTTP-код ответа.
	StatusCode int

	// Headers — заголовки ответа (первое значение каждого).
	Headers map[string]string

	// Body — тело ответа (не более 10 MB).
	Body []byte

	// JSON — тело, разобранное как JSON-объект (nil, если это не объект).
	// Числа сохраняются как json.Number.
	JSON map[string]any
}

// HTTPExecutor выполняет один HTTP-запрос шага.
type HTTPExecutor struct {
	// Client — HTTP-клиент (если nil — http.DefaultClient).
	Client *http.Client

	// Timeout — таймаут одного вызова (default: 30s).
	Timeout time.Duration
}

// NewHTTPExecutor создаёт HTTPExecutor с заданным таймаутом.
func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{Timeout: timeout}
}

// Do выполняет запрос: method, URL = base_url + endpoint, headers,
// query params и JSON body (только если payload не пуст).
//
// Сетевая ошибка или таймаут — TransportError.
// Любой полученный ответ, включая 4xx/5xx, возвращается без ошибки:
// проверка кода — задача Evaluate.
func (e *HTTPExecutor) Do(ctx context.Context, req *engine.Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	// 1. URL с query params
	target, err := buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}

	// 2. Таймаут
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 3. Body
	var bodyReader io.Reader
	if len(req.Payload) > 0 {
		body, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal payload: %v", ErrHTTPRequest, err)
		}
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}

	for key, val := range req.Headers {
		httpReq.Header.Set(key, val)
	}
	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	// 4. Выполняем
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		// *url.Error печатает полный URL вместе с query, а там бывают токены
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, &TransportError{Method: method, URL: redactURL(req.URL()), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportError{Method: method, URL: redactURL(req.URL()), Err: fmt.Errorf("read response: %w", err)}
	}

	telemetry.FromContext(ctx).Debug("remote API responded",
		"method", method,
		"url", redactURL(req.URL()),
		"status", resp.StatusCode,
		"bytes", len(body),
	)

	return buildResponse(resp, body), nil
}

// buildURL собирает base_url + endpoint и добавляет params.
func buildURL(req *engine.Request) (string, error) {
	u, err := url.Parse(req.URL())
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", redactURL(req.URL()))
	}

	if len(req.Params) > 0 {
		q := u.Query()
		for key, val := range req.Params {
			q.Set(key, val)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// redactURL убирает из URL query и userinfo.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	return u.String()
}

// buildResponse формирует Response из HTTP-ответа.
func buildResponse(resp *http.Response, body []byte) *Response {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	// Пробуем разобрать как JSON-объект
	var parsed map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		parsed = nil
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
		JSON:       parsed,
	}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
