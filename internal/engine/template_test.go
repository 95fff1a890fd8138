package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shaiso/omnipost/internal/domain"
)

func tweetTemplate() domain.RequestTemplate {
	return domain.RequestTemplate{
		BaseURL:  "https://api.x.com",
		Endpoint: "/2/tweets",
		Method:   "POST",
		Headers:  map[string]string{"Authorization": "Bearer ACCESS_TOKEN"},
		Params:   map[string]string{},
		Payload: map[string]any{
			"text":  "TEXT",
			"media": map[string]any{"media_ids": []any{"MEDIA_ID"}},
		},
	}
}

func TestSubstitute_NoBindingsIsIdentity(t *testing.T) {
	tmpl := tweetTemplate()

	req, err := Substitute(tmpl)
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}

	want := &Request{
		BaseURL:  tmpl.BaseURL,
		Endpoint: tmpl.Endpoint,
		Method:   tmpl.Method,
		Headers:  tmpl.Headers,
		Params:   tmpl.Params,
		Payload:  tmpl.Payload,
	}
	if !reflect.DeepEqual(req, want) {
		t.Errorf("expected %+v, got %+v", want, req)
	}

	req, err = Substitute(tmpl, Bindings{"UNUSED": "x"})
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if !reflect.DeepEqual(req, want) {
		t.Error("bindings without matches must not change the request")
	}
}

func TestSubstitute_CredentialsAndState(t *testing.T) {
	creds := Bindings{"ACCESS_TOKEN": "abc123"}
	state := Bindings{"TEXT": "hello", "MEDIA_ID": "m-1"}

	req, err := Substitute(tweetTemplate(), creds, state)
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}

	if got := req.Headers["Authorization"]; got != "Bearer abc123" {
		t.Errorf("expected Authorization 'Bearer abc123', got %q", got)
	}
	if got := req.Payload["text"]; got != "hello" {
		t.Errorf("expected text 'hello', got %v", got)
	}
	media := req.Payload["media"].(map[string]any)
	ids := media["media_ids"].([]any)
	if ids[0] != "m-1" {
		t.Errorf("expected nested media id 'm-1', got %v", ids[0])
	}
	if req.URL() != "https://api.x.com/2/tweets" {
		t.Errorf("unexpected URL %s", req.URL())
	}
}

func TestSubstitute_LaterBindingsWin(t *testing.T) {
	tmpl := domain.RequestTemplate{Method: "POST", Payload: map[string]any{"v": "X"}}

	req, err := Substitute(tmpl, Bindings{"X": "1"}, Bindings{"X": "2"})
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if got := req.Payload["v"]; got != "2" {
		t.Errorf("expected '2', got %v", got)
	}
}

func TestSubstitute_LongestKeyFirst(t *testing.T) {
	tmpl := domain.RequestTemplate{
		Method:  "POST",
		Payload: map[string]any{"a": "USER_ID", "b": "ID"},
	}

	req, err := Substitute(tmpl, Bindings{"ID": "short", "USER_ID": "long"})
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if req.Payload["a"] != "long" {
		t.Errorf("expected 'long', got %v", req.Payload["a"])
	}
	if req.Payload["b"] != "short" {
		t.Errorf("expected 'short', got %v", req.Payload["b"])
	}
}

func TestSubstitute_ValuesAreEscaped(t *testing.T) {
	tmpl := domain.RequestTemplate{Method: "POST", Payload: map[string]any{"text": "TEXT"}}

	tests := []struct {
		name  string
		value string
	}{
		{"quotes", `he said "hi"`},
		{"backslash", `C:\path`},
		{"newline", "line1\nline2"},
		{"html", "<b>&</b>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Substitute(tmpl, Bindings{"TEXT": tt.value})
			if err != nil {
				t.Fatalf("Substitute: %v", err)
			}
			if req.Payload["text"] != tt.value {
				t.Errorf("expected %q, got %v", tt.value, req.Payload["text"])
			}
		})
	}
}

func TestSubstitute_ValueNotSubstitutedTwice(t *testing.T) {
	tmpl := domain.RequestTemplate{Method: "POST", Payload: map[string]any{"text": "TEXT"}}

	req, err := Substitute(tmpl, Bindings{"TEXT": "contains ACCESS_TOKEN"}, Bindings{"ACCESS_TOKEN": "secret"})
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if req.Payload["text"] != "contains ACCESS_TOKEN" {
		t.Errorf("value was substituted again: %v", req.Payload["text"])
	}
}

func TestSubstitute_InvalidJSONAfterSubstitution(t *testing.T) {
	// Ключ, совпадающий со структурой JSON, ломает документ
	tmpl := domain.RequestTemplate{Method: "POST"}

	_, err := Substitute(tmpl, Bindings{`"method"`: "{"})
	if !errors.Is(err, ErrTemplate) {
		t.Fatalf("expected ErrTemplate, got %v", err)
	}
	var terr *TemplateError
	if !errors.As(err, &terr) || terr.Stage != "decode" {
		t.Errorf("expected decode TemplateError, got %v", err)
	}
}

func TestSubstitute_UnresolvedPassesThrough(t *testing.T) {
	req, err := Substitute(tweetTemplate(), Bindings{"TEXT": "hello"})
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if req.Headers["Authorization"] != "Bearer ACCESS_TOKEN" {
		t.Errorf("unresolved placeholder should pass through, got %q", req.Headers["Authorization"])
	}
}

func TestSubstitutor_Strict(t *testing.T) {
	s := NewSubstitutor(Options{Strict: true, Declared: []string{"ACCESS_TOKEN"}})

	_, err := s.Substitute(tweetTemplate(), Bindings{"TEXT": "hello"})
	if !errors.Is(err, ErrUnresolvedPlaceholder) {
		t.Errorf("expected ErrUnresolvedPlaceholder, got %v", err)
	}

	if _, err := s.Substitute(tweetTemplate(), Bindings{"ACCESS_TOKEN": "abc"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSubstitutor_Delimited(t *testing.T) {
	tmpl := domain.RequestTemplate{
		Method:  "POST",
		Headers: map[string]string{"Authorization": "Bearer {{ACCESS_TOKEN}}"},
		Payload: map[string]any{"text": "{{TEXT}}", "raw": "TEXT"},
	}

	s := NewSubstitutor(Options{Delimited: true})
	req, err := s.Substitute(tmpl, Bindings{"ACCESS_TOKEN": "abc", "TEXT": "hello"})
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if req.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("unexpected Authorization %q", req.Headers["Authorization"])
	}
	if req.Payload["text"] != "hello" {
		t.Errorf("expected 'hello', got %v", req.Payload["text"])
	}
	if req.Payload["raw"] != "TEXT" {
		t.Errorf("bare token must not be replaced in delimited mode, got %v", req.Payload["raw"])
	}

	strict := NewSubstitutor(Options{Delimited: true, Strict: true})
	if _, err := strict.Substitute(tmpl, Bindings{"TEXT": "hello"}); !errors.Is(err, ErrUnresolvedPlaceholder) {
		t.Errorf("expected ErrUnresolvedPlaceholder, got %v", err)
	}
}
