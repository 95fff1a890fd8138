package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/omnipost/internal/domain"
)

const xConfig = `{
  "INSTANCE": {"ACCESS_TOKEN": "OAuth 2.0 user token"},
  "ACTIONS": {
    "POST_TEXT": [
      [{"base_url": "https://api.x.com", "endpoint": "/2/tweets", "method": "POST",
        "headers": {"Authorization": "Bearer ACCESS_TOKEN"}, "params": {}, "payload": {"text": "TEXT"}},
       201, {"id": "terminal_request"}]
    ],
    "POST_IMAGE": [
      [{"base_url": "https://upload.x.com", "endpoint": "/1.1/media/upload.json", "method": "POST",
        "headers": {}, "params": {"media_url": "IMAGE_URL"}, "payload": {}},
       200, {"media_id_string": "MEDIA_ID"}],
      [{"base_url": "https://api.x.com", "endpoint": "/2/tweets", "method": "POST",
        "headers": {}, "params": {}, "payload": {"text": "CAPTION", "media": {"media_ids": ["MEDIA_ID"]}}},
       201, {"id": "terminal_request"}]
    ]
  }
}`

func TestParsePlatformConfig_Valid(t *testing.T) {
	cfg, err := ParsePlatformConfig([]byte(xConfig))
	if err != nil {
		t.Fatalf("ParsePlatformConfig: %v", err)
	}

	if cfg.Instance["ACCESS_TOKEN"] == "" {
		t.Error("INSTANCE should be parsed")
	}

	steps, ok := cfg.Action("POST_IMAGE")
	if !ok || len(steps) != 2 {
		t.Fatalf("expected 2 POST_IMAGE steps, got %d", len(steps))
	}
	if steps[0].VariableMapping["media_id_string"] != "MEDIA_ID" {
		t.Errorf("unexpected mapping: %v", steps[0].VariableMapping)
	}
	if steps[0].IsTerminal() || !steps[1].IsTerminal() {
		t.Error("only the last step should be terminal")
	}
}

func TestParsePlatformConfig_SchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an object", `[]`},
		{"no actions", `{"INSTANCE": {}}`},
		{"empty step list", `{"ACTIONS": {"POST_TEXT": []}}`},
		{"step not array", `{"ACTIONS": {"POST_TEXT": [{"method": "POST"}]}}`},
		{"step too short", `{"ACTIONS": {"POST_TEXT": [[{"method": "POST"}, 201]]}}`},
		{"status is string", `{"ACTIONS": {"POST_TEXT": [[{"method": "POST"}, "201", {}]]}}`},
		{"status out of range", `{"ACTIONS": {"POST_TEXT": [[{"method": "POST"}, 42, {}]]}}`},
		{"missing method", `{"ACTIONS": {"POST_TEXT": [[{"endpoint": "/x"}, 201, {}]]}}`},
		{"header is object", `{"ACTIONS": {"POST_TEXT": [[{"method": "POST", "headers": {"X": {"a": 1}}}, 201, {}]]}}`},
		{"param is array", `{"ACTIONS": {"POST_TEXT": [[{"method": "GET", "params": {"ids": [1, 2]}}, 200, {}]]}}`},
		{"param is null", `{"ACTIONS": {"POST_TEXT": [[{"method": "GET", "params": {"cursor": null}}, 200, {}]]}}`},
		{"mapping not string", `{"ACTIONS": {"POST_TEXT": [[{"method": "POST"}, 201, {"id": 5}]]}}`},
		{"instance not string", `{"INSTANCE": {"K": 1}, "ACTIONS": {"A": [[{"method": "GET"}, 200, {}]]}}`},
		{"malformed json", `{"ACTIONS": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlatformConfig([]byte(tt.data))
			if !errors.Is(err, ErrInvalidPlatformConfig) {
				t.Errorf("expected ErrInvalidPlatformConfig, got %v", err)
			}
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Error("invalid config should be a configuration error")
			}
		})
	}
}

func TestParsePlatformConfig_ScalarParams(t *testing.T) {
	data := `{"ACTIONS": {"LIST": [[{"base_url": "https://api.example.com", "endpoint": "/items", "method": "GET",
	  "headers": {"X-Api-Version": 2}, "params": {"limit": 10, "ratio": 1.50, "include_replies": false, "q": "TEXT"}},
	  200, {}]]}}`

	cfg, err := ParsePlatformConfig([]byte(data))
	if err != nil {
		t.Fatalf("ParsePlatformConfig: %v", err)
	}

	steps, _ := cfg.Action("LIST")
	tmpl := steps[0].Request

	tests := []struct {
		got  string
		want string
	}{
		{tmpl.Headers["X-Api-Version"], "2"},
		{tmpl.Params["limit"], "10"},
		{tmpl.Params["ratio"], "1.50"},
		{tmpl.Params["include_replies"], "false"},
		{tmpl.Params["q"], "TEXT"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}

	req, err := Substitute(tmpl, Bindings{"TEXT": "hello"})
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if req.Params["limit"] != "10" || req.Params["q"] != "hello" {
		t.Errorf("unexpected params after substitution: %v", req.Params)
	}
}

func TestValidate_Structural(t *testing.T) {
	req := domain.RequestTemplate{Method: "POST"}
	terminal := map[string]string{"id": domain.TerminalRequest}

	tests := []struct {
		name    string
		actions map[string][]domain.ActionStep
		wantMsg string
	}{
		{
			name:    "bad method",
			actions: map[string][]domain.ActionStep{"A": {{Request: domain.RequestTemplate{Method: "FETCH"}, ExpectedStatus: 200}}},
			wantMsg: "unsupported method",
		},
		{
			name: "empty destination",
			actions: map[string][]domain.ActionStep{"A": {
				{Request: req, ExpectedStatus: 200, VariableMapping: map[string]string{"id": ""}},
			}},
			wantMsg: "empty destination",
		},
		{
			name: "two terminal steps",
			actions: map[string][]domain.ActionStep{"A": {
				{Request: req, ExpectedStatus: 200, VariableMapping: terminal},
				{Request: req, ExpectedStatus: 200, VariableMapping: terminal},
			}},
			wantMsg: "second terminal step",
		},
		{
			name: "terminal not last",
			actions: map[string][]domain.ActionStep{"A": {
				{Request: req, ExpectedStatus: 200, VariableMapping: terminal},
				{Request: req, ExpectedStatus: 200, VariableMapping: map[string]string{"id": "ID"}},
			}},
			wantMsg: "must be the last step",
		},
		{
			name:    "no actions",
			actions: map[string][]domain.ActionStep{},
			wantMsg: "no actions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&domain.PlatformConfig{Actions: tt.actions})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidPlatformConfig) {
				t.Errorf("expected ErrInvalidPlatformConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected %q in error, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestValidate_ErrorContext(t *testing.T) {
	cfg := &domain.PlatformConfig{Actions: map[string][]domain.ActionStep{
		"POST_TEXT": {
			{Request: domain.RequestTemplate{Method: "POST"}, ExpectedStatus: 200},
			{Request: domain.RequestTemplate{Method: "POST"}, ExpectedStatus: 1000},
		},
	}}

	err := Validate(cfg)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Action != "POST_TEXT" || verr.Step != 2 {
		t.Errorf("expected POST_TEXT step 2, got %s step %d", verr.Action, verr.Step)
	}
}

func TestIsValidMethod(t *testing.T) {
	if !IsValidMethod("post") || !IsValidMethod("GET") {
		t.Error("POST/GET should be valid")
	}
	if IsValidMethod("FETCH") {
		t.Error("FETCH should be invalid")
	}
}
