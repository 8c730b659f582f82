package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newServer returns a client pointed at a test server running handler.
func newServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "test-token", "test-caller", 5*time.Second)
}

func TestCall_Success_DecodesContentAndUsage(t *testing.T) {
	var gotEnv map[string]any
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotEnv)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": map[string]any{
				"topics": []map[string]any{{"title": "Cells", "question_target": 3}},
			},
			"provider": "test",
			"usage":    map[string]int64{"prompt_tokens": 10, "completion_tokens": 20},
		})
	})

	res, usage, err := c.AnalyzeTopics(context.Background(), QualityFast, AnalyzeTopicsPayload{Content: "m", ScopeID: "s"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Topics) != 1 || res.Topics[0].Title != "Cells" {
		t.Fatalf("unexpected result: %#v", res)
	}
	if usage.PromptTokens != 10 || usage.CompletionTokens != 20 {
		t.Fatalf("unexpected usage: %#v", usage)
	}
	if gotEnv["operation"] != OpAnalyzeTopics {
		t.Fatalf("operation = %v", gotEnv["operation"])
	}
	if gotEnv["quality"] != QualityFast {
		t.Fatalf("quality = %v", gotEnv["quality"])
	}
	if gotEnv["caller_id"] != "test-caller" {
		t.Fatalf("caller_id = %v", gotEnv["caller_id"])
	}
}

func TestCall_EmptyQualityDefaultsToBalanced(t *testing.T) {
	var gotQuality string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var env map[string]any
		_ = json.NewDecoder(r.Body).Decode(&env)
		gotQuality, _ = env["quality"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": map[string]any{"topics": []map[string]any{{"title": "t"}}},
		})
	})
	if _, _, err := c.AnalyzeTopics(context.Background(), "", AnalyzeTopicsPayload{}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if gotQuality != QualityBalanced {
		t.Fatalf("quality = %q, want %q", gotQuality, QualityBalanced)
	}
}

func TestCall_Non2xx_IsBadResponse(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	})
	_, _, err := c.GenerateQuestions(context.Background(), QualityBalanced, GenerateQuestionsPayload{})
	var be *BadResponseError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BadResponseError, got %T %v", err, err)
	}
	if be.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", be.StatusCode)
	}
}

func TestCall_InvalidJSON_IsBadResponse(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})
	_, _, err := c.GenerateQuestions(context.Background(), QualityBalanced, GenerateQuestionsPayload{})
	var be *BadResponseError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BadResponseError, got %T %v", err, err)
	}
}

func TestCall_MissingContent_IsBadResponse(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"provider": "test"})
	})
	_, _, err := c.RefineQuestion(context.Background(), QualityBalanced, RefineQuestionPayload{})
	var be *BadResponseError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BadResponseError, got %T %v", err, err)
	}
}

func TestCall_ErrorField_IsRejection(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "content policy refusal",
			"usage": map[string]int64{"prompt_tokens": 5},
		})
	})
	_, usage, err := c.GenerateQuestions(context.Background(), QualityBalanced, GenerateQuestionsPayload{})
	var re *RejectionError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RejectionError, got %T %v", err, err)
	}
	if re.Message != "content policy refusal" {
		t.Fatalf("message = %q", re.Message)
	}
	// Usage is still reported for rejected calls.
	if usage.PromptTokens != 5 {
		t.Fatalf("usage = %#v", usage)
	}
}

func TestCall_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	c := NewHTTPClient(srv.URL, "", "", time.Second)
	srv.Close() // connection refused from here on

	_, _, err := c.GenerateDistractors(context.Background(), QualityBalanced, GenerateDistractorsPayload{})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T %v", err, err)
	}
}

func TestCall_InvalidResultContent_IsRejection(t *testing.T) {
	// Well-formed envelope whose content fails result validation.
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": map[string]any{"questions": []map[string]any{}},
		})
	})
	_, _, err := c.GenerateQuestions(context.Background(), QualityBalanced, GenerateQuestionsPayload{})
	var re *RejectionError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RejectionError for empty question list, got %T %v", err, err)
	}
}

func TestUsage_Add(t *testing.T) {
	u := Usage{PromptTokens: 1, CompletionTokens: 2}
	u.Add(Usage{PromptTokens: 10, CompletionTokens: 20})
	if u.PromptTokens != 11 || u.CompletionTokens != 22 {
		t.Fatalf("unexpected usage: %#v", u)
	}
}

func TestNewHTTPClient_Defaults(t *testing.T) {
	c := NewHTTPClient("http://example.com/", "tok", "caller", 0)
	if c.BaseURL != "http://example.com" {
		t.Fatalf("trailing slash not trimmed: %q", c.BaseURL)
	}
	if c.HTTP == nil || c.HTTP.Timeout != 120*time.Second {
		t.Fatalf("default timeout not applied")
	}
}
